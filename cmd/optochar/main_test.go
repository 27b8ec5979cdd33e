// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gotmc/optochar/lib/find"
	"github.com/gotmc/optochar/lib/ledger"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderParams(t *testing.T) {
	store := sweep.NewStore(sweep.LIVDefaults())
	out := renderParams(sweep.SweepMeta, store)

	assert.Contains(t, out, "Trigger Period (s)")
	assert.Contains(t, out, "num_points *")
	assert.Contains(t, out, "Pulse=puls")
	assert.Contains(t, out, sweep.Laser.String())

	out = renderParams(sweep.SpectrumMeta, nil)
	assert.Contains(t, out, "Reference Level")
	assert.NotContains(t, out, sweep.Laser.String())
}

func TestDescribeChange(t *testing.T) {
	var changes []sweep.Change
	store := sweep.NewStore(sweep.LIVDefaults(), sweep.OnChange(func(c sweep.Change) {
		changes = append(changes, c)
	}))
	require.NoError(t, store.Set(sweep.Laser, "trigger_period", "0.5"))
	require.Len(t, changes, 3)

	assert.Equal(t, `Laser (SMU1 Ch2): trigger_period "0.4" -> "0.5"`, describeChange(changes[0]))
	assert.True(t, strings.HasSuffix(describeChange(changes[1]), "(synchronized)"))
}

func TestListRuns(t *testing.T) {
	started := time.Date(2024, 6, 11, 10, 15, 0, 0, time.Local)
	var buf bytes.Buffer
	listRuns(&buf, []ledger.Run{
		{Kind: "LIV", DeviceID: "TX03", Temperature: "25", Path: "data/a.xlsx", OK: true,
			Started: started, Finished: started.Add(14 * time.Second)},
		{Kind: "EAM", DeviceID: "TX03", Temperature: "40", Error: "connecting to SMU1",
			Started: started, Finished: started.Add(time.Second)},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "2024-06-11 10:15:00")
	assert.Contains(t, lines[0], "14s")
	assert.True(t, strings.HasSuffix(lines[0], "ok"))
	assert.True(t, strings.HasSuffix(lines[1], "FAILED: connecting to SMU1"))
}

func TestListPorts(t *testing.T) {
	var buf bytes.Buffer
	listPorts(&buf, nil)
	assert.Equal(t, "no usb serial ports\n", buf.String())

	buf.Reset()
	listPorts(&buf, find.Usbttys{
		{Dev: "ttyUSB0", Mfg: "Prologix", Prod: "Prologix GPIB-USB Controller", IDv: "0403"},
		{Dev: "ttyUSB1", Mfg: "FTDI", IDv: "0403"},
		{Dev: "ttyACM0", IDv: "2341"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], "[prologix]"))
	assert.True(t, strings.HasSuffix(lines[1], "[ftdi]"))
	assert.False(t, strings.Contains(lines[2], "["))
}
