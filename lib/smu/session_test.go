// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package smu_test

import (
	"errors"
	"testing"

	"github.com/gotmc/optochar/lib/smu"
	"github.com/gotmc/optochar/lib/smu/smutest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConnect(t *testing.T) {
	fake := smutest.New()
	s, err := smu.Connect("TCPIP0::10.20.0.231::hislip0::INSTR", fake.Dial)
	require.NoError(t, err)
	assert.True(t, s.Connected())
	assert.Contains(t, s.Identify(), "B2912A")
}

func TestConnectFailure(t *testing.T) {
	fake := smutest.New()
	fake.FailDial = true
	s, err := smu.Connect("TCPIP0::10.20.0.231::hislip0::INSTR", fake.Dial)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, smu.ErrConnection))
}

func TestWriteLogsInstrumentError(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fake := smutest.New()
	fake.Errors = []string{`-113,"Undefined header"`}
	s, err := smu.Connect("smu1", fake.Dial, smu.WithLogger(zap.New(core)))
	require.NoError(t, err)

	// a non-zero error code is reported but does not fail the write
	assert.NoError(t, s.Write(":bogus"))
	assert.NoError(t, s.Write(":OUTP1 ON"))

	require.Equal(t, 1, logs.FilterMessage("instrument error").Len())
	entry := logs.FilterMessage("instrument error").All()[0]
	assert.EqualValues(t, -113, entry.ContextMap()["code"])
	assert.Equal(t, []string{":bogus", ":OUTP1 ON"}, fake.Sent())
}

func TestWriteFailureContinues(t *testing.T) {
	fake := smutest.New()
	s, err := smu.Connect("smu1", fake.Dial)
	require.NoError(t, err)

	fake.SetFailWrites(true)
	assert.Error(t, s.Write(":OUTP1 ON"))
	assert.True(t, s.Connected(), "a failed write does not drop the session")

	fake.SetFailWrites(false)
	assert.NoError(t, s.Write(":OUTP1 OFF"))
}

func TestQuery(t *testing.T) {
	fake := smutest.New()
	fake.Replies[":fetc:arr:volt? (@2)"] = "1.1,1.2,1.3"
	fake.FailQueries[":fetc:arr:curr? (@1)"] = true
	s, err := smu.Connect("smu1", fake.Dial)
	require.NoError(t, err)

	got, ok := s.Query(":fetc:arr:volt? (@2)")
	assert.True(t, ok)
	assert.Equal(t, "1.1,1.2,1.3", got)

	got, ok = s.Query(":fetc:arr:curr? (@1)")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestReadVoltageCurrent(t *testing.T) {
	fake := smutest.New()
	fake.Replies[":MEAS:VOLT? (@2)"] = "+1.523000E+00"
	fake.Replies[":MEAS:CURR? (@1)"] = "garbage"
	s, err := smu.Connect("smu1", fake.Dial)
	require.NoError(t, err)

	v, ok := s.ReadVoltage(2)
	assert.True(t, ok)
	assert.InDelta(t, 1.523, v, 1e-12)

	_, ok = s.ReadCurrent(1)
	assert.False(t, ok, "unparseable reply")

	require.NoError(t, s.Close())
	_, ok = s.ReadVoltage(2)
	assert.False(t, ok, "closed session")
}

func TestCloseIdempotent(t *testing.T) {
	fake := smutest.New()
	s, err := smu.Connect("smu1", fake.Dial)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, fake.Closes())
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Write("*RST"), smu.ErrNotConnected)
}

func TestReconnect(t *testing.T) {
	fake := smutest.New()
	s, err := smu.Connect("smu1", fake.Dial)
	require.NoError(t, err)

	require.NoError(t, s.Reconnect())
	assert.Equal(t, 1, fake.Dials(), "live session is reused")

	require.NoError(t, s.Close())
	require.NoError(t, s.Reconnect())
	assert.Equal(t, 2, fake.Dials())
	assert.True(t, s.Connected())
}

func TestCommands(t *testing.T) {
	fake := smutest.New()
	s, err := smu.Connect("smu1", fake.Dial)
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	require.NoError(t, s.SetSourceMode(1, "volt"))
	require.NoError(t, s.SetVoltage(1, -1.0))
	require.NoError(t, s.SetCurrentCompliance(1, 0.05))
	require.NoError(t, s.SetCurrent(2, 0.08))
	require.NoError(t, s.SetVoltageCompliance(2, 2.0))
	require.NoError(t, s.SetAutorange(2, true))
	require.NoError(t, s.SetNPLC(1, 0.1))
	assert.Error(t, s.SetSourceMode(1, "resistance"))

	assert.Equal(t, []string{
		"*RST",
		"SOUR1:FUNC:MODE VOLT",
		":SOUR1:VOLT -1",
		":SENS1:CURR:PROT:LEV 0.05",
		":SOUR2:CURR 0.08",
		":SENS2:VOLT:PROT:LEV 2",
		":SENS2:RANG:AUTO 1",
		":SENS1:VOLT:NPLC 0.1",
		":SENS1:CURR:NPLC 0.1",
	}, fake.Sent())
}
