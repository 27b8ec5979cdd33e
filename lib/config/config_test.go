// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gotmc/optochar/lib/spectrum"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const sample = `
instruments:
  smu1: TCPIP0::192.168.1.10::5025::SOCKET
  smu2: GPIB0::23::INSTR
  prologix_port: /dev/ttyUSB0
  timeout: 5s
output_dir: /data/tx03
overrides:
  liv:
    laser:
      trigger_period: 0.5
      stop: 120
    pd:
      source_mode: Fixed
  eam:
    eam:
      num_points: 40
spectrum:
  centre: 1550
  source_func2: Voltage(V)
`

func write(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "optochar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(write(t, t.TempDir(), sample))
	require.NoError(t, err)
	assert.Equal(t, "TCPIP0::192.168.1.10::5025::SOCKET", cfg.Instruments.SMU1)
	assert.Equal(t, "GPIB0::23::INSTR", cfg.Instruments.SMU2)
	assert.Equal(t, Default().Instruments.OSA, cfg.Instruments.OSA, "unset keys keep defaults")
	d, err := cfg.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
	assert.Equal(t, "0.5", cfg.Overrides["liv"]["laser"]["trigger_period"])
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadBadTimeout(t *testing.T) {
	_, err := Load(write(t, t.TempDir(), "instruments:\n  timeout: soon\n"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "optochar.yaml")
	cfg := Default()
	cfg.OutputDir = "/tmp/x"
	require.NoError(t, cfg.Save(path))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestApply(t *testing.T) {
	cfg, err := Load(write(t, t.TempDir(), sample))
	require.NoError(t, err)

	store := sweep.NewStore(sweep.LIVDefaults())
	require.NoError(t, cfg.Apply("liv", store))
	chs := store.Channels()
	assert.Equal(t, 120.0, chs.Laser.Stop)
	assert.Equal(t, 0.5, chs.Modulator.TriggerPeriod, "synchronized through the store")
	assert.Equal(t, sweep.Fixed, chs.Photodetector.Mode)

	cfg.Overrides["liv"]["osa"] = map[string]string{"span": "1"}
	cfg.Overrides["liv"]["laser"]["num_points"] = "many"
	err = cfg.Apply("liv", store)
	assert.Len(t, multierr.Errors(err), 2)

	require.NoError(t, cfg.Apply("spectrum", store), "no overrides")
}

func TestApplySpectrum(t *testing.T) {
	cfg, err := Load(write(t, t.TempDir(), sample))
	require.NoError(t, err)
	p := spectrum.Defaults()
	require.NoError(t, cfg.ApplySpectrum(&p))
	assert.Equal(t, 1550.0, p.Centre)
	assert.Equal(t, "VOLT", p.Func2)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, sample)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	done := make(chan error)
	go func() { done <- Watch(ctx, path, zap.NewNop(), func(c *Config) { got <- c }) }()

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)
	write(t, dir, "output_dir: /data/tx05\n")

	select {
	case c := <-got:
		assert.Equal(t, "/data/tx05", c.OutputDir)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
	cancel()
	require.NoError(t, <-done)
}
