// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sweep_test

import (
	"errors"
	"math"
	"testing"

	"github.com/gotmc/optochar/lib/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetSynchronizedPropagates(t *testing.T) {
	var changes []sweep.Change
	s := sweep.NewStore(sweep.LIVDefaults(), sweep.OnChange(func(c sweep.Change) {
		changes = append(changes, c)
	}))

	require.NoError(t, s.Set(sweep.Laser, "trigger_period", "0.5"))

	chs := s.Channels()
	assert.Equal(t, 0.5, chs.Photodetector.TriggerPeriod)
	assert.Equal(t, 0.5, chs.Laser.TriggerPeriod)
	assert.Equal(t, 0.5, chs.Modulator.TriggerPeriod)

	require.Len(t, changes, 3)
	assert.Equal(t, sweep.Laser, changes[0].Role)
	assert.False(t, changes[0].Propagated)
	assert.True(t, changes[1].Propagated)
	assert.True(t, changes[2].Propagated)
	assert.InDelta(t, 0.4, changes[1].Old.Float, 1e-12)
}

func TestSetUnsynchronizedStaysLocal(t *testing.T) {
	s := sweep.NewStore(sweep.LIVDefaults())
	require.NoError(t, s.Set(sweep.Laser, "stop", "120"))
	assert.Equal(t, 120.0, s.Config(sweep.Laser).Stop)
	assert.Equal(t, -1.0, s.Config(sweep.Photodetector).Stop)
}

func TestSetUnchangedIsNoop(t *testing.T) {
	n := 0
	s := sweep.NewStore(sweep.LIVDefaults(), sweep.OnChange(func(sweep.Change) { n++ }))
	require.NoError(t, s.Set(sweep.Modulator, "num_points", "21"))
	assert.Zero(t, n)
}

func TestSetBlankIsStored(t *testing.T) {
	s := sweep.NewStore(sweep.LIVDefaults())
	require.NoError(t, s.Set(sweep.Laser, "pulse_delay", ""))
	assert.True(t, math.IsNaN(s.Config(sweep.Laser).PulseDelay))
	// a blank is a deliberate value, but the channel no longer validates
	assert.Error(t, s.Config(sweep.Laser).Validate())

	require.NoError(t, s.Set(sweep.Laser, "pulse_width", ""))
	assert.True(t, math.IsNaN(s.Config(sweep.Modulator).PulseWidth), "blank propagates too")
}

func TestSetInvalidKeepsPrevious(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := sweep.NewStore(sweep.LIVDefaults(), sweep.WithLogger(zap.New(core)))

	err := s.Set(sweep.Laser, "stop", "lots")
	assert.True(t, errors.Is(err, sweep.ErrInvalidValue))
	assert.Equal(t, 100.0, s.Config(sweep.Laser).Stop)
	assert.Equal(t, 1, logs.FilterMessage("rejected parameter").Len())

	err = s.Set(sweep.Laser, "source_shape", "square")
	assert.True(t, errors.Is(err, sweep.ErrInvalidValue))
	assert.Equal(t, sweep.Pulsed, s.Config(sweep.Laser).Shape)

	err = s.Set(sweep.Laser, "colour", "red")
	assert.True(t, errors.Is(err, sweep.ErrUnknownField))
}

func TestSetChoiceAcceptsLabelOrValue(t *testing.T) {
	s := sweep.NewStore(sweep.LIVDefaults())
	require.NoError(t, s.Set(sweep.Laser, "source_shape", "DC"))
	assert.Equal(t, sweep.DC, s.Config(sweep.Laser).Shape)
	require.NoError(t, s.Set(sweep.Laser, "source_mode", "FIX"))
	assert.Equal(t, sweep.Fixed, s.Config(sweep.Laser).Mode)
	require.NoError(t, s.Set(sweep.Laser, "sense_func", "Current(mA)"))
	assert.Equal(t, sweep.Current, s.Config(sweep.Laser).SenseFunc)
}

func TestSetIntAcceptsScientific(t *testing.T) {
	s := sweep.NewStore(sweep.LIVDefaults())
	require.NoError(t, s.Set(sweep.Photodetector, "num_points", "2.5e1"))
	assert.Equal(t, 25, s.Config(sweep.Laser).Points)
}

func TestSetBatch(t *testing.T) {
	s := sweep.NewStore(sweep.EAMDefaults())
	err := s.SetBatch(sweep.Modulator, map[string]string{
		"start":      "-3",
		"num_points": "abc",
		"bogus":      "1",
	})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, -3.0, s.Config(sweep.Modulator).Start)
	assert.Equal(t, 32, s.Config(sweep.Modulator).Points)
}
