// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sweep

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	cmds []string
	fail map[string]bool
}

func (r *recorder) Write(cmd string) error {
	r.cmds = append(r.cmds, cmd)
	if r.fail[cmd] {
		return errors.New("write failed")
	}
	return nil
}

func TestApplyPulsedLaser(t *testing.T) {
	var w recorder
	require.NoError(t, Apply(&w, LIVDefaults().Laser))
	want := []string{
		":sour2:func:mode curr",
		":sour2:func:shap puls",
		":sour2:curr:mode swe",
		":sour2:curr:star 0",
		":sour2:curr:stop 0.1",
		":sour2:curr:poin 21",
		":sour2:puls:del 0.0005",
		":sour2:puls:widt 0.2",
		":sour2:curr 0",
		`:sens2:func "volt"`,
		":sens2:volt:rang:auto off",
		":sens2:volt:rang 2",
		":sens2:volt:aper 0.005",
		":sens2:volt:prot:lev 2",
		":trig2:tran:del 0.0015",
		":trig2:acq:del 0.0029",
		":trig2:sour tim",
		":trig2:tim 0.4",
		":trig2:coun 21",
	}
	if diff := cmp.Diff(want, w.cmds); diff != "" {
		t.Errorf("laser commands mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFixedModulator(t *testing.T) {
	var w recorder
	require.NoError(t, Apply(&w, LIVDefaults().Modulator))
	assert.Contains(t, w.cmds, ":sour1:volt 0")
	assert.NotContains(t, w.cmds, ":sour1:puls:widt 0.2")
	// sense range and compliance are given in mA under a current sense
	assert.Contains(t, w.cmds, ":sens1:curr:rang 0.1")
	assert.Contains(t, w.cmds, ":sens1:curr:prot:lev 0.08")
}

func TestApplyConvertsMilliamps(t *testing.T) {
	var w recorder
	require.NoError(t, Apply(&w, EAMDefaults().Laser))
	assert.Contains(t, w.cmds, ":sour2:curr:star 0.08")
	assert.Contains(t, w.cmds, ":sour2:curr:stop 0.08")
	assert.Contains(t, w.cmds, ":sour2:curr 0.08")
}

func TestApplySweptDetectorHasNoBase(t *testing.T) {
	var w recorder
	require.NoError(t, Apply(&w, LIVDefaults().Photodetector))
	assert.NotContains(t, w.cmds, ":sour1:volt -1")
	assert.Contains(t, w.cmds, ":sour1:volt:star -1")
}

func TestApplyInvalidSendsNothing(t *testing.T) {
	var w recorder
	c := LIVDefaults().Laser
	c.Start = Missing()
	assert.Error(t, Apply(&w, c))
	assert.Empty(t, w.cmds)
}

func TestApplyContinuesAfterWriteFailure(t *testing.T) {
	w := recorder{fail: map[string]bool{":sour2:func:shap puls": true}}
	err := Apply(&w, LIVDefaults().Laser)
	assert.Error(t, err)
	assert.Len(t, w.cmds, 19)
}
