// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package spectrum

import (
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/pkg/errors"
)

// Params configures a spectrum run. Source and limit values are in SI
// units: volts and amps.
type Params struct {
	Func1   string // VOLT or CURR
	Source1 float64
	Limit1  float64
	Func2   string
	Source2 float64
	Limit2  float64

	Centre    float64 // nm
	Span      float64 // nm
	Res       float64 // nm
	Sens      string
	Avg       float64
	Reference float64 // dBm
}

// Defaults holds the modulator at -2 V on channel 1 and drives the laser at
// 80 mA on channel 2, looking at 1310 nm.
func Defaults() Params {
	return Params{
		Func1: "VOLT", Source1: -2, Limit1: 0.02,
		Func2: "CURR", Source2: 0.08, Limit2: 2.5,
		Centre: 1310, Span: 12, Res: 0.02, Sens: "High1", Avg: 1, Reference: -20,
	}
}

// Set coerces raw against the spectrum parameter table and stores it. On
// error p is unchanged.
func (p *Params) Set(key, raw string) error {
	m, ok := sweep.Lookup(sweep.SpectrumMeta, key)
	if !ok {
		return errors.Wrap(sweep.ErrUnknownField, key)
	}
	v, err := m.Coerce(raw)
	if err != nil {
		return err
	}
	switch key {
	case "source_func1":
		p.Func1 = v.Text
	case "smu_channel1_source":
		p.Source1 = v.Float
	case "smu_channel1_limit":
		p.Limit1 = v.Float
	case "source_func2":
		p.Func2 = v.Text
	case "smu_channel2_source":
		p.Source2 = v.Float
	case "smu_channel2_limit":
		p.Limit2 = v.Float
	case "centre":
		p.Centre = v.Float
	case "span":
		p.Span = v.Float
	case "res":
		p.Res = v.Float
	case "sens":
		p.Sens = v.Text
	case "avg":
		p.Avg = v.Float
	case "ref_val":
		p.Reference = v.Float
	}
	return nil
}
