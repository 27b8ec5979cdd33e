// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package reduce

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gotmc/optochar/lib/sweep"
)

// Filename is the deterministic output name of a reduction of n points. It
// records device, kind, biases, point count, duty cycle, temperature and
// the timestamp token, e.g.
//
//	dev7_pulsed_LIV_LDBias(0,100)mA_EAMBias(0)V_PDBias(-1.0)V_NumPoints21_DtyC50.00%_25°C_20240611T101500.xlsx
func Filename(in Input, n int) string {
	ld, eam, pd := in.Channels.Laser, in.Channels.Modulator, in.Channels.Photodetector
	duty := ld.DutyCycle()

	var prefix string
	if in.DeviceID != "" {
		prefix = in.DeviceID + "_"
	}
	if ld.Shape == sweep.Pulsed && duty < 100 {
		prefix += "pulsed_"
	}

	var bias string
	if in.Kind == sweep.LaserSweep {
		bias = fmt.Sprintf("LIV_LDBias(%d,%d)mA_EAMBias(%s)V",
			milliamps(ld.Start), milliamps(ld.Stop), volts(eam.Base))
	} else {
		bias = fmt.Sprintf("EAM_LDBias(%d)mA_EAMBias(%s,%s)V",
			milliamps(ld.Base), volts(eam.Start), volts(eam.Stop))
	}
	return fmt.Sprintf("%s%s_PDBias(%s)V_NumPoints%d_DtyC%.2f%%_%s°C_%s.xlsx",
		prefix, bias, detectorVolts(pd.Base), n, duty, in.Temperature, in.Timestamp)
}

// milliamps truncates toward zero.
func milliamps(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(v)
}

func volts(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// detectorVolts always shows a decimal place: -1.0, not -1.
func detectorVolts(v float64) string {
	s := volts(v)
	if v == math.Trunc(v) {
		s += ".0"
	}
	return s
}
