// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sweep

import (
	"fmt"
	"strings"
)

// Channels holds the three channel configurations of one test.
type Channels struct {
	Photodetector Config
	Laser         Config
	Modulator     Config
}

// Get returns the configuration for r.
func (c Channels) Get(r Role) Config { return *c.ptr(r) }

func (c *Channels) ptr(r Role) *Config {
	switch r {
	case Laser:
		return &c.Laser
	case Modulator:
		return &c.Modulator
	}
	return &c.Photodetector
}

// LIVDefaults sweeps the laser 0 to 100 mA in 21 pulses of 200 ms every
// 400 ms while the detector is held at -1 V and the modulator at 0 V.
func LIVDefaults() Channels {
	pd := Config{
		Channel:          1,
		SourceFunc:       Voltage,
		Shape:            DC,
		Mode:             Sweep,
		Start:            -1,
		Stop:             -1,
		Points:           21,
		Base:             -1,
		PulseDelay:       0.5e-3,
		PulseWidth:       0.2,
		SenseFunc:        Current,
		SenseRange:       100,
		Aperture:         5e-3,
		Protection:       50,
		TriggerPeriod:    0.4,
		TransitionDelay:  1.5e-3,
		AcquisitionDelay: 2.9e-3,
	}
	ld := pd
	ld.Channel = 2
	ld.SourceFunc = Current
	ld.Shape = Pulsed
	ld.Start, ld.Stop, ld.Base = 0, 100, 0
	ld.SenseFunc = Voltage
	ld.SenseRange = 2.0
	ld.Protection = 2.0

	eam := pd
	eam.Mode = Fixed
	eam.Start, eam.Stop, eam.Base = 0, 0, 0
	eam.Protection = 80
	return Channels{Photodetector: pd, Laser: ld, Modulator: eam}
}

// EAMDefaults sweeps the modulator from -2.5833 V to 0 V in 32 points with
// the laser held at 80 mA.
func EAMDefaults() Channels {
	c := LIVDefaults()
	c.Photodetector.Points = 32
	c.Laser.Points = 32
	c.Laser.Start, c.Laser.Stop, c.Laser.Base = 80, 80, 80
	c.Modulator.Points = 32
	c.Modulator.Mode = Sweep
	c.Modulator.Start, c.Modulator.Stop, c.Modulator.Base = -2.5833, 0, -2.5833
	return c
}

// Defaults returns the default channels for a test kind name, "liv" or
// "eam".
func Defaults(testKind string) (Channels, error) {
	switch strings.ToLower(testKind) {
	case "liv":
		return LIVDefaults(), nil
	case "eam":
		return EAMDefaults(), nil
	}
	return Channels{}, fmt.Errorf("unknown test kind %q (use liv or eam)", testKind)
}
