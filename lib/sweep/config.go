// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package sweep describes what one SMU channel does during a test and keeps
// the three channel descriptions of a test consistent with each other.
//
// Values are held in engineering units: milliamps for anything under a
// current function, volts and seconds otherwise. Conversion to amps happens
// only when a configuration is written to an instrument (see Apply).
package sweep

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/multierr"
)

// Role is the device under test a channel drives.
type Role int

const (
	Photodetector Role = iota
	Laser
	Modulator
)

// Roles lists the roles in the order the test configures them.
var Roles = []Role{Photodetector, Laser, Modulator}

var roleDesc = map[Role]string{
	Photodetector: "Photodetector (SMU1 Ch1)",
	Laser:         "Laser (SMU1 Ch2)",
	Modulator:     "EAM (SMU2 Ch1)",
}

var roleNames = map[string]Role{
	"photodetector": Photodetector,
	"pd":            Photodetector,
	"detector":      Photodetector,
	"laser":         Laser,
	"ld":            Laser,
	"modulator":     Modulator,
	"eam":           Modulator,
}

func (r Role) String() string { return roleDesc[r] }

// ParseRole accepts "photodetector"/"pd", "laser"/"ld", "modulator"/"eam".
func ParseRole(s string) (Role, error) {
	r, ok := roleNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown channel role %q", s)
	}
	return r, nil
}

// Function is a source or sense function.
type Function string

const (
	Voltage Function = "volt"
	Current Function = "curr"
)

// Shape is the source output shape.
type Shape string

const (
	DC     Shape = "dc"
	Pulsed Shape = "puls"
)

// Mode is the source mode.
type Mode string

const (
	Fixed Mode = "fix"
	Sweep Mode = "swe"
	List  Mode = "list"
)

// Config is one channel of one instrument. Float fields hold NaN when left
// blank; an integer field left blank is zero.
type Config struct {
	Channel    int
	SourceFunc Function
	Shape      Shape
	Mode       Mode

	Start  float64
	Stop   float64
	Points int
	Base   float64 // initial/base value; the output level for fixed or pulsed sources

	PulseDelay float64 // s
	PulseWidth float64 // s

	SenseFunc  Function
	SenseRange float64
	Aperture   float64 // s
	Protection float64 // compliance level

	TriggerPeriod    float64 // s
	TransitionDelay  float64 // s
	AcquisitionDelay float64 // s
}

// Missing is the marker stored for a blank numeric field.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the blank marker.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// IsSweep reports whether the channel genuinely sweeps: sweep mode with
// distinct start and stop.
func (c Config) IsSweep() bool {
	return c.Mode == Sweep && c.Start != c.Stop
}

// Validate checks that every value Apply will send is present and legal.
func (c Config) Validate() error {
	var err error
	if c.Channel < 1 {
		err = multierr.Append(err, fmt.Errorf("smu_channel must be >= 1, got %d", c.Channel))
	}
	if c.SourceFunc != Voltage && c.SourceFunc != Current {
		err = multierr.Append(err, fmt.Errorf("invalid source_func %q", c.SourceFunc))
	}
	if c.SenseFunc != Voltage && c.SenseFunc != Current {
		err = multierr.Append(err, fmt.Errorf("invalid sense_func %q", c.SenseFunc))
	}
	if c.Shape != DC && c.Shape != Pulsed {
		err = multierr.Append(err, fmt.Errorf("invalid source_shape %q", c.Shape))
	}
	if c.Mode != Fixed && c.Mode != Sweep && c.Mode != List {
		err = multierr.Append(err, fmt.Errorf("invalid source_mode %q", c.Mode))
	}
	if c.Points < 1 {
		err = multierr.Append(err, fmt.Errorf("num_points must be >= 1, got %d", c.Points))
	}
	required := map[string]float64{
		"start":                     c.Start,
		"stop":                      c.Stop,
		"sense_range":               c.SenseRange,
		"aperture":                  c.Aperture,
		"protection":                c.Protection,
		"trigger_period":            c.TriggerPeriod,
		"trigger_transition_delay":  c.TransitionDelay,
		"trigger_acquisition_delay": c.AcquisitionDelay,
	}
	if c.Shape == Pulsed {
		required["pulse_delay"] = c.PulseDelay
		required["pulse_width"] = c.PulseWidth
	}
	if c.Shape == Pulsed || c.Mode == Fixed {
		required["initval"] = c.Base
	}
	// keep messages in metadata order
	for _, m := range SweepMeta {
		if v, ok := required[m.Key]; ok && IsMissing(v) {
			err = multierr.Append(err, fmt.Errorf("%s is blank", m.Key))
		}
	}
	return err
}

// DutyCycle is the active fraction of the trigger period in percent: 100 for
// a DC source, 0 when the period is not positive.
func (c Config) DutyCycle() float64 {
	if c.Shape != Pulsed {
		return 100
	}
	if !(c.TriggerPeriod > 0) {
		return 0
	}
	return c.PulseWidth / c.TriggerPeriod * 100
}

// Kind is what a test run measures.
type Kind int

const (
	// LaserSweep is an LIV measurement: the laser current is swept.
	LaserSweep Kind = iota
	// ModulatorSweep is an EAM measurement: the modulator voltage is swept.
	ModulatorSweep
)

var kindDesc = map[Kind]string{
	LaserSweep:     "LIV",
	ModulatorSweep: "EAM",
}

// String returns the token used in output file names.
func (k Kind) String() string { return kindDesc[k] }

// Classification is the outcome of Classify.
type Classification struct {
	Kind   Kind
	Points int
	Period float64 // s
	// Fallback is set when neither the laser nor the modulator genuinely
	// sweeps; the run is still labelled a modulator sweep.
	Fallback bool
}

// Classify decides the sweep kind and takes point count and trigger period
// from the sweeping channel: the laser if it sweeps, else the modulator.
// When neither sweeps the modulator's timing is used and the run is
// labelled ModulatorSweep regardless, which existing file names rely on.
func Classify(laser, modulator Config) Classification {
	switch {
	case laser.IsSweep():
		return Classification{Kind: LaserSweep, Points: laser.Points, Period: laser.TriggerPeriod}
	case modulator.IsSweep():
		return Classification{Kind: ModulatorSweep, Points: modulator.Points, Period: modulator.TriggerPeriod}
	}
	return Classification{Kind: ModulatorSweep, Points: modulator.Points, Period: modulator.TriggerPeriod, Fallback: true}
}
