// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sweep

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnknownField = errors.New("unknown parameter")
	ErrInvalidValue = errors.New("invalid parameter value")
)

// Type is the primitive type of a parameter.
type Type int

const (
	Int Type = iota
	Float
	Text
)

var typeDesc = map[Type]string{Int: "int", Float: "float", Text: "str"}

func (t Type) String() string { return typeDesc[t] }

// Choice pairs the label shown to an operator with the stored value.
type Choice struct{ Display, Value string }

// Meta describes one editable parameter.
type Meta struct {
	Key     string
	Label   string
	Type    Type
	Choices []Choice
}

// SweepMeta is the parameter table of the LIV and EAM test kinds, in
// display order.
var SweepMeta = []Meta{
	{Key: "smu_channel", Label: "SMU Channel", Type: Int},
	{Key: "source_func", Label: "Source Function", Type: Text, Choices: []Choice{{"Voltage(V)", "volt"}, {"Current(mA)", "curr"}}},
	{Key: "source_shape", Label: "Source Shape", Type: Text, Choices: []Choice{{"DC", "dc"}, {"Pulse", "puls"}}},
	{Key: "source_mode", Label: "Source Mode", Type: Text, Choices: []Choice{{"Fixed", "fix"}, {"Sweep", "swe"}, {"List", "list"}}},
	{Key: "start", Label: "Start Value", Type: Float},
	{Key: "stop", Label: "Stop Value", Type: Float},
	{Key: "num_points", Label: "Number of Points", Type: Int},
	{Key: "initval", Label: "Initial/Base Value", Type: Float},
	{Key: "pulse_delay", Label: "Pulse Delay (s)", Type: Float},
	{Key: "pulse_width", Label: "Pulse Width (s)", Type: Float},
	{Key: "sense_func", Label: "Sense Function", Type: Text, Choices: []Choice{{"Current(mA)", "curr"}, {"Voltage(V)", "volt"}}},
	{Key: "sense_range", Label: "Sense Range", Type: Float},
	{Key: "aperture", Label: "Aperture Time (s)", Type: Float},
	{Key: "protection", Label: "Protection/Compliance Level", Type: Float},
	{Key: "trigger_period", Label: "Trigger Period (s)", Type: Float},
	{Key: "trigger_transition_delay", Label: "Trigger Transition Delay (s)", Type: Float},
	{Key: "trigger_acquisition_delay", Label: "Trigger Acquisition Delay (s)", Type: Float},
}

// SpectrumMeta is the parameter table of the spectrum test kind.
var SpectrumMeta = []Meta{
	{Key: "source_func1", Label: "Channel 1 Mode", Type: Text, Choices: []Choice{{"Voltage(V)", "VOLT"}, {"Current(A)", "CURR"}}},
	{Key: "smu_channel1_source", Label: "Channel 1 Source", Type: Float},
	{Key: "smu_channel1_limit", Label: "Channel 1 limit", Type: Float},
	{Key: "source_func2", Label: "Channel 2 Mode", Type: Text, Choices: []Choice{{"Voltage(V)", "VOLT"}, {"Current(A)", "CURR"}}},
	{Key: "smu_channel2_source", Label: "Channel 2 Source", Type: Float},
	{Key: "smu_channel2_limit", Label: "Channel 2 limit", Type: Float},
	{Key: "centre", Label: "Centre", Type: Float},
	{Key: "span", Label: "Span", Type: Float},
	{Key: "res", Label: "Resolution", Type: Float},
	{Key: "sens", Label: "Sensitivity", Type: Text},
	{Key: "avg", Label: "Average", Type: Float},
	{Key: "ref_val", Label: "Reference Level", Type: Float},
}

// MetaTable returns the parameter table for a test kind name ("liv", "eam"
// or "spectrum").
func MetaTable(testKind string) ([]Meta, bool) {
	switch strings.ToLower(testKind) {
	case "liv", "eam":
		return SweepMeta, true
	case "spectrum":
		return SpectrumMeta, true
	}
	return nil, false
}

// Lookup finds key in table.
func Lookup(table []Meta, key string) (Meta, bool) {
	for _, m := range table {
		if m.Key == key {
			return m, true
		}
	}
	return Meta{}, false
}

// Synchronized names the fields that must be equal on all three channels
// of a test.
var Synchronized = map[string]bool{
	"num_points":                true,
	"trigger_period":            true,
	"pulse_width":               true,
	"trigger_transition_delay":  true,
	"trigger_acquisition_delay": true,
}

// Value is a coerced parameter value.
type Value struct {
	Type  Type
	Int   int
	Float float64
	Text  string
	Blank bool
}

func (v Value) String() string {
	if v.Blank {
		return ""
	}
	switch v.Type {
	case Int:
		return strconv.Itoa(v.Int)
	case Float:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
	return v.Text
}

// Equal compares stored values: a blank int is zero and a blank float is
// NaN, and NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case Int:
		return v.Int == o.Int
	case Float:
		return v.Float == o.Float || (math.IsNaN(v.Float) && math.IsNaN(o.Float))
	}
	return v.Text == o.Text
}

// Coerce converts operator input to the parameter's type. Empty input for a
// numeric parameter is a deliberate blank, not an error. Choice parameters
// accept either the display label or the stored value.
func (m Meta) Coerce(raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if len(m.Choices) > 0 {
		for _, c := range m.Choices {
			if s == c.Display || strings.EqualFold(s, c.Value) {
				return Value{Type: Text, Text: c.Value}, nil
			}
		}
		return Value{}, errors.Wrapf(ErrInvalidValue, "%s: %q is not one of %s", m.Key, raw, m.choiceList())
	}
	switch m.Type {
	case Int:
		if s == "" {
			return Value{Type: Int, Blank: true}, nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			return Value{Type: Int, Int: n}, nil
		}
		// scientific notation such as 2.1e1
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, errors.Wrapf(ErrInvalidValue, "%s: %q (expected int)", m.Key, raw)
		}
		return Value{Type: Int, Int: int(f)}, nil
	case Float:
		if s == "" {
			return Value{Type: Float, Float: Missing(), Blank: true}, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.Wrapf(ErrInvalidValue, "%s: %q (expected float)", m.Key, raw)
		}
		return Value{Type: Float, Float: f}, nil
	}
	return Value{Type: Text, Text: raw}, nil
}

func (m Meta) choiceList() string {
	parts := make([]string, 0, len(m.Choices))
	for _, c := range m.Choices {
		parts = append(parts, c.Display+"|"+c.Value)
	}
	return strings.Join(parts, ", ")
}

// Get returns the current value of key on c.
func (c *Config) Get(key string) (Value, bool) {
	switch p := c.field(key).(type) {
	case *int:
		return Value{Type: Int, Int: *p}, true
	case *float64:
		return Value{Type: Float, Float: *p, Blank: IsMissing(*p)}, true
	case *Function:
		return Value{Type: Text, Text: string(*p)}, true
	case *Shape:
		return Value{Type: Text, Text: string(*p)}, true
	case *Mode:
		return Value{Type: Text, Text: string(*p)}, true
	}
	return Value{}, false
}

// set stores v under key. It reports false for an unknown key or a value of
// the wrong type.
func (c *Config) set(key string, v Value) bool {
	switch p := c.field(key).(type) {
	case *int:
		if v.Type != Int {
			return false
		}
		*p = v.Int
	case *float64:
		if v.Type != Float {
			return false
		}
		*p = v.Float
	case *Function:
		*p = Function(v.Text)
	case *Shape:
		*p = Shape(v.Text)
	case *Mode:
		*p = Mode(v.Text)
	default:
		return false
	}
	return true
}

func (c *Config) field(key string) any {
	switch key {
	case "smu_channel":
		return &c.Channel
	case "source_func":
		return &c.SourceFunc
	case "source_shape":
		return &c.Shape
	case "source_mode":
		return &c.Mode
	case "start":
		return &c.Start
	case "stop":
		return &c.Stop
	case "num_points":
		return &c.Points
	case "initval":
		return &c.Base
	case "pulse_delay":
		return &c.PulseDelay
	case "pulse_width":
		return &c.PulseWidth
	case "sense_func":
		return &c.SenseFunc
	case "sense_range":
		return &c.SenseRange
	case "aperture":
		return &c.Aperture
	case "protection":
		return &c.Protection
	case "trigger_period":
		return &c.TriggerPeriod
	case "trigger_transition_delay":
		return &c.TransitionDelay
	case "trigger_acquisition_delay":
		return &c.AcquisitionDelay
	}
	return nil
}
