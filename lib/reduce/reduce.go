// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package reduce turns the three fetched measurement streams of a sweep into
// one table and saves it as a spreadsheet with a descriptive name.
package reduce

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gotmc/optochar/lib/sweep"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// Column headers, in output order.
const (
	ModulatorVoltageSet  = "SMU2_Ch1_EAM_Voltage_Set_V"
	ModulatorCurrentMeas = "SMU2_Ch1_EAM_Current_Meas_mA"
	LaserCurrentSet      = "SMU1_Ch2_Laser_Current_Set_mA"
	LaserVoltageMeas     = "SMU1_Ch2_Laser_Voltage_Meas_V"
	DetectorVoltageSet   = "SMU1_Ch1_PD_Voltage_Set_V"
	DetectorCurrentMeas  = "SMU1_Ch1_PD_Current_Meas_mA"
)

// Columns lists the headers of every reduced table.
var Columns = []string{
	ModulatorVoltageSet,
	ModulatorCurrentMeas,
	LaserCurrentSet,
	LaserVoltageMeas,
	DetectorVoltageSet,
	DetectorCurrentMeas,
}

// Input is everything one reduction needs. The streams are the raw
// comma-separated replies of the fetch queries: laser voltage in volts,
// detector and modulator currents in amps.
type Input struct {
	Laser     string
	Detector  string
	Modulator string

	Channels sweep.Channels
	Kind     sweep.Kind

	DeviceID    string
	Temperature string
	Timestamp   string
	Dir         string
}

// Table is a reduced record, one row per sweep point. Missing samples are
// NaN.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// Column returns a copy of the named column, or nil.
func (t Table) Column(name string) []float64 {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Result is the outcome of Reduce. Path is set even when saving failed.
type Result struct {
	Path  string
	Table Table
	Err   error
}

// OK reports whether the table was saved.
func (r Result) OK() bool { return r.Err == nil }

// Reducer assembles and saves tables.
type Reducer struct {
	log  *zap.Logger
	save func(path string, t Table) error
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the reducer logger.
func WithLogger(l *zap.Logger) Option { return func(r *Reducer) { r.log = l } }

// New returns a Reducer that saves spreadsheets.
func New(opts ...Option) *Reducer {
	r := &Reducer{log: zap.NewNop(), save: SaveXLSX}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reduce builds the table for in and saves it under Filename(in). Malformed
// streams never fail a reduction; only saving can. Errors are logged and
// returned in the Result.
func (r *Reducer) Reduce(in Input) Result {
	n := Points(in.Channels)
	log := r.log.With(zap.String("kind", in.Kind.String()), zap.Int("points", n))

	laserV := Normalize(r.parse("laser voltage", in.Laser), n)
	pdI := Normalize(r.parse("detector current", in.Detector), n)
	eamI := Normalize(r.parse("modulator current", in.Modulator), n)

	ld, eam, pd := in.Channels.Laser, in.Channels.Modulator, in.Channels.Photodetector
	ldSet := Linspace(ld.Start, ld.Stop, n)
	eamSet := Linspace(eam.Start, eam.Stop, n)
	var pdSet []float64
	if pd.Mode == sweep.Fixed {
		pdSet = full(n, pd.Base)
	} else {
		pdSet = Linspace(pd.Start, pd.Stop, n)
	}

	t := Table{Columns: Columns, Rows: make([][]float64, n)}
	for i := 0; i < n; i++ {
		t.Rows[i] = []float64{
			eamSet[i],
			eamI[i] * 1000,
			ldSet[i],
			laserV[i],
			pdSet[i],
			// detector polarity depends on how the part is mounted
			math.Abs(pdI[i] * 1000),
		}
	}

	res := Result{Path: filepath.Join(in.Dir, Filename(in, n)), Table: t}
	if err := r.save(res.Path, t); err != nil {
		res.Err = errors.Wrap(err, "saving reduced table")
		log.Error("failed to save table", zap.String("path", res.Path), zap.Error(res.Err))
		return res
	}
	log.Info("saved table", zap.String("path", res.Path))
	return res
}

func (r *Reducer) parse(name, s string) []float64 {
	xs, skipped := ParseStream(s)
	if skipped > 0 {
		r.log.Warn("skipped malformed samples", zap.String("stream", name), zap.Int("skipped", skipped))
	}
	return xs
}

// Points is the row count of a reduction: the laser's points when it is in
// sweep mode, else the modulator's when it is, else the largest configured
// count. It is never below one.
func Points(chs sweep.Channels) int {
	var n int
	switch {
	case chs.Laser.Mode == sweep.Sweep:
		n = chs.Laser.Points
	case chs.Modulator.Mode == sweep.Sweep:
		n = chs.Modulator.Points
	default:
		n = max(chs.Laser.Points, chs.Modulator.Points, chs.Photodetector.Points)
	}
	return max(n, 1)
}

// ParseStream splits a comma-separated reply into samples. Tokens that are
// not numbers are dropped and counted.
func ParseStream(s string) (xs []float64, skipped int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, 0
	}
	for _, tok := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			skipped++
			continue
		}
		xs = append(xs, v)
	}
	return xs, skipped
}

// Normalize returns exactly n samples: xs truncated, or padded with NaN.
func Normalize(xs []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, xs)
	for i := len(xs); i < n; i++ {
		out[i] = math.NaN()
	}
	return out
}

// Linspace returns n evenly spaced values from start to stop inclusive. A
// single point is start.
func Linspace(start, stop float64, n int) []float64 {
	if n < 2 {
		return full(n, start)
	}
	return floats.Span(make([]float64, n), start, stop)
}

func full(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
