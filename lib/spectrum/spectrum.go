// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package spectrum biases a device from one SMU, takes a single OSA sweep
// and saves the trace and its peak analysis as CSV files.
package spectrum

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gotmc/optochar/lib/ledger"
	"github.com/gotmc/optochar/lib/smu"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrBusy is returned while the analyzer is in use by another run.
var ErrBusy = errors.New("spectrum: OSA busy")

// Analyzer is the part of an OSA a spectrum run uses. *osa.Analyzer
// satisfies it.
type Analyzer interface {
	SetCenter(nm float64) (string, error)
	SetSpan(nm float64) (string, error)
	SetResolution(nm float64) (string, error)
	SetAverage(n float64) (string, error)
	SetReference(dBm float64) (string, error)
	SingleSweep(ctx context.Context) error
	Peak(ctx context.Context) (wavelength, power float64, err error)
	SMSR() ([]float64, error)
	Trace() (wavelengths, amplitudes []float64, err error)
}

// Source is the part of an SMU session a spectrum run uses.
type Source interface {
	SetSourceMode(channel int, mode string) error
	SetVoltage(channel int, v float64) error
	SetCurrent(channel int, a float64) error
	SetVoltageCompliance(channel int, v float64) error
	SetCurrentCompliance(channel int, a float64) error
	SetAutorange(channel int, on bool) error
	OutputOn(channel int) error
	OutputOff(channel int) error
	ReadVoltage(channel int) (float64, bool)
	ReadCurrent(channel int) (float64, bool)
}

var _ Source = (*smu.Session)(nil)

// Request describes one spectrum run.
type Request struct {
	Params      Params
	DeviceID    string
	Temperature string
	Timestamp   string // empty means now
	Dir         string
}

// Result is the outcome of a spectrum run.
type Result struct {
	ID             string
	Measured1      float64 // NaN when the read-back failed
	Measured2      float64
	PeakWavelength float64 // nm
	PeakPower      float64 // dBm
	SMSR           []float64
	TracePath      string
	ParamsPath     string
}

// Runner performs spectrum runs, one at a time per analyzer.
type Runner struct {
	src      Source
	osa      Analyzer
	log      *zap.Logger
	recorder interface{ Record(ledger.Run) error }
	now      func() time.Time
	busy     atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.log = l } }

// WithRecorder records every run, for example in a ledger.Ledger.
func WithRecorder(rec interface{ Record(ledger.Run) error }) Option {
	return func(r *Runner) { r.recorder = rec }
}

// New returns a runner biasing through src and measuring with osa.
func New(src Source, osa Analyzer, opts ...Option) *Runner {
	r := &Runner{src: src, osa: osa, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run biases both channels, sweeps once and saves the results. The outputs
// are turned off again on every path past biasing.
func (r *Runner) Run(ctx context.Context, req Request) (res *Result, err error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.busy.Store(false)

	res = &Result{ID: uuid.NewString(), Measured1: math.NaN(), Measured2: math.NaN()}
	if req.Timestamp == "" {
		req.Timestamp = r.now().Format("20060102T150405")
	}
	log := r.log.With(zap.String("run", res.ID))
	started := r.now()
	defer func() {
		r.record(req, res, err, started)
	}()

	p := req.Params
	defer func() {
		err = multierr.Combine(err, r.src.OutputOff(1), r.src.OutputOff(2))
	}()
	res.Measured1 = r.bias(1, p.Func1, p.Source1, p.Limit1)
	res.Measured2 = r.bias(2, p.Func2, p.Source2, p.Limit2)
	log.Info("device biased", zap.Float64("ch1", res.Measured1), zap.Float64("ch2", res.Measured2))

	if err := r.configure(p); err != nil {
		return res, err
	}
	if err := r.osa.SingleSweep(ctx); err != nil {
		return res, errors.Wrap(err, "single sweep")
	}
	wl, pow, err := r.osa.Peak(ctx)
	if err != nil {
		return res, errors.Wrap(err, "peak search")
	}
	res.PeakWavelength, res.PeakPower = round3(wl), round3(pow)
	if res.SMSR, err = r.osa.SMSR(); err != nil {
		return res, errors.Wrap(err, "smsr")
	}
	xs, ys, err := r.osa.Trace()
	if err != nil {
		return res, errors.Wrap(err, "trace")
	}

	base := fmt.Sprintf("%s_%sC_%s", req.DeviceID, req.Temperature, biasLabel(p.Func2, p.Source2))
	res.TracePath = filepath.Join(req.Dir, base+"_"+req.Timestamp+".csv")
	if err := writeCSV(res.TracePath, "Freq, Amplitude", pairs(xs, ys)); err != nil {
		return res, err
	}
	row := append([]float64{res.PeakPower, res.PeakWavelength}, res.SMSR...)
	res.ParamsPath = filepath.Join(req.Dir, base+"_pkpow_pkwl_smsr_"+req.Timestamp+".csv")
	if err := writeCSV(res.ParamsPath, "pkpow, pkwl, wl1, pow1, wl2, pow2, dwl, smsr ", [][]float64{row}); err != nil {
		return res, err
	}
	log.Info("spectrum saved", zap.String("trace", res.TracePath), zap.Float64("peak_nm", res.PeakWavelength))
	return res, nil
}

// bias sources value on channel with the matching compliance and reads the
// other quantity back.
func (r *Runner) bias(channel int, fn string, value, limit float64) float64 {
	r.src.SetSourceMode(channel, fn)
	if fn == "CURR" {
		r.src.SetCurrent(channel, value)
		r.src.SetVoltageCompliance(channel, limit)
	} else {
		r.src.SetVoltage(channel, value)
		r.src.SetCurrentCompliance(channel, limit)
	}
	r.src.SetAutorange(channel, true)
	r.src.OutputOn(channel)

	var v float64
	var ok bool
	if fn == "CURR" {
		v, ok = r.src.ReadVoltage(channel)
	} else {
		v, ok = r.src.ReadCurrent(channel)
	}
	if !ok {
		return math.NaN()
	}
	return v
}

// configure sets up the analyzer. A resolution the instrument does not
// offer is logged and the current one kept.
func (r *Runner) configure(p Params) error {
	if _, err := r.osa.SetCenter(p.Centre); err != nil {
		return errors.Wrap(err, "centre")
	}
	if _, err := r.osa.SetSpan(p.Span); err != nil {
		return errors.Wrap(err, "span")
	}
	if _, err := r.osa.SetResolution(p.Res); err != nil {
		r.log.Warn("resolution not applied", zap.Error(err))
	}
	if p.Sens != "" {
		r.log.Debug("sensitivity is set on the front panel", zap.String("sens", p.Sens))
	}
	if _, err := r.osa.SetAverage(p.Avg); err != nil {
		return errors.Wrap(err, "average")
	}
	if _, err := r.osa.SetReference(p.Reference); err != nil {
		return errors.Wrap(err, "reference level")
	}
	return nil
}

func (r *Runner) record(req Request, res *Result, runErr error, started time.Time) {
	if r.recorder == nil || res == nil {
		return
	}
	run := ledger.Run{
		ID:          res.ID,
		Kind:        "spectrum",
		DeviceID:    req.DeviceID,
		Temperature: req.Temperature,
		Timestamp:   req.Timestamp,
		Path:        res.TracePath,
		OK:          runErr == nil,
		Started:     started,
		Finished:    r.now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.recorder.Record(run); err != nil {
		r.log.Warn("failed to record run", zap.Error(err))
	}
}

// biasLabel names the channel 2 bias for file names, e.g. 80mA.
func biasLabel(fn string, v float64) string {
	if fn == "CURR" {
		return strconv.FormatFloat(math.Round(v*1e6)/1e3, 'f', -1, 64) + "mA"
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "V"
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func pairs(xs, ys []float64) [][]float64 {
	n := min(len(xs), len(ys))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{xs[i], ys[i]}
	}
	return rows
}

// writeCSV writes a literal header line and rows with six decimals.
func writeCSV(path, header string, rows [][]float64) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(header + "\n"); err != nil {
		return err
	}
	w := csv.NewWriter(bw)
	for _, row := range rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = strconv.FormatFloat(v, 'f', 6, 64)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
