// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package osa drives an Anritsu MS9710C optical spectrum analyzer over
// RS-232 (9600 baud, 8N1, '\n' terminated).
package osa

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/optochar/lib/cmdlog"
	"github.com/gotmc/optochar/lib/transport"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNotQuery is returned by Query for a command without '?'.
	ErrNotQuery = errors.New("osa: query must contain '?'")
	// ErrResolution is returned for a resolution the instrument does not offer.
	ErrResolution = errors.New("osa: unsupported resolution")
)

// BaudRate is the line speed the analyzer is set up for.
const BaudRate = 9600

// Resolutions lists the accepted resolutions in nm, as sent.
var Resolutions = []string{"0.05", "0.07", "0.1", "0.2", "0.5", "1"}

// DefaultSweepWait is how long a single sweep or a peak search is given.
// The instrument is not polled for completion.
const DefaultSweepWait = 30 * time.Second

// DialFunc opens the link to the analyzer.
type DialFunc func(addr string) (transport.Conn, error)

// Analyzer is an open MS9710C.
type Analyzer struct {
	log    *zap.Logger
	tracer *cmdlog.Tracer
	wait   time.Duration
	sleep  func(context.Context, time.Duration) error

	mu   sync.Mutex
	conn transport.Conn
}

// Option configures an Analyzer.
type Option func(*Analyzer)

func WithLogger(l *zap.Logger) Option { return func(a *Analyzer) { a.log = l } }

// WithSweepWait sets the time allowed for a sweep or a peak search.
func WithSweepWait(d time.Duration) Option { return func(a *Analyzer) { a.wait = d } }

// WithSleep replaces the cancellable sleep used while the instrument works.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(a *Analyzer) { a.sleep = fn }
}

// Open connects to the analyzer at addr, a serial resource such as
// ASRL/dev/ttyUSB0::INSTR.
func Open(addr string, dial DialFunc, opts ...Option) (*Analyzer, error) {
	if !strings.Contains(strings.ToUpper(addr), "::INSTR") {
		return nil, errors.Errorf("osa address %q: use the form ASRL<port>::INSTR", addr)
	}
	a := &Analyzer{log: zap.NewNop(), wait: DefaultSweepWait, sleep: sleep}
	for _, opt := range opts {
		opt(a)
	}
	a.tracer = cmdlog.New(a.log, "osa")
	conn, err := dial(addr)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to OSA")
	}
	a.conn = conn
	a.log.Info("connected to OSA", zap.String("addr", addr))
	return a, nil
}

// SerialDialer dials with the analyzer's line settings.
func SerialDialer(log *zap.Logger) DialFunc {
	return func(addr string) (transport.Conn, error) {
		return transport.Dial(addr, transport.Options{BaudRate: BaudRate, Log: log})
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Write sends an instruction.
func (a *Analyzer) Write(cmd string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.conn.Command(cmd)
	a.tracer.Command(cmd, err)
	return errors.Wrapf(err, "osa %s", cmd)
}

// Query sends cmd and returns the reply. cmd must be a query.
func (a *Analyzer) Query(cmd string) (string, error) {
	if !strings.Contains(cmd, "?") {
		return "", errors.Wrap(ErrNotQuery, cmd)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	reply, err := a.conn.Query(cmd)
	a.tracer.Query(cmd, reply, err)
	if err != nil {
		return "", errors.Wrapf(err, "osa %s", cmd)
	}
	return strings.TrimSpace(reply), nil
}

// set writes prefix+value and reads the setting back.
func (a *Analyzer) set(prefix, value string) (string, error) {
	if err := a.Write(prefix + value); err != nil {
		return "", err
	}
	got, err := a.Query(prefix + "?")
	if err == nil {
		a.log.Debug("osa setting", zap.String("cmd", prefix), zap.String("value", got))
	}
	return got, err
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// SetCenter sets the centre wavelength in nm.
func (a *Analyzer) SetCenter(nm float64) (string, error) { return a.set("CNT", num(nm)) }

// SetSpan sets the sweep span in nm.
func (a *Analyzer) SetSpan(nm float64) (string, error) { return a.set("SPN", num(nm)) }

// SetAverage sets the sweep average count.
func (a *Analyzer) SetAverage(n float64) (string, error) { return a.set("AVS", num(n)) }

// SetReference sets the reference level in dBm.
func (a *Analyzer) SetReference(dBm float64) (string, error) { return a.set("RLV", num(dBm)) }

// SetResolution sets the resolution in nm; only Resolutions are accepted.
func (a *Analyzer) SetResolution(nm float64) (string, error) {
	s := num(nm)
	for _, r := range Resolutions {
		if r == s {
			return a.set("RES", s)
		}
	}
	return "", errors.Wrapf(ErrResolution, "%s nm (use one of %s)", s, strings.Join(Resolutions, ", "))
}

// Resolution reads the current resolution.
func (a *Analyzer) Resolution() (float64, error) { return query.Float64(a, "RES?") }

// SingleSweep triggers one sweep and waits for it.
func (a *Analyzer) SingleSweep(ctx context.Context) error {
	if err := a.Write("SSI"); err != nil {
		return err
	}
	a.log.Info("single sweep", zap.Duration("wait", a.wait))
	return a.sleep(ctx, a.wait)
}

// Peak moves the trace marker to the peak and returns its wavelength (nm)
// and level (dBm). A reply without a level gives NaN power.
func (a *Analyzer) Peak(ctx context.Context) (wavelength, power float64, err error) {
	if err := a.Write("PKS PEAK"); err != nil {
		return 0, 0, err
	}
	if err := a.sleep(ctx, a.wait); err != nil {
		return 0, 0, err
	}
	reply, err := a.Query("TMK?")
	if err != nil {
		return 0, 0, err
	}
	vals := parseList(reply)
	switch len(vals) {
	case 0:
		return 0, 0, errors.Errorf("osa: unreadable marker %q", reply)
	case 1:
		return vals[0], math.NaN(), nil
	}
	return vals[0], vals[1], nil
}

// SMSR returns the side-mode analysis: wl1, pow1, wl2, pow2, dwl, smsr.
// Wavelengths reported in metres are converted to nm.
func (a *Analyzer) SMSR() ([]float64, error) {
	reply, err := a.Query("ANA?")
	if err != nil {
		return nil, err
	}
	vals := parseList(reply)
	for i, v := range vals {
		if v > 0 && v < 1e-5 {
			vals[i] = math.Round(v*1e9*1000) / 1000
		}
	}
	return vals, nil
}

// Trace reads the displayed trace of memory A as wavelength (nm) and
// amplitude (dBm) pairs. Wavelengths are spread evenly over the sweep.
func (a *Analyzer) Trace() (wavelengths, amplitudes []float64, err error) {
	start, err := query.Float64(a, "STA?")
	if err != nil {
		return nil, nil, err
	}
	stop, err := query.Float64(a, "STO?")
	if err != nil {
		return nil, nil, err
	}
	reply, err := a.Query("DMA?")
	if err != nil {
		return nil, nil, err
	}
	amplitudes = parseList(reply)
	wavelengths = make([]float64, len(amplitudes))
	switch len(wavelengths) {
	case 0:
	case 1:
		wavelengths[0] = start
	default:
		floats.Span(wavelengths, start, stop)
	}
	return wavelengths, amplitudes, nil
}

// Close releases the link.
func (a *Analyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// parseList reads comma or whitespace separated numbers, skipping anything
// else.
func parseList(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\r' || r == '\n' || r == ' ' || r == '\t'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
