// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package sequencer runs one timed sweep across the two SMUs: reset,
// configure, arm, trigger, wait, fetch, and reduce, with cleanup that always
// returns the devices to a safe bias.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gotmc/optochar/lib/ledger"
	"github.com/gotmc/optochar/lib/reduce"
	"github.com/gotmc/optochar/lib/smu"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrBusy is returned when Run is called while another run is in progress.
var ErrBusy = errors.New("sequencer: a run is already in progress")

// TimestampLayout formats the default timestamp token.
const TimestampLayout = "20060102T150405"

// Default timing.
const (
	DefaultSettle = 500 * time.Millisecond
	DefaultArm    = 100 * time.Millisecond
	DefaultMargin = 2 * time.Second
)

// Recorder stores a summary of every finished run.
type Recorder interface {
	Record(ledger.Run) error
}

// Request describes one run.
type Request struct {
	Channels    sweep.Channels
	DeviceID    string
	Temperature string
	// Timestamp is embedded in the output name; empty means now.
	Timestamp string
	Dir       string
}

// Report is the outcome of a run that got past the busy check.
type Report struct {
	ID             string
	Classification sweep.Classification
	States         []State
	Result         reduce.Result
	Started        time.Time
	Finished       time.Time
}

// Sequencer owns the sessions to both SMUs. Runs are serialized; a session
// opened by one run is reused by the next.
type Sequencer struct {
	addr1, addr2 string
	dial         smu.DialFunc
	sessionOpts  []smu.Option

	log      *zap.Logger
	reducer  *reduce.Reducer
	recorder Recorder
	onState  func(State)
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time

	settle, arm, margin time.Duration

	busy atomic.Bool

	mu         sync.Mutex
	smu1, smu2 *smu.Session
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the sequencer logger.
func WithLogger(l *zap.Logger) Option { return func(s *Sequencer) { s.log = l } }

// WithSessionOptions passes opts to every session the sequencer opens.
func WithSessionOptions(opts ...smu.Option) Option {
	return func(s *Sequencer) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// WithReducer replaces the default reducer.
func WithReducer(r *reduce.Reducer) Option { return func(s *Sequencer) { s.reducer = r } }

// WithRecorder records every run, for example in a ledger.Ledger.
func WithRecorder(r Recorder) Option { return func(s *Sequencer) { s.recorder = r } }

// OnState calls fn on every state transition.
func OnState(fn func(State)) Option { return func(s *Sequencer) { s.onState = fn } }

// WithTiming overrides the settle delay after reset, the delay between
// enabling outputs and triggering, and the margin added to the acquisition
// wait.
func WithTiming(settle, arm, margin time.Duration) Option {
	return func(s *Sequencer) { s.settle, s.arm, s.margin = settle, arm, margin }
}

// WithSleep replaces the cancellable sleep used for every delay.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Sequencer) { s.sleep = fn }
}

// New returns a sequencer for the SMUs at addr1 (detector and laser) and
// addr2 (modulator).
func New(addr1, addr2 string, dial smu.DialFunc, opts ...Option) *Sequencer {
	s := &Sequencer{
		addr1:  addr1,
		addr2:  addr2,
		dial:   dial,
		log:    zap.NewNop(),
		sleep:  sleep,
		now:    time.Now,
		settle: DefaultSettle,
		arm:    DefaultArm,
		margin: DefaultMargin,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reducer == nil {
		s.reducer = reduce.New(reduce.WithLogger(s.log))
	}
	return s
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

// AcquisitionTime is how long a run waits for the instruments: one trigger
// period per point plus margin. The instruments give no completion signal.
func AcquisitionTime(points int, period float64, margin time.Duration) time.Duration {
	return time.Duration(float64(points)*period*float64(time.Second)) + margin
}

// Close releases both sessions.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.smu1 != nil {
		err = multierr.Append(err, s.smu1.Close())
		s.smu1 = nil
	}
	if s.smu2 != nil {
		err = multierr.Append(err, s.smu2.Close())
		s.smu2 = nil
	}
	return err
}

// run is the state of one Run call.
type run struct {
	*Sequencer
	ctx    context.Context
	log    *zap.Logger
	req    Request
	report *Report
	smu1   *smu.Session
	smu2   *smu.Session
}

func (r *run) enter(st State) {
	r.report.States = append(r.report.States, st)
	r.log.Debug("state", zap.Stringer("state", st))
	if r.onState != nil {
		r.onState(st)
	}
}

// Run performs one sweep. The returned error is set when the run was
// aborted before its data could be reduced; a failure to save the reduced
// table is reported in Report.Result instead. Cleanup has always run by the
// time Run returns, except after ErrBusy.
func (s *Sequencer) Run(ctx context.Context, req Request) (*Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if req.Timestamp == "" {
		req.Timestamp = s.now().Format(TimestampLayout)
	}
	r := &run{
		Sequencer: s,
		ctx:       ctx,
		log:       s.log.With(zap.String("run", id)),
		req:       req,
		report:    &Report{ID: id, Started: s.now()},
	}
	r.enter(Idle)

	err := r.execute()
	r.cleanup()
	r.enter(Done)
	r.report.Finished = s.now()
	if err != nil {
		r.log.Error("run aborted", zap.Error(err))
	}
	s.record(r, err)
	return r.report, err
}

func (s *Sequencer) record(r *run, runErr error) {
	if s.recorder == nil {
		return
	}
	rep := r.report
	entry := ledger.Run{
		ID:          rep.ID,
		Kind:        rep.Classification.Kind.String(),
		DeviceID:    r.req.DeviceID,
		Temperature: r.req.Temperature,
		Timestamp:   r.req.Timestamp,
		Path:        rep.Result.Path,
		Started:     rep.Started,
		Finished:    rep.Finished,
	}
	switch {
	case runErr != nil:
		entry.Error = runErr.Error()
	case rep.Result.Err != nil:
		entry.Error = rep.Result.Err.Error()
	default:
		entry.OK = true
	}
	if err := s.recorder.Record(entry); err != nil {
		r.log.Warn("failed to record run", zap.Error(err))
	}
}

func (r *run) execute() error {
	chs := r.req.Channels
	for _, role := range sweep.Roles {
		if err := chs.Get(role).Validate(); err != nil {
			return errors.Wrapf(err, "%v", role)
		}
	}

	r.enter(Connecting)
	if err := r.connect(); err != nil {
		return err
	}

	r.enter(Resetting)
	r.smu1.Reset()
	r.smu2.Reset()
	if err := r.sleep(r.ctx, r.settle); err != nil {
		return err
	}

	r.enter(Configuring)
	// write failures are logged by the session and do not stop the run
	sweep.Apply(r.smu1, chs.Photodetector)
	sweep.Apply(r.smu1, chs.Laser)
	sweep.Apply(r.smu2, chs.Modulator)
	if err := r.lost(); err != nil {
		return err
	}

	cl := sweep.Classify(chs.Laser, chs.Modulator)
	r.report.Classification = cl
	if cl.Fallback {
		r.log.Warn("neither laser nor modulator sweeps; timing taken from the modulator", zap.Int("points", cl.Points))
	} else {
		r.log.Info("sweep classified", zap.Stringer("kind", cl.Kind), zap.Int("points", cl.Points))
	}

	pd, ld, eam := chs.Photodetector.Channel, chs.Laser.Channel, chs.Modulator.Channel
	r.enter(Armed)
	r.smu1.OutputOn(pd)
	r.smu1.OutputOn(ld)
	r.smu2.OutputOn(eam)
	if err := r.sleep(r.ctx, r.arm); err != nil {
		return err
	}

	r.enter(Acquiring)
	r.smu1.Write(fmt.Sprintf(":init (@%d,%d)", pd, ld))
	r.smu2.Write(fmt.Sprintf(":init (@%d)", eam))
	wait := AcquisitionTime(cl.Points, cl.Period, r.margin)
	r.log.Info("waiting for acquisition", zap.Duration("wait", wait))
	if err := r.sleep(r.ctx, wait); err != nil {
		return errors.Wrap(err, "acquisition wait")
	}

	r.enter(Fetching)
	if err := r.lost(); err != nil {
		return err
	}
	// a failed fetch leaves an empty stream, which reduces to missing values
	laserV, _ := r.smu1.Query(fmt.Sprintf(":fetc:arr:volt? (@%d)", ld))
	pdI, _ := r.smu1.Query(fmt.Sprintf(":fetc:arr:curr? (@%d)", pd))
	eamI, _ := r.smu2.Query(fmt.Sprintf(":fetc:arr:curr? (@%d)", eam))

	r.report.Result = r.reducer.Reduce(reduce.Input{
		Laser:       laserV,
		Detector:    pdI,
		Modulator:   eamI,
		Channels:    chs,
		Kind:        cl.Kind,
		DeviceID:    r.req.DeviceID,
		Temperature: r.req.Temperature,
		Timestamp:   r.req.Timestamp,
		Dir:         r.req.Dir,
	})
	return nil
}

// connect opens or reuses both sessions. If either fails neither is used, so
// no instrument state is touched.
func (r *run) connect() error {
	var err error
	open := func(cur **smu.Session, addr string) {
		if *cur != nil {
			err = multierr.Append(err, (*cur).Reconnect())
			return
		}
		sess, cerr := smu.Connect(addr, r.dial, r.sessionOpts...)
		if cerr != nil {
			err = multierr.Append(err, cerr)
			return
		}
		*cur = sess
	}
	open(&r.Sequencer.smu1, r.addr1)
	open(&r.Sequencer.smu2, r.addr2)
	if err != nil {
		return err
	}
	r.smu1, r.smu2 = r.Sequencer.smu1, r.Sequencer.smu2
	return nil
}

// lost reports a session that closed during the run.
func (r *run) lost() error {
	if !r.smu1.Connected() {
		return errors.Wrap(smu.ErrNotConnected, r.smu1.Addr())
	}
	if !r.smu2.Connected() {
		return errors.Wrap(smu.ErrNotConnected, r.smu2.Addr())
	}
	return nil
}

// Safe idle bias applied in cleanup.
const (
	detectorBiasV   = -1.0
	detectorLimitA  = 0.05
	laserBiasA      = 0.08
	laserLimitV     = 2.0
	modulatorBiasV  = -2.0
	modulatorLimitA = 0.08
)

// cleanup turns the outputs off and leaves every device at its safe bias.
// It runs on every path and talks to whichever sessions the run acquired.
func (r *run) cleanup() {
	r.enter(Cleanup)
	chs := r.req.Channels
	if r.smu1 != nil && r.smu1.Connected() {
		pd, ld := chs.Photodetector.Channel, chs.Laser.Channel
		r.smu1.OutputOff(pd)
		r.smu1.OutputOff(ld)
		r.smu1.SetSourceMode(pd, "VOLT")
		r.smu1.SetVoltage(pd, detectorBiasV)
		r.smu1.SetCurrentCompliance(pd, detectorLimitA)
		r.smu1.SetSourceMode(ld, "CURR")
		r.smu1.SetCurrent(ld, laserBiasA)
		r.smu1.SetVoltageCompliance(ld, laserLimitV)
		r.log.Info("smu1 at safe bias", zap.String("addr", r.smu1.Addr()))
	}
	if r.smu2 != nil && r.smu2.Connected() {
		eam := chs.Modulator.Channel
		r.smu2.OutputOff(eam)
		r.smu2.SetSourceMode(eam, "VOLT")
		r.smu2.SetVoltage(eam, modulatorBiasV)
		r.smu2.SetCurrentCompliance(eam, modulatorLimitA)
		r.log.Info("smu2 at safe bias", zap.String("addr", r.smu2.Addr()))
	}
}
