// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sequencer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gotmc/optochar/lib/ledger"
	"github.com/gotmc/optochar/lib/smu"
	"github.com/gotmc/optochar/lib/smu/smutest"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/gotmc/optochar/lib/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type bench struct {
	smu1, smu2 *smutest.Fake
	waits      []time.Duration
	runs       []ledger.Run
	mu         sync.Mutex
}

func newBench() *bench {
	b := &bench{smu1: smutest.New(), smu2: smutest.New()}
	b.smu1.Replies[":fetc:arr:volt? (@2)"] = "1.1,1.2,1.3"
	b.smu1.Replies[":fetc:arr:curr? (@1)"] = "-1e-3,-2e-3,-3e-3"
	b.smu2.Replies[":fetc:arr:curr? (@1)"] = "1e-4,1e-4,1e-4"
	return b
}

func (b *bench) dial(addr string) (transport.Conn, error) {
	if addr == "smu2" {
		return b.smu2.Dial(addr)
	}
	return b.smu1.Dial(addr)
}

func (b *bench) sleep(ctx context.Context, d time.Duration) error {
	b.mu.Lock()
	b.waits = append(b.waits, d)
	b.mu.Unlock()
	return ctx.Err()
}

func (b *bench) Record(r ledger.Run) error {
	b.runs = append(b.runs, r)
	return nil
}

func (b *bench) sequencer(opts ...Option) *Sequencer {
	opts = append([]Option{WithSleep(b.sleep), WithRecorder(b)}, opts...)
	return New("smu1", "smu2", b.dial, opts...)
}

func request(t *testing.T, chs sweep.Channels) Request {
	return Request{
		Channels:    chs,
		DeviceID:    "TX03",
		Temperature: "25",
		Timestamp:   "20240611T101500",
		Dir:         t.TempDir(),
	}
}

var cleanupSMU1 = []string{
	":OUTP1 OFF",
	":OUTP2 OFF",
	"SOUR1:FUNC:MODE VOLT",
	":SOUR1:VOLT -1",
	":SENS1:CURR:PROT:LEV 0.05",
	"SOUR2:FUNC:MODE CURR",
	":SOUR2:CURR 0.08",
	":SENS2:VOLT:PROT:LEV 2",
}

var cleanupSMU2 = []string{
	":OUTP1 OFF",
	"SOUR1:FUNC:MODE VOLT",
	":SOUR1:VOLT -2",
	":SENS1:CURR:PROT:LEV 0.08",
}

func tail(xs []string, n int) []string {
	if len(xs) < n {
		return xs
	}
	return xs[len(xs)-n:]
}

func TestRunLIV(t *testing.T) {
	b := newBench()
	var states []State
	s := b.sequencer(OnState(func(st State) { states = append(states, st) }))
	defer s.Close()

	rep, err := s.Run(context.Background(), request(t, sweep.LIVDefaults()))
	require.NoError(t, err)

	want := []State{Idle, Connecting, Resetting, Configuring, Armed, Acquiring, Fetching, Cleanup, Done}
	assert.Equal(t, want, states)
	assert.Equal(t, want, rep.States)

	assert.Equal(t, sweep.LaserSweep, rep.Classification.Kind)
	assert.Equal(t, 21, rep.Classification.Points)
	require.True(t, rep.Result.OK(), "%v", rep.Result.Err)
	assert.Equal(t,
		"TX03_pulsed_LIV_LDBias(0,100)mA_EAMBias(0)V_PDBias(-1.0)V_NumPoints21_DtyC50.00%_25°C_20240611T101500.xlsx",
		filepath.Base(rep.Result.Path))
	assert.Len(t, rep.Result.Table.Rows, 21)

	require.Len(t, b.waits, 3)
	assert.Equal(t, DefaultSettle, b.waits[0])
	assert.Equal(t, DefaultArm, b.waits[1])
	assert.InDelta(t, 10.4, b.waits[2].Seconds(), 1e-6)

	sent1 := b.smu1.Sent()
	assert.Equal(t, "*RST", sent1[0])
	assert.Equal(t, []string{":init (@1,2)"}, b.smu1.SentWithPrefix(":init"))
	assert.Equal(t, []string{":init (@1)"}, b.smu2.SentWithPrefix(":init"))
	assert.Equal(t, []string{":OUTP1 ON", ":OUTP2 ON"}, filter(sent1, " ON"))
	if diff := cmp.Diff(cleanupSMU1, tail(sent1, len(cleanupSMU1))); diff != "" {
		t.Errorf("smu1 cleanup mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cleanupSMU2, tail(b.smu2.Sent(), len(cleanupSMU2))); diff != "" {
		t.Errorf("smu2 cleanup mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, b.runs, 1)
	assert.True(t, b.runs[0].OK)
	assert.Equal(t, "LIV", b.runs[0].Kind)
	assert.Equal(t, rep.ID, b.runs[0].ID)
}

func filter(xs []string, suffix string) []string {
	var out []string
	for _, x := range xs {
		if strings.HasSuffix(x, suffix) {
			out = append(out, x)
		}
	}
	return out
}

func TestRunConfiguresInOrder(t *testing.T) {
	b := newBench()
	s := b.sequencer()
	defer s.Close()

	chs := sweep.LIVDefaults()
	_, err := s.Run(context.Background(), request(t, chs))
	require.NoError(t, err)

	var want []string
	want = append(want, "*RST")
	want = append(want, sweep.Commands(chs.Photodetector)...)
	want = append(want, sweep.Commands(chs.Laser)...)
	got := b.smu1.Sent()[:len(want)]
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("smu1 configuration mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, b.smu1.Sent(), ":sour2:curr:stop 0.1")
}

func TestRunConnectionFailure(t *testing.T) {
	b := newBench()
	b.smu2.FailDial = true
	s := b.sequencer()
	defer s.Close()

	rep, err := s.Run(context.Background(), request(t, sweep.LIVDefaults()))
	assert.True(t, errors.Is(err, smu.ErrConnection))
	assert.Equal(t, []State{Idle, Connecting, Cleanup, Done}, rep.States)
	assert.Empty(t, b.smu1.Sent(), "no instrument state touched")
	assert.Empty(t, rep.Result.Path)
	require.Len(t, b.runs, 1)
	assert.False(t, b.runs[0].OK)
	assert.Contains(t, b.runs[0].Error, "connection failed")
}

func TestRunInvalidConfiguration(t *testing.T) {
	b := newBench()
	s := b.sequencer()
	defer s.Close()

	chs := sweep.LIVDefaults()
	chs.Laser.Stop = sweep.Missing()
	_, err := s.Run(context.Background(), request(t, chs))
	assert.Error(t, err)
	assert.Zero(t, b.smu1.Dials())
}

func TestRunFallbackClassification(t *testing.T) {
	b := newBench()
	s := b.sequencer()
	defer s.Close()

	chs := sweep.LIVDefaults()
	chs.Laser.Mode = sweep.Fixed
	rep, err := s.Run(context.Background(), request(t, chs))
	require.NoError(t, err)
	// neither channel sweeps, yet the run is labelled a modulator sweep
	assert.True(t, rep.Classification.Fallback)
	assert.Equal(t, sweep.ModulatorSweep, rep.Classification.Kind)
	assert.Contains(t, filepath.Base(rep.Result.Path), "_EAM_LDBias(0)mA_EAMBias(0,0)V_")
}

func TestRunCancelledStillCleansUp(t *testing.T) {
	b := newBench()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New("smu1", "smu2", b.dial, WithSleep(func(ctx context.Context, d time.Duration) error {
		if d > time.Second {
			cancel()
		}
		return ctx.Err()
	}))
	defer s.Close()

	rep, err := s.Run(ctx, request(t, sweep.LIVDefaults()))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Cleanup, rep.States[len(rep.States)-2])
	assert.Empty(t, b.smu1.SentWithPrefix(":fetc"))
	assert.Equal(t, cleanupSMU2, tail(b.smu2.Sent(), len(cleanupSMU2)))
}

func TestRunLostConnection(t *testing.T) {
	b := newBench()
	var s *Sequencer
	s = b.sequencer(OnState(func(st State) {
		if st == Armed {
			s.smu2.Close()
		}
	}))
	defer s.Close()

	rep, err := s.Run(context.Background(), request(t, sweep.LIVDefaults()))
	assert.True(t, errors.Is(err, smu.ErrNotConnected))
	assert.Contains(t, rep.States, Cleanup)
	assert.Equal(t, cleanupSMU1, tail(b.smu1.Sent(), len(cleanupSMU1)))
}

func TestRunFetchFailureDegrades(t *testing.T) {
	b := newBench()
	b.smu2.FailQueries[":fetc:arr:curr? (@1)"] = true
	s := b.sequencer()
	defer s.Close()

	rep, err := s.Run(context.Background(), request(t, sweep.LIVDefaults()))
	require.NoError(t, err)
	require.True(t, rep.Result.OK())
	assert.Len(t, rep.Result.Table.Rows, 21)
}

func TestRunReusesSessions(t *testing.T) {
	b := newBench()
	s := b.sequencer()
	defer s.Close()

	for i := 0; i < 2; i++ {
		_, err := s.Run(context.Background(), request(t, sweep.EAMDefaults()))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, b.smu1.Dials())
	assert.Equal(t, 1, b.smu2.Dials())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, b.smu1.Closes())
}

func TestRunBusy(t *testing.T) {
	b := newBench()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s := New("smu1", "smu2", b.dial, WithSleep(func(ctx context.Context, d time.Duration) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}))
	defer s.Close()

	req := request(t, sweep.LIVDefaults())
	done := make(chan error)
	go func() {
		_, err := s.Run(context.Background(), req)
		done <- err
	}()
	<-started
	_, err := s.Run(context.Background(), request(t, sweep.LIVDefaults()))
	assert.ErrorIs(t, err, ErrBusy)
	close(release)
	assert.NoError(t, <-done)
}

func TestDefaultTimestamp(t *testing.T) {
	b := newBench()
	s := b.sequencer()
	s.now = func() time.Time { return time.Date(2024, 6, 11, 10, 15, 0, 0, time.UTC) }
	defer s.Close()

	req := request(t, sweep.LIVDefaults())
	req.Timestamp = ""
	rep, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rep.Result.Path, "_20240611T101500.xlsx"))
}

func TestAcquisitionTime(t *testing.T) {
	assert.Equal(t, 2*time.Second, AcquisitionTime(0, 0.4, DefaultMargin))
	assert.InDelta(t, 14.8, AcquisitionTime(32, 0.4, DefaultMargin).Seconds(), 1e-6)
}
