// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package smu is a resilient session to one Keysight B2900-series
// source/measure unit.
//
// Communication problems on an open session never surface as errors the
// caller must handle: writes are logged and the run continues, reads report
// ok == false. Only opening the connection can fail outright.
package smu

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gotmc/optochar/lib/cmdlog"
	"github.com/gotmc/optochar/lib/transport"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrConnection is returned when an instrument cannot be opened.
	ErrConnection = errors.New("smu: connection failed")
	// ErrNotConnected is returned for traffic on a closed session.
	ErrNotConnected = errors.New("smu: not connected")
)

// DialFunc opens a connection to the instrument at addr.
type DialFunc func(addr string) (transport.Conn, error)

// Session is one open channel to a physical SMU.
type Session struct {
	addr   string
	dial   DialFunc
	log    *zap.Logger
	trace  bool
	tracer *cmdlog.Tracer

	mu   sync.Mutex
	conn transport.Conn
	idn  string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

// WithTrace logs every command and reply at debug level.
func WithTrace() Option { return func(s *Session) { s.trace = true } }

// Connect opens addr and identifies the instrument. On failure the returned
// session is nil and the error wraps ErrConnection.
func Connect(addr string, dial DialFunc, opts ...Option) (*Session, error) {
	s := &Session{addr: addr, dial: dial, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.trace {
		s.tracer = cmdlog.New(s.log, addr)
	}
	if err := s.Reconnect(); err != nil {
		s.log.Error("failed to connect", zap.String("addr", addr), zap.Error(err))
		return nil, err
	}
	return s, nil
}

// Reconnect opens the connection if it is absent or was closed. It is a
// no-op on a live session.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, err := s.dial(s.addr)
	if err != nil {
		return errors.Wrapf(ErrConnection, "%s: %v", s.addr, err)
	}
	idn, err := conn.Query("*IDN?")
	if err != nil {
		conn.Close()
		return errors.Wrapf(ErrConnection, "%s: identify: %v", s.addr, err)
	}
	s.conn = conn
	s.idn = strings.TrimSpace(idn)
	s.log.Info("connected", zap.String("addr", s.addr), zap.String("idn", s.idn))
	return nil
}

// Addr returns the resource address the session was opened with.
func (s *Session) Addr() string { return s.addr }

// Identify returns the *IDN? reply recorded when the session connected.
func (s *Session) Identify() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idn
}

// Connected reports whether the session holds an open connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Write sends cmd and then checks the instrument error queue. Failures are
// logged; the returned error is informational only.
func (s *Session) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	err := s.conn.Command(cmd)
	s.tracer.Command(cmd, err)
	if err != nil {
		s.log.Warn("write failed", zap.String("addr", s.addr), zap.String("cmd", cmd), zap.Error(err))
		return err
	}
	s.checkError(cmd)
	return nil
}

// Query sends cmd and returns the reply. ok is false on communication
// failure or a closed session.
func (s *Session) Query(cmd string) (reply string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, err := s.query(cmd)
	return reply, err == nil
}

func (s *Session) query(cmd string) (string, error) {
	if s.conn == nil {
		return "", ErrNotConnected
	}
	reply, err := s.conn.Query(cmd)
	s.tracer.Query(cmd, reply, err)
	if err != nil {
		s.log.Warn("query failed", zap.String("addr", s.addr), zap.String("cmd", cmd), zap.Error(err))
		return "", err
	}
	s.checkError(cmd)
	return reply, nil
}

// checkError drains one entry of the error queue. A non-zero code is logged
// and otherwise ignored.
func (s *Session) checkError(after string) {
	reply, err := s.conn.Query("SYST:ERR?")
	if err != nil {
		s.log.Warn("error check failed", zap.String("addr", s.addr), zap.String("after", after), zap.Error(err))
		return
	}
	if code := errorCode(reply); code != 0 {
		s.log.Warn("instrument error",
			zap.String("addr", s.addr),
			zap.String("after", after),
			zap.Int("code", code),
			zap.String("reply", strings.TrimSpace(reply)))
	}
}

// errorCode extracts the leading code of a SYST:ERR? reply such as
// `+0,"No error"` or `-113,"Undefined header"`. Unparseable replies count
// as an error.
func errorCode(reply string) int {
	code, _, _ := strings.Cut(strings.TrimSpace(reply), ",")
	n, err := strconv.Atoi(strings.TrimPrefix(code, "+"))
	if err != nil {
		return -1
	}
	return n
}

// checked lets the query package parse replies while keeping the error
// check after every exchange.
type checked struct{ s *Session }

func (c checked) Query(cmd string) (string, error) { return c.s.query(cmd) }

func (s *Session) readFloat(cmd string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := query.Float64(checked{s}, cmd)
	if err != nil {
		s.log.Warn("unreadable measurement", zap.String("addr", s.addr), zap.String("cmd", cmd), zap.Error(err))
		return 0, false
	}
	return v, true
}

// ReadVoltage performs a spot voltage measurement on channel.
func (s *Session) ReadVoltage(channel int) (float64, bool) {
	return s.readFloat(fmt.Sprintf(":MEAS:VOLT? (@%d)", channel))
}

// ReadCurrent performs a spot current measurement on channel, in amps.
func (s *Session) ReadCurrent(channel int) (float64, bool) {
	return s.readFloat(fmt.Sprintf(":MEAS:CURR? (@%d)", channel))
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.log.Info("closing instrument connection", zap.String("addr", s.addr))
	err := s.conn.Close()
	s.conn = nil
	return err
}
