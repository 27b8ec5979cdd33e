// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package smutest provides a scripted stand-in for a SCPI instrument.
package smutest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gotmc/optochar/lib/transport"
)

// ErrIO is returned by a Fake configured to fail traffic.
var ErrIO = errors.New("smutest: i/o error")

// Fake records everything sent to it and answers queries from Replies.
// The error queue (SYST:ERR?) answers from Errors, then "+0,No error".
type Fake struct {
	mu sync.Mutex

	IDN         string
	Replies     map[string]string
	Errors      []string
	FailDial    bool
	FailWrites  bool
	FailQueries map[string]bool

	sent   []string
	dials  int
	closes int
	open   bool
}

// New returns a fake answering *IDN? with a B2912A identity.
func New() *Fake {
	return &Fake{
		IDN:         "Keysight Technologies,B2912A,MY00000000,4.0.2000.0",
		Replies:     map[string]string{},
		FailQueries: map[string]bool{},
	}
}

// Dial satisfies smu.DialFunc.
func (f *Fake) Dial(addr string) (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.FailDial {
		return nil, fmt.Errorf("dial %s: %w", addr, ErrIO)
	}
	f.open = true
	return &conn{f: f}, nil
}

// Sent returns the commands and queries received, without *IDN? and the
// error-queue checks.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// SentWithPrefix filters Sent by a case-insensitive prefix.
func (f *Fake) SentWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Sent() {
		if strings.HasPrefix(strings.ToLower(c), strings.ToLower(prefix)) {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// SetFailWrites toggles write failures while a run is in progress.
func (f *Fake) SetFailWrites(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailWrites = v
}

type conn struct{ f *Fake }

func (c *conn) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrIO
	}
	f.sent = append(f.sent, cmd)
	if f.FailWrites {
		return ErrIO
	}
	return nil
}

func (c *conn) Query(cmd string) (string, error) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return "", ErrIO
	}
	switch cmd {
	case "*IDN?":
		return f.IDN, nil
	case "SYST:ERR?":
		if len(f.Errors) > 0 {
			e := f.Errors[0]
			f.Errors = f.Errors[1:]
			return e, nil
		}
		return `+0,"No error"`, nil
	}
	f.sent = append(f.sent, cmd)
	if f.FailQueries[cmd] {
		return "", ErrIO
	}
	return f.Replies[cmd], nil
}

func (c *conn) Close() error {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.open = false
	return nil
}
