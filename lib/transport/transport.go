// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package transport opens line-oriented SCPI connections to instruments
// named by VISA-style resource strings.
package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/optochar/lib/connutil"
	"github.com/gotmc/optochar/lib/prologix"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Conn is an open request/response channel to one instrument.
type Conn interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
	Close() error
}

// Options configure Dial.
type Options struct {
	Timeout  time.Duration // per operation; 10 s when zero
	BaudRate int           // ASRL resources; 9600 when zero
	Prologix connutil.Conn // GPIB resources; PAD/SAD are taken from the resource
	Log      *zap.Logger
}

// DefaultTimeout matches the communication timeout the SMUs are driven with.
const DefaultTimeout = 10 * time.Second

// Dial opens the instrument at addr.
func Dial(addr string, opts Options) (Conn, error) {
	r, err := ParseResource(addr)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	switch r.Kind {
	case TCPIP:
		hostport := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
		nc, err := net.DialTimeout("tcp", hostport, opts.Timeout)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", hostport)
		}
		return NewLineConn(&deadlineConn{Conn: nc, timeout: opts.Timeout}), nil
	case Serial:
		baud := opts.BaudRate
		if baud == 0 {
			baud = 9600
		}
		sp, err := serial.Open(r.Device, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", r.Device)
		}
		if err := sp.SetReadTimeout(opts.Timeout); err != nil {
			sp.Close()
			return nil, err
		}
		return NewLineConn(sp), nil
	case GPIB:
		pc := opts.Prologix
		pc.GpibPAD, pc.GpibSAD = r.PAD, r.SAD
		if pc.ReadTimeout == 0 {
			pc.ReadTimeout = opts.Timeout
		}
		ctrl, cleanup, err := pc.Setup(opts.Log)
		if err != nil {
			return nil, err
		}
		return &gpibConn{Controller: ctrl, cleanup: cleanup}, nil
	}
	return nil, fmt.Errorf("unsupported resource kind %s", r.Kind)
}

// deadlineConn arms a fresh deadline before every read and write so a
// silent instrument surfaces as a timeout error.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if err := d.Conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.Conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if err := d.Conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.Conn.Write(p)
}

// LineConn terminates commands with '\n' and reads replies up to '\n'.
type LineConn struct {
	rwc io.ReadWriteCloser
	br  *bufio.Reader
}

func NewLineConn(rwc io.ReadWriteCloser) *LineConn {
	return &LineConn{rwc: rwc, br: bufio.NewReader(rwc)}
}

func (c *LineConn) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	_, err := io.WriteString(c.rwc, strings.TrimSpace(cmd)+"\n")
	return err
}

func (c *LineConn) Query(cmd string) (string, error) {
	if err := c.Command(cmd); err != nil {
		return "", err
	}
	s, err := c.br.ReadString('\n')
	if err == io.EOF && len(s) > 0 {
		err = nil
	}
	return strings.TrimRight(s, "\r\n"), err
}

func (c *LineConn) Close() error { return c.rwc.Close() }

type gpibConn struct {
	*prologix.Controller
	cleanup func() error
}

func (g *gpibConn) Close() error { return g.cleanup() }
