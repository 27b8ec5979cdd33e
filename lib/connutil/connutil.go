// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package connutil opens a Prologix GPIB controller on a serial port and
// hands back the controller together with its cleanup.
package connutil

import (
	"time"

	"github.com/gotmc/optochar/lib/find"
	"github.com/gotmc/optochar/lib/prologix"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Conn struct {
	SerialPort  string
	GpibPAD     int
	GpibSAD     int // 0xff for none
	Delay       time.Duration
	ReadTimeout time.Duration
	AR488       bool
}

// AddFlags registers the serial port, write delay and AR488 flags. If no
// port is given, Setup looks for an attached Prologix adapter.
func (c *Conn) AddFlags(fs *pflag.FlagSet) {
	if c.Delay == 0 {
		c.Delay = 100 * time.Millisecond
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	fs.StringVar(&c.SerialPort, "prologix-port", c.SerialPort, "serial port for the Prologix GPIB controller")
	fs.DurationVar(&c.Delay, "prologix-delay", c.Delay, "delay between GPIB writes")
	fs.BoolVar(&c.AR488, "ar488", c.AR488, "controller is an Arduino AR488")
}

// Setup opens the serial port and configures the controller for the
// instrument at GpibPAD (and GpibSAD unless it is 0xff). The returned cleanup
// returns the instrument to front panel control and closes the port.
func (c *Conn) Setup(log *zap.Logger, opts ...prologix.ControllerOption) (gpib *prologix.Controller, cleanup func() error, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	nocleanup := func() error { return nil }

	port := c.SerialPort
	if port == "" {
		port, err = find.Find(find.PrologixFilter)
		if err != nil {
			return nil, nocleanup, errors.Wrap(err, "locating prologix controller")
		}
	}
	log.Info("opening prologix controller", zap.String("port", port), zap.Int("pad", c.GpibPAD))

	sp, err := serial.Open(port, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return nil, nocleanup, errors.Wrapf(err, "opening %s", port)
	}
	if c.ReadTimeout > 0 {
		if err := sp.SetReadTimeout(c.ReadTimeout); err != nil {
			sp.Close()
			return nil, nocleanup, err
		}
	}

	opts = append(opts, prologix.WithLogger(log))
	if c.Delay > 0 {
		opts = append(opts, prologix.WithWriteDelay(c.Delay))
	}
	if c.GpibSAD != 0xff && c.GpibSAD != 0 {
		opts = append(opts, prologix.WithSecondaryAddress(c.GpibSAD))
	}
	if c.AR488 {
		opts = append(opts, prologix.WithAR488())
	}

	gpib, err = prologix.NewController(sp, c.GpibPAD, false, opts...)
	if err != nil {
		sp.Close()
		return nil, nocleanup, err
	}

	cleanup = func() error {
		err := gpib.FrontPanel(true)
		err = multierr.Append(err, sp.ResetInputBuffer())
		return multierr.Append(err, sp.Close())
	}
	return gpib, cleanup, nil
}
