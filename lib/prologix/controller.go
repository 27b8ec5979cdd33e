// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package prologix drives a Prologix (or AR488) GPIB-USB controller so that
// GPIB-addressed instruments can be used like any other line-oriented SCPI
// connection.
package prologix

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Controller models a GPIB controller-in-charge.
type Controller struct {
	rw               io.ReadWriter
	br               *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	usbTerm          byte
	eotChar          byte
	readTimeout      time.Duration
	writeDelay       time.Duration
	debug            bool // if true, log controller commands before sending. Set via WithDebug().
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.
	log              *zap.Logger
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a GPIB controller-in-charge for the instrument at the
// given primary address. Enable clear to send the Selected Device Clear (SDC)
// message to the GPIB address.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:          rw,
		br:          bufio.NewReader(rw),
		primaryAddr: addr,
		usbTerm:     '\n',
		eotChar:     '\n',
		readTimeout: 500 * time.Millisecond,
		log:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must by 0-30)", c.primaryAddr)
	}

	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}
	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // Disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		addrCmd,  // Set the primary address.
		"mode 1", // Switch to controller mode.
		"auto 0", // Turn off read-after-write and address instrument to listen.
		"eoi 1",  // Enable EOI assertion with last character.
		"eos 0",  // Set GPIB termination.
		fmt.Sprintf("read_tmo_ms %d", c.readTimeout.Milliseconds()),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1", // Append character when EOI detected.
	)
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, errors.Wrapf(err, "prologix init %q", cmd)
		}
	}

	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithDebug causes commands and responses to be logged at debug level.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) ControllerOption { return func(c *Controller) { c.log = l } }

// WithWriteDelay pauses before every write; some instruments drop commands
// sent back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

// WithReadTimeout sets the controller's GPIB read timeout (read_tmo_ms).
func WithReadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.readTimeout = d }
}

// WithAR488 slightly alters the init commands, for compatiblity with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

func (c *Controller) send(s string) error {
	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	_, err := io.WriteString(c.rw, s)
	return err
}

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument at the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.usbTerm)
	if c.debug {
		c.log.Debug("gpib cmd", zap.String("cmd", cmd))
	}
	return c.send(cmd)
}

// Query sends cmd to the instrument and returns its reply without the EOT
// character. When read-after-write is disabled the controller is told to
// read explicitly.
func (c *Controller) Query(cmd string) (string, error) {
	if err := c.Command(cmd); err != nil {
		return "", errors.Wrap(err, "error writing command")
	}
	if !c.auto {
		if err := c.send(fmt.Sprintf("++read eoi%c", c.usbTerm)); err != nil {
			return "", errors.Wrap(err, "error sending `read eoi` command")
		}
	}
	s, err := c.br.ReadString(c.eotChar)
	if c.debug {
		c.log.Debug("gpib reply", zap.String("cmd", cmd), zap.String("reply", s))
	}
	if err == io.EOF && len(s) > 0 {
		err = nil
	}
	return strings.TrimRight(s, "\r\n"), err
}

// QueryController sends the given command to the Prologix controller and
// returns its response.
func (c *Controller) QueryController(cmd string) (string, error) {
	if err := c.CommandController(cmd); err != nil {
		return "", err
	}
	s, err := c.br.ReadString(c.eotChar)
	return strings.TrimRight(s, "\r\n"), err
}

// CommandController sends the given command to the Prologix controller. Two
// plus signs are prepended so the command is not transmitted over GPIB.
func (c *Controller) CommandController(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm)
	if c.debug {
		c.log.Debug("controller cmd", zap.String("cmd", cmd))
	}
	return c.send(cmd)
}

// ClearDevice sends the Selected Device Clear (SDC) message.
func (c *Controller) ClearDevice() error { return c.CommandController("clr") }

// FrontPanel returns the instrument to local (front panel) control when
// local is true.
func (c *Controller) FrontPanel(local bool) error {
	if !local {
		return nil
	}
	return c.CommandController("loc")
}

// Version returns the controller's version string.
func (c *Controller) Version() (string, error) { return c.QueryController("ver") }

// InstrumentAddress queries the primary and secondary address currently
// assigned by the controller.
func (c *Controller) InstrumentAddress() (pad, sad int, err error) {
	s, err := c.QueryController("addr")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("empty address reply")
	}
	if pad, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, err
	}
	if len(fields) > 1 {
		if sad, err = strconv.Atoi(fields[1]); err != nil {
			return 0, 0, err
		}
	}
	return pad, sad, nil
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
