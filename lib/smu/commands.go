// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package smu

import (
	"fmt"
	"strconv"
	"strings"
)

// Num formats a value for a SCPI command using the shortest exact
// representation, e.g. 0.08 or -1.
func Num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Reset restores the instrument's power-on defaults.
func (s *Session) Reset() error { return s.Write("*RST") }

func (s *Session) OutputOn(channel int) error {
	return s.Write(fmt.Sprintf(":OUTP%d ON", channel))
}

func (s *Session) OutputOff(channel int) error {
	return s.Write(fmt.Sprintf(":OUTP%d OFF", channel))
}

// SetSourceMode selects voltage ("VOLT") or current ("CURR") sourcing.
func (s *Session) SetSourceMode(channel int, mode string) error {
	mode = strings.ToUpper(mode)
	if mode != "VOLT" && mode != "CURR" {
		return fmt.Errorf("invalid source mode %q (use VOLT or CURR)", mode)
	}
	return s.Write(fmt.Sprintf("SOUR%d:FUNC:MODE %s", channel, mode))
}

// SetVoltage sets the source voltage in volts.
func (s *Session) SetVoltage(channel int, v float64) error {
	return s.Write(fmt.Sprintf(":SOUR%d:VOLT %s", channel, Num(v)))
}

// SetCurrent sets the source current in amps.
func (s *Session) SetCurrent(channel int, a float64) error {
	return s.Write(fmt.Sprintf(":SOUR%d:CURR %s", channel, Num(a)))
}

func (s *Session) SetVoltageCompliance(channel int, v float64) error {
	return s.Write(fmt.Sprintf(":SENS%d:VOLT:PROT:LEV %s", channel, Num(v)))
}

func (s *Session) SetCurrentCompliance(channel int, a float64) error {
	return s.Write(fmt.Sprintf(":SENS%d:CURR:PROT:LEV %s", channel, Num(a)))
}

func (s *Session) SetAutorange(channel int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return s.Write(fmt.Sprintf(":SENS%d:RANG:AUTO %d", channel, v))
}

// SetNPLC sets the integration time, in power line cycles, for both
// voltage and current measurements.
func (s *Session) SetNPLC(channel int, nplc float64) error {
	err := s.Write(fmt.Sprintf(":SENS%d:VOLT:NPLC %s", channel, Num(nplc)))
	if err2 := s.Write(fmt.Sprintf(":SENS%d:CURR:NPLC %s", channel, Num(nplc))); err == nil {
		err = err2
	}
	return err
}
