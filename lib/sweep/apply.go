// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sweep

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Writer accepts one instrument command. *smu.Session satisfies it.
type Writer interface {
	Write(cmd string) error
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// toSI converts a value held in milliamps to amps when fn is a current
// function.
func toSI(fn Function, v float64) float64 {
	if fn == Current {
		return v / 1000
	}
	return v
}

// Commands returns the command sequence that configures c's channel for a
// triggered sweep. c must be valid.
func Commands(c Config) []string {
	ch := c.Channel
	src := c.SourceFunc
	sense := c.SenseFunc

	cmds := []string{
		fmt.Sprintf(":sour%d:func:mode %s", ch, src),
		fmt.Sprintf(":sour%d:func:shap %s", ch, c.Shape),
		fmt.Sprintf(":sour%d:%s:mode %s", ch, src, c.Mode),
		fmt.Sprintf(":sour%d:%s:star %s", ch, src, num(toSI(src, c.Start))),
		fmt.Sprintf(":sour%d:%s:stop %s", ch, src, num(toSI(src, c.Stop))),
		fmt.Sprintf(":sour%d:%s:poin %d", ch, src, c.Points),
	}
	switch {
	case c.Shape == Pulsed:
		cmds = append(cmds,
			fmt.Sprintf(":sour%d:puls:del %s", ch, num(c.PulseDelay)),
			fmt.Sprintf(":sour%d:puls:widt %s", ch, num(c.PulseWidth)),
			fmt.Sprintf(":sour%d:%s %s", ch, src, num(toSI(src, c.Base))))
	case c.Mode == Fixed:
		cmds = append(cmds, fmt.Sprintf(":sour%d:%s %s", ch, src, num(toSI(src, c.Base))))
	}
	return append(cmds,
		fmt.Sprintf(":sens%d:func %q", ch, string(sense)),
		fmt.Sprintf(":sens%d:%s:rang:auto off", ch, sense),
		fmt.Sprintf(":sens%d:%s:rang %s", ch, sense, num(toSI(sense, c.SenseRange))),
		fmt.Sprintf(":sens%d:%s:aper %s", ch, sense, num(c.Aperture)),
		fmt.Sprintf(":sens%d:%s:prot:lev %s", ch, sense, num(toSI(sense, c.Protection))),
		fmt.Sprintf(":trig%d:tran:del %s", ch, num(c.TransitionDelay)),
		fmt.Sprintf(":trig%d:acq:del %s", ch, num(c.AcquisitionDelay)),
		fmt.Sprintf(":trig%d:sour tim", ch),
		fmt.Sprintf(":trig%d:tim %s", ch, num(c.TriggerPeriod)),
		fmt.Sprintf(":trig%d:coun %d", ch, c.Points),
	)
}

// Apply validates c and pushes it to w. Nothing is sent when c is invalid.
// Write failures do not stop the sequence; they are collected and returned.
func Apply(w Writer, c Config) error {
	if err := c.Validate(); err != nil {
		return errors.Wrapf(err, "channel %d", c.Channel)
	}
	var err error
	for _, cmd := range Commands(c) {
		err = multierr.Append(err, w.Write(cmd))
	}
	return err
}
