// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package cmdlog traces instrument traffic in a readable, colored form.
package cmdlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// maxShown caps how much of a long reply (fetched arrays) is logged.
const maxShown = 80

// Reply formats an instrument reply: quoted text when printable, hex
// otherwise, "<no response>" when empty.
func Reply(a string) string {
	a = strings.TrimSuffix(a, "\n")
	if len(a) == 0 {
		return "<no response>"
	}
	suffix := ""
	if len(a) > maxShown {
		a, suffix = a[:maxShown], "..."
	}
	switch {
	case isAscii(a):
		return fmt.Sprintf("[%d] %q%s", len(a), a, suffix)
	case len(a) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(a), a, []byte(a))
	}
	return fmt.Sprintf("[%d] % 2x%s", len(a), []byte(a), suffix)
}

// Tracer logs every command and query sent to one instrument.
type Tracer struct {
	log  *zap.Logger
	name string
}

// New returns a tracer writing debug entries for the named instrument. A nil
// tracer is valid and logs nothing.
func New(log *zap.Logger, name string) *Tracer {
	return &Tracer{log: log, name: name}
}

func (t *Tracer) Command(cmd string, err error) {
	if t == nil {
		return
	}
	if err != nil {
		t.log.Debug(fmt.Sprintf("%s: %s", CmdStyle.Render(cmd), ErrStyle.Render(err.Error())), zap.String("inst", t.name))
		return
	}
	t.log.Debug(CmdStyle.Render(cmd)+"()", zap.String("inst", t.name))
}

func (t *Tracer) Query(q, a string, err error) {
	if t == nil {
		return
	}
	if err != nil {
		t.log.Debug(fmt.Sprintf("%s: %s", CmdStyle.Render(q), ErrStyle.Render(err.Error())), zap.String("inst", t.name))
		return
	}
	style := R2Style
	if a == "" {
		style = R1Style
	}
	t.log.Debug(fmt.Sprintf("%s: %s", CmdStyle.Render(q), style.Render(Reply(a))), zap.String("inst", t.name))
}
