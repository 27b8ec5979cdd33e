// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the interface family named by a resource string.
type Kind int

const (
	TCPIP Kind = iota
	Serial
	GPIB
)

var kindDesc = map[Kind]string{
	TCPIP:  "TCPIP",
	Serial: "ASRL",
	GPIB:   "GPIB",
}

func (k Kind) String() string { return kindDesc[k] }

// RawSCPIPort is the LAN socket port used when a resource names a VXI-11 or
// HiSLIP instrument; both Keysight SMUs and most LXI instruments listen on it.
const RawSCPIPort = 5025

// Resource is a parsed VISA-style resource address.
type Resource struct {
	Kind   Kind
	Host   string // TCPIP
	Port   int    // TCPIP
	Device string // ASRL
	PAD    int    // GPIB
	SAD    int    // GPIB, 0xff when absent
}

// ParseResource understands
//
//	TCPIP[n]::host::port::SOCKET
//	TCPIP[n]::host[::inst0|::hislip0]::INSTR
//	ASRL<device>::INSTR
//	GPIB[n]::pad[::sad]::INSTR
//	host:port
func ParseResource(s string) (Resource, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Resource{}, fmt.Errorf("empty resource")
	}
	parts := strings.Split(s, "::")
	head := strings.ToUpper(parts[0])
	switch {
	case strings.HasPrefix(head, "TCPIP"):
		if len(parts) < 2 {
			return Resource{}, fmt.Errorf("resource %q: missing host", s)
		}
		r := Resource{Kind: TCPIP, Host: parts[1], Port: RawSCPIPort}
		if strings.EqualFold(parts[len(parts)-1], "SOCKET") {
			if len(parts) != 4 {
				return Resource{}, fmt.Errorf("resource %q: socket needs a port", s)
			}
			p, err := strconv.Atoi(parts[2])
			if err != nil {
				return Resource{}, fmt.Errorf("resource %q: bad port: %w", s, err)
			}
			r.Port = p
		}
		return r, nil
	case strings.HasPrefix(head, "ASRL"):
		dev := parts[0][len("ASRL"):]
		if dev == "" {
			return Resource{}, fmt.Errorf("resource %q: missing device", s)
		}
		if _, err := strconv.Atoi(dev); err == nil {
			dev = "COM" + dev
		}
		return Resource{Kind: Serial, Device: dev}, nil
	case strings.HasPrefix(head, "GPIB"):
		if len(parts) < 3 {
			return Resource{}, fmt.Errorf("resource %q: missing address", s)
		}
		pad, err := strconv.Atoi(parts[1])
		if err != nil {
			return Resource{}, fmt.Errorf("resource %q: bad primary address: %w", s, err)
		}
		r := Resource{Kind: GPIB, PAD: pad, SAD: 0xff}
		if len(parts) == 4 {
			if r.SAD, err = strconv.Atoi(parts[2]); err != nil {
				return Resource{}, fmt.Errorf("resource %q: bad secondary address: %w", s, err)
			}
		}
		return r, nil
	}
	if host, port, ok := strings.Cut(s, ":"); ok && !strings.Contains(port, ":") {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Resource{}, fmt.Errorf("resource %q: bad port: %w", s, err)
		}
		return Resource{Kind: TCPIP, Host: host, Port: p}, nil
	}
	return Resource{}, fmt.Errorf("unrecognized resource %q", s)
}
