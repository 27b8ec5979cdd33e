// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package config reads the bench configuration: instrument addresses,
// output locations and parameter overrides per test kind.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gotmc/optochar/lib/spectrum"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the bench configuration file.
type Config struct {
	Instruments Instruments `yaml:"instruments"`
	OutputDir   string      `yaml:"output_dir"`
	Ledger      string      `yaml:"ledger"`
	LogLevel    string      `yaml:"log_level"`

	// Overrides per test kind ("liv", "eam"), then per role, then
	// parameter key to raw value. Values go through the same coercion as
	// interactive edits.
	Overrides map[string]map[string]map[string]string `yaml:"overrides,omitempty"`
	// Spectrum overrides parameter key to raw value.
	Spectrum map[string]string `yaml:"spectrum,omitempty"`
}

// Instruments holds resource addresses.
type Instruments struct {
	SMU1         string `yaml:"smu1"`
	SMU2         string `yaml:"smu2"`
	OSA          string `yaml:"osa"`
	PrologixPort string `yaml:"prologix_port"`
	Timeout      string `yaml:"timeout"`
	Trace        bool   `yaml:"trace"`
}

// Default returns the lab's standard bench.
func Default() *Config {
	return &Config{
		Instruments: Instruments{
			SMU1:    "TCPIP0::10.20.0.231::hislip0::INSTR",
			SMU2:    "TCPIP0::10.20.0.38::hislip0::INSTR",
			OSA:     "ASRL/dev/ttyUSB1::INSTR",
			Timeout: "10s",
		},
		OutputDir: "data",
		Ledger:    filepath.Join("data", "runs.db"),
		LogLevel:  "info",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "reading config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if _, err := cfg.Timeout(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes c to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "writing config")
}

// Timeout is the instrument communication timeout; zero means the
// transport default.
func (c *Config) Timeout() (time.Duration, error) {
	if c.Instruments.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Instruments.Timeout)
	return d, errors.Wrapf(err, "instruments.timeout %q", c.Instruments.Timeout)
}

// Apply pushes the overrides for testKind into store. Every valid value is
// applied; rejected ones are returned together.
func (c *Config) Apply(testKind string, store *sweep.Store) error {
	var err error
	roles := c.Overrides[testKind]
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		role, rerr := sweep.ParseRole(name)
		if rerr != nil {
			err = multierr.Append(err, rerr)
			continue
		}
		err = multierr.Append(err, store.SetBatch(role, roles[name]))
	}
	return err
}

// ApplySpectrum pushes the spectrum overrides into p.
func (c *Config) ApplySpectrum(p *spectrum.Params) error {
	var err error
	keys := make([]string, 0, len(c.Spectrum))
	for k := range c.Spectrum {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		err = multierr.Append(err, p.Set(k, c.Spectrum[k]))
	}
	return err
}
