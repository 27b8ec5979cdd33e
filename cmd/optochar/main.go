// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command optochar drives the opto-electronic characterization bench: LIV
// and EAM sweeps on two B2912A SMUs and spectra on an MS9710C.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gotmc/optochar/lib/config"
	"github.com/gotmc/optochar/lib/connutil"
	"github.com/gotmc/optochar/lib/ledger"
	"github.com/gotmc/optochar/lib/smu"
	"github.com/gotmc/optochar/lib/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose  bool
	cfgPath  string
	prologix connutil.Conn

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "optochar",
	Short: "Opto-electronic device characterization",
	Long: `optochar runs LIV and EAM sweeps on two Keysight B2912A SMUs and
captures spectra with an Anritsu MS9710C optical spectrum analyzer.

Instrument addresses, output locations and parameter overrides are read
from the configuration file (see --config).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
		zc := zap.NewProductionConfig()
		if cfg.LogLevel != "" {
			lvl, err := zapcore.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("log_level: %w", err)
			}
			zc.Level = zap.NewAtomicLevelAt(lvl)
		}
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		if logger, err = zc.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if prologix.SerialPort == "" {
			prologix.SerialPort = cfg.Instruments.PrologixPort
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "optochar.yaml", "Bench configuration file")
	prologix.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(spectrumCmd)
	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM so a run can still turn
// its outputs off.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// dialer opens instruments with the configured timeout and Prologix
// controller.
func dialer() (func(addr string) (transport.Conn, error), error) {
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	opts := transport.Options{Timeout: timeout, Prologix: prologix, Log: logger}
	return func(addr string) (transport.Conn, error) {
		return transport.Dial(addr, opts)
	}, nil
}

func sessionOptions() []smu.Option {
	opts := []smu.Option{smu.WithLogger(logger)}
	if cfg.Instruments.Trace {
		opts = append(opts, smu.WithTrace())
	}
	return opts
}

// openLedger opens the run ledger. A ledger that cannot be opened is
// logged and runs proceed unrecorded.
func openLedger() *ledger.Ledger {
	if cfg.Ledger == "" {
		return nil
	}
	l, err := ledger.Open(cfg.Ledger)
	if err != nil {
		logger.Warn("run ledger unavailable", zap.String("path", cfg.Ledger), zap.Error(err))
		return nil
	}
	return l
}
