// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"strings"

	"github.com/gotmc/optochar/lib/sequencer"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Flags shared by run and spectrum.
var (
	deviceID    string
	temperature string
	timestamp   string
	outDir      string
)

var runCmd = &cobra.Command{
	Use:   "run liv|eam",
	Short: "Run one LIV or EAM sweep and save the reduced table",
	Long: `Configures both SMUs from the test kind's defaults plus the overrides
in the configuration file, triggers one synchronized acquisition and writes
the reduced record as an xlsx file in the output directory.

The outputs are turned off and the safe idle bias is restored on every
path, including Ctrl-C.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"liv", "eam"},
	RunE:      runSweep,
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&deviceID, "device", "d", "", "Device id prefixed to output names")
	cmd.Flags().StringVarP(&temperature, "temp", "t", "25", "Stage temperature in °C")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Timestamp token for output names (default: now)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: output_dir from the config)")
}

func init() {
	addRunFlags(runCmd)
}

// newStore builds the parameter store for testKind with the configured
// overrides applied. Rejected overrides are logged and left at their
// defaults.
func newStore(testKind string, opts ...sweep.StoreOption) (*sweep.Store, error) {
	chs, err := sweep.Defaults(testKind)
	if err != nil {
		return nil, err
	}
	store := sweep.NewStore(chs, append([]sweep.StoreOption{sweep.WithLogger(logger)}, opts...)...)
	if err := cfg.Apply(testKind, store); err != nil {
		logger.Warn("some overrides were rejected", zap.String("kind", testKind), zap.Error(err))
	}
	return store, nil
}

func outputDir() string {
	if outDir != "" {
		return outDir
	}
	return cfg.OutputDir
}

func runSweep(cmd *cobra.Command, args []string) error {
	testKind := strings.ToLower(args[0])
	if testKind != "liv" && testKind != "eam" {
		return fmt.Errorf("unknown test kind %q (use liv or eam)", args[0])
	}
	store, err := newStore(testKind)
	if err != nil {
		return err
	}
	dial, err := dialer()
	if err != nil {
		return err
	}

	opts := []sequencer.Option{
		sequencer.WithLogger(logger),
		sequencer.WithSessionOptions(sessionOptions()...),
		sequencer.OnState(func(st sequencer.State) {
			logger.Info("state", zap.Stringer("state", st))
		}),
	}
	if l := openLedger(); l != nil {
		defer l.Close()
		opts = append(opts, sequencer.WithRecorder(l))
	}
	seq := sequencer.New(cfg.Instruments.SMU1, cfg.Instruments.SMU2, dial, opts...)
	defer seq.Close()

	ctx, cancel := signalContext()
	defer cancel()

	rep, err := seq.Run(ctx, sequencer.Request{
		Channels:    store.Channels(),
		DeviceID:    deviceID,
		Temperature: temperature,
		Timestamp:   timestamp,
		Dir:         outputDir(),
	})
	if err != nil {
		return err
	}
	if !rep.Result.OK() {
		return rep.Result.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d points -> %s\n",
		rep.ID, rep.Classification.Kind, len(rep.Result.Table.Rows), rep.Result.Path)
	return nil
}
