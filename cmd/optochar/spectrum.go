// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"time"

	"github.com/gotmc/optochar/lib/osa"
	"github.com/gotmc/optochar/lib/smu"
	"github.com/gotmc/optochar/lib/spectrum"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var sweepWait time.Duration

var spectrumCmd = &cobra.Command{
	Use:   "spectrum",
	Short: "Bias the device on SMU1 and capture one OSA spectrum",
	Long: `Biases SMU1 channels 1 and 2 from the spectrum parameters, takes a
single sweep on the MS9710C and saves the trace together with the peak
power, peak wavelength and SMSR as CSV files.`,
	Args: cobra.NoArgs,
	RunE: runSpectrum,
}

func init() {
	addRunFlags(spectrumCmd)
	spectrumCmd.Flags().DurationVar(&sweepWait, "sweep-wait", osa.DefaultSweepWait, "Time allowed for a sweep or peak search")
}

func runSpectrum(cmd *cobra.Command, args []string) (err error) {
	p := spectrum.Defaults()
	if err := cfg.ApplySpectrum(&p); err != nil {
		logger.Warn("some spectrum overrides were rejected", zap.Error(err))
	}
	dial, err := dialer()
	if err != nil {
		return err
	}

	src, err := smu.Connect(cfg.Instruments.SMU1, dial, sessionOptions()...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, src.Close()) }()

	analyzer, err := osa.Open(cfg.Instruments.OSA, osa.SerialDialer(logger),
		osa.WithLogger(logger), osa.WithSweepWait(sweepWait))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, analyzer.Close()) }()

	opts := []spectrum.Option{spectrum.WithLogger(logger)}
	if l := openLedger(); l != nil {
		defer l.Close()
		opts = append(opts, spectrum.WithRecorder(l))
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := spectrum.New(src, analyzer, opts...).Run(ctx, spectrum.Request{
		Params:      p,
		DeviceID:    deviceID,
		Temperature: temperature,
		Timestamp:   timestamp,
		Dir:         outputDir(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s peak %.3f nm %.3f dBm -> %s\n",
		res.ID, res.PeakWavelength, res.PeakPower, res.TracePath)
	return nil
}
