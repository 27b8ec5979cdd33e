// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/gotmc/optochar/lib/find"
	"github.com/gotmc/optochar/lib/ledger"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List usb serial ports, marking Prologix controllers and FTDI cables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ttys, err := find.AllUsbTtys(find.SysfsRoot, logger)
		if err != nil {
			return err
		}
		listPorts(cmd.OutOrStdout(), ttys)
		return nil
	},
}

func listPorts(w io.Writer, ttys find.Usbttys) {
	if len(ttys) == 0 {
		fmt.Fprintln(w, "no usb serial ports")
		return
	}
	for i := range ttys {
		tag := ""
		switch {
		case find.PrologixFilter(&ttys[i]):
			tag = " [prologix]"
		case find.FTDIFilter(&ttys[i]):
			tag = " [ftdi]"
		}
		fmt.Fprintf(w, "%s%s\n", ttys[i], tag)
	}
}

var (
	runsDevice string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent runs from the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := ledger.Open(cfg.Ledger)
		if err != nil {
			return err
		}
		defer l.Close()
		runs, err := l.Recent(runsDevice, runsLimit)
		if err != nil {
			return err
		}
		listRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVarP(&runsDevice, "device", "d", "", "Only runs of this device")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs")
}

func listRuns(w io.Writer, runs []ledger.Run) {
	for _, r := range runs {
		status := "ok"
		if !r.OK {
			status = "FAILED: " + r.Error
		}
		fmt.Fprintf(w, "%s  %-8s %-8s %5s°C %s  %s  %s\n",
			r.Started.Local().Format(time.DateTime), r.Kind, r.DeviceID, r.Temperature,
			r.Finished.Sub(r.Started).Round(time.Second), r.Path, status)
	}
}
