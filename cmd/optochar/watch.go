// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"strings"

	"github.com/gotmc/optochar/lib/config"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch liv|eam",
	Short: "Follow edits to the configuration file and report parameter changes",
	Long: `Keeps a parameter store for the test kind and re-applies the overrides
every time the configuration file is saved. Every change is reported,
including values propagated to the other channels by synchronized
parameters. Stops on Ctrl-C.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"liv", "eam"},
	RunE: func(cmd *cobra.Command, args []string) error {
		testKind := strings.ToLower(args[0])
		out := cmd.OutOrStdout()
		store, err := newStore(testKind, sweep.OnChange(func(c sweep.Change) {
			fmt.Fprintln(out, describeChange(c))
		}))
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return config.Watch(ctx, cfgPath, logger, func(c *config.Config) {
			if err := c.Apply(testKind, store); err != nil {
				logger.Warn("some overrides were rejected", zap.Error(err))
			}
		})
	},
}

func describeChange(c sweep.Change) string {
	s := fmt.Sprintf("%s: %s %q -> %q", c.Role, c.Key, c.Old.String(), c.New.String())
	if c.Propagated {
		s += " (synchronized)"
	}
	return s
}
