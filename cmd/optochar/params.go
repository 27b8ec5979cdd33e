// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gotmc/optochar/lib/sweep"
	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:   "params liv|eam|spectrum",
	Short: "List the editable parameters of a test kind",
	Long: `Prints the parameter table of a test kind. For LIV and EAM the current
value of every channel is shown, defaults with the configured overrides
applied. Synchronized parameters are marked with *.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"liv", "eam", "spectrum"},
	RunE: func(cmd *cobra.Command, args []string) error {
		testKind := strings.ToLower(args[0])
		meta, ok := sweep.MetaTable(testKind)
		if !ok {
			return fmt.Errorf("unknown test kind %q", args[0])
		}
		var store *sweep.Store
		if testKind != "spectrum" {
			var err error
			if store, err = newStore(testKind); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderParams(meta, store))
		return nil
	},
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// renderParams lays out meta as a table. With a store, one value column per
// role follows the metadata.
func renderParams(meta []sweep.Meta, store *sweep.Store) string {
	headers := []string{"Key", "Label", "Type", "Choices"}
	if store != nil {
		for _, r := range sweep.Roles {
			headers = append(headers, r.String())
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, m := range meta {
		key := m.Key
		if sweep.Synchronized[key] {
			key += " *"
		}
		choices := make([]string, 0, len(m.Choices))
		for _, c := range m.Choices {
			choices = append(choices, c.Display+"="+c.Value)
		}
		row := []string{key, m.Label, m.Type.String(), strings.Join(choices, " ")}
		if store != nil {
			for _, r := range sweep.Roles {
				c := store.Config(r)
				v, _ := c.Get(m.Key)
				row = append(row, v.String())
			}
		}
		t.Row(row...)
	}
	return t.Render()
}
