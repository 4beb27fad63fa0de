// Copyright (c) 2024 The pulseseq developers. All rights reserved.
// Project site: https://github.com/gotmc/pulseseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered programs and their defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"Program", "Defaults"})
		for _, id := range registry.IDs() {
			e, err := registry.Resolve(id)
			if err != nil {
				return err
			}
			var defaults string
			for i, k := range e.Defaults.Keys() {
				if i > 0 {
					defaults += " "
				}
				defaults += fmt.Sprintf("%s=%g", k, e.Defaults[k])
			}
			tw.AppendRow(table.Row{id, defaults})
		}
		fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
		return nil
	},
}
