// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/buke/reqscript/variables"
	"github.com/spf13/cobra"
)

// resolveCmd substitutes {{placeholders}} using --set values, the active
// environment and the built-in generators.
func resolveCmd(g *globalOptions) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "resolve <text>...",
		Short: "Resolve {{variables}} in text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			env, err := store(cfg, g.logger(cmd.ErrOrStderr())).GetActive()
			if err != nil {
				return err
			}
			temps, err := parseSets(sets)
			if err != nil {
				return err
			}
			resolver := variables.NewResolver(temps, env)
			for _, text := range args {
				fmt.Fprintln(cmd.OutOrStdout(), resolver.Resolve(text))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Temporary variable as key=value (repeatable)")
	return cmd
}
