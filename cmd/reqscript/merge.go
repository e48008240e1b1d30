// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/buke/reqscript/fragments"
	"github.com/spf13/cobra"
)

// mergeCmd prints the script a collection, its groups and a request combine into.
func mergeCmd() *cobra.Command {
	var (
		collection, request string
		groups              []string
		phase               string
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge collection, group and request scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var chain fragments.Chain
			var err error
			if chain.Collection, err = readFragment(collection); err != nil {
				return err
			}
			if chain.Request, err = readFragment(request); err != nil {
				return err
			}
			for _, g := range groups {
				frag, err := readFragment(g)
				if err != nil {
					return err
				}
				chain.Groups = append(chain.Groups, frag)
			}

			var merged string
			var ok bool
			switch phase {
			case "pre":
				merged, ok = fragments.MergePreRequest(chain)
			case "post":
				merged, ok = fragments.MergePostResponse(chain)
			default:
				return fmt.Errorf("unknown phase %q, want pre or post", phase)
			}
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), merged)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Collection script file")
	cmd.Flags().StringArrayVar(&groups, "group", nil, "Group script file, outermost first (repeatable)")
	cmd.Flags().StringVar(&request, "request", "", "Request script file")
	cmd.Flags().StringVar(&phase, "phase", "pre", "pre or post")
	return cmd
}

// readFragment loads a script file labelled with its base name. An empty path
// yields an empty fragment.
func readFragment(path string) (fragments.Fragment, error) {
	if path == "" {
		return fragments.Fragment{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fragments.Fragment{}, fmt.Errorf("failed to read script: %w", err)
	}
	return fragments.Fragment{Label: filepath.Base(path), Body: string(data)}, nil
}
