// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/buke/reqscript"
	"github.com/buke/reqscript/scriptapi"
	"github.com/buke/reqscript/variables"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// runCmd runs one request cycle: an optional pre-request script, then an
// optional post-response script, sharing temporaries and the request.
func runCmd(g *globalOptions) *cobra.Command {
	var (
		preFile, postFile         string
		requestFile, responseFile string
		sets                      []string
		printRequest              bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pre-request and/or post-response script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if preFile == "" && postFile == "" {
				return errors.New("nothing to run: pass --pre and/or --post")
			}

			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := g.logger(cmd.ErrOrStderr())
			factory, err := engineFactory(cfg.Engine)
			if err != nil {
				return err
			}
			opts, err := cfg.ExecutorOptions(logger)
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())
			opts = append(opts,
				reqscript.WithJsRuntime(factory),
				reqscript.WithMaxPoolSize(1),
				reqscript.WithEnvironmentStore(store(cfg, logger)),
				reqscript.WithOutputSink(out.console),
			)

			executor, err := reqscript.NewExecutor(opts...)
			if err != nil {
				return err
			}
			if err := executor.Start(); err != nil {
				return err
			}
			defer executor.Stop()

			scope := &reqscript.Scope{Request: &scriptapi.RequestView{Method: "GET"}}
			if requestFile != "" {
				if err := readYAML(requestFile, scope.Request); err != nil {
					return err
				}
			}
			temps, err := parseSets(sets)
			if err != nil {
				return err
			}
			scope.Resolver = variables.NewResolver(temps, nil)
			scope.Info.RequestName = scope.Request.Name
			scope.Info.RequestID = scope.Request.ID

			if preFile != "" {
				src, err := os.ReadFile(preFile)
				if err != nil {
					return fmt.Errorf("failed to read script: %w", err)
				}
				out.title("pre-request: " + preFile)
				ok, result := executor.RunPreScript(cmd.Context(), string(src), scope)
				out.result(reqscript.PreRequest, result)
				if !ok {
					return errors.New("pre-request script failed, request not sent")
				}
				if printRequest {
					data, err := yaml.Marshal(scope.Request.ResolveWith(scope.Resolver))
					if err != nil {
						return fmt.Errorf("failed to encode request: %w", err)
					}
					out.title("request")
					fmt.Fprint(cmd.OutOrStdout(), string(data))
				}
			}

			if postFile != "" {
				src, err := os.ReadFile(postFile)
				if err != nil {
					return fmt.Errorf("failed to read script: %w", err)
				}
				scope.Response = &scriptapi.ResponseView{Code: 200, Status: "OK"}
				if responseFile != "" {
					if err := readYAML(responseFile, scope.Response); err != nil {
						return err
					}
				}
				out.title("post-response: " + postFile)
				result := executor.RunPostScript(cmd.Context(), string(src), scope)
				out.result(reqscript.PostResponse, result)
				if !result.Success {
					return errors.New("post-response script failed")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&preFile, "pre", "", "Pre-request script file")
	cmd.Flags().StringVar(&postFile, "post", "", "Post-response script file")
	cmd.Flags().StringVar(&requestFile, "request", "", "YAML file describing the request")
	cmd.Flags().StringVar(&responseFile, "response", "", "YAML file describing the response")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Temporary variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&printRequest, "print-request", false, "Print the request after the pre-request script, resolved")
	return cmd
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// parseSets turns key=value flags into temporaries.
func parseSets(sets []string) (*variables.Temporaries, error) {
	temps := variables.NewTemporaries()
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		temps.Set(key, value)
	}
	return temps, nil
}
