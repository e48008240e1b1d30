// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Command reqscript runs request scripts outside of an HTTP client.
//
// Usage:
//
//	reqscript run pre.js --kind pre --request req.yaml   # Run a pre-request script, print the mutated request
//	reqscript run tests.js --kind post --response res.yaml
//	reqscript resolve 'https://{{host}}/users/{{$randomInt}}'
//	reqscript merge --collection c.js --group g.js --request r.js --phase post
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/buke/reqscript"
	"github.com/buke/reqscript/config"
	"github.com/buke/reqscript/envstore"
	"github.com/spf13/cobra"
)

// version is set via ldflags during build: -ldflags="-X main.version=v1.0.0"
var version = "dev"

// globalOptions are the persistent flags shared by all commands.
type globalOptions struct {
	configFile string
	envFiles   []string
	engine     string
	verbose    bool
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "reqscript",
		Short:         "Run Postman-style request scripts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to config file")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before the config file")
	flags.StringVarP(&opts.engine, "engine", "e", "", "JavaScript engine (overrides the config file)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log executor lifecycle to stderr")

	root.AddCommand(
		runCmd(opts),
		resolveCmd(opts),
		mergeCmd(),
	)
	return root
}

// load reads the configuration and applies command-line overrides.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile, o.envFiles...)
	if err != nil {
		return nil, err
	}
	if o.engine != "" {
		cfg.Engine = o.engine
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (o *globalOptions) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

// store opens the configured environment file, or an empty in-memory store.
func store(cfg *config.Config, logger *slog.Logger) reqscript.EnvironmentStore {
	if cfg.Environments == "" {
		return envstore.NewMemoryStore()
	}
	return envstore.NewFileStore(cfg.Environments, envstore.WithFileStoreLogger(logger))
}
