// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package config loads executor settings from a YAML file, .env files and
// REQSCRIPT_* environment variables.
//
// Precedence, highest first: REQSCRIPT_* variables, the YAML file, defaults.
// Values in the YAML file may reference ${VAR}; .env files are loaded before
// the file is read, so they can supply those variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/buke/reqscript"
	"github.com/buke/reqscript/library"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REQSCRIPT_"

// Engine names.
const (
	EngineGoja    = "goja"
	EngineQuickJS = "quickjs"
	EngineV8      = "v8"
)

// Config is the complete executor configuration.
type Config struct {
	Engine       string            `yaml:"engine" validate:"oneof=goja quickjs v8"`
	Environments string            `yaml:"environments"` // Path of the environment file store
	Libraries    map[string]string `yaml:"libraries"`    // Global name -> module, merged into the defaults
	Pool         PoolConfig        `yaml:"pool"`
	Script       ScriptConfig      `yaml:"script"`
	Modules      ModulesConfig     `yaml:"modules"`
}

// PoolConfig sizes the runtime pool.
type PoolConfig struct {
	MinSize        uint32        `yaml:"min_size" validate:"ltefield=MaxSize"`
	MaxSize        uint32        `yaml:"max_size" validate:"gte=1,lte=1024"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"gte=0"`
	MaxUses        uint32        `yaml:"max_uses"`
	IdleTTL        time.Duration `yaml:"idle_ttl" validate:"gte=0"`
}

// ScriptConfig bounds script execution.
type ScriptConfig struct {
	ExecuteTimeout time.Duration `yaml:"execute_timeout" validate:"gte=0"`
}

// ModulesConfig controls what require can reach.
type ModulesConfig struct {
	BaseDir      string        `yaml:"base_dir"`
	AllowFiles   bool          `yaml:"allow_files"`
	AllowRemote  bool          `yaml:"allow_remote"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine:    EngineGoja,
		Libraries: reqscript.DefaultEagerLibraries(),
		Pool: PoolConfig{
			MaxSize:        uint32(runtime.GOMAXPROCS(0)),
			AcquireTimeout: 5 * time.Second,
		},
		Script: ScriptConfig{
			ExecuteTimeout: 30 * time.Second,
		},
		Modules: ModulesConfig{
			AllowFiles:   true,
			AllowRemote:  true,
			FetchTimeout: 15 * time.Second,
		},
	}
}

// Load reads path (optional) after loading envFiles, applies environment
// overrides and validates the result. Missing .env files are skipped; a
// missing config file is an error only when path is set.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(cfg, data); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands ${VAR} references in data and decodes it over cfg.
func Parse(cfg *Config, data []byte) error {
	expanded := os.Expand(string(data), os.Getenv)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv overrides fields from REQSCRIPT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	u32 := func(name string, dst *uint32) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = uint32(n)
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("ENGINE", &c.Engine)
	str("ENVIRONMENTS", &c.Environments)
	str("MODULES_BASE_DIR", &c.Modules.BaseDir)
	return errors.Join(
		u32("POOL_MIN_SIZE", &c.Pool.MinSize),
		u32("POOL_MAX_SIZE", &c.Pool.MaxSize),
		u32("POOL_MAX_USES", &c.Pool.MaxUses),
		dur("POOL_ACQUIRE_TIMEOUT", &c.Pool.AcquireTimeout),
		dur("POOL_IDLE_TTL", &c.Pool.IdleTTL),
		dur("EXECUTE_TIMEOUT", &c.Script.ExecuteTimeout),
		dur("MODULES_FETCH_TIMEOUT", &c.Modules.FetchTimeout),
		boolean("MODULES_ALLOW_FILES", &c.Modules.AllowFiles),
		boolean("MODULES_ALLOW_REMOTE", &c.Modules.AllowRemote),
	)
}

// NewLoader builds the module loader described by the configuration.
func (c *Config) NewLoader(logger *slog.Logger) (*library.Loader, error) {
	return library.NewLoader(
		library.WithBaseDir(c.Modules.BaseDir),
		library.WithFileModules(c.Modules.AllowFiles),
		library.WithRemoteModules(c.Modules.AllowRemote),
		library.WithFetchTimeout(c.Modules.FetchTimeout),
		library.WithLoaderLogger(logger),
	)
}

// ExecutorOptions translates the configuration into executor options. The
// runtime factory is left to the caller, which knows the engines it links.
func (c *Config) ExecutorOptions(logger *slog.Logger) ([]func(*reqscript.Executor), error) {
	if logger == nil {
		logger = slog.Default()
	}
	loader, err := c.NewLoader(logger)
	if err != nil {
		return nil, err
	}
	return []func(*reqscript.Executor){
		reqscript.WithLogger(logger),
		reqscript.WithLibraryLoader(loader),
		reqscript.WithEagerLibraries(c.Libraries),
		reqscript.WithMinPoolSize(c.Pool.MinSize),
		reqscript.WithMaxPoolSize(c.Pool.MaxSize),
		reqscript.WithAcquireTimeout(c.Pool.AcquireTimeout),
		reqscript.WithMaxUses(c.Pool.MaxUses),
		reqscript.WithIdleTTL(c.Pool.IdleTTL),
		reqscript.WithExecuteTimeout(c.Script.ExecuteTimeout),
	}, nil
}
