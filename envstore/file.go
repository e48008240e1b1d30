// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package envstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/buke/reqscript/variables"
	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Active       string      `yaml:"active"`
	Environments []fileEntry `yaml:"environments"`
}

type fileEntry struct {
	ID        string               `yaml:"id"`
	Name      string               `yaml:"name"`
	Variables []variables.Variable `yaml:"variables"`
}

// FileStore keeps environments in a YAML file:
//
//	active: dev
//	environments:
//	  - id: dev
//	    name: Development
//	    variables:
//	      - {key: host, value: api.example.com, enabled: true}
//
// The file is read on first use. Environments handed out by GetActive stay the
// same objects until Reload, so scripts and Save see each other's changes.
type FileStore struct {
	mu     sync.Mutex
	path   string
	loaded bool
	active string
	envs   []*variables.Environment
	logger *slog.Logger
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets the logger.
func WithFileStoreLogger(logger *slog.Logger) FileStoreOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileStore creates a store backed by path. A missing file is treated as an
// empty store and created on the first Save.
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Reload discards the in-memory copy and reads the file again.
func (s *FileStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	return s.loadLocked()
}

// List returns the stored environments in file order.
func (s *FileStore) List() ([]*variables.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return append([]*variables.Environment(nil), s.envs...), nil
}

// GetActive returns the active environment, or nil when none is selected.
func (s *FileStore) GetActive() (*variables.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	if s.active == "" {
		return nil, nil
	}
	for _, env := range s.envs {
		if env.ID() == s.active {
			return env, nil
		}
	}
	s.logger.Warn("Active environment is missing from the store",
		"environment", s.active,
		"path", s.path)
	return nil, nil
}

// Activate selects the active environment and writes the file.
func (s *FileStore) Activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if id != "" && s.find(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.active = id
	return s.writeLocked()
}

// Save stores env, adding it when it is new, and writes the file.
func (s *FileStore) Save(env *variables.Environment) error {
	if env == nil || env.Ephemeral() {
		return ErrEphemeral
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if i := s.find(env.ID()); i >= 0 {
		s.envs[i] = env
	} else {
		s.envs = append(s.envs, env)
	}
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.logger.Debug("Environment saved",
		"environment", env.Name(),
		"path", s.path)
	return nil
}

func (s *FileStore) find(id string) int {
	for i, env := range s.envs {
		if env.ID() == id {
			return i
		}
	}
	return -1
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.active, s.envs, s.loaded = "", nil, true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read environments: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse environments %s: %w", s.path, err)
	}
	envs := make([]*variables.Environment, 0, len(doc.Environments))
	for _, entry := range doc.Environments {
		if entry.ID == "" {
			return fmt.Errorf("failed to parse environments %s: environment %q has no id", s.path, entry.Name)
		}
		envs = append(envs, variables.NewEnvironment(entry.ID, entry.Name, entry.Variables...))
	}
	s.active, s.envs, s.loaded = doc.Active, envs, true
	return nil
}

// writeLocked replaces the file through a temporary sibling so readers never
// see a partial document.
func (s *FileStore) writeLocked() error {
	doc := fileDocument{Active: s.active}
	for _, env := range s.envs {
		doc.Environments = append(doc.Environments, fileEntry{
			ID:        env.ID(),
			Name:      env.Name(),
			Variables: env.Variables(),
		})
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode environments: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".environments-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write environments: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write environments: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write environments: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write environments: %w", err)
	}
	return nil
}
