// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package envstore keeps the environments scripts read and write. It provides
// an in-memory store and a store backed by a YAML file.
package envstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/buke/reqscript/variables"
)

var (
	// ErrNotFound is returned when an environment id is unknown.
	ErrNotFound = errors.New("environment not found")

	// ErrEphemeral is returned when saving an environment that only lives in memory.
	ErrEphemeral = errors.New("ephemeral environments cannot be saved")
)

// MemoryStore keeps environments in memory. The first environment added
// becomes the active one.
type MemoryStore struct {
	mu     sync.RWMutex
	envs   []*variables.Environment
	active string
	saves  int
}

// NewMemoryStore creates a store holding envs.
func NewMemoryStore(envs ...*variables.Environment) *MemoryStore {
	s := &MemoryStore{}
	for _, env := range envs {
		s.Add(env)
	}
	return s
}

// Add appends env, replacing an environment with the same id.
func (s *MemoryStore) Add(env *variables.Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(env.ID()); i >= 0 {
		s.envs[i] = env
	} else {
		s.envs = append(s.envs, env)
	}
	if s.active == "" {
		s.active = env.ID()
	}
}

// Activate selects the active environment. An empty id clears the selection.
func (s *MemoryStore) Activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.active = id
	return nil
}

// List returns the stored environments in insertion order.
func (s *MemoryStore) List() []*variables.Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*variables.Environment(nil), s.envs...)
}

// GetActive returns the active environment, or nil when none is selected.
func (s *MemoryStore) GetActive() (*variables.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return nil, nil
	}
	if i := s.index(s.active); i >= 0 {
		return s.envs[i], nil
	}
	return nil, nil
}

// Save records env, adding it when it is new.
func (s *MemoryStore) Save(env *variables.Environment) error {
	if env == nil || env.Ephemeral() {
		return ErrEphemeral
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(env.ID()); i >= 0 {
		s.envs[i] = env
	} else {
		s.envs = append(s.envs, env)
	}
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) index(id string) int {
	for i, env := range s.envs {
		if env.ID() == id {
			return i
		}
	}
	return -1
}
