// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package variables

import "sync"

// Variable is one entry of an environment. Disabled entries are kept for the
// user but are invisible to resolution and to scripts.
type Variable struct {
	Key     string `yaml:"key" json:"key"`
	Value   string `yaml:"value" json:"value"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Environment is a named, ordered list of variables. Several request cycles may
// share the active environment, so every access is guarded.
type Environment struct {
	mu        sync.RWMutex
	id        string
	name      string
	vars      []Variable
	ephemeral bool
}

// NewEnvironment creates an environment with a copy of vars.
func NewEnvironment(id, name string, vars ...Variable) *Environment {
	return &Environment{
		id:   id,
		name: name,
		vars: append([]Variable(nil), vars...),
	}
}

// NewEphemeralEnvironment creates an unnamed environment that is never persisted.
// Scripts running without an active environment write into one of these.
func NewEphemeralEnvironment() *Environment {
	return &Environment{ephemeral: true}
}

// ID returns the environment identifier.
func (e *Environment) ID() string { return e.id }

// Name returns the environment's display name.
func (e *Environment) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// Ephemeral reports whether the environment only lives in memory.
func (e *Environment) Ephemeral() bool { return e.ephemeral }

// Get returns the value of the first enabled variable named key.
func (e *Environment) Get(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, v := range e.vars {
		if v.Enabled && v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}

// Has reports whether an enabled variable named key exists.
func (e *Environment) Has(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// Set updates the first variable named key, enabling it, or appends a new one.
func (e *Environment) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.vars {
		if e.vars[i].Key == key {
			e.vars[i].Value = value
			e.vars[i].Enabled = true
			return
		}
	}
	e.vars = append(e.vars, Variable{Key: key, Value: value, Enabled: true})
}

// Unset removes every variable named key, enabled or not.
func (e *Environment) Unset(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.vars[:0]
	for _, v := range e.vars {
		if v.Key != key {
			kept = append(kept, v)
		}
	}
	e.vars = kept
}

// Clear removes all variables.
func (e *Environment) Clear() {
	e.mu.Lock()
	e.vars = nil
	e.mu.Unlock()
}

// Variables returns a copy of all entries in order.
func (e *Environment) Variables() []Variable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Variable(nil), e.vars...)
}

// ToMap returns the enabled variables keyed by name; the first entry wins.
func (e *Environment) ToMap() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.vars))
	for _, v := range e.vars {
		if !v.Enabled {
			continue
		}
		if _, seen := out[v.Key]; !seen {
			out[v.Key] = v.Value
		}
	}
	return out
}
