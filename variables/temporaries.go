// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package variables

import "sync"

// Temporaries holds the variables of one request cycle. A cycle creates its own
// instance and passes it down the call path; it is never shared between cycles.
// The lock only guards against a timed-out script still touching it.
type Temporaries struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewTemporaries returns an empty set of temporaries.
func NewTemporaries() *Temporaries {
	return &Temporaries{vars: make(map[string]string)}
}

// Get returns the temporary named key.
func (t *Temporaries) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.vars[key]
	return v, ok
}

// Set stores a temporary.
func (t *Temporaries) Set(key, value string) {
	t.mu.Lock()
	t.vars[key] = value
	t.mu.Unlock()
}

// SetAll stores every entry of vars.
func (t *Temporaries) SetAll(vars map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range vars {
		t.vars[k] = v
	}
}

// Delete removes a temporary.
func (t *Temporaries) Delete(key string) {
	t.mu.Lock()
	delete(t.vars, key)
	t.mu.Unlock()
}

// Clear removes all temporaries.
func (t *Temporaries) Clear() {
	t.mu.Lock()
	t.vars = make(map[string]string)
	t.mu.Unlock()
}

// Len returns the number of temporaries.
func (t *Temporaries) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vars)
}

// Snapshot returns a copy of all temporaries.
func (t *Temporaries) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.vars))
	for k, v := range t.vars {
		out[k] = v
	}
	return out
}
