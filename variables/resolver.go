// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package variables implements the three-tier variable lookup used by template
// substitution and by scripts: request-cycle temporaries, then the active
// environment, then built-in generators.
package variables

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Resolver looks variables up through the three tiers. Temporaries shadow the
// environment, which shadows built-ins.
type Resolver struct {
	temps    *Temporaries
	env      *Environment
	builtins map[string]Generator
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBuiltins replaces the built-in generator table.
func WithBuiltins(builtins map[string]Generator) ResolverOption {
	return func(r *Resolver) {
		r.builtins = builtins
	}
}

// NewResolver creates a resolver for one request cycle. temps may be nil, in
// which case a fresh set is created; env may be nil when no environment is active.
func NewResolver(temps *Temporaries, env *Environment, opts ...ResolverOption) *Resolver {
	if temps == nil {
		temps = NewTemporaries()
	}
	r := &Resolver{
		temps:    temps,
		env:      env,
		builtins: DefaultBuiltins(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Temporaries returns the request-cycle temporaries.
func (r *Resolver) Temporaries() *Temporaries { return r.temps }

// Environment returns the active environment, or nil.
func (r *Resolver) Environment() *Environment { return r.env }

// ResolveVariable returns the value of name from the highest tier defining it.
func (r *Resolver) ResolveVariable(name string) (string, bool) {
	if v, ok := r.temps.Get(name); ok {
		return v, true
	}
	if r.env != nil {
		if v, ok := r.env.Get(name); ok {
			return v, true
		}
	}
	if gen, ok := r.builtins[name]; ok {
		return gen(), true
	}
	return "", false
}

// IsDefined reports whether any tier defines name. Built-ins are not evaluated.
func (r *Resolver) IsDefined(name string) bool {
	if _, ok := r.temps.Get(name); ok {
		return true
	}
	if r.env != nil && r.env.Has(name) {
		return true
	}
	_, ok := r.builtins[name]
	return ok
}

// Resolve substitutes every {{name}} placeholder. Whitespace inside the braces
// is ignored. Unknown placeholders are kept verbatim and substituted values are
// not scanned again.
func (r *Resolver) Resolve(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if name == "" {
			return match
		}
		if v, ok := r.ResolveVariable(name); ok {
			return v
		}
		return match
	})
}

// SetAllTemporary stores every entry of vars as a temporary.
func (r *Resolver) SetAllTemporary(vars map[string]string) {
	r.temps.SetAll(vars)
}

// ClearTemporary drops all temporaries. Callers do this after each request cycle.
func (r *Resolver) ClearTemporary() {
	r.temps.Clear()
}
