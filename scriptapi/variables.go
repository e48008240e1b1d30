// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package scriptapi

import (
	"github.com/buke/reqscript/variables"
)

// EnvironmentObject exposes the active environment as pm.environment.
type EnvironmentObject struct {
	env *variables.Environment
}

// NewEnvironmentObject wraps env.
func NewEnvironmentObject(env *variables.Environment) *EnvironmentObject {
	return &EnvironmentObject{env: env}
}

func (o *EnvironmentObject) Kind() string { return "variables" }

// Environment returns the wrapped environment.
func (o *EnvironmentObject) Environment() *variables.Environment { return o.env }

func (o *EnvironmentObject) Invoke(method string, args []any) (any, error) {
	switch method {
	case "name":
		return o.env.Name(), nil
	case "get":
		if v, ok := o.env.Get(argString(args, 0)); ok {
			return v, nil
		}
		return nil, nil
	case "set":
		if err := requireArgs("environment", method, args, 1); err != nil {
			return nil, err
		}
		o.env.Set(argString(args, 0), argString(args, 1))
		return nil, nil
	case "unset":
		o.env.Unset(argString(args, 0))
		return nil, nil
	case "has":
		return o.env.Has(argString(args, 0)), nil
	case "clear":
		o.env.Clear()
		return nil, nil
	case "toObject":
		return o.env.ToMap(), nil
	case "replaceIn":
		r := variables.NewResolver(variables.NewTemporaries(), o.env, variables.WithBuiltins(nil))
		return r.Resolve(argString(args, 0)), nil
	}
	return nil, &UnknownMethodError{Kind: "environment", Method: method}
}

// VariablesObject exposes the resolver as pm.variables. Reads see every tier;
// writes only touch the request-cycle temporaries.
type VariablesObject struct {
	resolver *variables.Resolver
}

// NewVariablesObject wraps r.
func NewVariablesObject(r *variables.Resolver) *VariablesObject {
	return &VariablesObject{resolver: r}
}

func (o *VariablesObject) Kind() string { return "variables" }

func (o *VariablesObject) Invoke(method string, args []any) (any, error) {
	temps := o.resolver.Temporaries()
	switch method {
	case "name":
		return "variables", nil
	case "get":
		if v, ok := o.resolver.ResolveVariable(argString(args, 0)); ok {
			return v, nil
		}
		return nil, nil
	case "set":
		if err := requireArgs("variables", method, args, 1); err != nil {
			return nil, err
		}
		temps.Set(argString(args, 0), argString(args, 1))
		return nil, nil
	case "unset":
		temps.Delete(argString(args, 0))
		return nil, nil
	case "has":
		return o.resolver.IsDefined(argString(args, 0)), nil
	case "clear":
		o.resolver.ClearTemporary()
		return nil, nil
	case "toObject":
		out := map[string]string{}
		if env := o.resolver.Environment(); env != nil {
			for k, v := range env.ToMap() {
				out[k] = v
			}
		}
		for k, v := range temps.Snapshot() {
			out[k] = v
		}
		return out, nil
	case "replaceIn":
		return o.resolver.Resolve(argString(args, 0)), nil
	}
	return nil, &UnknownMethodError{Kind: "variables", Method: method}
}
