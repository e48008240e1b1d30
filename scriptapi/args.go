// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package scriptapi holds the host objects scripts talk to: the request being
// prepared, the received response, variables, the test recorder and the console.
// Each object is invoked by method name with JSON-decoded arguments.
package scriptapi

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// UnknownMethodError is returned when a script calls a method a host object lacks.
type UnknownMethodError struct {
	Kind   string
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("%s has no method %q", e.Kind, e.Method)
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// argString converts a decoded argument to the string form variables are stored in.
func argString(args []any, i int) string {
	return stringify(arg(args, i))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func argBool(args []any, i int) bool {
	switch t := arg(args, i).(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func requireArgs(kind, method string, args []any, n int) error {
	if len(args) < n {
		return fmt.Errorf("%s.%s expects %d argument(s), got %d", kind, method, n, len(args))
	}
	return nil
}
