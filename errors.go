// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrPoolExhausted is matched by *ExhaustedError when no handle became available in time.
	ErrPoolExhausted = errors.New("runtime pool exhausted")

	// ErrPoolClosed is returned by Acquire after the pool has been shut down.
	ErrPoolClosed = errors.New("runtime pool is closed")

	// ErrScriptTimeout is returned when a script exceeds the execution timeout.
	ErrScriptTimeout = errors.New("script execution timed out")

	// ErrHandleClosed is returned when a task is submitted to a destroyed handle.
	ErrHandleClosed = errors.New("runtime handle is closed")
)

// ExhaustedError reports the pool utilization at the moment an Acquire gave up.
type ExhaustedError struct {
	Live   uint32        // Live handles, borrowed or idle
	Max    uint32        // Configured maximum
	Idle   int           // Idle handles at the time of the failure
	Waited time.Duration // How long the caller waited
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("runtime pool exhausted: %d/%d handles in use, %d idle, waited %s",
		e.Live, e.Max, e.Idle, e.Waited)
}

// Is lets errors.Is(err, ErrPoolExhausted) match.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}

// ConstructionError reports that a new runtime could not be built or prepared.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return "failed to construct runtime: " + e.Err.Error()
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// ScriptError is a fault raised by user script code.
type ScriptError struct {
	Name    string // JavaScript error name, e.g. "TypeError" or "AssertionError"
	Message string
	Stack   string
	Line    int // 1-based line inside the user script, 0 when unknown
	Column  int
}

func (e *ScriptError) Error() string {
	var sb strings.Builder
	if e.Name != "" && !strings.HasPrefix(e.Message, e.Name+":") {
		sb.WriteString(e.Name)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&sb, " (line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&sb, ", column %d", e.Column)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// NewScriptError builds a ScriptError from an engine message of the form "Name: message".
func NewScriptError(raw string) *ScriptError {
	se := &ScriptError{Message: raw}
	if i := strings.Index(raw, ": "); i > 0 {
		name := raw[:i]
		if isErrorName(name) {
			se.Name = name
			se.Message = raw[i+2:]
		}
	}
	return se
}

func isErrorName(s string) bool {
	if !strings.HasSuffix(s, "Error") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// LocateInStack finds the first "file:line[:column]" frame of fileName in an
// engine stack trace.
func LocateInStack(stack, fileName string) (line, column int, ok bool) {
	if stack == "" || fileName == "" {
		return 0, 0, false
	}
	re, err := regexp.Compile(`(?:^|[^\w.-])` + regexp.QuoteMeta(fileName) + `:(\d+)(?::(\d+))?`)
	if err != nil {
		return 0, 0, false
	}
	m := re.FindStringSubmatch(stack)
	if m == nil {
		return 0, 0, false
	}
	line, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		column, _ = strconv.Atoi(m[2])
	}
	return line, column, line > 0
}
