// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"errors"
	"strings"
	"testing"

	"github.com/buke/reqscript"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	engine, err := newEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func capture(t *testing.T, e *Engine) *[]string {
	t.Helper()
	var got []string
	require.NoError(t, e.Expose("report", func(args ...string) string {
		got = append(got, strings.Join(args, ","))
		return ""
	}))
	return &got
}

func TestNewFactory(t *testing.T) {
	rt, err := NewFactory()()
	require.NoError(t, err)
	defer rt.Close()

	_, ok := rt.(*Engine)
	require.True(t, ok)
}

func TestEngine_NewEngine_OptionError(t *testing.T) {
	opt := func(rt reqscript.JsRuntime) error { return errors.New("option error") }
	engine, err := newEngine(opt)
	require.Error(t, err)
	require.Nil(t, engine)
}

func TestEngine_ExposeAndRun(t *testing.T) {
	e := newTestEngine(t)
	got := capture(t, e)
	require.NoError(t, e.Expose("upper", func(args ...string) string {
		return strings.ToUpper(args[0])
	}))

	require.NoError(t, e.Run(&reqscript.JsScript{
		FileName: "expose.js",
		Content:  `report(upper("abc"), 7, null);`,
	}))
	require.Equal(t, []string{"ABC,7,"}, *got)
}

func TestEngine_Run_DrainsPromiseJobs(t *testing.T) {
	e := newTestEngine(t)
	got := capture(t, e)

	require.NoError(t, e.Run(&reqscript.JsScript{
		FileName: "jobs.js",
		Content: `
			Promise.resolve(1)
				.then(function (v) { return v + 1; })
				.then(function (v) { report("then", v); });
			report("sync");
		`,
	}))
	require.Equal(t, []string{"sync", "then,2"}, *got)
}

func TestEngine_Run_ScriptError(t *testing.T) {
	e := newTestEngine(t)

	err := e.Run(&reqscript.JsScript{
		FileName: "user.js",
		Content:  "var a = 1;\nthrow new RangeError('too far');",
	})
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "RangeError", se.Name)
	require.Equal(t, "too far", se.Message)
	require.Equal(t, 2, se.Line)
}

func TestEngine_Interrupt_FailsLaterRuns(t *testing.T) {
	e := newTestEngine(t)

	e.Interrupt("execution timeout")
	err := e.Run(&reqscript.JsScript{FileName: "after.js", Content: `1;`})
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "InterruptedError", se.Name)
	require.Equal(t, "execution timeout", se.Message)

	e.ClearInterrupt()
	require.NoError(t, e.Run(&reqscript.JsScript{FileName: "after.js", Content: `1;`}))
}

func TestEngine_Close_Idempotent(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
}

func TestToScriptError(t *testing.T) {
	err := toScriptError(errors.New("TypeError: x is not a function\n    at <anonymous> (pre.js:4:7)\n"), "pre.js")
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "TypeError", se.Name)
	require.Equal(t, "x is not a function", se.Message)
	require.Equal(t, 4, se.Line)
	require.Equal(t, 7, se.Column)

	err = toScriptError(nil, "pre.js")
	require.Error(t, err)
}
