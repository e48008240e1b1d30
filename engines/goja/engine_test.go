// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/buke/reqscript"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	rt, err := NewFactory(opts...)()
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt.(*Engine)
}

// capture exposes a "report" function and returns the values it received.
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
	factory := NewFactory()
	require.NotNil(t, factory)

	rt, err := factory()
	require.NoError(t, err)
	require.NotNil(t, rt)
	defer rt.Close()

	_, ok := rt.(*Engine)
	require.True(t, ok)
}

func TestNewFactory_OptionError(t *testing.T) {
	errorOption := func(rt reqscript.JsRuntime) error {
		return fmt.Errorf("a deliberate config error")
	}
	_, err := NewFactory(errorOption)()
	require.Error(t, err)
	require.Contains(t, err.Error(), "a deliberate config error")
}

func TestEngine_ExposeAndRun(t *testing.T) {
	e := newTestEngine(t)
	got := capture(t, e)
	require.NoError(t, e.Expose("upper", func(args ...string) string {
		return strings.ToUpper(args[0])
	}))

	err := e.Run(&reqscript.JsScript{
		FileName: "expose.js",
		Content:  `report(upper("abc"), 42, null, undefined);`,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ABC,42,,"}, *got)
}

func TestEngine_Run_KeepsGlobals(t *testing.T) {
	e := newTestEngine(t)
	got := capture(t, e)

	require.NoError(t, e.Run(&reqscript.JsScript{FileName: "a.js", Content: `var counter = 1;`}))
	require.NoError(t, e.Run(&reqscript.JsScript{FileName: "b.js", Content: `counter++; report(counter);`}))
	require.Equal(t, []string{"2"}, *got)
}

func TestEngine_Run_WaitsForTimers(t *testing.T) {
	e := newTestEngine(t)
	got := capture(t, e)

	err := e.Run(&reqscript.JsScript{
		FileName: "timers.js",
		Content: `
			setTimeout(function () { report("late"); }, 20);
			setTimeout(function () { report("early"); }, 1);
			Promise.resolve().then(function () { report("micro"); });
			report("sync");
		`,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sync", "micro", "early", "late"}, *got)
}

func TestEngine_Run_ThrownError(t *testing.T) {
	e := newTestEngine(t)

	err := e.Run(&reqscript.JsScript{
		FileName: "user.js",
		Content:  "var a = 1;\nthrow new TypeError('boom');",
	})
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "TypeError", se.Name)
	require.Equal(t, "boom", se.Message)
	require.Equal(t, 2, se.Line)
}

func TestEngine_Run_ThrownString(t *testing.T) {
	e := newTestEngine(t)

	err := e.Run(&reqscript.JsScript{FileName: "user.js", Content: `throw "plain";`})
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "plain", se.Message)
}

func TestEngine_Run_LineFromCallerFrame(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Run(&reqscript.JsScript{
		FileName: "lib.js",
		Content:  "function fail() {\n\n\n throw new Error('deep'); }",
	}))

	err := e.Run(&reqscript.JsScript{FileName: "user.js", Content: "\n\nfail();"})
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "deep", se.Message)
	require.Equal(t, 3, se.Line)
}

func TestEngine_Run_SyntaxError(t *testing.T) {
	e := newTestEngine(t)

	err := e.Run(&reqscript.JsScript{FileName: "bad.js", Content: "var ok = 1;\nvar = ;"})
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "SyntaxError", se.Name)
	require.Equal(t, 2, se.Line)
}

func TestEngine_Interrupt(t *testing.T) {
	e := newTestEngine(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		e.Interrupt("stop")
	}()
	err := e.Run(&reqscript.JsScript{FileName: "loop.js", Content: `for (;;) {}`})
	var se *reqscript.ScriptError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "InterruptedError", se.Name)
	require.Equal(t, "stop", se.Message)

	// The runtime stays usable afterwards
	e.ClearInterrupt()
	require.NoError(t, e.Run(&reqscript.JsScript{FileName: "after.js", Content: `1 + 1;`}))
}

func TestEngine_ClearInterrupt_DropsPending(t *testing.T) {
	e := newTestEngine(t)

	e.Interrupt("pending")
	e.ClearInterrupt()
	require.NoError(t, e.Run(&reqscript.JsScript{FileName: "ok.js", Content: `1;`}))
}

func TestEngine_Close(t *testing.T) {
	rt, err := NewFactory()()
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	e := &Engine{}
	require.NoError(t, e.Close())
}

func TestEngine_CloseAfterRunReturns(t *testing.T) {
	e, err := newEngine()
	require.NoError(t, err)
	require.NoError(t, e.Run(&reqscript.JsScript{FileName: "timer.js", Content: `setTimeout(function () {}, 1);`}))

	done := make(chan error, 1)
	go func() { done <- e.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Close did not return")
	}

	err = e.Run(&reqscript.JsScript{FileName: "closed.js", Content: `1;`})
	require.ErrorIs(t, err, errEngineClosed)
}
