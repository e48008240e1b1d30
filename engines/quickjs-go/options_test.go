// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"testing"

	"github.com/buke/reqscript"
	"github.com/stretchr/testify/require"
)

// TestOptions_Apply applies each option to a live engine and checks the
// recorded configuration.
func TestOptions_Apply(t *testing.T) {
	tests := []struct {
		name    string
		opt     Option
		wantErr bool
		check   func(o *EngineOption) bool
	}{
		{"gc threshold", WithGCThreshold(1024), false, func(o *EngineOption) bool { return o.GCThreshold == 1024 }},
		{"gc disabled", WithGCThreshold(-1), false, func(o *EngineOption) bool { return o.GCThreshold == -1 }},
		{"gc invalid", WithGCThreshold(-2), true, nil},
		{"memory limit", WithMemoryLimit(64 << 20), false, func(o *EngineOption) bool { return o.MemoryLimit == 64<<20 }},
		{"no memory limit", WithMemoryLimit(0), false, func(o *EngineOption) bool { return o.MemoryLimit == 0 }},
		{"timeout", WithTimeout(3), false, func(o *EngineOption) bool { return o.Timeout == 3 }},
		{"stack size", WithMaxStackSize(512 << 10), false, func(o *EngineOption) bool { return o.MaxStackSize == 512<<10 }},
		{"can block", WithCanBlock(true), false, func(o *EngineOption) bool { return o.CanBlock }},
		{"module import", WithEnableModuleImport(true), false, func(o *EngineOption) bool { return o.EnableModuleImport }},
		{"strip all", WithStrip(2), false, func(o *EngineOption) bool { return o.Strip == 2 }},
		{"strip none", WithStrip(0), false, func(o *EngineOption) bool { return o.Strip == 0 }},
		{"strip negative", WithStrip(-1), true, nil},
		{"strip too high", WithStrip(3), true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := newEngine()
			require.NoError(t, err)
			defer engine.Close()

			err = tt.opt(engine)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, tt.check(engine.Option), "unexpected options: %+v", *engine.Option)
		})
	}
}

// TestOptions_Defaults checks the configuration of an engine built without options.
func TestOptions_Defaults(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	require.Equal(t, int64(-1), engine.Option.GCThreshold)
	require.Equal(t, 1, engine.Option.Strip)
	require.Zero(t, engine.Option.Timeout)
}

func TestWithTimeout_StopsBusyLoop(t *testing.T) {
	engine, err := newEngine(WithTimeout(1))
	require.NoError(t, err)
	defer engine.Close()

	err = engine.Run(&reqscript.JsScript{FileName: "loop.js", Content: `for (;;) {}`})
	require.Error(t, err)

	// The next evaluation gets a fresh budget
	require.NoError(t, engine.Run(&reqscript.JsScript{FileName: "ok.js", Content: `1 + 1;`}))
}

type otherRuntime struct{ reqscript.JsRuntime }

func TestOptions_WrongEngineType(t *testing.T) {
	opts := []Option{
		WithGCThreshold(0), WithMemoryLimit(0), WithTimeout(0), WithMaxStackSize(0),
		WithCanBlock(false), WithEnableModuleImport(false), WithStrip(1),
	}
	for _, opt := range opts {
		err := opt(otherRuntime{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid engine type")
	}
}
