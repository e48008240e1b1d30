// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// interruptGrace bounds how long a caller waits for an interrupted runtime to unwind.
var interruptGrace = 2 * time.Second

// Binding is a host object reachable from scripts through the host bridge.
// Calls are marshaled by target and method name; arguments arrive JSON-decoded.
type Binding interface {
	// Kind names the script-side facade built for this object, e.g. "variables".
	Kind() string

	// Invoke runs a method. The returned value is JSON encoded for the script.
	Invoke(method string, args []any) (any, error)
}

// handleState tracks a borrowed handle through one execution.
type handleState int32

const (
	stateIdle    handleState = iota // No bindings installed
	stateBound                      // Bindings installed, script not started
	stateRunning                    // Script body is being evaluated
)

// String returns the string representation of a handleState.
func (s handleState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateBound:
		return "bound"
	case stateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Handle is an exclusively owned reference to one isolated runtime.
// All runtime work is serialized onto the handle's own OS-locked goroutine.
type Handle struct {
	id         uint32
	name       string
	createdAt  time.Time
	generation uint32 // Pool generation the handle was built for

	uses         uint32 // Executions performed (atomic)
	lastUsedNano int64  // Timestamp of the last task (atomic, nanoseconds)
	closed       int32  // 1 once the handle is destroyed (atomic)
	borrowed     int32  // 1 while a caller owns the handle (atomic)
	poisoned     int32  // 1 when the runtime must not be reused (atomic)
	state        int32  // handleState (atomic)

	factory JsRuntimeFactory
	prepare func(h *Handle, rt JsRuntime) error
	rt      JsRuntime

	taskQueue chan *task
	initCh    chan error
	quit      chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	// Touched only on the handle's thread
	natives   map[string]Binding
	bindings  map[string]Binding
	installed []string

	logger *slog.Logger
}

// newHandle creates a handle; the runtime is built when start is called.
func newHandle(id uint32, factory JsRuntimeFactory, prepare func(*Handle, JsRuntime) error, logger *slog.Logger) *Handle {
	now := time.Now()
	return &Handle{
		id:           id,
		name:         fmt.Sprintf("runtime-%d", id),
		createdAt:    now,
		lastUsedNano: now.UnixNano(),
		factory:      factory,
		prepare:      prepare,
		taskQueue:    make(chan *task, 1),
		initCh:       make(chan error, 1),
		quit:         make(chan struct{}),
		doneCh:       make(chan struct{}),
		natives:      make(map[string]Binding),
		logger:       logger,
	}
}

// ID returns the handle's identifier, unique within its pool.
func (h *Handle) ID() uint32 { return h.id }

// Name returns a human-readable name for logs.
func (h *Handle) Name() string { return h.name }

// CreatedAt returns the handle's creation time.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Uses returns the number of scripts executed by this handle.
func (h *Handle) Uses() uint32 { return atomic.LoadUint32(&h.uses) }

// LastUsed returns the time of the last task run on this handle.
func (h *Handle) LastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&h.lastUsedNano))
}

// IsClosed reports whether the handle has been destroyed.
func (h *Handle) IsClosed() bool { return atomic.LoadInt32(&h.closed) == 1 }

// IsPoisoned reports whether the runtime is unfit for reuse.
func (h *Handle) IsPoisoned() bool { return atomic.LoadInt32(&h.poisoned) == 1 }

func (h *Handle) getState() handleState { return handleState(atomic.LoadInt32(&h.state)) }

func (h *Handle) setState(s handleState) { atomic.StoreInt32(&h.state, int32(s)) }

// markBorrowed flips the handle to borrowed; it fails if someone already owns it.
func (h *Handle) markBorrowed() bool {
	return atomic.CompareAndSwapInt32(&h.borrowed, 0, 1)
}

// markReturned flips the handle back; it fails on a double release.
func (h *Handle) markReturned() bool {
	return atomic.CompareAndSwapInt32(&h.borrowed, 1, 0)
}

// registerNative adds a permanent host object. Called during preparation only.
func (h *Handle) registerNative(target string, b Binding) {
	h.natives[target] = b
}

// Install binds the given host objects for one execution. targets maps bridge
// target names to host objects; script is evaluated afterwards to build the
// script-side facades and must create exactly the listed globals.
func (h *Handle) Install(targets map[string]Binding, globals []string, script *JsScript) error {
	if st := h.getState(); st != stateIdle {
		return fmt.Errorf("cannot install bindings on %s handle", st)
	}
	err := h.submit(func(rt JsRuntime) error {
		h.bindings = targets
		h.installed = append([]string(nil), globals...)
		if script == nil {
			return nil
		}
		return rt.Run(script)
	}, 0)
	// Bindings may be partially installed even on failure; Unbind cleans them up
	h.setState(stateBound)
	return err
}

// Eval runs a script body. A positive timeout interrupts a runaway script.
func (h *Handle) Eval(script *JsScript, timeout time.Duration) error {
	if st := h.getState(); st == stateRunning {
		return fmt.Errorf("handle %s is already running a script", h.name)
	}
	prev := h.getState()
	h.setState(stateRunning)
	atomic.AddUint32(&h.uses, 1)

	err := h.submit(func(rt JsRuntime) error {
		return rt.Run(script)
	}, timeout)

	if h.IsPoisoned() {
		// Leave the handle in running state; the pool destroys it on release
		return err
	}
	h.setState(prev)
	return err
}

// Unbind removes the globals installed for the previous execution and forgets
// its host objects. It is idempotent.
func (h *Handle) Unbind() error {
	if h.getState() == stateRunning {
		return fmt.Errorf("cannot remove bindings while handle %s is running", h.name)
	}
	err := h.submit(func(rt JsRuntime) error {
		names := h.installed
		h.bindings = nil
		h.installed = nil
		rt.ClearInterrupt()
		return rt.Run(&JsScript{FileName: "unbind.js", Content: deleteGlobalsScript(names)})
	}, 0)
	h.setState(stateIdle)
	return err
}

// UnbindHookName is an optional global function run after the per-call globals
// are deleted, letting the prelude drop anything else a script left behind.
const UnbindHookName = "__unbind"

// deleteGlobalsScript renders a script deleting the given top-level names and
// then running the unbind hook.
func deleteGlobalsScript(names []string) string {
	var sb strings.Builder
	sb.WriteString("(function(g){")
	for _, name := range names {
		quoted, _ := json.Marshal(name)
		sb.WriteString("try{delete g[")
		sb.Write(quoted)
		sb.WriteString("];}catch(e){}")
	}
	sb.WriteString(`if(typeof g.` + UnbindHookName + `==="function"){g.` + UnbindHookName + `();}`)
	sb.WriteString("})(globalThis);")
	return sb.String()
}

// runtimeControl lets scripts observe the handle state; timers scheduled
// before an interrupt check it and stop firing.
type runtimeControl struct {
	h *Handle
}

func (c runtimeControl) Kind() string { return "runtime" }

func (c runtimeControl) Invoke(method string, args []any) (any, error) {
	switch method {
	case "halted":
		return c.h.IsPoisoned() || c.h.IsClosed(), nil
	case "name":
		return c.h.name, nil
	}
	return nil, fmt.Errorf("runtime has no method %q", method)
}

// hostEnvelope is the JSON document returned to scripts by the host bridge.
type hostEnvelope struct {
	Value any    `json:"v,omitempty"`
	Error string `json:"e,omitempty"`
	Name  string `json:"n,omitempty"`
}

// dispatch is the host bridge. It runs on the handle's thread, called from script code:
// __host(target, method, argsJSON).
func (h *Handle) dispatch(args ...string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = encodeEnvelope(hostEnvelope{Error: fmt.Sprintf("host panic: %v", r), Name: "Error"})
		}
	}()

	if len(args) < 2 {
		return encodeEnvelope(hostEnvelope{Error: "host bridge requires a target and a method", Name: "TypeError"})
	}
	target, method := args[0], args[1]

	b, ok := h.bindings[target]
	if !ok {
		b, ok = h.natives[target]
	}
	if !ok {
		return encodeEnvelope(hostEnvelope{Error: fmt.Sprintf("%s is not available in this context", target), Name: "ReferenceError"})
	}

	var callArgs []any
	if len(args) > 2 && args[2] != "" {
		if err := json.Unmarshal([]byte(args[2]), &callArgs); err != nil {
			return encodeEnvelope(hostEnvelope{Error: "invalid arguments: " + err.Error(), Name: "TypeError"})
		}
	}

	v, err := b.Invoke(method, callArgs)
	if err != nil {
		return encodeEnvelope(hostEnvelope{Error: err.Error(), Name: "Error"})
	}
	return encodeEnvelope(hostEnvelope{Value: v})
}

func encodeEnvelope(env hostEnvelope) string {
	data, err := json.Marshal(env)
	if err != nil {
		data, _ = json.Marshal(hostEnvelope{Error: "failed to encode host result: " + err.Error(), Name: "Error"})
	}
	return string(data)
}
