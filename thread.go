// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// HostBridgeName is the global function through which scripts reach bound host objects.
const HostBridgeName = "__host"

// start launches the handle's thread and waits for the runtime to be built and prepared.
func (h *Handle) start() error {
	go h.run()
	if err := <-h.initCh; err != nil {
		return err
	}
	return nil
}

// initRuntime creates the runtime, exposes the host bridge and runs the preparation hook.
// It runs on the handle's thread.
func (h *Handle) initRuntime() error {
	rt, err := h.factory()
	if err != nil {
		return fmt.Errorf("failed to create JS runtime: %w", err)
	}
	h.rt = rt

	if err := rt.Expose(HostBridgeName, h.dispatch); err != nil {
		return fmt.Errorf("failed to expose host bridge: %w", err)
	}
	h.registerNative("$runtime", runtimeControl{h: h})

	if h.prepare != nil {
		if err := h.prepare(h, rt); err != nil {
			return fmt.Errorf("failed to prepare JS runtime: %w", err)
		}
	}
	return nil
}

// run is the handle's thread loop. The runtime is created, used and closed on this goroutine only.
func (h *Handle) run() {
	// Lock this goroutine to an OS thread; quickjs and v8 are not free to migrate between threads
	runtime.LockOSThread()

	defer close(h.doneCh)
	defer func() {
		if h.rt != nil {
			if err := h.rt.Close(); err != nil && h.logger != nil {
				h.logger.Error("Failed to close JS runtime",
					"handle", h.name,
					"error", err)
			}
		}
	}()

	if err := h.initRuntime(); err != nil {
		h.initCh <- err
		close(h.initCh)
		if h.logger != nil {
			h.logger.Error("Failed to initialize JS runtime",
				"handle", h.name,
				"error", err,
			)
		}
		return
	}
	// Signal successful initialization
	h.initCh <- nil
	close(h.initCh)

	for {
		select {
		case t := <-h.taskQueue:
			h.executeTask(t)
		case <-h.quit:
			return
		}
	}
}

// executeTask runs a single task against the runtime and reports its outcome.
func (h *Handle) executeTask(t *task) {
	defer func() {
		if r := recover(); r != nil {
			atomic.StoreInt32(&h.poisoned, 1)
			t.resultChan <- fmt.Errorf("panic in handle %s: %v", h.name, r)
			if h.logger != nil {
				h.logger.Error("Task execution panic",
					"handle", h.name,
					"uses", h.Uses(),
					"error", r)
			}
		}
		atomic.StoreInt32((*int32)(&t.status), int32(taskStatusCompleted))
		atomic.StoreInt64(&h.lastUsedNano, time.Now().UnixNano())
	}()

	atomic.StoreInt32((*int32)(&t.status), int32(taskStatusRunning))
	t.resultChan <- t.fn(h.rt)
}

// submit enqueues fn on the handle's thread and waits for it. A positive timeout
// interrupts the runtime when exceeded; the handle is then poisoned.
func (h *Handle) submit(fn func(rt JsRuntime) error, timeout time.Duration) error {
	if h.IsClosed() {
		return ErrHandleClosed
	}

	t := newTask(fn)
	select {
	case h.taskQueue <- t:
	case <-h.doneCh:
		return ErrHandleClosed
	}

	if timeout <= 0 {
		select {
		case err := <-t.resultChan:
			return err
		case <-h.doneCh:
			return ErrHandleClosed
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-t.resultChan:
		return err
	case <-timer.C:
	}

	// The script overran its budget: interrupt it and never hand this runtime out again
	atomic.StoreInt32(&h.poisoned, 1)
	h.rt.Interrupt("execution timeout")
	grace := time.NewTimer(interruptGrace)
	defer grace.Stop()
	select {
	case <-t.resultChan:
	case <-grace.C:
		if h.logger != nil {
			h.logger.Error("Script did not stop after interrupt",
				"handle", h.name,
				"running", taskStatus(atomic.LoadInt32((*int32)(&t.status))) == taskStatusRunning,
				"grace", interruptGrace)
		}
	}
	return fmt.Errorf("%w after %s", ErrScriptTimeout, timeout)
}

// stop asks the thread to exit and waits a bounded time for it.
func (h *Handle) stop() {
	h.closeOnce.Do(func() {
		atomic.StoreInt32(&h.closed, 1)
		close(h.quit)
	})

	timer := time.NewTimer(interruptGrace)
	defer timer.Stop()
	select {
	case <-h.doneCh:
	case <-timer.C:
		// A runaway script still owns the thread; interrupt and leave it to unwind
		if h.rt != nil {
			h.rt.Interrupt("handle closed")
		}
		if h.logger != nil {
			h.logger.Error("Handle thread did not exit in time",
				"handle", h.name)
		}
	}
}
