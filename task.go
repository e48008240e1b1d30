// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

// taskStatus represents the current status of a task.
type taskStatus int32

const (
	taskStatusPending   taskStatus = iota // Task is waiting to be executed
	taskStatusRunning                     // Task is currently being executed
	taskStatusCompleted                   // Task execution has completed
)

// task represents a unit of work executed on a handle's thread.
type task struct {
	fn         func(rt JsRuntime) error // Work to run against the handle's runtime
	resultChan chan error               // Receives the outcome exactly once
	status     taskStatus               // Current status of the task (atomic)
}

// newTask creates a new task instance for the given function.
func newTask(fn func(rt JsRuntime) error) *task {
	return &task{
		fn:         fn,
		resultChan: make(chan error, 1), // Buffered channel to prevent blocking
		status:     taskStatusPending,
	}
}
