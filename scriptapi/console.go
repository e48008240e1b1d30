// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package scriptapi

import (
	"strings"
	"sync"
)

// ConsoleObject line-buffers script console output. Complete lines are emitted
// as they arrive; Flush emits whatever is left.
type ConsoleObject struct {
	mu      sync.Mutex
	emit    func(level, line string)
	buf     strings.Builder
	level   string
	written int
}

// NewConsoleObject creates a console that hands complete lines to emit.
func NewConsoleObject(emit func(level, line string)) *ConsoleObject {
	return &ConsoleObject{emit: emit, level: "log"}
}

func (c *ConsoleObject) Kind() string { return "console" }

func (c *ConsoleObject) Invoke(method string, args []any) (any, error) {
	switch method {
	case "write":
		c.WriteLevel(argString(args, 0), argString(args, 1))
		return nil, nil
	case "flush":
		c.Flush()
		return nil, nil
	}
	return nil, &UnknownMethodError{Kind: c.Kind(), Method: method}
}

// Write implements io.Writer at the "log" level.
func (c *ConsoleObject) Write(p []byte) (int, error) {
	c.WriteLevel("log", string(p))
	return len(p), nil
}

// WriteLevel buffers text and emits each completed line.
func (c *ConsoleObject) WriteLevel(level, text string) {
	if level == "" {
		level = "log"
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() > 0 && level != c.level {
		c.flushLocked()
	}
	c.level = level
	c.written += len(text)

	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			c.buf.WriteString(text)
			return
		}
		c.buf.WriteString(strings.TrimSuffix(text[:i], "\r"))
		line := c.buf.String()
		c.buf.Reset()
		c.send(level, line)
		text = text[i+1:]
	}
}

// Flush emits a trailing partial line, if any.
func (c *ConsoleObject) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Written returns the number of bytes written so far.
func (c *ConsoleObject) Written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

func (c *ConsoleObject) flushLocked() {
	if c.buf.Len() == 0 {
		return
	}
	line := c.buf.String()
	c.buf.Reset()
	c.send(c.level, line)
}

func (c *ConsoleObject) send(level, line string) {
	if c.emit != nil {
		c.emit(level, line)
	}
}
