// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package scriptapi

import (
	"net/http"
	"time"
)

// ResponseView is the received response. Scripts can only read it.
type ResponseView struct {
	Code         int           `json:"code" yaml:"code"`
	Status       string        `json:"status" yaml:"status"`
	Headers      []KeyValue    `json:"headers" yaml:"headers"`
	Body         string        `json:"body" yaml:"body"`
	ResponseTime time.Duration `json:"responseTime" yaml:"responseTime"`
	Size         int64         `json:"responseSize" yaml:"responseSize"`
}

// ResponseObject exposes a ResponseView to scripts.
type ResponseObject struct {
	view *ResponseView
}

// NewResponseObject wraps view.
func NewResponseObject(view *ResponseView) *ResponseObject {
	return &ResponseObject{view: view}
}

func (o *ResponseObject) Kind() string { return "response" }

func (o *ResponseObject) Invoke(method string, args []any) (any, error) {
	switch method {
	case "snapshot":
		return o.snapshot(), nil
	}
	return nil, &UnknownMethodError{Kind: o.Kind(), Method: method}
}

func (o *ResponseObject) snapshot() map[string]any {
	v := o.view
	status := v.Status
	if status == "" {
		status = http.StatusText(v.Code)
	}
	size := v.Size
	if size == 0 {
		size = int64(len(v.Body))
	}
	headers := v.Headers
	if headers == nil {
		headers = []KeyValue{}
	}
	return map[string]any{
		"code":         v.Code,
		"status":       status,
		"headers":      headers,
		"body":         v.Body,
		"responseTime": v.ResponseTime.Milliseconds(),
		"responseSize": size,
	}
}
