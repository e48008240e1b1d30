// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package scriptapi

// Info describes the execution a script is part of; it backs pm.info.
type Info struct {
	EventName      string `json:"eventName"` // "prerequest" or "test"
	RequestName    string `json:"requestName"`
	RequestID      string `json:"requestId"`
	Iteration      int    `json:"iteration"`
	IterationCount int    `json:"iterationCount"`
}

// InfoObject exposes Info to scripts.
type InfoObject struct {
	info Info
}

// NewInfoObject wraps a copy of info.
func NewInfoObject(info Info) *InfoObject {
	if info.IterationCount == 0 {
		info.IterationCount = 1
	}
	return &InfoObject{info: info}
}

func (o *InfoObject) Kind() string { return "info" }

func (o *InfoObject) Invoke(method string, args []any) (any, error) {
	if method == "snapshot" {
		return o.info, nil
	}
	return nil, &UnknownMethodError{Kind: o.Kind(), Method: method}
}
