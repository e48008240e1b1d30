// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package scriptapi

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/buke/reqscript/variables"
)

// Body modes.
const (
	BodyNone       = "none"
	BodyRaw        = "raw"
	BodyURLEncoded = "urlencoded"
	BodyFormData   = "formdata"
)

// KeyValue is one entry of an ordered header, query or form list.
type KeyValue struct {
	Key      string `json:"key" yaml:"key"`
	Value    string `json:"value" yaml:"value"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"` // form-data only: "text" or "file"
}

// Body is the request payload.
type Body struct {
	Mode       string     `json:"mode" yaml:"mode"`
	Raw        string     `json:"raw" yaml:"raw"`
	URLEncoded []KeyValue `json:"urlencoded" yaml:"urlencoded"`
	FormData   []KeyValue `json:"formdata" yaml:"formdata"`
}

// RequestView is the outgoing request as scripts see it. Pre-request scripts
// mutate it in place; the caller sends the mutated view. URL holds the address
// without its query string, which lives in Query.
type RequestView struct {
	ID      string     `json:"id" yaml:"id"`
	Name    string     `json:"name" yaml:"name"`
	Method  string     `json:"method" yaml:"method"`
	URL     string     `json:"url" yaml:"url"`
	Headers []KeyValue `json:"headers" yaml:"headers"`
	Query   []KeyValue `json:"query" yaml:"query"`
	Body    Body       `json:"body" yaml:"body"`
}

// SetURL stores raw, moving its query string into Query.
func (r *RequestView) SetURL(raw string) {
	base, query, found := strings.Cut(raw, "?")
	r.URL = base
	if !found {
		r.Query = nil
		return
	}
	r.Query = parseQuery(query)
}

// FullURL returns URL with the enabled query parameters appended. Values are
// written as stored so unresolved placeholders survive.
func (r *RequestView) FullURL() string {
	var parts []string
	for _, kv := range r.Query {
		if kv.Disabled {
			continue
		}
		if kv.Value == "" && kv.Key != "" {
			parts = append(parts, kv.Key)
			continue
		}
		parts = append(parts, kv.Key+"="+kv.Value)
	}
	if len(parts) == 0 {
		return r.URL
	}
	return r.URL + "?" + strings.Join(parts, "&")
}

// ResolveWith returns a copy with every placeholder substituted through res.
func (r *RequestView) ResolveWith(res *variables.Resolver) *RequestView {
	resolveList := func(in []KeyValue) []KeyValue {
		if in == nil {
			return nil
		}
		out := make([]KeyValue, len(in))
		for i, kv := range in {
			out[i] = KeyValue{
				Key:      res.Resolve(kv.Key),
				Value:    res.Resolve(kv.Value),
				Disabled: kv.Disabled,
				Type:     kv.Type,
			}
		}
		return out
	}
	return &RequestView{
		ID:      r.ID,
		Name:    r.Name,
		Method:  r.Method,
		URL:     res.Resolve(r.URL),
		Headers: resolveList(r.Headers),
		Query:   resolveList(r.Query),
		Body: Body{
			Mode:       r.Body.Mode,
			Raw:        res.Resolve(r.Body.Raw),
			URLEncoded: resolveList(r.Body.URLEncoded),
			FormData:   resolveList(r.Body.FormData),
		},
	}
}

func parseQuery(query string) []KeyValue {
	var out []KeyValue
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		out = append(out, KeyValue{Key: k, Value: v})
	}
	return out
}

// RequestObject exposes a RequestView to scripts. Methods on lists are named
// "<list>.<op>" where list is headers, query, urlencoded or formdata.
type RequestObject struct {
	mu   sync.Mutex
	view *RequestView
}

// NewRequestObject wraps view; mutations are applied to view directly.
func NewRequestObject(view *RequestView) *RequestObject {
	return &RequestObject{view: view}
}

func (o *RequestObject) Kind() string { return "request" }

// View returns the wrapped request.
func (o *RequestObject) View() *RequestView { return o.view }

func (o *RequestObject) Invoke(method string, args []any) (any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch method {
	case "snapshot":
		return map[string]any{
			"id":     o.view.ID,
			"name":   o.view.Name,
			"method": o.view.Method,
			"url":    o.view.FullURL(),
		}, nil
	case "getUrl":
		return o.view.FullURL(), nil
	case "setUrl":
		o.view.SetURL(argString(args, 0))
		return nil, nil
	case "getMethod":
		return o.view.Method, nil
	case "setMethod":
		o.view.Method = strings.ToUpper(argString(args, 0))
		return nil, nil
	case "body.get":
		return o.view.Body, nil
	case "body.set":
		return nil, o.setBody(arg(args, 0))
	case "body.raw":
		o.view.Body.Raw = argString(args, 0)
		if o.view.Body.Mode == "" || o.view.Body.Mode == BodyNone {
			o.view.Body.Mode = BodyRaw
		}
		return nil, nil
	}

	listName, op, ok := strings.Cut(method, ".")
	if !ok {
		return nil, &UnknownMethodError{Kind: o.Kind(), Method: method}
	}
	list, foldCase := o.list(listName)
	if list == nil {
		return nil, &UnknownMethodError{Kind: o.Kind(), Method: method}
	}
	return invokeList(list, foldCase, op, args)
}

func (o *RequestObject) list(name string) (*[]KeyValue, bool) {
	switch name {
	case "headers":
		return &o.view.Headers, true
	case "query":
		return &o.view.Query, false
	case "urlencoded":
		return &o.view.Body.URLEncoded, false
	case "formdata":
		return &o.view.Body.FormData, false
	}
	return nil, false
}

func (o *RequestObject) setBody(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		// A bare string replaces the raw body
		o.view.Body = Body{Mode: BodyRaw, Raw: stringify(v)}
		return nil
	}
	body := Body{Mode: stringify(m["mode"])}
	if body.Mode == "" {
		body.Mode = BodyRaw
	}
	switch body.Mode {
	case BodyRaw:
		body.Raw = stringify(m["raw"])
	case BodyURLEncoded:
		body.URLEncoded = toKeyValues(m["urlencoded"])
	case BodyFormData:
		body.FormData = toKeyValues(m["formdata"])
	case BodyNone:
	default:
		return fmt.Errorf("unsupported body mode %q", body.Mode)
	}
	o.view.Body = body
	return nil
}

// invokeList runs one ordered-list operation. Header keys compare case-insensitively.
func invokeList(list *[]KeyValue, foldCase bool, op string, args []any) (any, error) {
	match := func(a, b string) bool {
		if foldCase {
			return strings.EqualFold(a, b)
		}
		return a == b
	}

	switch op {
	case "all":
		out := make([]KeyValue, 0, len(*list))
		return append(out, *list...), nil
	case "get":
		key := argString(args, 0)
		for _, kv := range *list {
			if !kv.Disabled && match(kv.Key, key) {
				return kv.Value, nil
			}
		}
		return nil, nil
	case "has":
		key := argString(args, 0)
		for _, kv := range *list {
			if kv.Disabled || !match(kv.Key, key) {
				continue
			}
			if len(args) < 2 || kv.Value == argString(args, 1) {
				return true, nil
			}
		}
		return false, nil
	case "add":
		if err := requireArgs("list", op, args, 1); err != nil {
			return nil, err
		}
		*list = append(*list, toKeyValue(args))
		return nil, nil
	case "upsert":
		if err := requireArgs("list", op, args, 1); err != nil {
			return nil, err
		}
		kv := toKeyValue(args)
		for i := range *list {
			if match((*list)[i].Key, kv.Key) {
				(*list)[i].Value = kv.Value
				(*list)[i].Disabled = kv.Disabled
				return nil, nil
			}
		}
		*list = append(*list, kv)
		return nil, nil
	case "remove":
		key := argString(args, 0)
		kept := (*list)[:0]
		for _, kv := range *list {
			if !match(kv.Key, key) {
				kept = append(kept, kv)
			}
		}
		*list = kept
		return nil, nil
	case "clear":
		*list = nil
		return nil, nil
	}
	return nil, &UnknownMethodError{Kind: "list", Method: op}
}

// toKeyValue accepts either ({key, value, disabled}) or (key, value).
func toKeyValue(args []any) KeyValue {
	if m, ok := arg(args, 0).(map[string]any); ok {
		return mapToKeyValue(m)
	}
	return KeyValue{Key: argString(args, 0), Value: argString(args, 1)}
}

func mapToKeyValue(m map[string]any) KeyValue {
	kv := KeyValue{
		Key:   stringify(m["key"]),
		Value: stringify(m["value"]),
		Type:  stringify(m["type"]),
	}
	if d, ok := m["disabled"].(bool); ok {
		kv.Disabled = d
	}
	return kv
}

func toKeyValues(v any) []KeyValue {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]KeyValue, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, mapToKeyValue(m))
		}
	}
	return out
}
