// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package scriptapi

import (
	"errors"
	"testing"
	"time"

	"github.com/buke/reqscript/variables"
	"github.com/stretchr/testify/require"
)

func TestRequestView_SetURLSplitsQuery(t *testing.T) {
	view := &RequestView{}
	view.SetURL("https://api.example.com/items?page=2&q=a%20b&flag")
	require.Equal(t, "https://api.example.com/items", view.URL)
	require.Equal(t, []KeyValue{
		{Key: "page", Value: "2"},
		{Key: "q", Value: "a b"},
		{Key: "flag"},
	}, view.Query)

	view.Query[0].Disabled = true
	require.Equal(t, "https://api.example.com/items?q=a b&flag", view.FullURL())
}

func TestRequestView_ResolveWith(t *testing.T) {
	env := variables.NewEnvironment("e", "dev",
		variables.Variable{Key: "host", Value: "api.local", Enabled: true},
		variables.Variable{Key: "token", Value: "t0k", Enabled: true},
	)
	r := variables.NewResolver(nil, env)
	view := &RequestView{
		Method:  "GET",
		URL:     "https://{{host}}/v1",
		Headers: []KeyValue{{Key: "Authorization", Value: "Bearer {{token}}"}},
		Body:    Body{Mode: BodyRaw, Raw: `{"missing": "{{nope}}"}`},
	}
	out := view.ResolveWith(r)
	require.Equal(t, "https://api.local/v1", out.URL)
	require.Equal(t, "Bearer t0k", out.Headers[0].Value)
	require.Equal(t, `{"missing": "{{nope}}"}`, out.Body.Raw)
	require.Equal(t, "https://{{host}}/v1", view.URL)
}

func TestRequestObject_ListOperations(t *testing.T) {
	view := &RequestView{Method: "get", Headers: []KeyValue{{Key: "Accept", Value: "text/plain"}}}
	obj := NewRequestObject(view)

	_, err := obj.Invoke("headers.add", []any{map[string]any{"key": "X-Trace", "value": "1"}})
	require.NoError(t, err)
	_, err = obj.Invoke("headers.add", []any{"X-Trace", "2"})
	require.NoError(t, err)
	_, err = obj.Invoke("headers.upsert", []any{map[string]any{"key": "accept", "value": "application/json"}})
	require.NoError(t, err)

	v, err := obj.Invoke("headers.get", []any{"ACCEPT"})
	require.NoError(t, err)
	require.Equal(t, "application/json", v)

	has, _ := obj.Invoke("headers.has", []any{"x-trace", "2"})
	require.Equal(t, true, has)

	_, err = obj.Invoke("headers.remove", []any{"x-trace"})
	require.NoError(t, err)
	require.Equal(t, []KeyValue{{Key: "Accept", Value: "application/json"}}, view.Headers)

	_, err = obj.Invoke("setMethod", []any{"post"})
	require.NoError(t, err)
	require.Equal(t, "POST", view.Method)

	_, err = obj.Invoke("setUrl", []any{"http://h/p?x=1"})
	require.NoError(t, err)
	_, err = obj.Invoke("query.add", []any{"y", "2"})
	require.NoError(t, err)
	u, _ := obj.Invoke("getUrl", nil)
	require.Equal(t, "http://h/p?x=1&y=2", u)

	_, err = obj.Invoke("cookies.add", nil)
	var unknown *UnknownMethodError
	require.True(t, errors.As(err, &unknown))
}

func TestRequestObject_Body(t *testing.T) {
	view := &RequestView{Body: Body{Mode: BodyNone}}
	obj := NewRequestObject(view)

	_, err := obj.Invoke("body.raw", []any{`{"a":1}`})
	require.NoError(t, err)
	require.Equal(t, Body{Mode: BodyRaw, Raw: `{"a":1}`}, view.Body)

	_, err = obj.Invoke("body.set", []any{map[string]any{
		"mode":       "urlencoded",
		"urlencoded": []any{map[string]any{"key": "a", "value": "b"}},
	}})
	require.NoError(t, err)
	require.Equal(t, BodyURLEncoded, view.Body.Mode)
	require.Equal(t, []KeyValue{{Key: "a", Value: "b"}}, view.Body.URLEncoded)

	_, err = obj.Invoke("body.set", []any{map[string]any{"mode": "graphql"}})
	require.Error(t, err)
}

func TestResponseObject_Snapshot(t *testing.T) {
	obj := NewResponseObject(&ResponseView{
		Code:         201,
		Headers:      []KeyValue{{Key: "Content-Type", Value: "application/json"}},
		Body:         `{"id":7}`,
		ResponseTime: 120 * time.Millisecond,
	})
	v, err := obj.Invoke("snapshot", nil)
	require.NoError(t, err)
	snap := v.(map[string]any)
	require.Equal(t, "Created", snap["status"])
	require.Equal(t, int64(120), snap["responseTime"])
	require.Equal(t, int64(8), snap["responseSize"])

	_, err = obj.Invoke("setCode", []any{float64(500)})
	require.Error(t, err)
}

func TestVariableObjects(t *testing.T) {
	env := variables.NewEnvironment("e", "dev", variables.Variable{Key: "a", Value: "env", Enabled: true})
	r := variables.NewResolver(nil, env)
	envObj := NewEnvironmentObject(env)
	varsObj := NewVariablesObject(r)

	_, err := envObj.Invoke("set", []any{"n", float64(42)})
	require.NoError(t, err)
	v, _ := envObj.Invoke("get", []any{"n"})
	require.Equal(t, "42", v)

	_, err = envObj.Invoke("set", []any{"obj", map[string]any{"k": "v"}})
	require.NoError(t, err)
	v, _ = envObj.Invoke("get", []any{"obj"})
	require.Equal(t, `{"k":"v"}`, v)

	_, err = varsObj.Invoke("set", []any{"a", "temp"})
	require.NoError(t, err)
	v, _ = varsObj.Invoke("get", []any{"a"})
	require.Equal(t, "temp", v)
	v, _ = envObj.Invoke("get", []any{"a"})
	require.Equal(t, "env", v)

	replaced, _ := varsObj.Invoke("replaceIn", []any{"{{a}}-{{n}}"})
	require.Equal(t, "temp-42", replaced)

	missing, _ := envObj.Invoke("get", []any{"missing"})
	require.Nil(t, missing)

	_, err = varsObj.Invoke("clear", nil)
	require.NoError(t, err)
	v, _ = varsObj.Invoke("get", []any{"a"})
	require.Equal(t, "env", v)

	_, err = envObj.Invoke("unset", []any{"a"})
	require.NoError(t, err)
	has, _ := envObj.Invoke("has", []any{"a"})
	require.Equal(t, false, has)
}

func TestTestRecorder(t *testing.T) {
	rec := NewTestRecorder()
	_, err := rec.Invoke("record", []any{"ok", true, "ignored"})
	require.NoError(t, err)
	_, err = rec.Invoke("record", []any{"bad", false, "expected 1 to deeply equal 2"})
	require.NoError(t, err)
	_, err = rec.Invoke("record", []any{"short"})
	require.Error(t, err)

	require.Equal(t, []TestResult{
		{Name: "ok", Passed: true},
		{Name: "bad", Passed: false, Message: "expected 1 to deeply equal 2"},
	}, rec.Results())
	require.Equal(t, 1, rec.Failed())
}

func TestConsoleObject_LineBuffering(t *testing.T) {
	type line struct{ level, text string }
	var lines []line
	c := NewConsoleObject(func(level, text string) {
		lines = append(lines, line{level, text})
	})

	c.WriteLevel("log", "hello ")
	c.WriteLevel("log", "world\nsecond\r\nthi")
	require.Equal(t, []line{{"log", "hello world"}, {"log", "second"}}, lines)

	c.WriteLevel("error", "boom\n")
	require.Equal(t, []line{{"log", "hello world"}, {"log", "second"}, {"log", "thi"}, {"error", "boom"}}, lines)

	_, _ = c.Write([]byte("tail"))
	c.Flush()
	c.Flush()
	require.Equal(t, line{"log", "tail"}, lines[len(lines)-1])
	require.Len(t, lines, 5)
}
