// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buke/reqscript/envstore"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and no .env lookup.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	c := writeFile(t, dir, "collection.js", "var a = 1;")
	g := writeFile(t, dir, "group.js", "var b = 2;")
	r := writeFile(t, dir, "request.js", "var c = 3;")

	out, err := execute(t, "merge", "--collection", c, "--group", g, "--request", r, "--phase", "post")
	require.NoError(t, err)
	require.Equal(t,
		"// ---- request.js ----\nvar c = 3;\n\n// ---- group.js ----\nvar b = 2;\n\n// ---- collection.js ----\nvar a = 1;\n",
		out)

	out, err = execute(t, "merge", "--request", r)
	require.NoError(t, err)
	require.Equal(t, "var c = 3;\n", out)

	_, err = execute(t, "merge", "--phase", "sideways")
	require.ErrorContains(t, err, "unknown phase")
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	envs := writeFile(t, dir, "envs.yaml", `
active: dev
environments:
  - id: dev
    name: Development
    variables:
      - {key: host, value: api.example.com, enabled: true}
      - {key: id, value: from-env, enabled: true}
`)
	t.Setenv("REQSCRIPT_ENVIRONMENTS", envs)

	out, err := execute(t, "resolve", "--set", "id=42", "https://{{host}}/users/{{id}}/{{missing}}")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/users/42/{{missing}}\n", out)

	_, err = execute(t, "resolve", "--set", "novalue", "x")
	require.ErrorContains(t, err, "want key=value")
}

func TestRun_RequestCycle(t *testing.T) {
	dir := t.TempDir()
	envs := filepath.Join(dir, "envs.yaml")
	fs := envstore.NewFileStore(envs)
	require.NoError(t, os.WriteFile(envs, []byte("active: dev\nenvironments:\n  - id: dev\n    name: Dev\n"), 0o644))
	t.Setenv("REQSCRIPT_ENVIRONMENTS", envs)

	pre := writeFile(t, dir, "pre.js", `
		pm.variables.set("token", "abc");
		pm.request.headers.add({ key: "Authorization", value: "Bearer {{token}}" });
		console.log("pre ran");
	`)
	post := writeFile(t, dir, "post.js", `
		pm.test("status", function () { pm.response.to.have.status(201); });
		pm.test("body", function () { pm.expect(pm.response.json().id).to.equal(7); });
		pm.environment.set("lastId", String(pm.response.json().id));
	`)
	req := writeFile(t, dir, "req.yaml", "name: create\nmethod: POST\nurl: https://example.com/items\n")
	res := writeFile(t, dir, "res.yaml", "code: 201\nstatus: Created\nbody: '{\"id\": 7}'\n")

	out, err := execute(t, "--engine", "goja", "run",
		"--pre", pre, "--post", post,
		"--request", req, "--response", res,
		"--print-request")
	require.NoError(t, err, out)
	require.Contains(t, out, "[log] pre ran")
	require.Contains(t, out, "value: Bearer abc")
	require.Contains(t, out, "✓ status")
	require.Contains(t, out, "post-response script: 2 passed, 0 failed")

	require.NoError(t, fs.Reload())
	env, err := fs.GetActive()
	require.NoError(t, err)
	v, _ := env.Get("lastId")
	require.Equal(t, "7", v)
}

func TestRun_Failures(t *testing.T) {
	dir := t.TempDir()
	post := writeFile(t, dir, "post.js", `pm.test("wrong", function () { pm.expect(1).to.eql(2); });`)

	out, err := execute(t, "run", "--post", post)
	require.ErrorContains(t, err, "post-response script failed")
	require.Contains(t, out, "✗ wrong")
	require.True(t, strings.Contains(out, "1 of 1 tests failed") || strings.Contains(out, "0 passed, 1 failed"), out)

	_, err = execute(t, "run")
	require.ErrorContains(t, err, "nothing to run")

	_, err = execute(t, "--engine", "rhino", "run", "--post", post)
	require.ErrorContains(t, err, "invalid configuration")
}
