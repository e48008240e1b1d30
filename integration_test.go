// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buke/reqscript"
	"github.com/buke/reqscript/envstore"
	"github.com/buke/reqscript/fragments"
	"github.com/buke/reqscript/scriptapi"
	"github.com/buke/reqscript/variables"
	"github.com/stretchr/testify/require"
)

// consoleCapture collects console lines from every execution.
type consoleCapture struct {
	mu    sync.Mutex
	lines []reqscript.ConsoleLine
}

func (c *consoleCapture) sink(line reqscript.ConsoleLine) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *consoleCapture) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.Level + ":" + l.Text
	}
	return out
}

func newIntegrationExecutor(t *testing.T, factory reqscript.JsRuntimeFactory, opts ...func(*reqscript.Executor)) *reqscript.Executor {
	t.Helper()
	executor, err := reqscript.NewExecutor(append([]func(*reqscript.Executor){
		reqscript.WithJsRuntime(factory),
		reqscript.WithMaxPoolSize(1),
	}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, executor.Start())
	t.Cleanup(func() { _ = executor.Stop() })
	return executor
}

func runTest(executor *reqscript.Executor, script string) *reqscript.ExecutionResult {
	return executor.Execute(context.Background(), &reqscript.ExecutionContext{
		Kind:   reqscript.Test,
		Script: script,
	})
}

// runIntegrationScenarios exercises the scripting surface against one engine.
func runIntegrationScenarios(t *testing.T, factory reqscript.JsRuntimeFactory) {
	t.Run("EnvironmentRoundTrip", func(t *testing.T) {
		store := envstore.NewMemoryStore(variables.NewEnvironment("dev", "Development"))
		executor := newIntegrationExecutor(t, factory, reqscript.WithEnvironmentStore(store))

		scope := &reqscript.Scope{Request: &scriptapi.RequestView{Method: "GET", URL: "https://example.com"}}
		ok, pre := executor.RunPreScript(context.Background(), `pm.environment.set('x', '1')`, scope)
		require.True(t, ok, pre.Error)

		scope.Response = &scriptapi.ResponseView{Code: 200, Status: "OK", Body: "{}"}
		post := executor.RunPostScript(context.Background(), `
			pm.test("env", function () { pm.expect(pm.environment.get('x')).to.equal('1'); });
		`, scope)
		require.True(t, post.Success, post.Error)
		require.Equal(t, 1, post.Passed())

		env, err := store.GetActive()
		require.NoError(t, err)
		v, ok := env.Get("x")
		require.True(t, ok)
		require.Equal(t, "1", v)
		require.Equal(t, 1, store.Saves())
	})

	t.Run("PassingAndFailingTests", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		result := runTest(executor, `
			pm.test('ok', function () { pm.expect(1).to.eql(1); });
			pm.test('bad', function () { pm.expect(1).to.eql(2); });
		`)
		require.False(t, result.Success)
		require.Error(t, result.Fault, "a failed pm.test fails the script")
		require.Len(t, result.Tests, 2)
		require.Equal(t, "ok", result.Tests[0].Name)
		require.True(t, result.Tests[0].Passed)
		require.Equal(t, "bad", result.Tests[1].Name)
		require.False(t, result.Tests[1].Passed)
		require.NotEmpty(t, result.Tests[1].Message)
		require.Equal(t, 1, result.Failed())
	})

	t.Run("FailedLegacyTestWithoutFault", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		result := runTest(executor, `
			pm.test('ok', function () {});
			var flag = true;
			tests['flag'] = !flag;
		`)
		require.False(t, result.Success)
		require.Nil(t, result.Fault)
		require.Equal(t, "1 of 2 tests failed", result.Error)
	})

	t.Run("LegacyTestsObject", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		result := runTest(executor, `
			tests["status is fine"] = typeof responseCode === "undefined";
			tests["never"] = false;
		`)
		require.False(t, result.Success)
		require.Equal(t, 1, result.Passed())
		require.Equal(t, 1, result.Failed())
	})

	t.Run("ShadowedBindingsDoNotLeak", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)

		for _, script := range []string{
			`let pm = "mine"; const tests = 1; var console = null;`,
			`pm = undefined; postman = 1;`,
		} {
			result := runTest(executor, script)
			require.True(t, result.Success, result.Error)
		}

		result := runTest(executor, `
			pm.test("pm is intact", function () {
				pm.expect(typeof pm.expect).to.equal("function");
				pm.expect(typeof postman.setEnvironmentVariable).to.equal("function");
			});
			console.log("still here");
		`)
		require.True(t, result.Success, result.Error)
		require.Equal(t, 1, result.Passed())

		stats := executor.Pool().Stats()
		require.Equal(t, uint64(1), stats.Created)
		require.Equal(t, uint64(2), stats.Reused)
	})

	t.Run("StrayGlobalsAreRemoved", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		require.True(t, runTest(executor, `leaked = 42; globalThis.other = { a: 1 };`).Success)

		result := runTest(executor, `
			pm.test("clean", function () {
				pm.expect(typeof leaked).to.equal("undefined");
				pm.expect(typeof other).to.equal("undefined");
				pm.expect(typeof CryptoJS).to.equal("object");
			});
		`)
		require.True(t, result.Success, result.Error)
	})

	t.Run("Timeout", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory, reqscript.WithExecuteTimeout(200*time.Millisecond))
		result := runTest(executor, `for (;;) {}`)
		require.False(t, result.Success)
		require.True(t, errors.Is(result.Fault, reqscript.ErrScriptTimeout), result.Error)

		result = runTest(executor, `pm.test("after timeout", function () {});`)
		require.True(t, result.Success, result.Error)
		require.Equal(t, uint64(1), executor.Pool().Stats().Destroyed)
	})

	t.Run("ErrorLineNumbers", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		result := runTest(executor, "var a = 1;\n\nnull.boom;\n")
		require.False(t, result.Success)

		var se *reqscript.ScriptError
		require.True(t, errors.As(result.Fault, &se), "expected a ScriptError, got %v", result.Fault)
		require.Equal(t, "TypeError", se.Name)
		require.Equal(t, 3, se.Line)

		result = runTest(executor, `throw new Error("custom failure");`)
		require.True(t, errors.As(result.Fault, &se))
		require.Contains(t, se.Message, "custom failure")
	})

	t.Run("Libraries", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		result := runTest(executor, `
			var _ = require("lodash");
			var CryptoJS = require("crypto-js");
			var moment = require("moment");
			pm.test("lodash", function () { pm.expect(_.chunk([1, 2, 3], 2)).to.eql([[1, 2], [3]]); });
			pm.test("md5", function () {
				pm.expect(CryptoJS.MD5("abc").toString()).to.equal("900150983cd24fb0d6963f7d28e17f72");
			});
			pm.test("hmac", function () {
				var mac = CryptoJS.HmacSHA256("data", "key").toString(CryptoJS.enc.Hex);
				pm.expect(mac).to.equal("5031fe3d989c6d1537a013fa6e739da23463fdaec3b70137d828e36ace221bd0");
			});
			pm.test("base64", function () {
				pm.expect(btoa("hello")).to.equal("aGVsbG8=");
				pm.expect(atob("aGVsbG8=")).to.equal("hello");
			});
			pm.test("moment", function () { pm.expect(moment.utc(0).format("YYYY")).to.equal("1970"); });
			pm.test("uuid", function () { pm.expect(uuid.v4()).to.match(/^[0-9a-f-]{36}$/); });
		`)
		require.True(t, result.Success, result.Error)
		require.Equal(t, 6, result.Passed())

		result = runTest(executor, `require("no-such-module");`)
		require.False(t, result.Success)
		require.Contains(t, result.Error, "no-such-module")
	})

	t.Run("ConsoleOutput", func(t *testing.T) {
		capture := &consoleCapture{}
		executor := newIntegrationExecutor(t, factory, reqscript.WithOutputSink(capture.sink))
		result := runTest(executor, `
			console.log("a", 1, { b: 2 });
			console.warn("careful");
			console.error("multi\nline");
		`)
		require.True(t, result.Success, result.Error)
		require.Equal(t, []string{
			`log:a 1 {"b":2}`,
			"warn:careful",
			"error:multi",
			"error:line",
		}, capture.texts())
	})

	t.Run("RequestMutation", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		scope := &reqscript.Scope{
			Request: &scriptapi.RequestView{
				Name:    "login",
				Method:  "GET",
				URL:     "https://{{host}}/login",
				Headers: []scriptapi.KeyValue{{Key: "Accept", Value: "text/plain"}},
			},
			Info: scriptapi.Info{RequestName: "login"},
		}
		ok, result := executor.RunPreScript(context.Background(), `
			pm.variables.set("host", "api.example.com");
			pm.request.method = "POST";
			pm.request.headers.upsert({ key: "Accept", value: "application/json" });
			pm.request.headers.add({ key: "X-Trace", value: "{{$guid}}" });
			pm.request.url.query.add({ key: "page", value: "2" });
			pm.request.body = { mode: "raw", raw: JSON.stringify({ user: pm.info.requestName }) };
		`, scope)
		require.True(t, ok, result.Error)

		req := scope.Request
		require.Equal(t, "POST", req.Method)
		require.Equal(t, "https://{{host}}/login?page=2", req.FullURL())
		require.Equal(t, []scriptapi.KeyValue{
			{Key: "Accept", Value: "application/json"},
			{Key: "X-Trace", Value: "{{$guid}}"},
		}, req.Headers)
		require.Equal(t, scriptapi.BodyRaw, req.Body.Mode)
		require.JSONEq(t, `{"user":"login"}`, req.Body.Raw)

		resolved := req.ResolveWith(scope.Resolver)
		require.Equal(t, "https://api.example.com/login", resolved.URL)
		require.NotEqual(t, "{{$guid}}", resolved.Headers[1].Value)
	})

	t.Run("ResponseAssertions", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		scope := &reqscript.Scope{
			Request: &scriptapi.RequestView{Method: "GET", URL: "https://example.com/items"},
			Response: &scriptapi.ResponseView{
				Code:         200,
				Status:       "OK",
				Headers:      []scriptapi.KeyValue{{Key: "Content-Type", Value: "application/json"}},
				Body:         `{"items":[{"id":1},{"id":2}],"total":2}`,
				ResponseTime: 120 * time.Millisecond,
			},
		}
		result := executor.RunPostScript(context.Background(), `
			pm.test("status", function () { pm.response.to.have.status(200); });
			pm.test("header", function () { pm.response.to.have.header("content-type"); });
			pm.test("json", function () {
				var body = pm.response.json();
				pm.expect(body.items).to.have.lengthOf(2);
				pm.expect(body).to.have.property("total", 2);
			});
			pm.test("time", function () { pm.expect(pm.response.responseTime).to.be.below(1000); });
			pm.test("legacy", function () {
				pm.expect(responseCode.code).to.equal(200);
				pm.expect(JSON.parse(responseBody).total).to.equal(2);
			});
			pm.variables.set("firstId", String(pm.response.json().items[0].id));
		`, scope)
		require.True(t, result.Success, result.Error)
		require.Equal(t, 5, result.Passed())
		v, ok := scope.Resolver.ResolveVariable("firstId")
		require.True(t, ok)
		require.Equal(t, "1", v)
	})

	t.Run("PreScriptFailureBlocksRequest", func(t *testing.T) {
		var presented []string
		executor := newIntegrationExecutor(t, factory, reqscript.WithFaultPresenter(
			reqscript.FaultPresenterFunc(func(kind reqscript.ScriptKind, message string) {
				presented = append(presented, kind.String()+": "+message)
			})))
		ok, result := executor.RunPreScript(context.Background(), `pm.sendRequest("https://example.com");`, nil)
		require.False(t, ok)
		require.Contains(t, result.Error, "pm.sendRequest is not supported")
		require.Len(t, presented, 1)
		require.True(t, strings.HasPrefix(presented[0], "pre-request: "))
	})

	t.Run("CustomBindings", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		env := variables.NewEnvironment("globals", "Globals")
		result := executor.Execute(context.Background(), &reqscript.ExecutionContext{
			Kind:   reqscript.Custom,
			Script: `globals.set("seen", "yes"); pm.test("no request", function () { pm.expect(pm.request).to.be.undefined; });`,
			Bindings: map[string]reqscript.Binding{
				"globals": scriptapi.NewEnvironmentObject(env),
			},
		})
		require.True(t, result.Success, result.Error)
		v, _ := env.Get("seen")
		require.Equal(t, "yes", v)
	})

	t.Run("MergedFragments", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		script, ok := fragments.MergePreRequest(fragments.Chain{
			Collection: fragments.Fragment{Label: "collection", Body: `pm.variables.set("order", "c");`},
			Groups: []fragments.Fragment{
				{Label: "group", Body: `pm.variables.set("order", pm.variables.get("order") + "g");`},
				{Label: "empty", Body: "  "},
			},
			Request: fragments.Fragment{Label: "request", Body: `pm.variables.set("order", pm.variables.get("order") + "r");`},
		})
		require.True(t, ok)

		scope := &reqscript.Scope{Request: &scriptapi.RequestView{Method: "GET"}}
		ok, result := executor.RunPreScript(context.Background(), script, scope)
		require.True(t, ok, result.Error)
		v, _ := scope.Resolver.ResolveVariable("order")
		require.Equal(t, "cgr", v)
	})

	t.Run("Timers", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		result := runTest(executor, `
			var order = [];
			setTimeout(function () { order.push("b"); }, 20);
			setTimeout(function () { order.push("a"); }, 10);
			setTimeout(function () {
				pm.test("timers ran in delay order", function () {
					pm.expect(order).to.eql(["a", "b"]);
				});
			}, 30);
		`)
		require.True(t, result.Success, result.Error)
		require.Equal(t, 1, result.Passed())
	})

	t.Run("FaultKeepsLegacyTestsAndTimers", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory)
		result := runTest(executor, `
			tests["before"] = true;
			setTimeout(function () { pm.test("timer", function () {}); }, 1);
			throw new Error("boom");
		`)
		require.False(t, result.Success)
		require.Error(t, result.Fault)
		require.Contains(t, result.Error, "boom")

		passed := map[string]bool{}
		for _, tr := range result.Tests {
			passed[tr.Name] = tr.Passed
		}
		require.Equal(t, map[string]bool{"before": true, "timer": true}, passed)
	})

	t.Run("ConcurrentExecutions", func(t *testing.T) {
		executor := newIntegrationExecutor(t, factory, reqscript.WithMaxPoolSize(3))
		var wg sync.WaitGroup
		errs := make(chan string, 12)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result := runTest(executor, `pm.test("sum", function () { pm.expect([1, 2, 3].reduce(function (a, b) { return a + b; })).to.equal(6); });`)
				if !result.Success {
					errs <- result.Error
				}
			}()
		}
		wg.Wait()
		close(errs)
		for e := range errs {
			t.Error(e)
		}
		require.LessOrEqual(t, executor.Pool().Stats().Live, 3)
	})
}
