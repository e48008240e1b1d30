// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/buke/reqscript/library"
	"github.com/buke/reqscript/scriptapi"
	"github.com/buke/reqscript/variables"
)

// ExecutorOption contains configuration options for the script executor
type ExecutorOption struct {
	minPoolSize    uint32        // Handles pre-warmed by Start
	maxPoolSize    uint32        // Maximum number of live handles
	acquireTimeout time.Duration // How long Execute waits for a handle
	executeTimeout time.Duration // Per-script budget, 0 disables
	maxUses        uint32        // Executions per handle before it is retired, 0 = unlimited
	idleTTL        time.Duration // Idle time after which a handle is retired, 0 = never
}

// Executor runs request-cycle scripts on pooled runtimes.
type Executor struct {
	options       *ExecutorOption
	pool          *Pool
	engineFactory JsRuntimeFactory
	injector      *Injector

	loader      *library.Loader
	eager       map[string]string
	initScripts []*JsScript

	store     EnvironmentStore
	presenter FaultPresenter
	output    OutputSink

	logger *slog.Logger // Logger instance
}

// NewExecutor creates an executor with the given options. WithJsRuntime is required.
func NewExecutor(opts ...func(*Executor)) (*Executor, error) {
	cpuCount := runtime.GOMAXPROCS(0)

	executor := &Executor{
		logger: slog.Default(), // Default logger
		eager:  DefaultEagerLibraries(),
		options: &ExecutorOption{
			minPoolSize:    0,
			maxPoolSize:    uint32(cpuCount), // Default to CPU count
			acquireTimeout: 5 * time.Second,
			executeTimeout: 30 * time.Second,
		},
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(executor)
	}

	// JavaScript runtime factory is required
	if executor.engineFactory == nil {
		return nil, fmt.Errorf("JavaScript runtime factory must be provided")
	}

	if executor.loader == nil {
		loader, err := library.NewLoader(library.WithLoaderLogger(executor.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create module loader: %w", err)
		}
		executor.loader = loader
	}
	if executor.output == nil {
		executor.output = LogSink(executor.logger)
	}

	executor.injector = NewInjector(executor.loader, executor.eager, executor.logger)
	executor.injector.SetInitScripts(executor.initScripts)

	executor.pool = NewPool(executor.engineFactory,
		WithPoolMaxSize(executor.options.maxPoolSize),
		WithPoolMinSize(executor.options.minPoolSize),
		WithPoolMaxUses(executor.options.maxUses),
		WithPoolIdleTTL(executor.options.idleTTL),
		WithPoolPrepare(executor.injector.Prepare),
		WithPoolLogger(executor.logger),
	)
	return executor, nil
}

// WithJsRuntime configures the JavaScript runtime factory
func WithJsRuntime(factory JsRuntimeFactory) func(*Executor) {
	return func(executor *Executor) {
		executor.engineFactory = factory
	}
}

// WithLogger configures the logger for the executor
func WithLogger(logger *slog.Logger) func(*Executor) {
	return func(executor *Executor) {
		if logger != nil {
			executor.logger = logger
		}
	}
}

func WithMinPoolSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		executor.options.minPoolSize = size
	}
}

func WithMaxPoolSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		if size > 0 {
			executor.options.maxPoolSize = size
		}
	}
}

func WithAcquireTimeout(timeout time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if timeout >= 0 {
			executor.options.acquireTimeout = timeout
		}
	}
}

// WithExecuteTimeout sets the per-script budget; 0 disables it.
func WithExecuteTimeout(timeout time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if timeout >= 0 {
			executor.options.executeTimeout = timeout
		}
	}
}

func WithMaxUses(n uint32) func(*Executor) {
	return func(executor *Executor) {
		executor.options.maxUses = n
	}
}

func WithIdleTTL(ttl time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if ttl > 0 {
			executor.options.idleTTL = ttl
		}
	}
}

func WithEnvironmentStore(store EnvironmentStore) func(*Executor) {
	return func(executor *Executor) {
		executor.store = store
	}
}

func WithFaultPresenter(presenter FaultPresenter) func(*Executor) {
	return func(executor *Executor) {
		executor.presenter = presenter
	}
}

func WithOutputSink(sink OutputSink) func(*Executor) {
	return func(executor *Executor) {
		executor.output = sink
	}
}

// WithLibraryLoader replaces the module loader used by require.
func WithLibraryLoader(loader *library.Loader) func(*Executor) {
	return func(executor *Executor) {
		executor.loader = loader
	}
}

// WithEagerLibraries replaces the globals assigned from modules on every new
// runtime. An empty map disables eager loading.
func WithEagerLibraries(eager map[string]string) func(*Executor) {
	return func(executor *Executor) {
		executor.eager = eager
	}
}

// WithInitScripts configures scripts run once on every new runtime
func WithInitScripts(scripts ...*JsScript) func(*Executor) {
	return func(executor *Executor) {
		executor.initScripts = scripts
	}
}

// Start pre-warms the pool.
func (e *Executor) Start() error {
	if e.pool == nil {
		return fmt.Errorf("runtime pool is not initialized")
	}
	return e.pool.Start()
}

// Stop shuts the pool down. Scripts still running finish on their own handles,
// which are destroyed when released.
func (e *Executor) Stop() error {
	if e.pool == nil {
		return fmt.Errorf("runtime pool is not initialized")
	}
	e.pool.Shutdown()
	return nil
}

// Reload replaces the init scripts, when given, and retires every idle runtime
// so that later executions run on freshly prepared ones.
func (e *Executor) Reload(scripts ...*JsScript) error {
	if e.pool == nil {
		return fmt.Errorf("runtime pool is not initialized")
	}
	if len(scripts) > 0 {
		e.injector.SetInitScripts(scripts)
	}
	e.loader.Purge()
	return e.pool.Reload()
}

// Pool returns the executor's runtime pool.
func (e *Executor) Pool() *Pool {
	return e.pool
}

// Loader returns the module loader behind require.
func (e *Executor) Loader() *library.Loader {
	return e.loader
}

// Execute runs one script. It never returns nil; failures are described by the
// result and, when ec.ShowErrorDialog is set, handed to the fault presenter.
func (e *Executor) Execute(ctx context.Context, ec *ExecutionContext) *ExecutionResult {
	result := e.execute(ctx, ec)
	if !result.Success && ec.ShowErrorDialog && e.presenter != nil {
		e.presenter.PresentScriptFault(ec.Kind, result.Error)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, ec *ExecutionContext) *ExecutionResult {
	started := time.Now()
	if strings.TrimSpace(ec.Script) == "" {
		return &ExecutionResult{Success: true}
	}

	fileName := ec.FileName
	if fileName == "" {
		fileName = ec.Kind.String() + ".js"
	}
	sink := ec.Output
	if sink == nil {
		sink = e.output
	}

	recorder := scriptapi.NewTestRecorder()
	console := scriptapi.NewConsoleObject(func(level, line string) {
		if sink != nil {
			sink(ConsoleLine{Kind: ec.Kind, Level: level, Text: line})
		}
	})

	fail := func(err error) *ExecutionResult {
		console.Flush()
		return &ExecutionResult{
			Success:  false,
			Tests:    recorder.Results(),
			Error:    err.Error(),
			Fault:    err,
			Duration: time.Since(started),
		}
	}

	bindings, err := newBindingSet(ec.Bindings, recorder, console)
	if err != nil {
		return fail(err)
	}

	h, err := e.pool.Acquire(ctx, e.options.acquireTimeout)
	if err != nil {
		return fail(err)
	}
	defer e.pool.Release(h)

	if err := h.Install(bindings.targets, bindings.globals, bindings.installScript()); err != nil {
		return fail(fmt.Errorf("failed to install script bindings: %w", err))
	}

	runErr := h.Eval(&JsScript{Content: wrapScript(ec.Script), FileName: fileName}, e.options.executeTimeout)
	console.Flush()

	result := &ExecutionResult{
		Tests:    recorder.Results(),
		Duration: time.Since(started),
	}
	if runErr != nil {
		var se *ScriptError
		if errors.As(runErr, &se) && se.Line > 0 {
			se.Line -= wrapperLines
		}
		result.Fault = runErr
		result.Error = runErr.Error()
		return result
	}
	if failed := recorder.Failed(); failed > 0 {
		result.Error = fmt.Sprintf("%d of %d tests failed", failed, len(result.Tests))
		return result
	}
	result.Success = true
	return result
}

// wrapperLines is the number of lines wrapScript adds before the body.
const wrapperLines = 1

// wrapScript runs the body inside a function so top-level declarations stay
// local to one execution, then records legacy tests and runs queued timers.
// The finish step also runs when the body throws; its own fault never replaces
// the body's.
func wrapScript(body string) string {
	return "(function (g) { var ok = false; try { (function () {\n" + body +
		"\n}).call(g); ok = true; } finally { if (ok) { __pmFinish(); } else { try { __pmFinish(); } catch (e) {} } } })(this);"
}

// RunPreScript runs a pre-request script. It returns false when the request
// must not be sent. Failures are reported to the fault presenter.
func (e *Executor) RunPreScript(ctx context.Context, script string, scope *Scope) (bool, *ExecutionResult) {
	scope = e.normalizeScope(scope)
	if scope.Info.EventName == "" {
		scope.Info.EventName = "prerequest"
	}
	result := e.Execute(ctx, &ExecutionContext{
		Script:          script,
		Kind:            PreRequest,
		Bindings:        ScopeBindings(scope),
		ShowErrorDialog: true,
	})
	if !result.Success {
		e.logger.Warn("Pre-request script failed",
			"request", scope.Info.RequestName,
			"error", result.Error)
		return false, result
	}
	return true, result
}

// RunPostScript runs a post-response script. Failures are logged and returned;
// on success the active environment is persisted.
func (e *Executor) RunPostScript(ctx context.Context, script string, scope *Scope) *ExecutionResult {
	scope = e.normalizeScope(scope)
	if scope.Info.EventName == "" || scope.Info.EventName == "prerequest" {
		scope.Info.EventName = "test"
	}
	result := e.Execute(ctx, &ExecutionContext{
		Script:   script,
		Kind:     PostResponse,
		Bindings: ScopeBindings(scope),
	})
	if !result.Success {
		e.logger.Warn("Post-response script failed",
			"request", scope.Info.RequestName,
			"error", result.Error)
		return result
	}

	env := scope.Resolver.Environment()
	if e.store != nil && env != nil && !env.Ephemeral() && strings.TrimSpace(script) != "" {
		if err := e.store.Save(env); err != nil {
			e.logger.Warn("Failed to save environment",
				"environment", env.Name(),
				"error", err)
		}
	}
	return result
}

// normalizeScope fills in a resolver from the environment store. A store
// failure or a missing active environment yields an ephemeral environment.
func (e *Executor) normalizeScope(scope *Scope) *Scope {
	if scope == nil {
		scope = &Scope{}
	}
	if scope.Resolver != nil && scope.Resolver.Environment() != nil {
		return scope
	}

	var temps *variables.Temporaries
	if scope.Resolver != nil {
		temps = scope.Resolver.Temporaries()
	}

	var env *variables.Environment
	if e.store != nil {
		active, err := e.store.GetActive()
		if err != nil {
			e.logger.Warn("Failed to load active environment", "error", err)
		}
		env = active
	}
	if env == nil {
		env = variables.NewEphemeralEnvironment()
	}
	scope.Resolver = variables.NewResolver(temps, env)
	return scope
}
