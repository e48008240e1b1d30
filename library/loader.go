// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package library resolves the modules scripts can require: bundled libraries
// by logical name, script files on disk and remote scripts over HTTP.
package library

import (
	"bytes"
	"compress/gzip"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/evanw/esbuild/pkg/api"
)

// ErrModuleNotFound is returned for names that match no bundle, file or URL.
var ErrModuleNotFound = errors.New("module not found")

//go:embed bundles/*.js
var bundleFS embed.FS

// Module is a resolved module source, keyed by its resolved id.
type Module struct {
	ID     string // "bundle:<name>", an absolute file path or a URL
	Source string // CommonJS source
}

var esmPattern = regexp.MustCompile(`(?m)^\s*(import\s+[\w*{]|import\s*['"]|export\s+(default|const|let|var|function|class|async|\{|\*))`)

// Loader resolves and caches module sources. It is shared by all runtimes.
type Loader struct {
	mu    sync.RWMutex
	cache map[string]*Module

	bundles      map[string]string
	aliases      map[string]string
	baseDir      string
	allowFiles   bool
	allowRemote  bool
	client       *http.Client
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBaseDir sets the directory relative module paths are resolved against.
func WithBaseDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.baseDir = dir
	}
}

// WithFileModules enables or disables loading modules from disk.
func WithFileModules(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.allowFiles = enabled
	}
}

// WithRemoteModules enables or disables loading modules over HTTP.
func WithRemoteModules(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.allowRemote = enabled
	}
}

// WithHTTPClient sets the client used for remote modules.
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(l *Loader) {
		if client != nil {
			l.client = client
		}
	}
}

// WithFetchTimeout bounds each remote module fetch.
func WithFetchTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		if timeout > 0 {
			l.fetchTimeout = timeout
		}
	}
}

// WithBundle registers an extra named bundle, replacing a built-in one of the same name.
func WithBundle(name, source string) LoaderOption {
	return func(l *Loader) {
		l.bundles[name] = source
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader with the built-in bundles. File and remote modules
// are enabled by default.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		cache:        make(map[string]*Module),
		bundles:      make(map[string]string),
		allowFiles:   true,
		allowRemote:  true,
		client:       http.DefaultClient,
		fetchTimeout: 15 * time.Second,
		logger:       slog.Default(),
		aliases: map[string]string{
			"cryptojs":     "crypto-js",
			"lodash/fp":    "lodash",
			"moment-js":    "moment",
			"jwt":          "jsonwebtoken",
			"uuid/v4":      "uuid",
			"crypto-js.js": "crypto-js",
		},
	}

	entries, err := bundleFS.ReadDir("bundles")
	if err != nil {
		return nil, fmt.Errorf("failed to read bundled libraries: %w", err)
	}
	for _, entry := range entries {
		data, err := bundleFS.ReadFile(path.Join("bundles", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", entry.Name(), err)
		}
		l.bundles[strings.TrimSuffix(entry.Name(), ".js")] = string(data)
	}

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Names returns the names of all bundled libraries, sorted.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.bundles))
	for name := range l.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bundle returns the source of a bundled library.
func (l *Loader) Bundle(name string) (string, bool) {
	if alias, ok := l.aliases[name]; ok {
		name = alias
	}
	src, ok := l.bundles[name]
	return src, ok
}

// Load resolves name to a module. Sources are cached by resolved id.
func (l *Loader) Load(ctx context.Context, name string) (*Module, error) {
	return l.LoadFrom(ctx, name, "")
}

// LoadFrom resolves name relative to the module with id parent, so that a file
// or remote module can require its siblings.
func (l *Loader) LoadFrom(ctx context.Context, name, parent string) (*Module, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty module name", ErrModuleNotFound)
	}

	id, kind := l.resolve(name, parent)
	l.mu.RLock()
	m, ok := l.cache[id]
	l.mu.RUnlock()
	if ok {
		return m, nil
	}

	var (
		src string
		err error
	)
	switch kind {
	case "bundle":
		var found bool
		src, found = l.Bundle(name)
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
		}
	case "file":
		src, err = l.readFile(id)
	case "url":
		src, err = l.fetch(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	src, err = toCommonJS(id, src)
	if err != nil {
		return nil, err
	}

	m = &Module{ID: id, Source: src}
	l.mu.Lock()
	if cached, ok := l.cache[id]; ok {
		m = cached
	} else {
		l.cache[id] = m
	}
	l.mu.Unlock()

	l.logger.Debug("Module loaded", "module", name, "id", id, "bytes", len(src))
	return m, nil
}

// Purge drops every cached source.
func (l *Loader) Purge() {
	l.mu.Lock()
	l.cache = make(map[string]*Module)
	l.mu.Unlock()
}

func (l *Loader) resolve(name, parent string) (id string, kind string) {
	relative := strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../")
	switch {
	case strings.HasPrefix(name, "http://"), strings.HasPrefix(name, "https://"):
		return name, "url"
	case filepath.IsAbs(name):
		return filepath.Clean(name), "file"
	case relative && isURL(parent):
		if base, err := url.Parse(parent); err == nil {
			if ref, err := url.Parse(name); err == nil {
				return base.ResolveReference(ref).String(), "url"
			}
		}
		return name, "url"
	case relative && filepath.IsAbs(parent):
		return filepath.Join(filepath.Dir(parent), name), "file"
	case relative:
		base := l.baseDir
		if base == "" {
			base, _ = os.Getwd()
		}
		return filepath.Join(base, name), "file"
	}
	if alias, ok := l.aliases[name]; ok {
		name = alias
	}
	return "bundle:" + name, "bundle"
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (l *Loader) readFile(p string) (string, error) {
	if !l.allowFiles {
		return "", fmt.Errorf("file modules are disabled: %s", p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrModuleNotFound, p)
		}
		return "", fmt.Errorf("failed to read module %s: %w", p, err)
	}
	return string(data), nil
}

func (l *Loader) fetch(ctx context.Context, target string) (string, error) {
	if !l.allowRemote {
		return "", fmt.Errorf("remote modules are disabled: %s", target)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("invalid module url %s: %w", target, err)
	}
	req.Header.Set("Accept", "application/javascript, text/javascript, */*")
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch module %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrModuleNotFound, target)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("failed to fetch module %s: %s", target, resp.Status)
	}

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode module %s: %w", target, err)
	}
	return body, nil
}

// decodeBody undoes a br or gzip Content-Encoding. The transport only decodes
// gzip itself when it added the Accept-Encoding header, which we set explicitly.
func decodeBody(encoding string, r io.Reader) (string, error) {
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		reader = brotli.NewReader(r)
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return "", err
		}
		defer gz.Close()
		reader = gz
	case "", "identity":
		reader = r
	default:
		return "", fmt.Errorf("unsupported content encoding %q", encoding)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toCommonJS converts ES module syntax to CommonJS so it runs under require.
func toCommonJS(id, src string) (string, error) {
	if !esmPattern.MatchString(src) {
		return src, nil
	}
	result := api.Transform(src, api.TransformOptions{
		Format:     api.FormatCommonJS,
		Loader:     api.LoaderJS,
		Target:     api.ES2017,
		Sourcefile: id,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		if msg.Location != nil {
			return "", fmt.Errorf("failed to transform module %s: %s (line %d)", id, msg.Text, msg.Location.Line)
		}
		return "", fmt.Errorf("failed to transform module %s: %s", id, msg.Text)
	}
	return string(result.Code), nil
}
