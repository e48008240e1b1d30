// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// defaultReleaseWait bounds how long Release waits for room in the idle queue.
const defaultReleaseWait = 50 * time.Millisecond

// PoolStats is a diagnostic snapshot of the pool.
type PoolStats struct {
	Max       uint32 // Configured maximum of live handles
	Live      uint32 // Live handles, borrowed or idle
	Idle      int    // Handles waiting in the idle queue
	Created   uint64 // Handles constructed since start
	Reused    uint64 // Acquires served from the idle queue
	Destroyed uint64 // Handles destroyed since start
}

// Pool is a bounded set of reusable runtimes. Each handle is borrowed by at most
// one caller at a time; idle handles wait in a buffered queue.
type Pool struct {
	factory JsRuntimeFactory
	prepare func(h *Handle, rt JsRuntime) error
	logger  *slog.Logger

	maxSize     uint32
	minSize     uint32
	maxUses     uint32        // Retire a handle after this many executions, 0 = unlimited
	idleTTL     time.Duration // Retire idle handles unused for this long, 0 = never
	releaseWait time.Duration

	idle  chan *Handle
	freed chan struct{} // Signals waiters that a slot became free
	done  chan struct{} // Closed on shutdown

	mu         sync.RWMutex // Orders Release pushes against Shutdown draining
	closed     bool         // Guarded by mu
	closedFlag int32        // Mirrors closed for lock-free fast paths (atomic)

	live       uint32 // Live handles (atomic)
	idCounter  uint32 // Handle ID generator (atomic)
	generation uint32 // Bumped by Reload; older handles are retired (atomic)
	created    uint64 // (atomic)
	reused     uint64 // (atomic)
	destroyed  uint64 // (atomic)
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// NewPool creates a pool that builds runtimes with factory. It does not create
// any handle until Start or Acquire is called.
func NewPool(factory JsRuntimeFactory, opts ...PoolOption) *Pool {
	p := &Pool{
		factory:     factory,
		logger:      slog.Default(),
		maxSize:     4,
		releaseWait: defaultReleaseWait,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.minSize > p.maxSize {
		p.minSize = p.maxSize
	}
	p.idle = make(chan *Handle, p.maxSize)
	p.freed = make(chan struct{}, p.maxSize)
	return p
}

// WithPoolMaxSize sets the maximum number of live handles.
func WithPoolMaxSize(size uint32) PoolOption {
	return func(p *Pool) {
		if size > 0 {
			p.maxSize = size
		}
	}
}

// WithPoolMinSize sets how many handles Start pre-warms and the sweep keeps.
func WithPoolMinSize(size uint32) PoolOption {
	return func(p *Pool) {
		p.minSize = size
	}
}

// WithPoolMaxUses retires a handle once it has executed this many scripts.
func WithPoolMaxUses(n uint32) PoolOption {
	return func(p *Pool) {
		p.maxUses = n
	}
}

// WithPoolIdleTTL retires idle handles that have not been used for ttl.
func WithPoolIdleTTL(ttl time.Duration) PoolOption {
	return func(p *Pool) {
		if ttl > 0 {
			p.idleTTL = ttl
		}
	}
}

// WithPoolPrepare sets the hook run once on every new runtime before it is handed out.
func WithPoolPrepare(prepare func(h *Handle, rt JsRuntime) error) PoolOption {
	return func(p *Pool) {
		p.prepare = prepare
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Start pre-warms minSize handles and launches the idle sweep when an idle TTL is set.
func (p *Pool) Start() error {
	for i := uint32(0); i < p.minSize; i++ {
		h, err := p.tryCreate()
		if err != nil {
			return err
		}
		if h == nil {
			break
		}
		h.markReturned()
		select {
		case p.idle <- h:
		default:
			p.destroy(h, "idle queue full")
		}
	}

	if p.idleTTL > 0 {
		go p.sweep()
	}

	p.logger.Debug("Runtime pool started",
		"minSize", p.minSize,
		"maxSize", p.maxSize,
		"maxUses", p.maxUses,
		"idleTTL", p.idleTTL,
		"live", atomic.LoadUint32(&p.live),
	)
	return nil
}

func (p *Pool) isClosed() bool {
	return atomic.LoadInt32(&p.closedFlag) == 1
}

// Acquire borrows a handle. It prefers an idle handle, then builds a new one while
// below the maximum, then waits up to timeout for a release. A timeout <= 0 does
// not wait.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	started := time.Now()

	select {
	case h := <-p.idle:
		if h = p.checkout(h); h != nil {
			return h, nil
		}
	default:
	}

	if h, err := p.tryCreate(); h != nil || err != nil {
		return h, err
	}

	if timeout <= 0 {
		return nil, p.exhausted(started)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case h := <-p.idle:
			if h = p.checkout(h); h != nil {
				return h, nil
			}
		case <-p.freed:
			h, err := p.tryCreate()
			if h != nil && atomic.LoadUint32(&p.live) < p.maxSize {
				// More than one slot may have freed under a single wakeup
				p.signalFreed()
			}
			if h != nil || err != nil {
				return h, err
			}
		case <-timer.C:
			return nil, p.exhausted(started)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrPoolClosed
		}
	}
}

// checkout marks an idle handle as borrowed. A handle that cannot be borrowed is
// destroyed and nil is returned.
func (p *Pool) checkout(h *Handle) *Handle {
	if h.IsClosed() || !h.markBorrowed() {
		p.logger.Error("Discarding unusable idle handle", "handle", h.name)
		p.destroy(h, "unusable in idle queue")
		return nil
	}
	atomic.AddUint64(&p.reused, 1)
	return h
}

// tryCreate reserves a slot and builds a new borrowed handle. It returns (nil, nil)
// when the pool is at capacity.
func (p *Pool) tryCreate() (*Handle, error) {
	newCount := atomic.AddUint32(&p.live, 1)
	if newCount > p.maxSize {
		atomic.AddUint32(&p.live, ^uint32(0)) // -1
		return nil, nil
	}

	id := atomic.AddUint32(&p.idCounter, 1)
	h := newHandle(id, p.factory, p.prepare, p.logger)
	h.generation = atomic.LoadUint32(&p.generation)
	if err := h.start(); err != nil {
		// Not in the pool yet; give the slot back to the next waiter
		p.decLive()
		p.signalFreed()
		p.logger.Error("Failed to construct runtime", "handle", h.name, "error", err)
		return nil, &ConstructionError{Err: err}
	}

	if p.isClosed() {
		p.destroy(h, "pool closed")
		return nil, ErrPoolClosed
	}

	h.markBorrowed()
	atomic.AddUint64(&p.created, 1)
	p.logger.Debug("Runtime handle created", "handle", h.name, "live", atomic.LoadUint32(&p.live))
	return h, nil
}

// Release returns a borrowed handle. The handle's per-call bindings are removed
// first; a poisoned or unsanitizable handle is destroyed instead of reused.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	if !h.markReturned() {
		p.logger.Warn("Ignoring release of a handle that is not borrowed", "handle", h.name)
		return
	}

	if h.IsPoisoned() {
		p.destroy(h, "poisoned")
		return
	}
	if err := h.Unbind(); err != nil {
		p.logger.Warn("Failed to sanitize runtime", "handle", h.name, "error", err)
		p.destroy(h, "sanitize failed")
		return
	}
	if p.maxUses > 0 && h.Uses() >= p.maxUses {
		p.destroy(h, "max uses reached")
		return
	}
	if h.generation != atomic.LoadUint32(&p.generation) {
		p.destroy(h, "reloaded")
		return
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.destroy(h, "pool closed")
		return
	}
	timer := time.NewTimer(p.releaseWait)
	select {
	case p.idle <- h:
		timer.Stop()
		p.mu.RUnlock()
		return
	case <-timer.C:
	}
	p.mu.RUnlock()
	p.destroy(h, "idle queue full")
}

// Shutdown destroys all idle handles and makes further Acquire calls fail fast.
// Borrowed handles are destroyed when released. Shutdown is idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	atomic.StoreInt32(&p.closedFlag, 1)
	close(p.done)
	p.mu.Unlock()

	drained := 0
	for {
		select {
		case h := <-p.idle:
			h.stop()
			atomic.AddUint64(&p.destroyed, 1)
			drained++
			continue
		default:
		}
		break
	}
	atomic.StoreUint32(&p.live, 0)

	p.logger.Debug("Runtime pool stopped", "drained", drained)
}

// Reload retires every idle handle and marks borrowed ones for retirement on
// release, so that later acquires get freshly prepared runtimes.
func (p *Pool) Reload() error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	atomic.AddUint32(&p.generation, 1)

	retired := 0
	for n := len(p.idle); n > 0; n-- {
		select {
		case h := <-p.idle:
			p.destroy(h, "reloaded")
			retired++
		default:
			n = 0
		}
	}
	p.logger.Debug("Runtime pool reloaded",
		"retired", retired,
		"generation", atomic.LoadUint32(&p.generation))
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Max:       p.maxSize,
		Live:      atomic.LoadUint32(&p.live),
		Idle:      len(p.idle),
		Created:   atomic.LoadUint64(&p.created),
		Reused:    atomic.LoadUint64(&p.reused),
		Destroyed: atomic.LoadUint64(&p.destroyed),
	}
}

// destroy closes a handle, frees its slot and wakes one waiter.
func (p *Pool) destroy(h *Handle, reason string) {
	uses := h.Uses()
	if h.IsPoisoned() {
		// A poisoned runtime may still be unwinding; don't make the caller wait for it
		go h.stop()
	} else {
		h.stop()
	}
	p.decLive()
	atomic.AddUint64(&p.destroyed, 1)
	p.signalFreed()

	p.logger.Debug("Runtime handle destroyed",
		"handle", h.name,
		"reason", reason,
		"uses", uses,
		"live", atomic.LoadUint32(&p.live))
}

// decLive decrements the live count without going below zero; Shutdown may
// already have reset it while handles were still borrowed.
func (p *Pool) decLive() {
	for {
		cur := atomic.LoadUint32(&p.live)
		if cur == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&p.live, cur, cur-1) {
			return
		}
	}
}

func (p *Pool) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *Pool) exhausted(started time.Time) error {
	return &ExhaustedError{
		Live:   atomic.LoadUint32(&p.live),
		Max:    p.maxSize,
		Idle:   len(p.idle),
		Waited: time.Since(started),
	}
}

// sweep periodically retires idle handles past their TTL, keeping minSize alive.
func (p *Pool) sweep() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.retireIdle(time.Now())
		case <-p.done:
			return
		}
	}
}

// retireIdle destroys idle handles unused for longer than idleTTL.
func (p *Pool) retireIdle(now time.Time) {
	n := len(p.idle)
	var keep []*Handle
	for i := 0; i < n; i++ {
		var h *Handle
		select {
		case h = <-p.idle:
		default:
		}
		if h == nil {
			break
		}
		if now.Sub(h.LastUsed()) > p.idleTTL && atomic.LoadUint32(&p.live) > p.minSize {
			p.destroy(h, "idle timeout")
			continue
		}
		keep = append(keep, h)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, h := range keep {
		if p.closed {
			h.stop()
			atomic.AddUint64(&p.destroyed, 1)
			continue
		}
		select {
		case p.idle <- h:
		default:
			p.destroy(h, "idle queue full")
		}
	}
}
