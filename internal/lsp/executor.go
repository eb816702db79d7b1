package lsp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/lspmux/internal/logging"
)

// BackendFailure describes one backend's failed task.
type BackendFailure struct {
	Backend  *Backend
	Document DocumentURI
	Err      error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRequestTimeout bounds each backend task. Zero disables the bound.
func WithRequestTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithPool limits concurrently running tasks across every executor
// sharing the semaphore.
func WithPool(pool *semaphore.Weighted) ExecutorOption {
	return func(e *Executor) {
		e.pool = pool
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *logging.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithFailureHandler registers a callback invoked for every failed task.
// Failures never reach the combined result; this is the only way to see them
// besides the log.
func WithFailureHandler(fn func(BackendFailure)) ExecutorOption {
	return func(e *Executor) {
		e.onFailure = fn
	}
}

// Executor dispatches requests to the backends connected to one document.
// Narrowing methods return new executors; an Executor is never mutated.
type Executor struct {
	reg       *Registry
	doc       DocumentURI
	filters   []Predicate
	timeout   time.Duration
	pool      *semaphore.Weighted
	logger    *logging.Logger
	onFailure func(BackendFailure)
}

// NewExecutor creates an executor for doc.
func NewExecutor(reg *Registry, doc DocumentURI, opts ...ExecutorOption) *Executor {
	e := &Executor{
		reg:    reg,
		doc:    doc,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("executor").WithField("document", string(doc))
	return e
}

// Document returns the document this executor targets.
func (e *Executor) Document() DocumentURI {
	return e.doc
}

// WithCapability narrows eligible backends to those advertising f.
func (e *Executor) WithCapability(f Feature) *Executor {
	return e.WithFilter(Capability(f))
}

// WithFilter narrows eligible backends to those satisfying p.
func (e *Executor) WithFilter(p Predicate) *Executor {
	next := *e
	next.filters = append(slices.Clip(e.filters), p)
	return &next
}

// Backends returns the eligible backends in registry order, taken from a
// single registry snapshot.
func (e *Executor) Backends() []*Backend {
	all := e.reg.BackendsFor(e.doc)
	out := all[:0]
	for _, b := range all {
		if e.eligible(b) {
			out = append(out, b)
		}
	}
	return out
}

func (e *Executor) eligible(b *Backend) bool {
	caps := b.Capabilities()
	for _, p := range e.filters {
		if !p(caps).Applies() {
			return false
		}
	}
	return true
}

// AnyMatching reports whether at least one backend satisfies every filter.
// It dispatches nothing.
func (e *Executor) AnyMatching() bool {
	return len(e.Backends()) > 0
}

// First is the result of ComputeFirst.
type First[T any] struct {
	Value   T
	Backend *Backend
	Found   bool
}

// ComputeFirst sends fn to every eligible backend and resolves with the first
// present value in completion order, cancelling the rest. Which backend wins
// when several answer is not deterministic. When every backend answers empty
// or fails, the result has Found false.
func ComputeFirst[T any](ctx context.Context, e *Executor, fn func(context.Context, *Backend) (T, bool, error)) *Future[First[T]] {
	if fn == nil {
		return resolvedFuture(First[T]{}, ErrNilRequest)
	}
	return dispatch[First[T], First[T]](ctx, e, func(ctx context.Context, b *Backend) (First[T], error) {
		v, ok, err := fn(ctx, b)
		return First[T]{Value: v, Backend: b, Found: ok}, err
	}, &firstPresent[T]{})
}

// CollectAll sends fn to every eligible backend and concatenates the results
// in registry order. Backends whose task fails are left out.
func CollectAll[T any](ctx context.Context, e *Executor, fn func(context.Context, *Backend) ([]T, error)) *Future[[]T] {
	if fn == nil {
		return resolvedFuture[[]T](nil, ErrNilRequest)
	}
	return dispatch[[]T, []T](ctx, e, fn, &concatenate[T]{})
}

// ComputeAny sends fn to every eligible backend and resolves true as soon as
// one answers true.
func ComputeAny(ctx context.Context, e *Executor, fn func(context.Context, *Backend) (bool, error)) *Future[bool] {
	if fn == nil {
		return resolvedFuture(false, ErrNilRequest)
	}
	return dispatch[bool, bool](ctx, e, fn, &anyTrue{})
}

// combiner folds successful task results into a combined value. add is called
// from a single goroutine; returning true ends the dispatch early.
type combiner[R, T any] interface {
	add(index int, value R) bool
	result() T
}

type firstPresent[T any] struct {
	first First[T]
}

func (c *firstPresent[T]) add(_ int, v First[T]) bool {
	if !v.Found {
		return false
	}
	c.first = v
	return true
}

func (c *firstPresent[T]) result() First[T] { return c.first }

type concatenate[T any] struct {
	parts map[int][]T
	n     int
}

func (c *concatenate[T]) add(i int, v []T) bool {
	if c.parts == nil {
		c.parts = make(map[int][]T)
	}
	c.parts[i] = v
	if i+1 > c.n {
		c.n = i + 1
	}
	return false
}

func (c *concatenate[T]) result() []T {
	var out []T
	for i := 0; i < c.n; i++ {
		out = append(out, c.parts[i]...)
	}
	if out == nil {
		out = []T{}
	}
	return out
}

type anyTrue struct {
	found bool
}

func (c *anyTrue) add(_ int, v bool) bool {
	c.found = c.found || v
	return c.found
}

func (c *anyTrue) result() bool { return c.found }

type outcome[R any] struct {
	index   int
	backend *Backend
	value   R
	err     error
}

// dispatch runs fn against every eligible backend and folds the successful
// outcomes with c. Failed outcomes are logged, reported and dropped.
func dispatch[R, T any](ctx context.Context, e *Executor, fn func(context.Context, *Backend) (R, error), c combiner[R, T]) *Future[T] {
	backends := e.Backends()
	dctx, cancel := context.WithCancel(ctx)
	f := newFuture[T](cancel)

	if len(backends) == 0 {
		cancel()
		f.resolve(c.result(), nil)
		return f
	}

	results := make(chan outcome[R], len(backends))
	for i, b := range backends {
		go runTask(dctx, e, i, b, fn, results)
	}

	go func() {
		defer cancel()
		for pending := len(backends); pending > 0; pending-- {
			select {
			case o := <-results:
				if err := dctx.Err(); err != nil {
					var zero T
					f.resolve(zero, err)
					return
				}
				if o.err != nil {
					e.fail(o.backend, o.err)
					continue
				}
				if c.add(o.index, o.value) {
					f.resolve(c.result(), nil)
					return
				}
			case <-dctx.Done():
				var zero T
				f.resolve(zero, dctx.Err())
				return
			}
		}
		f.resolve(c.result(), nil)
	}()
	return f
}

// runTask settles on the first of: fn returning, the task context ending,
// or the backend detaching. A backend that ignores cancellation leaves only
// its own goroutine behind.
func runTask[R any](ctx context.Context, e *Executor, index int, b *Backend, fn func(context.Context, *Backend) (R, error), out chan<- outcome[R]) {
	tctx, cancel := e.taskContext(ctx)
	defer cancel()

	settle := func(v R, err error) {
		out <- outcome[R]{index: index, backend: b, value: v, err: err}
	}
	var zero R

	if e.pool != nil {
		if err := e.pool.Acquire(tctx, 1); err != nil {
			settle(zero, err)
			return
		}
		defer e.pool.Release(1)
	}

	reply := make(chan outcome[R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reply <- outcome[R]{err: &PanicError{Value: r}}
			}
		}()
		v, err := fn(tctx, b)
		reply <- outcome[R]{value: v, err: err}
	}()

	select {
	case r := <-reply:
		settle(r.value, r.err)
	case <-tctx.Done():
		settle(zero, tctx.Err())
	case <-b.Done():
		settle(zero, ErrBackendUnavailable)
	}
}

func (e *Executor) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Executor) fail(b *Backend, err error) {
	berr := &BackendError{BackendID: b.ID(), Name: b.Name(), Err: err}
	log := e.logger.WithFields(map[string]any{"backend": b.Name(), "id": b.ID()})
	var perr *PanicError
	switch {
	case errors.As(err, &perr):
		log.Error("request panicked: %v", perr.Value)
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out after %s", e.timeout)
	default:
		log.Warn("request failed: %v", err)
	}
	if e.onFailure != nil {
		e.onFailure(BackendFailure{Backend: b, Document: e.doc, Err: berr})
	}
}

// String describes the executor for logs.
func (e *Executor) String() string {
	return fmt.Sprintf("executor(%s, %d filters)", e.doc, len(e.filters))
}
