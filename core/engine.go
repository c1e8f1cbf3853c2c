package core

import (
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"

	fhttp "github.com/searchktools/fast-dispatch/core/http"
	"github.com/searchktools/fast-dispatch/core/middleware"
	"github.com/searchktools/fast-dispatch/core/router"
)

// Engine is the per-request dispatcher: it owns the router, the context
// pool and the global middleware chain, and turns one Transport handle into
// one fully-dispatched exchange. Transports call Dispatch; everything else
// is startup-time registration.
type Engine struct {
	router  *router.Router
	pool    *fhttp.Pool
	globals []middleware.Step

	notFound middleware.Handler
	onPanic  func(ctx *fhttp.Context, recovered any)

	log *zap.Logger

	dispatches atomic.Uint64
	misses     atomic.Uint64
	panics     atomic.Uint64
}

// Options tune engine construction.
type Options struct {
	// PoolCapacity is the context pool size. Zero means the pool default.
	PoolCapacity int
	// Logger receives engine-level logs. Nil means zap.NewNop().
	Logger *zap.Logger
}

// NewEngine creates an engine with default options.
func NewEngine() *Engine {
	return NewEngineWith(Options{})
}

// NewEngineWith creates an engine.
func NewEngineWith(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		router: router.New(),
		pool:   fhttp.NewPool(opts.PoolCapacity),
		log:    log,
	}
	e.notFound = func(ctx *fhttp.Context) {
		ctx.Error(404, "Not Found")
	}
	e.onPanic = func(ctx *fhttp.Context, _ any) {
		ctx.Error(500, "Internal Server Error")
	}
	return e
}

// Use appends steps to the global chain. Global steps run before the matched
// route's own steps, in declared order.
func (e *Engine) Use(steps ...middleware.Step) *Engine {
	e.globals = append(e.globals, steps...)
	return e
}

// NotFound replaces the route-miss handler.
func (e *Engine) NotFound(h middleware.Handler) {
	e.notFound = h
}

// OnPanic replaces the panic translation handler. The pipeline itself never
// recovers; translation happens here, at the dispatch boundary.
func (e *Engine) OnPanic(fn func(ctx *fhttp.Context, recovered any)) {
	e.onPanic = fn
}

// Handle registers a route.
func (e *Engine) Handle(method, pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.router.Add(method, pattern, handler, steps...)
}

// GET registers a GET route.
func (e *Engine) GET(pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.Handle("GET", pattern, handler, steps...)
}

// POST registers a POST route.
func (e *Engine) POST(pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.Handle("POST", pattern, handler, steps...)
}

// PUT registers a PUT route.
func (e *Engine) PUT(pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.Handle("PUT", pattern, handler, steps...)
}

// DELETE registers a DELETE route.
func (e *Engine) DELETE(pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.Handle("DELETE", pattern, handler, steps...)
}

// PATCH registers a PATCH route.
func (e *Engine) PATCH(pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.Handle("PATCH", pattern, handler, steps...)
}

// HEAD registers a HEAD route.
func (e *Engine) HEAD(pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.Handle("HEAD", pattern, handler, steps...)
}

// OPTIONS registers an OPTIONS route.
func (e *Engine) OPTIONS(pattern string, handler middleware.Handler, steps ...middleware.Step) {
	e.Handle("OPTIONS", pattern, handler, steps...)
}

// Router exposes the underlying router.
func (e *Engine) Router() *router.Router {
	return e.router
}

// Dispatch serves one exchange end to end: acquire a pooled context, match,
// run the chain, finalize, release. A route miss is not an error; it runs
// the global chain into the NotFound handler. A panic from any step
// propagates out of the pipeline unmodified and is translated here, at the
// boundary.
func (e *Engine) Dispatch(t fhttp.Transport) {
	e.dispatches.Add(1)

	ctx := e.pool.Acquire()
	ctx.Init(e, t)

	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.log.Error("panic in pipeline",
				zap.Any("recovered", r),
				zap.ByteString("stack", debug.Stack()),
			)
			e.onPanic(ctx, r)
		}
		e.finalize(ctx)
		e.pool.Release(ctx)
	}()

	route, params := e.router.Match(ctx.Method(), ctx.RawURL())
	if route == nil {
		e.misses.Add(1)
		// Misses run through the global chain too, so CORS headers,
		// request ids and access logs cover unmatched paths.
		middleware.Run(ctx, e.globals, e.notFound)
		return
	}
	ctx.SetParams(params)

	steps := e.globals
	if len(route.Middleware) > 0 {
		// One flattened chain per dispatch: globals first, then the
		// route's own steps.
		steps = make([]middleware.Step, 0, len(e.globals)+len(route.Middleware))
		steps = append(steps, e.globals...)
		steps = append(steps, route.Middleware...)
	}
	middleware.Run(ctx, steps, route.Handler)
}

// finalize closes out an exchange the chain left open: a chain that
// completed or short-circuited without responding gets an empty 204 so the
// transport is never left hanging.
func (e *Engine) finalize(ctx *fhttp.Context) {
	if !ctx.Responded() && !ctx.IsAborted() {
		ctx.Empty(204)
	}
}
