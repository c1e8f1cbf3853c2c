package middleware

import (
	"sync"

	"github.com/searchktools/fast-dispatch/core/http"
)

// Handler is a terminal request handler.
type Handler func(*http.Context)

// Next is the continuation a step invokes to proceed to the rest of the
// chain. A step that never invokes it short-circuits the chain. Next must be
// called at most during the step invocation it was handed to; a call after
// the step returned, from any goroutine, is a synchronized no-op — once Run
// returns, the dispatcher finalizes the exchange and recycles the context,
// so the chain can never resume later. A step waiting on asynchronous work
// parks its goroutine and calls Next when the work is done; a writer that
// must outlive the dispatch uses a Lease instead.
type Step func(*http.Context, Next)

// Next advances the chain. See Step.
type Next func()

// Run executes steps in declared order over ctx, then the terminal handler.
//
// The executor advances through an explicit position counter: a step's Next
// marks advancement and the driver loop continues after the step returns, so
// chain depth never grows the call stack per step. The consequence is that
// code a step runs after calling Next executes before the downstream steps,
// not after them; wrap-around concerns (panic translation, timeouts) live at
// the dispatcher boundary or race through the response guard instead.
//
// Before every subsequent step the executor checks the early-exit condition:
// once the context is responded or aborted the remainder of the chain is
// skipped. Side effects performed before a short-circuit have completed in
// declared order. The executor performs no error translation; a panic from a
// step propagates unmodified to the caller.
func Run(ctx *http.Context, steps []Step, terminal Handler) {
	e := executor{ctx: ctx, steps: steps, terminal: terminal}
	e.run()
}

type executor struct {
	ctx      *http.Context
	steps    []Step
	terminal Handler

	// The mutex makes a continuation that escaped its step invocation a
	// safe no-op even when invoked from another goroutine.
	mu       sync.Mutex
	pos      int
	inStep   bool
	advanced bool
}

func (e *executor) run() {
	for {
		if e.ctx.Halted() {
			return
		}
		if e.pos >= len(e.steps) {
			if e.terminal != nil {
				e.terminal(e.ctx)
			}
			return
		}

		step := e.steps[e.pos]
		e.mu.Lock()
		e.advanced = false
		e.inStep = true
		e.mu.Unlock()

		step(e.ctx, e.next)

		e.mu.Lock()
		e.inStep = false
		advanced := e.advanced
		e.mu.Unlock()

		if !advanced {
			// Deliberate short-circuit: the step kept the
			// continuation uninvoked.
			return
		}
		e.pos++
	}
}

func (e *executor) next() {
	e.mu.Lock()
	if e.inStep {
		e.advanced = true
	}
	e.mu.Unlock()
}
