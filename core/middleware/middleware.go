package middleware

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/core/http"
)

// Built-in steps. These are ordinary (Context, Next) functions: the executor
// treats them exactly like application steps.

// Logger logs each dispatched request.
func Logger(log *zap.Logger) Step {
	return func(ctx *http.Context, next Next) {
		log.Info("request",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.Path()),
		)
		next()
	}
}

// CORS adds permissive CORS headers and answers preflight requests.
func CORS() Step {
	return func(ctx *http.Context, next Next) {
		ctx.SetHeader("Access-Control-Allow-Origin", "*")
		ctx.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ctx.Method() == "OPTIONS" {
			ctx.Empty(204)
			return
		}
		next()
	}
}

// RateLimiter rejects requests beyond requestsPerSecond with 429.
func RateLimiter(requestsPerSecond int) Step {
	var (
		mu         sync.Mutex
		tokens     = requestsPerSecond
		lastRefill = time.Now()
	)

	return func(ctx *http.Context, next Next) {
		mu.Lock()
		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		if tokens > 0 {
			tokens--
			mu.Unlock()
			next()
			return
		}
		mu.Unlock()

		ctx.Error(429, "Too Many Requests")
	}
}

// RequestID tags every response with a monotonically increasing id.
func RequestID() Step {
	var counter uint64

	return func(ctx *http.Context, next Next) {
		id := atomic.AddUint64(&counter, 1)
		ctx.SetHeader("X-Request-ID", strconv.FormatUint(id, 10))
		next()
	}
}

// Timeout races the downstream chain against a timer and independently sends
// 504 if nothing else responded first. The response guard is the arbiter:
// whichever side claims the response slot first wins, the loser becomes a
// no-op. The timer holds a Lease, so a late firing against a recycled
// context does nothing.
func Timeout(d time.Duration) Step {
	return func(ctx *http.Context, next Next) {
		lease := ctx.Lease()
		time.AfterFunc(d, func() {
			lease.Empty(504)
		})
		next()
	}
}
