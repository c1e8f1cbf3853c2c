/*
Package fastdispatch provides a high-throughput, per-request HTTP dispatch
engine for Go.

Fast-Dispatch is the hot path of an HTTP service: it matches incoming requests
to handlers, runs an ordered middleware chain over a pooled per-request
context, and streams large response bodies to slow consumers with bounded
memory. The surrounding transport (socket handling, HTTP framing) is a
pluggable collaborator behind a small interface, so the same engine serves
the built-in epoll transport and an h2c adapter alike.

Features

  - O(1) static route lookup plus a per-method segment trie for :param and
    *wildcard routes (no backtracking, cost bounded by path length)
  - Fixed-capacity context pool with overflow accounting instead of blocking
  - Abort-safe response state machine: after a client disconnect every write
    becomes a guarded no-op, never a panic
  - Index-driven middleware pipeline whose chain depth does not grow the
    call stack per step
  - Backpressure-aware streaming: at most one in-flight chunk buffered,
    regardless of payload size or consumer speed
  - Content negotiation with JSON and Protocol Buffers codecs
  - Epoll/kqueue HTTP/1.1 transport and an h2c (HTTP/2 cleartext) adapter

# Quick Start

Basic usage example:

	package main

	import (
	    "github.com/searchktools/fast-dispatch/app"
	    "github.com/searchktools/fast-dispatch/config"
	    "github.com/searchktools/fast-dispatch/core/http"
	)

	func main() {
	    cfg, err := config.New()
	    if err != nil {
	        panic(err)
	    }
	    application, err := app.New(cfg)
	    if err != nil {
	        panic(err)
	    }

	    engine := application.Engine()
	    engine.GET("/hello", func(ctx *http.Context) {
	        ctx.String(200, "Hello, World!")
	    })

	    engine.GET("/users/:id", func(ctx *http.Context) {
	        ctx.JSON(200, map[string]string{"id": ctx.Param("id")})
	    })

	    if err := application.Run(); err != nil {
	        panic(err)
	    }
	}

# Modules

The engine is organized into several modules:

  - app: Application lifecycle management
  - config: Configuration loading (flags layered with environment)
  - core: Dispatcher glue (engine, stats)
  - core/http: Request context, context pool, stream writer, transport boundary
  - core/router: Static table + trie routing
  - core/middleware: Pipeline executor and built-in steps
  - core/codec: JSON/protobuf codecs and content negotiation
  - core/pools: Byte buffer pooling for streaming
  - core/poller: I/O readiness (epoll/kqueue)
  - core/transport: Nonblocking HTTP/1.1 transport
  - core/http2: HTTP/2 cleartext (h2c) adapter

For more information, see https://github.com/searchktools/fast-dispatch
*/
package fastdispatch
