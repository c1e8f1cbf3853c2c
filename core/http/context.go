package http

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// ErrAborted is returned by body reads that resolve after the peer
// disconnected.
var ErrAborted = errors.New("exchange aborted")

// Context carries the state of one in-flight exchange. Contexts are pooled:
// Acquire one from a Pool, Init it against a Transport, and Release it when
// the exchange is finished.
//
// The response state machine has three states: open, responded, aborted.
// Responded and aborted are terminal. Every response method evaluates the
// triple guard (not aborted, not responded, transport handle present)
// atomically before doing any work; failing the guard is a silent no-op and
// the method reports false. The abort callback registered at Init sets the
// aborted flag and revokes the transport handle in the same critical section,
// so no later code path can observe a handle from a torn-down connection.
//
// Request accessors (Param, Query, Header, scratch values) are not
// synchronized: they belong to the dispatch goroutine. The state machine and
// the body buffer are mutex-protected because the transport's abort and data
// callbacks fire from its own goroutine.
type Context struct {
	mu   sync.Mutex
	cond *sync.Cond

	transport Transport
	responded bool
	aborted   bool
	gen       uint64
	abortCh   chan struct{}

	owner any

	method string
	rawURL string
	path   string

	// Captured once at Init; the raw handle is never consulted afterwards.
	headers map[string]string

	query       map[string]string
	queryParsed bool

	params map[string]string
	values map[string]any

	body     []byte
	bodyLast bool

	// Buffered response head, flushed by the first successful write.
	status     int
	headerKeys []string
	headerVals []string
}

// NewContext creates a blank context. Pools call this; application code
// normally does not.
func NewContext() *Context {
	c := &Context{status: 200}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Init binds the context to one exchange. Headers are captured here,
// synchronously, because the raw handle is only guaranteed valid during this
// call; every later header read uses the captured map.
func (c *Context) Init(owner any, t Transport) {
	c.owner = owner
	c.transport = t
	c.method = t.Method()
	c.rawURL = t.URL()
	c.abortCh = make(chan struct{})

	if qi := strings.IndexByte(c.rawURL, '?'); qi >= 0 {
		c.path = c.rawURL[:qi]
	} else {
		c.path = c.rawURL
	}

	if c.headers == nil {
		c.headers = make(map[string]string, 8)
	}
	t.Headers(func(key, value string) bool {
		c.headers[key] = value
		return true
	})

	// Pin the callbacks to this exchange generation: a transport that
	// signals late (keep-alive connection teardown after the context was
	// recycled) must never touch the next exchange's state.
	gen := c.gen
	t.OnAborted(func() { c.handleAbort(gen) })
	t.OnData(func(chunk []byte, last bool) { c.feedBody(gen, chunk, last) })
}

// Owner returns the owning application, as passed to Init.
func (c *Context) Owner() any { return c.owner }

// Method returns the HTTP method.
func (c *Context) Method() string { return c.method }

// RawURL returns the request target, query string included.
func (c *Context) RawURL() string { return c.rawURL }

// Path returns the request path without the query suffix.
func (c *Context) Path() string { return c.path }

// Header returns a request header from the map captured at Init.
func (c *Context) Header(key string) string {
	return c.headers[key]
}

// Param returns a route parameter bound by the router.
func (c *Context) Param(key string) string {
	return c.params[key]
}

// SetParams installs the matched route parameters. Called by the dispatcher.
func (c *Context) SetParams(params map[string]string) {
	c.params = params
}

// Query returns a query-string parameter. Parsing is deferred until the first
// access and memoized.
func (c *Context) Query(key string) string {
	if !c.queryParsed {
		c.parseQuery()
	}
	if c.query == nil {
		return ""
	}
	return c.query[key]
}

func (c *Context) parseQuery() {
	c.queryParsed = true
	qi := strings.IndexByte(c.rawURL, '?')
	if qi < 0 {
		return
	}
	qs := c.rawURL[qi+1:]
	if qs == "" {
		return
	}
	if c.query == nil {
		c.query = make(map[string]string, 4)
	}
	for len(qs) > 0 {
		pair := qs
		if amp := strings.IndexByte(qs, '&'); amp >= 0 {
			pair = qs[:amp]
			qs = qs[amp+1:]
		} else {
			qs = ""
		}
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			c.query[pair[:eq]] = pair[eq+1:]
		} else {
			c.query[pair] = ""
		}
	}
}

// Set stores an arbitrary value in the per-request scratch map.
func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any, 4)
	}
	c.values[key] = value
}

// Get reads a value from the per-request scratch map.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// handleAbort is the transport's disconnect callback. The aborted flag and
// the handle revocation happen in one critical section.
func (c *Context) handleAbort(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.aborted {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	c.transport = nil
	ch := c.abortCh
	c.mu.Unlock()

	if ch != nil {
		close(ch)
	}
	c.cond.Broadcast()
}

// feedBody is the transport's body-chunk callback. The chunk is copied: the
// transport owns its buffer.
func (c *Context) feedBody(gen uint64, chunk []byte, last bool) {
	c.mu.Lock()
	if c.gen == gen && !c.bodyLast {
		c.body = append(c.body, chunk...)
		if last {
			c.bodyLast = true
		}
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Body returns the full request body, waiting for the transport to deliver
// the remaining chunks if necessary. The wait honors the abort guard: a
// disconnect resolves the read with ErrAborted. The result is memoized.
func (c *Context) Body() ([]byte, error) {
	c.mu.Lock()
	for !c.bodyLast && !c.aborted {
		c.cond.Wait()
	}
	if !c.bodyLast {
		c.mu.Unlock()
		return nil, ErrAborted
	}
	b := c.body
	c.mu.Unlock()
	return b, nil
}

// Bind unmarshals the request body as JSON.
func (c *Context) Bind(v any) error {
	b, err := c.Body()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// IsAborted reports whether the peer disconnected.
func (c *Context) IsAborted() bool {
	c.mu.Lock()
	a := c.aborted
	c.mu.Unlock()
	return a
}

// Responded reports whether a response write succeeded.
func (c *Context) Responded() bool {
	c.mu.Lock()
	r := c.responded
	c.mu.Unlock()
	return r
}

// Halted reports whether the exchange reached a terminal state. The pipeline
// executor checks this before each step.
func (c *Context) Halted() bool {
	c.mu.Lock()
	h := c.responded || c.aborted
	c.mu.Unlock()
	return h
}

// aborting returns the channel closed when the exchange aborts.
func (c *Context) aborting() <-chan struct{} {
	c.mu.Lock()
	ch := c.abortCh
	c.mu.Unlock()
	return ch
}

// beginResponse evaluates the triple guard and claims the single response
// slot. It returns the transport handle, or nil when the write must be
// suppressed.
func (c *Context) beginResponse() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted || c.responded || c.transport == nil {
		return nil
	}
	c.responded = true
	return c.transport
}

// beginResponseAt is beginResponse restricted to one exchange generation, so
// leased writers can never claim a recycled context.
func (c *Context) beginResponseAt(gen uint64) Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.aborted || c.responded || c.transport == nil {
		return nil
	}
	c.responded = true
	return c.transport
}

// Status buffers the response status code for a later flush. Guarded no-op
// after a response or an abort.
func (c *Context) Status(code int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted || c.responded || c.transport == nil {
		return false
	}
	c.status = code
	return true
}

// SetHeader buffers a response header for a later flush. Guarded no-op after
// a response or an abort.
func (c *Context) SetHeader(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted || c.responded || c.transport == nil {
		return false
	}
	c.headerKeys = append(c.headerKeys, key)
	c.headerVals = append(c.headerVals, value)
	return true
}

// flushHead emits the buffered status and headers as one corked batch.
func (c *Context) flushHead(t Transport, code int, contentType string) {
	t.Cork(func() {
		if code == 0 {
			code = c.status
		}
		t.SetStatus(code)
		for i := range c.headerKeys {
			t.WriteHeader(c.headerKeys[i], c.headerVals[i])
		}
		if contentType != "" {
			t.WriteHeader("Content-Type", contentType)
		}
	})
}

// send is the single fixed-body write path behind String, JSON, HTML, Send,
// Data, Empty and Redirect.
func (c *Context) send(code int, contentType string, body []byte) bool {
	t := c.beginResponse()
	if t == nil {
		return false
	}
	return c.finishFixed(t, code, contentType, body)
}

// finishFixed flushes the head and writes one fixed body through the same
// refusal/resume loop the stream writer uses, so a full socket buffer
// suspends the write instead of truncating it. False means the peer aborted
// mid-body.
func (c *Context) finishFixed(t Transport, code int, contentType string, body []byte) bool {
	c.flushHead(t, code, contentType)
	if len(body) > 0 {
		if ok, _ := c.writeChunk(t, body, 0, int64(len(body))); !ok {
			return false
		}
	}
	t.End()
	return true
}

// String sends a plain text response.
func (c *Context) String(code int, s string) bool {
	return c.send(code, "text/plain", []byte(s))
}

// JSON sends a JSON response.
func (c *Context) JSON(code int, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return c.String(500, "JSON marshal error")
	}
	return c.send(code, "application/json", data)
}

// HTML sends an HTML response.
func (c *Context) HTML(code int, s string) bool {
	return c.send(code, "text/html; charset=utf-8", []byte(s))
}

// Send sends a raw bytes response.
func (c *Context) Send(code int, data []byte) bool {
	return c.send(code, "application/octet-stream", data)
}

// Data sends a response with a custom content type.
func (c *Context) Data(code int, contentType string, data []byte) bool {
	return c.send(code, contentType, data)
}

// Empty sends a bodyless response.
func (c *Context) Empty(code int) bool {
	return c.send(code, "", nil)
}

// Redirect sends a bodyless response with a Location header.
func (c *Context) Redirect(code int, location string) bool {
	c.mu.Lock()
	if c.aborted || c.responded || c.transport == nil {
		c.mu.Unlock()
		return false
	}
	c.headerKeys = append(c.headerKeys, "Location")
	c.headerVals = append(c.headerVals, location)
	c.mu.Unlock()
	return c.send(code, "", nil)
}

// Error sends a JSON error envelope.
func (c *Context) Error(code int, message string) bool {
	return c.JSON(code, map[string]any{
		"code":    code,
		"message": message,
	})
}

// Lease pins the current exchange. Its response methods only act while the
// context still serves that exchange, so a Lease can outlive the dispatch
// (timers, external completions) without ever touching a recycled context.
type Lease struct {
	c   *Context
	gen uint64
}

// Lease returns a handle pinned to the current exchange.
func (c *Context) Lease() Lease {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return Lease{c: c, gen: gen}
}

// Empty sends a bodyless response if the leased exchange is still current.
func (l Lease) Empty(code int) bool {
	return l.send(code, "", nil)
}

// JSON sends a JSON response if the leased exchange is still current.
func (l Lease) JSON(code int, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return l.send(500, "text/plain", []byte("JSON marshal error"))
	}
	return l.send(code, "application/json", data)
}

func (l Lease) send(code int, contentType string, body []byte) bool {
	if l.c == nil {
		return false
	}
	t := l.c.beginResponseAt(l.gen)
	if t == nil {
		return false
	}
	return l.c.finishFixed(t, code, contentType, body)
}

// Reset restores every field to its default so the context can be recycled.
// Map and slice capacity is kept.
func (c *Context) Reset() {
	c.mu.Lock()
	c.gen++
	c.owner = nil
	c.transport = nil
	c.responded = false
	c.aborted = false
	c.abortCh = nil

	c.method = ""
	c.rawURL = ""
	c.path = ""

	for k := range c.headers {
		delete(c.headers, k)
	}
	for k := range c.query {
		delete(c.query, k)
	}
	c.queryParsed = false
	c.params = nil
	for k := range c.values {
		delete(c.values, k)
	}

	c.body = c.body[:0]
	c.bodyLast = false

	c.status = 200
	c.headerKeys = c.headerKeys[:0]
	c.headerVals = c.headerVals[:0]
	c.mu.Unlock()
}
