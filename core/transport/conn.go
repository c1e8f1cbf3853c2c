package transport

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// conn implements the engine's Transport boundary over one nonblocking
// socket. The event loop goroutine feeds reads and drain signals; the
// dispatch goroutine performs writes. The mutex covers both sides.
type conn struct {
	fd  int
	srv *Server

	mu sync.Mutex

	// Read side.
	readBuf       []byte
	head          *requestHead
	bodyRemaining int64
	bodyDone      bool
	dataCb        func(chunk []byte, last bool)
	pendingBody   []byte
	pendingLast   bool
	pendingSet    bool
	inFlight      bool

	// Write side.
	status       int
	hdrKeys      []string
	hdrVals      []string
	headSent     bool
	total        int64
	written      int64
	wbuf         []byte
	bodyComplete bool
	done         bool
	finishAfter  bool // End arrived while head bytes were still unflushed
	mustClose    bool

	writableCb func(offset int64) bool
	abortCb    func()
	armed      bool

	aborted bool
	closed  bool

	lastActive time.Time
}

func newConn(fd int, srv *Server) *conn {
	return &conn{
		fd:         fd,
		srv:        srv,
		total:      -1,
		lastActive: time.Now(),
	}
}

// Transport accessors. head is immutable for the duration of an exchange.

func (c *conn) Method() string { return c.head.method }
func (c *conn) URL() string    { return c.head.target }

func (c *conn) Headers(visit func(key, value string) bool) {
	h := c.head
	for i := range h.headerKeys {
		if !visit(h.headerKeys[i], h.headerVals[i]) {
			return
		}
	}
}

func (c *conn) OnAborted(fn func()) {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		fn()
		return
	}
	c.abortCb = fn
	c.mu.Unlock()
}

func (c *conn) OnData(fn func(chunk []byte, last bool)) {
	c.mu.Lock()
	c.dataCb = fn
	if c.pendingSet {
		chunk, last := c.pendingBody, c.pendingLast
		c.pendingBody = nil
		c.pendingSet = false
		fn(chunk, last)
	}
	c.mu.Unlock()
}

func (c *conn) SetStatus(code int) {
	c.mu.Lock()
	if !c.headSent {
		c.status = code
	}
	c.mu.Unlock()
}

func (c *conn) WriteHeader(key, value string) {
	c.mu.Lock()
	if !c.headSent {
		c.hdrKeys = append(c.hdrKeys, key)
		c.hdrVals = append(c.hdrVals, value)
	}
	c.mu.Unlock()
}

// Cork is a no-op batching hint here: the head is assembled into one buffer
// and written with a single syscall regardless.
func (c *conn) Cork(fn func()) { fn() }

// TryWrite flushes the head if needed, then writes chunk. On EAGAIN it
// records the accepted offset, arms write interest, and reports refusal; the
// caller resumes the remainder from the drain callback's offset.
func (c *conn) TryWrite(chunk []byte, total int64) (accepted, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.aborted || c.done {
		return false, false
	}
	if !c.headSent {
		c.total = total
		c.appendHeadLocked()
		c.headSent = true
	}
	if !c.flushHeadLocked() {
		if !c.closed {
			c.armWriteLocked()
		}
		return false, false
	}

	off := 0
	for off < len(chunk) {
		n, err := unix.Write(c.fd, chunk[off:])
		if n > 0 {
			off += n
			c.written += int64(n)
		}
		switch err {
		case nil:
			if n <= 0 {
				c.armWriteLocked()
				return false, false
			}
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			c.armWriteLocked()
			return false, false
		default:
			c.teardownLocked()
			return false, false
		}
	}

	if c.total >= 0 && c.written >= c.total {
		// The exchange lifecycle (keep-alive reset or close) waits for End:
		// the dispatch side may still hold this handle.
		c.bodyComplete = true
		return true, true
	}
	return true, false
}

func (c *conn) OnWritable(fn func(offset int64) bool) {
	c.mu.Lock()
	c.writableCb = fn
	if !c.closed {
		c.armWriteLocked()
	}
	c.mu.Unlock()
}

// End finalizes the response. Bodyless responses get their head written
// here, with a zero Content-Length.
func (c *conn) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.aborted || c.done {
		return
	}
	if c.bodyComplete {
		c.finishLocked()
		return
	}
	if !c.headSent {
		c.total = 0
		c.appendHeadLocked()
		c.headSent = true
	}
	if !c.flushHeadLocked() {
		if !c.closed {
			c.finishAfter = true
			c.armWriteLocked()
		}
		return
	}
	c.finishLocked()
}

// appendHeadLocked assembles the status line, buffered headers and framing
// headers into wbuf. Unknown body length falls back to close-delimited
// framing.
func (c *conn) appendHeadLocked() {
	status := c.status
	if status == 0 {
		status = 200
	}

	b := c.wbuf[:0]
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(status), 10)
	b = append(b, ' ')
	b = append(b, statusText(status)...)
	b = append(b, "\r\n"...)
	for i := range c.hdrKeys {
		b = append(b, c.hdrKeys[i]...)
		b = append(b, ": "...)
		b = append(b, c.hdrVals[i]...)
		b = append(b, "\r\n"...)
	}
	if c.total >= 0 {
		b = append(b, "Content-Length: "...)
		b = strconv.AppendInt(b, c.total, 10)
		b = append(b, "\r\n"...)
	} else {
		b = append(b, "Connection: close\r\n"...)
		c.mustClose = true
	}
	b = append(b, "\r\n"...)
	c.wbuf = b
}

// flushHeadLocked drains wbuf to the socket. False means blocked (or torn
// down): head bytes remain.
func (c *conn) flushHeadLocked() bool {
	for len(c.wbuf) > 0 {
		n, err := unix.Write(c.fd, c.wbuf)
		if n > 0 {
			c.wbuf = c.wbuf[n:]
		}
		switch err {
		case nil:
			if n <= 0 {
				return false
			}
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return false
		default:
			c.teardownLocked()
			return false
		}
	}
	return true
}

// onWritable is the event loop's drain signal.
func (c *conn) onWritable() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.flushHeadLocked() {
		c.mu.Unlock()
		return
	}
	if c.finishAfter {
		c.finishAfter = false
		c.finishLocked()
		c.mu.Unlock()
		return
	}

	cb := c.writableCb
	offset := c.written
	if cb == nil {
		c.disarmWriteLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// The callback re-enters TryWrite; it must run unlocked.
	keep := cb(offset)

	c.mu.Lock()
	if !keep {
		c.writableCb = nil
		if len(c.wbuf) == 0 && !c.closed {
			c.disarmWriteLocked()
		}
	}
	c.mu.Unlock()
}

// onReadable is the event loop's read signal.
func (c *conn) onReadable() {
	buf := c.srv.bufPool.Get(4096)
	defer c.srv.bufPool.Put(buf)

	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			c.mu.Lock()
			c.lastActive = time.Now()
			c.processLocked(buf[:n])
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
		}
		switch err {
		case nil:
			if n == 0 {
				// Peer shutdown.
				c.abort()
				return
			}
			if n < len(buf) {
				return
			}
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return
		default:
			c.abort()
			return
		}
	}
}

// processLocked consumes freshly read bytes: body chunks for the in-flight
// exchange first, then head parsing for the next one.
func (c *conn) processLocked(data []byte) {
	if c.head != nil && !c.bodyDone {
		take := int64(len(data))
		if take > c.bodyRemaining {
			take = c.bodyRemaining
		}
		c.bodyRemaining -= take
		last := c.bodyRemaining == 0
		c.deliverBodyLocked(data[:take], last)
		data = data[take:]
		if len(data) == 0 {
			return
		}
		// Pipelined bytes beyond the declared body.
	}

	c.readBuf = append(c.readBuf, data...)
	c.tryDispatchLocked()
}

// tryDispatchLocked parses a head out of readBuf and hands the exchange to a
// dispatch goroutine. Pipelined requests stay buffered until the current
// response finishes.
func (c *conn) tryDispatchLocked() {
	if c.head != nil {
		return
	}

	head, consumed, err := parseHead(c.readBuf)
	if err != nil {
		c.rejectLocked()
		return
	}
	if head == nil {
		return
	}

	c.head = head
	c.bodyRemaining = head.contentLength
	c.readBuf = c.readBuf[consumed:]
	if head.close {
		c.mustClose = true
	}

	if c.bodyRemaining == 0 {
		c.deliverBodyLocked(nil, true)
	} else if len(c.readBuf) > 0 {
		take := c.bodyRemaining
		if take > int64(len(c.readBuf)) {
			take = int64(len(c.readBuf))
		}
		c.bodyRemaining -= take
		c.deliverBodyLocked(c.readBuf[:take], c.bodyRemaining == 0)
		c.readBuf = c.readBuf[take:]
	}

	c.inFlight = true
	go c.srv.dispatch(c)
}

func (c *conn) deliverBodyLocked(chunk []byte, last bool) {
	if last {
		c.bodyDone = true
	}
	if c.dataCb != nil {
		c.dataCb(chunk, last)
		return
	}
	c.pendingBody = append(c.pendingBody, chunk...)
	c.pendingLast = c.pendingLast || last
	c.pendingSet = true
}

// finishLocked completes the response: callbacks are dropped so a late
// signal can never reach a released context, then the connection either
// closes or resets for the next request.
func (c *conn) finishLocked() {
	c.done = true
	c.dataCb = nil
	c.abortCb = nil
	c.writableCb = nil

	if c.headSent && c.total >= 0 && c.written < c.total {
		// Truncated body: the framing promise is broken, the connection
		// cannot be reused.
		c.mustClose = true
	}
	if c.mustClose {
		c.closeLocked()
		return
	}
	c.resetLocked()
}

// resetLocked prepares the connection for the next exchange (keep-alive) and
// immediately tries to dispatch a pipelined request.
func (c *conn) resetLocked() {
	c.head = nil
	c.bodyRemaining = 0
	c.bodyDone = false
	c.pendingBody = nil
	c.pendingLast = false
	c.pendingSet = false
	c.inFlight = false

	c.status = 0
	c.hdrKeys = c.hdrKeys[:0]
	c.hdrVals = c.hdrVals[:0]
	c.headSent = false
	c.total = -1
	c.written = 0
	c.wbuf = c.wbuf[:0]
	c.bodyComplete = false
	c.done = false
	c.finishAfter = false

	if len(c.readBuf) > 0 {
		c.tryDispatchLocked()
	}
}

// rejectLocked answers a malformed head and closes.
func (c *conn) rejectLocked() {
	resp := []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	for len(resp) > 0 {
		n, err := unix.Write(c.fd, resp)
		if n > 0 {
			resp = resp[n:]
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			break
		}
		if n <= 0 {
			break
		}
	}
	c.closeLocked()
}

// abort is the peer-disconnect path: tear down and fire the abort callback.
func (c *conn) abort() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	cb := c.abortCb
	c.abortCb = nil
	c.writableCb = nil
	c.dataCb = nil
	c.closeLocked()
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// teardownLocked handles write-side failure mid-response. The abort callback
// runs on its own goroutine: it takes the context lock and must not nest
// under ours.
func (c *conn) teardownLocked() {
	if c.closed {
		return
	}
	c.aborted = true
	cb := c.abortCb
	c.abortCb = nil
	c.writableCb = nil
	c.dataCb = nil
	c.closeLocked()

	if cb != nil {
		go cb()
	}
}

// closeLocked releases the socket and deregisters the connection.
func (c *conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.srv.removeConn(c.fd)
	_ = c.srv.poller.Remove(c.fd)
	_ = unix.Close(c.fd)
}

func (c *conn) armWriteLocked() {
	if c.armed {
		return
	}
	c.armed = true
	_ = c.srv.poller.ModifyWrite(c.fd, true)
}

func (c *conn) disarmWriteLocked() {
	if !c.armed {
		return
	}
	c.armed = false
	_ = c.srv.poller.ModifyWrite(c.fd, false)
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}
