// Package http2 serves the dispatch engine over HTTP/2, cleartext (h2c) or
// TLS with ALPN. It adapts net/http's ResponseWriter/Request pair to the
// engine's Transport boundary, so handlers and middleware run unchanged on
// both the poller transport and this one.
package http2

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	fhttp "github.com/searchktools/fast-dispatch/core/http"
)

// Dispatcher runs one request/response exchange over a transport.
type Dispatcher interface {
	Dispatch(t fhttp.Transport)
}

// Config contains HTTP/2 server configuration.
type Config struct {
	Addr                 string
	MaxConcurrentStreams uint32
	MaxReadFrameSize     uint32
	IdleTimeout          time.Duration
	CertFile             string
	KeyFile              string
	Logger               *zap.Logger
}

// Server is an HTTP/2 front for a Dispatcher.
type Server struct {
	cfg    Config
	log    *zap.Logger
	server *http.Server

	mu     sync.Mutex
	closed bool
}

// NewServer creates an HTTP/2 server dispatching to d.
func NewServer(cfg Config, d Dispatcher) *Server {
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = 250
	}
	if cfg.MaxReadFrameSize == 0 {
		cfg.MaxReadFrameSize = 1 << 20
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{cfg: cfg, log: log}

	h2 := &http2.Server{
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		MaxReadFrameSize:     cfg.MaxReadFrameSize,
		IdleTimeout:          cfg.IdleTimeout,
	}

	handler := http.Handler(&adapter{dispatcher: d})
	if cfg.CertFile == "" {
		handler = h2c.NewHandler(handler, h2)
	}

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}
	if cfg.CertFile != "" {
		_ = http2.ConfigureServer(s.server, h2)
	}

	return s
}

// ListenAndServe starts the server. Without a certificate it speaks h2c.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("server is closed")
	}
	s.mu.Unlock()

	if s.cfg.CertFile != "" {
		s.log.Info("http2 listening", zap.String("addr", s.cfg.Addr), zap.String("protocol", "h2"))
		return s.server.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	}
	s.log.Info("http2 listening", zap.String("addr", s.cfg.Addr), zap.String("protocol", "h2c"))
	return s.server.ListenAndServe()
}

// Close shuts the server down.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.server.Close()
}

// adapter bridges net/http requests onto the Transport boundary.
type adapter struct {
	dispatcher Dispatcher
}

func (a *adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := newNetTransport(w, r)
	a.dispatcher.Dispatch(t)
	t.finish()
}

// netTransport implements Transport over a ResponseWriter. Writes here block
// instead of refusing: net/http applies its own flow control underneath, so
// TryWrite always accepts and OnWritable never has to wait for the socket.
type netTransport struct {
	w       http.ResponseWriter
	r       *http.Request
	flusher http.Flusher

	mu       sync.Mutex
	status   int
	headSent bool
	written  int64
	done     bool
	aborted  bool
	abortCb  func()
}

func newNetTransport(w http.ResponseWriter, r *http.Request) *netTransport {
	f, _ := w.(http.Flusher)
	return &netTransport{w: w, r: r, flusher: f}
}

func (t *netTransport) Method() string { return t.r.Method }
func (t *netTransport) URL() string    { return t.r.URL.RequestURI() }

func (t *netTransport) Headers(visit func(key, value string) bool) {
	for key, vals := range t.r.Header {
		for _, val := range vals {
			if !visit(key, val) {
				return
			}
		}
	}
}

func (t *netTransport) OnAborted(fn func()) {
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		fn()
		return
	}
	t.abortCb = fn
	t.mu.Unlock()

	go func() {
		<-t.r.Context().Done()
		t.abort()
	}()
}

func (t *netTransport) OnData(fn func(chunk []byte, last bool)) {
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := t.r.Body.Read(buf)
			if n > 0 {
				fn(buf[:n], err == io.EOF)
			}
			if err == io.EOF {
				if n == 0 {
					fn(nil, true)
				}
				return
			}
			if err != nil {
				t.abort()
				return
			}
		}
	}()
}

func (t *netTransport) SetStatus(code int) {
	t.mu.Lock()
	if !t.headSent {
		t.status = code
	}
	t.mu.Unlock()
}

func (t *netTransport) WriteHeader(key, value string) {
	t.mu.Lock()
	if !t.headSent {
		t.w.Header().Set(key, value)
	}
	t.mu.Unlock()
}

func (t *netTransport) Cork(fn func()) { fn() }

func (t *netTransport) TryWrite(chunk []byte, total int64) (accepted, finished bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.aborted || t.done {
		return false, false
	}
	t.sendHeadLocked()

	if _, err := t.w.Write(chunk); err != nil {
		if cb := t.abortLocked(); cb != nil {
			go cb()
		}
		return false, false
	}
	if t.flusher != nil {
		t.flusher.Flush()
	}
	t.written += int64(len(chunk))

	if total >= 0 && t.written >= total {
		t.done = true
		return true, true
	}
	return true, false
}

func (t *netTransport) OnWritable(fn func(offset int64) bool) {
	// The writer never refuses, so report writability immediately and keep
	// reporting it until the caller stops waiting.
	go func() {
		for {
			t.mu.Lock()
			stop := t.aborted || t.done
			offset := t.written
			t.mu.Unlock()
			if stop || !fn(offset) {
				return
			}
		}
	}()
}

func (t *netTransport) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aborted || t.done {
		return
	}
	t.sendHeadLocked()
	t.done = true
}

func (t *netTransport) sendHeadLocked() {
	if t.headSent {
		return
	}
	t.headSent = true
	status := t.status
	if status == 0 {
		status = 200
	}
	t.w.WriteHeader(status)
}

// finish runs after Dispatch returns: late callbacks are no longer welcome.
func (t *netTransport) finish() {
	t.mu.Lock()
	t.done = true
	t.abortCb = nil
	t.mu.Unlock()
}

func (t *netTransport) abort() {
	t.mu.Lock()
	if t.aborted || t.done {
		t.mu.Unlock()
		return
	}
	cb := t.abortLocked()
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (t *netTransport) abortLocked() func() {
	t.aborted = true
	cb := t.abortCb
	t.abortCb = nil
	return cb
}
