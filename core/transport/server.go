// Package transport is a poller-driven HTTP/1.1 server transport. It owns the
// sockets and the event loop, parses request heads, and hands each exchange to
// a Dispatcher through the Transport boundary.
package transport

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	fhttp "github.com/searchktools/fast-dispatch/core/http"
	"github.com/searchktools/fast-dispatch/core/poller"
	"github.com/searchktools/fast-dispatch/core/pools"
)

// Dispatcher runs one request/response exchange over a transport.
type Dispatcher interface {
	Dispatch(t fhttp.Transport)
}

// Config holds server settings.
type Config struct {
	Addr        string
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

// Server accepts connections and drives their I/O from a single event loop
// goroutine. Handlers run on per-exchange goroutines.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	log        *zap.Logger

	poller  poller.Poller
	bufPool *pools.BytePool

	ln  *net.TCPListener
	lf  *os.File
	lfd int

	mu    sync.RWMutex
	conns map[int]*conn

	closing atomic.Bool
	wakeR   int
	wakeW   int
}

// NewServer creates a Server bound to d.
func NewServer(cfg Config, d Dispatcher) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		log:        log,
		bufPool:    pools.NewBytePool(),
		conns:      make(map[int]*conn),
	}
}

// ListenAndServe binds the listener and runs the event loop until Close.
func (s *Server) ListenAndServe() error {
	addr, err := net.ResolveTCPAddr("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "resolve listen address")
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	s.ln = ln

	f, err := ln.File()
	if err != nil {
		ln.Close()
		return errors.Wrap(err, "listener file")
	}
	s.lf = f
	s.lfd = int(f.Fd())
	if err := unix.SetNonblock(s.lfd, true); err != nil {
		s.closeListener()
		return errors.Wrap(err, "set nonblock")
	}

	p, err := poller.NewPoller()
	if err != nil {
		s.closeListener()
		return errors.Wrap(err, "create poller")
	}
	s.poller = p

	if err := p.Add(s.lfd); err != nil {
		s.closeListener()
		p.Close()
		return errors.Wrap(err, "register listener")
	}
	if err := s.setupWake(); err != nil {
		s.closeListener()
		p.Close()
		return errors.Wrap(err, "setup wake pipe")
	}

	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	go s.reapIdle()

	return s.loop()
}

// loop is the event loop. It runs on one goroutine; connection state is
// protected by per-connection mutexes.
func (s *Server) loop() error {
	for {
		events, err := s.poller.Wait(1000)
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return errors.Wrap(err, "poll wait")
		}
		if s.closing.Load() {
			return nil
		}

		for _, ev := range events {
			switch ev.FD {
			case s.lfd:
				s.acceptLoop()
			case s.wakeR:
				s.drainWake()
			default:
				c := s.lookup(ev.FD)
				if c == nil {
					continue
				}
				if ev.Hup {
					c.abort()
					continue
				}
				if ev.Writable {
					c.onWritable()
				}
				if ev.Readable {
					c.onReadable()
				}
			}
		}
	}
}

// acceptLoop drains the accept queue.
func (s *Server) acceptLoop() {
	for {
		fd, _, err := unix.Accept(s.lfd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR && !s.closing.Load() {
				s.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		c := newConn(fd, s)
		s.mu.Lock()
		s.conns[fd] = c
		s.mu.Unlock()

		if err := s.poller.Add(fd); err != nil {
			s.removeConn(fd)
			unix.Close(fd)
		}
	}
}

func (s *Server) dispatch(c *conn) {
	s.dispatcher.Dispatch(c)
}

func (s *Server) lookup(fd int) *conn {
	s.mu.RLock()
	c := s.conns[fd]
	s.mu.RUnlock()
	return c
}

func (s *Server) removeConn(fd int) {
	s.mu.Lock()
	delete(s.conns, fd)
	s.mu.Unlock()
}

// reapIdle closes connections past the idle timeout.
func (s *Server) reapIdle() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if s.closing.Load() {
			return
		}
		cutoff := time.Now().Add(-s.cfg.IdleTimeout)

		// Snapshot first: conn mutexes are never taken under the conns
		// lock (connections take them in the other order on close).
		s.mu.RLock()
		conns := make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.RUnlock()

		for _, c := range conns {
			c.mu.Lock()
			idle := !c.inFlight && c.lastActive.Before(cutoff)
			c.mu.Unlock()
			if idle {
				c.abort()
			}
		}
	}
}

// Close stops the event loop and tears down all connections.
func (s *Server) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.wake()

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.abort()
	}

	s.closeListener()
	if s.wakeW != 0 {
		unix.Close(s.wakeW)
		unix.Close(s.wakeR)
	}
	if s.poller != nil {
		return s.poller.Close()
	}
	return nil
}

func (s *Server) closeListener() {
	if s.lf != nil {
		s.lf.Close()
		s.lf = nil
	}
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
}

// setupWake creates a pipe the poller watches so Close can interrupt Wait.
func (s *Server) setupWake() error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return err
	}
	s.wakeR, s.wakeW = fds[0], fds[1]
	if err := unix.SetNonblock(s.wakeR, true); err != nil {
		return err
	}
	return s.poller.Add(s.wakeR)
}

func (s *Server) wake() {
	if s.wakeW != 0 {
		unix.Write(s.wakeW, []byte{0})
	}
}

func (s *Server) drainWake() {
	var buf [8]byte
	for {
		n, err := unix.Read(s.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
