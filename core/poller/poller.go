// Package poller provides I/O readiness notification for the nonblocking
// transport: epoll on Linux, kqueue on BSD/macOS.
package poller

// Event is one readiness notification.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	// Hup reports peer shutdown (EPOLLRDHUP/EV_EOF). The transport turns
	// this into the abort signal.
	Hup bool
}

// Poller is the I/O multiplexing interface.
type Poller interface {
	// Add registers fd for read readiness.
	Add(fd int) error

	// ModifyWrite toggles write-readiness interest for fd. The transport
	// arms it while a response producer is suspended on backpressure and
	// disarms it after the drain signal.
	ModifyWrite(fd int, enable bool) error

	// Remove deregisters fd.
	Remove(fd int) error

	// Wait blocks up to timeout milliseconds for events. A negative
	// timeout blocks indefinitely.
	Wait(timeout int) ([]Event, error)

	Close() error
}
