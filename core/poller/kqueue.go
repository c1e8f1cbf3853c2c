//go:build darwin || freebsd || netbsd || openbsd

package poller

import (
	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer.
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
	out    []Event
}

// NewPoller creates a new Poller (BSD/macOS).
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
		out:    make([]Event, 0, 1024),
	}, nil
}

// Add registers fd for read readiness. Level-triggered (no EV_CLEAR) for
// reliability.
func (p *KqueuePoller) Add(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// ModifyWrite toggles the write filter for fd.
func (p *KqueuePoller) ModifyWrite(fd int, enable bool) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_WRITE,
	}
	if enable {
		ev.Flags = unix.EV_ADD | unix.EV_ENABLE
	} else {
		ev.Flags = unix.EV_DELETE
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	if err == unix.ENOENT && !enable {
		// Deleting an unarmed filter is fine.
		return nil
	}
	return err
}

// Remove deregisters fd.
func (p *KqueuePoller) Remove(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// Wait blocks for I/O events.
func (p *KqueuePoller) Wait(timeout int) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.Timespec{
			Sec:  int64(timeout / 1000),
			Nsec: int64((timeout % 1000) * 1000000),
		}
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	p.out = p.out[:0]
	for i := 0; i < n; i++ {
		ev := p.events[i]
		p.out = append(p.out, Event{
			FD:       int(ev.Ident),
			Readable: ev.Filter == unix.EVFILT_READ,
			Writable: ev.Filter == unix.EVFILT_WRITE,
			Hup:      ev.Flags&unix.EV_EOF != 0,
		})
	}
	return p.out, nil
}

// Close releases the kqueue descriptor.
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
