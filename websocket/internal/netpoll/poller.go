// Package netpoll provides the readiness-poller abstraction spec.md §4.6
// requires of the connection manager: register a file descriptor, block
// until one or more are readable, and learn which ones.
//
// Grounded on original_source/ws4py/manager.py, which picks between
// SelectPoller and EPollPoller at import time with
// `hasattr(select, "epoll")`; New does the Go equivalent by attempting
// an epoll poller first and falling back to select.
package netpoll

// Event reports one file descriptor's readiness.
type Event struct {
	Fd       int
	Readable bool
	Error    bool
}

// Poller abstracts a readiness-notification backend. Implementations
// are not safe for concurrent Wait calls from multiple goroutines, but
// Register/Unregister may be called while a Wait is blocked elsewhere
// (the select backend takes a lock; the epoll backend is inherently
// safe for concurrent ctl/wait per the epoll(7) man page).
type Poller interface {
	// Register starts reporting readability for fd.
	Register(fd int) error
	// Unregister stops reporting readability for fd.
	Unregister(fd int) error
	// Wait blocks until at least one registered fd is ready, the
	// timeout (in milliseconds; negative means no timeout) elapses, or
	// a signal interrupts the wait. A nil, nil result with no events
	// means the timeout elapsed or the wait was interrupted (EINTR).
	Wait(timeoutMillis int) ([]Event, error)
	// Close releases backend resources (e.g. the epoll fd).
	Close() error
}

// New picks epoll on platforms that support it (currently Linux, via
// golang.org/x/sys/unix) and falls back to the portable select backend
// everywhere else.
func New() Poller {
	if p, err := NewEpollPoller(); err == nil {
		return p
	}
	return NewSelectPoller()
}
