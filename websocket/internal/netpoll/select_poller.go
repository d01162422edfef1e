package netpoll

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// selectPoller is the portable backend, grounded on ws4py's
// SelectPoller (original_source/ws4py/manager.py), which wraps
// Python's select.select() the same way this wraps unix.Select.
// It works on every platform golang.org/x/sys/unix supports select on,
// and is the fallback when epoll isn't available (non-Linux).
type selectPoller struct {
	mu  sync.Mutex
	fds map[int]bool
}

// NewSelectPoller constructs the select(2)-based backend directly;
// most callers should use New() instead, which prefers epoll.
func NewSelectPoller() Poller {
	return &selectPoller{fds: make(map[int]bool)}
}

func (p *selectPoller) Register(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = true
	return nil
}

func (p *selectPoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *selectPoller) Wait(timeoutMillis int) ([]Event, error) {
	p.mu.Lock()
	var set unix.FdSet
	maxFd := -1
	for fd := range p.fds {
		fdSet(&set, fd)
		if fd > maxFd {
			maxFd = fd
		}
	}
	p.mu.Unlock()

	if maxFd < 0 {
		// Nothing registered: sleep out the timeout rather than
		// calling select with an empty set, which blocks forever with
		// a nil timeout.
		if timeoutMillis >= 0 {
			time.Sleep(time.Duration(timeoutMillis) * time.Millisecond)
		}
		return nil, nil
	}

	var tv *unix.Timeval
	if timeoutMillis >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMillis) * int64(time.Millisecond))
		tv = &t
	}

	n, err := unix.Select(maxFd+1, &set, nil, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	events := make([]Event, 0, n)
	for fd := range p.fds {
		if fdIsSet(&set, fd) {
			events = append(events, Event{Fd: fd, Readable: true})
		}
	}
	return events, nil
}

func (p *selectPoller) Close() error {
	return nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Set(fd)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.IsSet(fd)
}
