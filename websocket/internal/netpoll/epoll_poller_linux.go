//go:build linux

package netpoll

import "golang.org/x/sys/unix"

// epollPoller is the Linux backend, grounded on ws4py's EPollPoller
// (original_source/ws4py/manager.py) and momentics-hioload-ws's use of
// golang.org/x/sys/unix for the same purpose.
type epollPoller struct {
	epfd int
}

// NewEpollPoller constructs the epoll(7)-based backend. It returns an
// error on any platform where epoll_create1 is unavailable, which is
// how New() decides to fall back to selectPoller.
func NewEpollPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) Register(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Unregister(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMillis int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, Event{
			Fd:       int(raw[i].Fd),
			Readable: raw[i].Events&unix.EPOLLIN != 0,
			Error:    raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return events, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
