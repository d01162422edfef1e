//go:build !linux

package netpoll

import "errors"

// NewEpollPoller always fails on non-Linux platforms, so New() falls
// back to selectPoller the same way ws4py's manager module falls back
// when `hasattr(select, "epoll")` is false.
func NewEpollPoller() (Poller, error) {
	return nil, errors.New("netpoll: epoll not available on this platform")
}
