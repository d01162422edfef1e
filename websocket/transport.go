package websocket

import (
	"errors"
	"net"
	"syscall"
)

// Transport is the byte-level I/O surface the endpoint driver (conn.go)
// and connection manager (manager.go) need. It exists so the run loop
// and poller never depend on net.Conn directly, mirroring ws4py's
// websocket.WebSocket, which only calls sock.recv/sock.send and never
// assumes a socket vs. SSL-wrapped socket vs. pipe distinction.
//
// Fileno is used by Manager to register the underlying file descriptor
// with its poller (epoll or select, see internal/netpoll); transports
// that cannot expose one (e.g. an in-memory pipe) return an error, and
// Manager.Add then rejects the connection.
type Transport interface {
	Recv(buf []byte) (int, error)
	SendAll(data []byte) error
	Shutdown() error
	Close() error
	Fileno() (int, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// netConnTransport adapts a net.Conn (TCP, TLS, or Unix domain socket)
// to Transport. It is the only Transport implementation shipped here;
// tests wrap the two ends of a loopback TCP connection in it.
type netConnTransport struct {
	conn net.Conn
}

func newTransport(conn net.Conn) Transport {
	return &netConnTransport{conn: conn}
}

func (t *netConnTransport) Recv(buf []byte) (int, error) {
	return t.conn.Read(buf)
}

// SendAll writes data in full, looping over short writes the way
// ws4py's sock.send does implicitly (Python sockets raise on error but
// a short write from Go's net.Conn.Write is already a contract
// violation it never makes in practice; this loop exists for transports
// that don't hold that guarantee, such as a future pipe-based one).
func (t *netConnTransport) SendAll(data []byte) error {
	for len(data) > 0 {
		n, err := t.conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Shutdown half-closes the write side so a peer still reading sees EOF
// after our close frame, without discarding bytes still in flight from
// them. Mirrors ws4py's manager.py calling sock.shutdown(SHUT_WR) ahead
// of close().
func (t *netConnTransport) Shutdown() error {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := t.conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}

func (t *netConnTransport) Close() error {
	return t.conn.Close()
}

var errNoSyscallConn = errors.New("websocket: transport has no underlying file descriptor")

// Fileno extracts the raw file descriptor for poller registration. It
// works for conns that implement syscall.Conn, such as *net.TCPConn and
// *net.UnixConn; a *tls.Conn does not, and is not unwrapped here, so a
// TLS transport returns errNoSyscallConn.
func (t *netConnTransport) Fileno() (int, error) {
	sc, ok := t.conn.(syscall.Conn)
	if !ok {
		return 0, errNoSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var fd int
	var ctrlErr error
	err = raw.Control(func(descriptor uintptr) {
		fd = int(descriptor)
	})
	if err != nil {
		return 0, err
	}
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

func (t *netConnTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *netConnTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
