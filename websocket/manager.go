package websocket

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coregx/wsstream/websocket/internal/netpoll"
)

// Handler receives connection lifecycle events from a Manager. It
// replaces the subclass-and-override pattern ws4py's WebSocket class
// uses for opened()/received_message()/closed(): Go has no
// subclassing, so the manager calls back into whatever Handler the
// caller supplied when the connection was added.
type Handler interface {
	// Opened is called once, right after a connection is added.
	Opened(c *Conn)
	// Received is called for every completed Text, Binary, Ping, or
	// Pong message. Close messages are not delivered here; see Closed.
	Received(c *Conn, msg *Message)
	// Closed is called exactly once, when the close handshake
	// completes or the connection is dropped for any other reason.
	Closed(c *Conn, code CloseCode, reason string)
}

type managedConn struct {
	conn    *Conn
	handler Handler
}

// Manager multiplexes many Conns behind a single readiness poller and
// a single driver goroutine, advancing each ready connection by exactly
// one non-blocking read per event. It is the Go counterpart of ws4py's
// WebSocketManager (original_source/ws4py/manager.py): where that class
// is a threading.Thread subclass running a SelectPoller or EPollPoller
// loop, Manager runs the loop in Run, called from a goroutine the
// caller owns.
//
// The one-step-at-a-time discipline matters: a single slow or hostile
// peer can only ever block for the duration of one read, never start
// starving the other connections sharing the manager.
type Manager struct {
	poller netpoll.Poller
	log    zerolog.Logger

	mu    sync.RWMutex
	byFd  map[int]*managedConn
	byID  map[uuid.UUID]*managedConn
	closed bool
}

// NewManager constructs a Manager using the best available poller
// backend for the platform (see internal/netpoll.New).
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		poller: netpoll.New(),
		log:    logger,
		byFd:   make(map[int]*managedConn),
		byID:   make(map[uuid.UUID]*managedConn),
	}
}

// Add registers c with the manager and calls handler.Opened. Reads and
// writes on c are driven by Run from then on; callers must not also
// call c.Read in another goroutine.
func (m *Manager) Add(c *Conn, handler Handler) error {
	fd, err := c.transport.Fileno()
	if err != nil {
		return fmt.Errorf("websocket: manager: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	c.managed = true
	entry := &managedConn{conn: c, handler: handler}
	m.byFd[fd] = entry
	m.byID[c.id] = entry
	m.mu.Unlock()

	if err := m.poller.Register(fd); err != nil {
		m.mu.Lock()
		delete(m.byFd, fd)
		delete(m.byID, c.id)
		m.mu.Unlock()
		return err
	}

	handler.Opened(c)
	return nil
}

// Remove unregisters c and closes its transport. Safe to call from any
// goroutine, including from within a Handler callback.
func (m *Manager) Remove(c *Conn) {
	fd, err := c.transport.Fileno()
	if err == nil {
		_ = m.poller.Unregister(fd)
	}

	m.mu.Lock()
	if err != nil {
		// The transport is already closed (e.g. by the close
		// handshake), so find c's entry by value instead.
		for k, e := range m.byFd {
			if e.conn == c {
				fd = k
				break
			}
		}
	}
	delete(m.byFd, fd)
	delete(m.byID, c.id)
	m.mu.Unlock()

	_ = c.shutdownTransport()
}

// Count returns the number of connections currently registered.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byFd)
}

// Run blocks, polling for readiness and advancing one connection per
// ready event, until Close is called. Intended to run in its own
// goroutine:
//
//	mgr := websocket.NewManager(logger)
//	go mgr.Run()
//	defer mgr.Close()
func (m *Manager) Run() error {
	const pollTimeoutMillis = 250

	for {
		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return nil
		}

		events, err := m.poller.Wait(pollTimeoutMillis)
		if err != nil {
			return fmt.Errorf("websocket: manager: poll: %w", err)
		}

		for _, ev := range events {
			m.mu.RLock()
			entry, ok := m.byFd[ev.Fd]
			m.mu.RUnlock()
			if !ok {
				continue
			}
			m.step(entry)
		}
	}
}

// step performs exactly one non-blocking advance of entry's connection:
// a single read, dispatch of whatever messages that read completed, and
// a send-queue drain. This mirrors ws4py's WebSocket.process(), called
// once per readiness notification by the manager thread rather than in
// a loop per connection.
func (m *Manager) step(entry *managedConn) {
	c := entry.conn

	buf := make([]byte, defaultReadBufferSize)
	n, err := c.transport.Recv(buf)
	if err != nil {
		m.terminate(entry, CloseAbnormalClosure, "")
		return
	}
	if n == 0 {
		return
	}

	msgs, procErr := c.processBytes(buf[:n])
	for _, msg := range msgs {
		if msg.opcode == opcodeClose {
			m.terminate(entry, msg.Code, msg.Reason)
			return
		}
		entry.handler.Received(c, msg)
	}

	if drainErr := c.drainSendQueue(); drainErr != nil {
		m.terminate(entry, CloseAbnormalClosure, "")
		return
	}

	if procErr != nil {
		// processBytes already sent the peer a close carrying this
		// code (see Conn.processBytes); report the same code through
		// the Closed callback rather than collapsing every stream
		// error to a generic protocol error.
		m.terminate(entry, closeCodeForStreamError(procErr), procErr.Error())
		return
	}

	if c.Terminated() {
		m.terminate(entry, CloseNormalClosure, "")
	}
}

func (m *Manager) terminate(entry *managedConn, code CloseCode, reason string) {
	m.Remove(entry.conn)
	entry.handler.Closed(entry.conn, code, reason)
}

// Broadcast sends a Text or Binary message to every registered
// connection. Per-connection send errors are logged and that
// connection is dropped; Broadcast itself never returns an error.
func (m *Manager) Broadcast(messageType MessageType, data []byte) {
	m.mu.RLock()
	entries := make([]*managedConn, 0, len(m.byFd))
	for _, e := range m.byFd {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		if err := entry.conn.Write(messageType, data); err != nil {
			m.log.Warn().Err(err).Str("conn", entry.conn.id.String()).Msg("broadcast write failed")
			m.terminate(entry, CloseAbnormalClosure, "")
		}
	}
}

// CloseAll sends a Close frame to every connection and tears them all
// down. Mirrors ws4py's WebSocketManager.close_all, whose defaults
// (1001 Going Away, "Server is shutting down") are used when the
// caller passes zero values.
func (m *Manager) CloseAll(code CloseCode, reason string) {
	if code == 0 {
		code = CloseGoingAway
	}
	if reason == "" {
		reason = "Server is shutting down"
	}

	m.mu.RLock()
	entries := make([]*managedConn, 0, len(m.byFd))
	for _, e := range m.byFd {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		_ = entry.conn.CloseWithCode(code, reason)
		m.terminate(entry, code, reason)
	}
}

// Close stops Run and tears down every registered connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.CloseAll(CloseGoingAway, "Server is shutting down")
	return m.poller.Close()
}
