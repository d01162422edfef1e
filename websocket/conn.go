package websocket

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// transportReader adapts Transport.Recv to io.Reader so a client-side
// Conn (no hijacked bufio.Reader to reuse) can still be buffered.
type transportReader struct{ t Transport }

func (r transportReader) Read(p []byte) (int, error) { return r.t.Recv(p) }

// connParams carries everything newConn needs from either handshake
// path (server Upgrade or client Dial).
type connParams struct {
	transport      Transport
	reader         *bufio.Reader // reused hijacked reader, or nil to build one over transport
	writer         *bufio.Writer
	isServer       bool
	subprotocol    string
	extensions     []string
	maxMessageSize int
	id             uuid.UUID
	logger         zerolog.Logger
	environ        map[string]any
}

// Conn represents a WebSocket connection (RFC 6455). It is the Go
// analogue of ws4py's WebSocket class (original_source/ws4py/websocket.py):
// one object owns the transport, the incremental stream assembler, and
// the per-connection close/termination state.
//
// Conn can be driven two ways: directly, with the blocking Read/Write
// methods (one goroutine reading, any number writing), or under a
// Manager, which calls the unexported step methods from its own single
// driver goroutine and multiplexes many Conns behind one poller.
type Conn struct {
	transport Transport
	reader    *bufio.Reader
	writer    *bufio.Writer

	isServer    bool
	id          uuid.UUID
	subprotocol string
	extensions  []string
	log         zerolog.Logger

	// Environ carries host-supplied context (request headers, remote
	// address, auth principal, ...) alongside the connection, mirroring
	// ws4py's WebSocket.environ dict.
	Environ map[string]any

	stream  *stream
	readBuf []byte
	readPos int
	scratch []byte

	writeMu   sync.Mutex
	queueMu   sync.Mutex
	sendQueue *queue.Queue
	managed   bool // true once added to a Manager; disables synchronous auto-drain

	closeOnce      sync.Once
	closeTransport sync.Once
	closeMu        sync.RWMutex
	sentClose      bool
	receivedClose  bool
}

func newConn(p connParams) *Conn {
	reader := p.reader
	if reader == nil {
		reader = bufio.NewReaderSize(transportReader{p.transport}, defaultReadBufferSize)
	}
	writer := p.writer
	if writer == nil {
		writer = bufio.NewWriterSize(&transportWriter{p.transport}, defaultWriteBufferSize)
	}

	environ := p.environ
	if environ == nil {
		environ = make(map[string]any)
	}

	return &Conn{
		transport:   p.transport,
		reader:      reader,
		writer:      writer,
		isServer:    p.isServer,
		id:          p.id,
		subprotocol: p.subprotocol,
		extensions:  p.extensions,
		log:         p.logger,
		Environ:     environ,
		stream:      newStream(p.isServer, p.maxMessageSize),
		scratch:     make([]byte, defaultReadBufferSize),
		sendQueue:   queue.New(),
	}
}

// transportWriter adapts Transport.SendAll to io.Writer for bufio.Writer.
type transportWriter struct{ t Transport }

func (w *transportWriter) Write(p []byte) (int, error) {
	if err := w.t.SendAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ID is a per-connection identifier suitable for log correlation.
func (c *Conn) ID() uuid.UUID { return c.id }

// Subprotocol returns the subprotocol negotiated during the handshake,
// or "" if none was.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// Extensions returns the extension names negotiated during the
// handshake (name only; see UpgradeOptions.Extensions).
func (c *Conn) Extensions() []string { return c.extensions }

// LocalAddr and RemoteAddr passthrough to the underlying transport.
func (c *Conn) LocalAddr() net.Addr  { return c.transport.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// Terminated reports whether both directions of the close handshake
// have completed: our close frame was sent and the peer's was
// received. RFC 6455 Section 7.1.1.
func (c *Conn) Terminated() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.sentClose && c.receivedClose
}

func (c *Conn) isClosedForWrite() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.sentClose
}

// Read reads the next complete application message, transparently
// answering Ping frames with Pong and discarding unsolicited Pong
// frames (RFC 6455 Section 5.5). It returns ErrClosed when a Close
// frame arrives from the peer; sending our own Close does not by
// itself make Read return.
//
// Read is for direct (non-Manager) use; under a Manager, messages
// arrive via the Received callback instead (see manager.go).
func (c *Conn) Read() (MessageType, []byte, error) {
	for {
		msg, err := c.readMessage()
		if err != nil {
			return 0, nil, err
		}

		switch msg.opcode {
		case opcodePing:
			if err := c.Pong(msg.Data); err != nil {
				return 0, nil, err
			}
		case opcodePong:
			// no action
		case opcodeClose:
			c.handleIncomingClose(msg)
			return 0, nil, ErrClosed
		default:
			return msg.Type(), msg.Data, nil
		}
	}
}

// readMessage blocks on the transport until the stream assembler
// produces one complete Message (data or control).
func (c *Conn) readMessage() (*Message, error) {
	for {
		if c.readPos < len(c.readBuf) {
			consumed, msg, err := c.stream.feed(c.readBuf[c.readPos:])
			c.readPos += consumed
			if err != nil {
				// spec.md §4.5's run-loop contract: on a stream error,
				// send a close carrying that error's code/reason before
				// breaking out, mirroring the teacher's direct
				// CloseWithCode calls in Read() on malformed frames.
				_ = c.CloseWithCode(closeCodeForStreamError(err), err.Error())
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
			continue
		}

		n, err := c.reader.Read(c.scratch)
		if err != nil {
			return nil, err
		}
		c.readBuf = c.scratch[:n]
		c.readPos = 0
	}
}

// processBytes feeds data through the stream assembler and returns
// every message it completed, answering Pings with a queued Pong and
// marking the receive side terminated on an incoming Close (see
// handleIncomingClose) without blocking for a response to be written.
// Used exclusively by Manager.step; Read has its own blocking loop.
func (c *Conn) processBytes(data []byte) ([]*Message, error) {
	var out []*Message
	pos := 0
	for pos < len(data) {
		consumed, msg, err := c.stream.feed(data[pos:])
		pos += consumed
		if err != nil {
			// Mirrors readMessage: send the peer a close carrying the
			// mapped RFC 6455 code before the Manager tears the
			// connection down.
			_ = c.CloseWithCode(closeCodeForStreamError(err), err.Error())
			return out, err
		}
		if msg == nil {
			continue
		}

		switch msg.opcode {
		case opcodePing:
			if err := c.Pong(msg.Data); err != nil {
				return out, err
			}
			out = append(out, msg)
		case opcodePong:
			out = append(out, msg)
		case opcodeClose:
			c.handleIncomingClose(msg)
			out = append(out, msg)
		default:
			out = append(out, msg)
		}
	}
	return out, nil
}

// ReadText reads the next message, requiring it to be Text.
func (c *Conn) ReadText() (string, error) {
	msgType, data, err := c.Read()
	if err != nil {
		return "", err
	}
	if msgType != TextMessage {
		return "", ErrInvalidMessageType
	}
	return string(data), nil
}

// ReadJSON reads the next Text message and unmarshals it as JSON.
func (c *Conn) ReadJSON(v any) error {
	msgType, data, err := c.Read()
	if err != nil {
		return err
	}
	if msgType != TextMessage {
		return ErrInvalidMessageType
	}
	return json.Unmarshal(data, v)
}

// Write sends a single, unfragmented Text or Binary message. RFC 6455
// Section 5.1: client frames are masked with a fresh crypto/rand key
// per frame, server frames are never masked.
func (c *Conn) Write(messageType MessageType, data []byte) error {
	if c.isClosedForWrite() {
		return ErrClosed
	}

	var opcode byte
	switch messageType {
	case TextMessage:
		opcode = opcodeText
		if !validUTF8(data) {
			return ErrInvalidUTF8
		}
	case BinaryMessage:
		opcode = opcodeBinary
	default:
		return ErrInvalidMessageType
	}

	f := &frame{fin: true, opcode: opcode, payload: data}
	c.maybeMask(f)
	return c.send(f)
}

// WriteText writes a Text message.
func (c *Conn) WriteText(text string) error {
	return c.Write(TextMessage, []byte(text))
}

// WriteJSON marshals v to JSON and writes it as a Text message.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(TextMessage, data)
}

// SendChunks sends a Text or Binary message assembled from a finite
// sequence of payload chunks, fragmenting one frame per chunk (RFC
// 6455 Section 5.4). It is the Go-idiomatic replacement for ws4py's
// generator-driven WebSocket.send(): instead of a Python generator
// yielding successive chunks, the caller supplies a channel and closes
// it to signal the final chunk.
func (c *Conn) SendChunks(messageType MessageType, chunks <-chan []byte) error {
	if c.isClosedForWrite() {
		return ErrClosed
	}

	var opcode byte
	switch messageType {
	case TextMessage:
		opcode = opcodeText
	case BinaryMessage:
		opcode = opcodeBinary
	default:
		return ErrInvalidMessageType
	}

	pending, ok := <-chunks
	if !ok {
		return nil
	}

	first := true
	for {
		next, more := <-chunks

		f := &frame{fin: !more, payload: pending}
		if first {
			f.opcode = opcode
			first = false
		} else {
			f.opcode = opcodeContinuation
		}
		c.maybeMask(f)
		if err := c.send(f); err != nil {
			return err
		}
		if !more {
			return nil
		}
		pending = next
	}
}

// Ping sends a ping control frame. Peers are expected to answer with a
// Pong carrying the same payload (RFC 6455 Section 5.5.2).
func (c *Conn) Ping(data []byte) error {
	if c.isClosedForWrite() {
		return ErrClosed
	}
	if len(data) > maxControlPayload {
		return ErrControlTooLarge
	}
	f := &frame{fin: true, opcode: opcodePing, payload: data}
	c.maybeMask(f)
	return c.send(f)
}

// Pong sends a pong control frame, normally in response to a Ping
// (RFC 6455 Section 5.5.3). Read already does this automatically for
// incoming Pings; manual use is for unsolicited pongs (heartbeats).
func (c *Conn) Pong(data []byte) error {
	if c.isClosedForWrite() {
		return ErrClosed
	}
	if len(data) > maxControlPayload {
		return ErrControlTooLarge
	}
	f := &frame{fin: true, opcode: opcodePong, payload: data}
	c.maybeMask(f)
	return c.send(f)
}

// Close sends a Close frame with CloseNormalClosure and no reason.
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode sends a Close frame carrying code and reason (RFC 6455
// Section 7.4). Idempotent: only the first call actually sends. Once
// both directions of the close handshake have completed the transport
// is shut down and closed.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	var sendErr error
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.sentClose = true
		c.closeMu.Unlock()

		if reason != "" && !validUTF8(reason) {
			sendErr = ErrInvalidUTF8
			return
		}

		payload := make([]byte, 2+len(reason))
		binary.BigEndian.PutUint16(payload, uint16(code))
		copy(payload[2:], reason)

		f := &frame{fin: true, opcode: opcodeClose, payload: payload}
		c.maybeMask(f)
		sendErr = c.send(f)
	})

	if c.Terminated() {
		_ = c.shutdownTransport()
	}
	return sendErr
}

// handleIncomingClose processes a Close frame received from the peer:
// marks the receive side terminated, echoes our own Close if we
// haven't sent one yet, and tears down the transport once both sides
// have completed (RFC 6455 Section 7.1.2).
func (c *Conn) handleIncomingClose(msg *Message) {
	c.closeMu.Lock()
	c.receivedClose = true
	c.closeMu.Unlock()

	if !c.isClosedForWrite() {
		// 1005 only records locally that the peer's Close had no code;
		// it is never put on the wire, so answer it with 1000.
		code := msg.Code
		if code == CloseNoStatusReceived {
			code = CloseNormalClosure
		}
		_ = c.CloseWithCode(code, "")
		return
	}
	if c.Terminated() {
		_ = c.shutdownTransport()
	}
}

func (c *Conn) shutdownTransport() error {
	var err error
	c.closeTransport.Do(func() {
		// Flush frames still queued (under a Manager, sends only
		// enqueue) so a queued Close reaches the peer before teardown.
		_ = c.drainSendQueue()
		_ = c.transport.Shutdown()
		err = c.transport.Close()
	})
	return err
}

// maybeMask applies RFC 6455 Section 5.1's masking rule: client-to-
// server frames must be masked with a fresh, unpredictable key; server
// frames must never be masked.
func (c *Conn) maybeMask(f *frame) {
	if c.isServer {
		return
	}
	f.masked = true
	var mask [4]byte
	_, _ = rand.Read(mask[:])
	f.mask = mask
}

// send encodes f and enqueues it on the outbound queue. In direct
// (non-Manager) use the queue is drained synchronously right away; a
// Manager instead drains it once per poll step, which is what makes
// automatic Pongs and application Writes never interleave mid-frame
// (spec's single-producer send model).
func (c *Conn) send(f *frame) error {
	buf, err := buildFrame(f)
	if err != nil {
		return err
	}

	c.queueMu.Lock()
	c.sendQueue.Add(buf)
	c.queueMu.Unlock()

	if c.managed {
		return nil
	}
	return c.drainSendQueue()
}

// drainSendQueue flushes every buffer currently queued for send. Called
// synchronously after every send() in direct mode, and once per step by
// the Manager's driver goroutine in managed mode.
func (c *Conn) drainSendQueue() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for {
		c.queueMu.Lock()
		if c.sendQueue.Length() == 0 {
			c.queueMu.Unlock()
			return nil
		}
		buf, _ := c.sendQueue.Remove().([]byte)
		c.queueMu.Unlock()

		_, writeErr := c.writer.Write(buf)
		releaseFrameBytes(buf)
		if writeErr != nil {
			return writeErr
		}
		if err := c.writer.Flush(); err != nil {
			return err
		}
	}
}
