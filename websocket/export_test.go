package websocket

import (
	"bufio"
	"fmt"
	"net"
)

// This file exports internal types and functions for white-box tests
// in this package and re-exported (via websocket_test aliasing, where
// needed) for external test packages.

// FrameForTest mirrors frame for tests that need to build or inspect
// one directly.
type FrameForTest struct {
	Fin     bool
	Rsv1    bool
	Rsv2    bool
	Rsv3    bool
	Opcode  byte
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

func (f *FrameForTest) toFrame() *frame {
	return &frame{
		fin: f.Fin, rsv1: f.Rsv1, rsv2: f.Rsv2, rsv3: f.Rsv3,
		opcode: f.Opcode, masked: f.Masked, mask: f.Mask, payload: f.Payload,
	}
}

func fromFrame(f *frame) *FrameForTest {
	return &FrameForTest{
		Fin: f.fin, Rsv1: f.rsv1, Rsv2: f.rsv2, Rsv3: f.rsv3,
		Opcode: f.opcode, Masked: f.masked, Mask: f.mask, Payload: f.payload,
	}
}

// BuildFrameForTest encodes ft to wire bytes via buildFrame.
func BuildFrameForTest(ft *FrameForTest) ([]byte, error) {
	return buildFrame(ft.toFrame())
}

// ApplyMaskForTest applies the RFC 6455 Section 5.3 XOR mask.
func ApplyMaskForTest(data []byte, mask [4]byte) {
	applyMask(data, mask)
}

// Opcode constants for testing.
const (
	OpcodeContinuationForTest = opcodeContinuation
	OpcodeTextForTest         = opcodeText
	OpcodeBinaryForTest       = opcodeBinary
	OpcodeCloseForTest        = opcodeClose
	OpcodePingForTest         = opcodePing
	OpcodePongForTest         = opcodePong
)

// FrameParserForTest exposes frameParser for chunking-invariance tests.
type FrameParserForTest struct {
	p frameParser
}

func NewFrameParserForTest() *FrameParserForTest {
	fp := &FrameParserForTest{}
	fp.p.reset()
	return fp
}

// Feed pushes data through the parser and reports the same
// consumed/frame/error triple feed does, with the frame translated to
// the exported FrameForTest shape.
func (fp *FrameParserForTest) Feed(data []byte) (consumed int, f *FrameForTest, err error) {
	consumed, raw, err := fp.p.feed(data)
	if raw != nil {
		f = fromFrame(raw)
	}
	return consumed, f, err
}

// StreamForTest exposes stream for message-assembly tests.
type StreamForTest struct {
	s *stream
}

func NewStreamForTest(isServer bool, maxMessageSize int) *StreamForTest {
	return &StreamForTest{s: newStream(isServer, maxMessageSize)}
}

func (st *StreamForTest) Feed(data []byte) (consumed int, msg *Message, err error) {
	return st.s.feed(data)
}

// UTF8ValidatorForTest exposes the incremental UTF-8 DFA.
type UTF8ValidatorForTest struct {
	v utf8Validator
}

func (u *UTF8ValidatorForTest) Write(data []byte) bool { return u.v.write(data) }
func (u *UTF8ValidatorForTest) Complete() bool         { return u.v.complete() }
func (u *UTF8ValidatorForTest) Reset()                 { u.v.reset() }

// NewConnPairForTest returns two Conns wired to opposite ends of a
// loopback TCP connection, one acting as server and one as client,
// without running the HTTP handshake. Useful for exercising Read/Write/
// Ping/Close against each other directly: socket buffers let a write
// (such as a deferred Close) complete while nobody reads the other end,
// which a synchronous net.Pipe would not. It panics if the loopback
// connection cannot be set up.
func NewConnPairForTest(maxMessageSize int) (serverConn, clientConn *Conn) {
	return NewTCPConnPairForTest(panicT{}, maxMessageSize)
}

// panicT is the testingT NewConnPairForTest passes on, for callers
// without a *testing.T.
type panicT struct{}

func (panicT) Fatalf(format string, args ...any) { panic(fmt.Sprintf(format, args...)) }

// GetReaderForTest exposes a Conn's buffered reader.
func GetReaderForTest(c *Conn) *bufio.Reader { return c.reader }

// NewTCPConnPairForTest returns two Conns wired over real loopback TCP
// sockets, which (unlike net.Pipe) implement syscall.Conn and so have a
// usable Fileno() for Manager/poller tests.
func NewTCPConnPairForTest(t testingT, maxMessageSize int) (serverConn, clientConn *Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()

	clientSide, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	serverSide := <-acceptCh
	if serverSide == nil {
		t.Fatalf("accept failed")
	}

	serverConn = newConn(connParams{transport: newTransport(serverSide), isServer: true, maxMessageSize: maxMessageSize})
	clientConn = newConn(connParams{transport: newTransport(clientSide), isServer: false, maxMessageSize: maxMessageSize})
	return serverConn, clientConn
}

// testingT is the subset of *testing.T that NewTCPConnPairForTest needs,
// so that NewConnPairForTest can call it without a *testing.T.
type testingT interface {
	Fatalf(format string, args ...any)
}
