package websocket_test

import (
	"context"
	"testing"
	"time"

	"github.com/coregx/wsstream/websocket"
)

// TestIntegrationFragmentedMessageOverRealSocket exercises the full
// stack end to end: HTTP Upgrade, real TCP framing, SendChunks-driven
// fragmentation on the wire, and reassembly on the other side.
func TestIntegrationFragmentedMessageOverRealSocket(t *testing.T) {
	srv := newEchoServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := websocket.Dial(ctx, wsURLFor(t, srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	chunks := make(chan []byte, 4)
	chunks <- []byte("frag-")
	chunks <- []byte("ment-")
	chunks <- []byte("ed")
	close(chunks)

	if err := conn.SendChunks(websocket.TextMessage, chunks); err != nil {
		t.Fatalf("SendChunks: %v", err)
	}

	got, err := conn.ReadText()
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if got != "frag-ment-ed" {
		t.Fatalf("got %q, want %q", got, "frag-ment-ed")
	}
}

// TestIntegrationCloseHandshakeOverRealSocket exercises the close
// handshake (RFC 6455 Section 7.1.2) across a real socket, including
// the server's echoed Close once it observes the client's.
func TestIntegrationCloseHandshakeOverRealSocket(t *testing.T) {
	srv := newEchoServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := websocket.Dial(ctx, wsURLFor(t, srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.CloseWithCode(websocket.CloseNormalClosure, "done"); err != nil {
		t.Fatalf("CloseWithCode: %v", err)
	}

	// The echo handler observes our Close and echoes its own back;
	// reading it completes our side of the handshake too.
	if _, _, err := conn.Read(); !websocket.IsCloseError(err) {
		t.Fatalf("Read() error = %v, want ErrClosed", err)
	}

	if !conn.Terminated() {
		t.Fatal("client Conn should be Terminated after a clean close handshake")
	}
}
