package websocket_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/coregx/wsstream/websocket"
)

// TestMain verifies that Manager.Close/Run shut down their poller and
// driver goroutines cleanly, leaving nothing running behind the tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingHandler struct {
	opened   chan *websocket.Conn
	received chan *websocket.Message
	closed   chan websocket.CloseCode
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan *websocket.Conn, 1),
		received: make(chan *websocket.Message, 8),
		closed:   make(chan websocket.CloseCode, 1),
	}
}

func (h *recordingHandler) Opened(c *websocket.Conn)                      { h.opened <- c }
func (h *recordingHandler) Received(_ *websocket.Conn, m *websocket.Message) { h.received <- m }
func (h *recordingHandler) Closed(_ *websocket.Conn, code websocket.CloseCode, _ string) {
	h.closed <- code
}

func TestManagerDeliversMessage(t *testing.T) {
	server, client := websocket.NewTCPConnPairForTest(t, 0)
	defer client.Close()

	mgr := websocket.NewManager(zerolog.Nop())
	defer mgr.Close()

	handler := newRecordingHandler()
	if err := mgr.Add(server, handler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	go mgr.Run()

	select {
	case <-handler.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("Opened was not called")
	}

	if err := client.WriteText("hi"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	select {
	case msg := <-handler.received:
		if msg.Text() != "hi" {
			t.Fatalf("got %q, want %q", msg.Text(), "hi")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Received was not called")
	}
}

func TestManagerClosedCallback(t *testing.T) {
	server, client := websocket.NewTCPConnPairForTest(t, 0)

	mgr := websocket.NewManager(zerolog.Nop())
	defer mgr.Close()

	handler := newRecordingHandler()
	if err := mgr.Add(server, handler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	go mgr.Run()
	<-handler.opened

	if err := client.CloseWithCode(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("CloseWithCode: %v", err)
	}

	select {
	case code := <-handler.closed:
		if code != websocket.CloseNormalClosure {
			t.Fatalf("got code %v, want CloseNormalClosure", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Closed was not called")
	}
}

func TestManagerCount(t *testing.T) {
	server, client := websocket.NewTCPConnPairForTest(t, 0)
	defer client.Close()

	mgr := websocket.NewManager(zerolog.Nop())
	defer mgr.Close()

	if err := mgr.Add(server, newRecordingHandler()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := mgr.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
}
