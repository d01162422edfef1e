package websocket_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coregx/wsstream/websocket"
)

func TestConnWriteAndReadText(t *testing.T) {
	server, client := websocket.NewConnPairForTest(0)
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, data, err := server.Read()
		if err != nil {
			done <- err
			return
		}
		if string(data) != "hello" {
			done <- errors.New("payload mismatch: " + string(data))
			return
		}
		done <- nil
	}()

	if err := client.WriteText("hello"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to read")
	}
}

func TestConnPingAutoPong(t *testing.T) {
	server, client := websocket.NewConnPairForTest(0)
	defer server.Close()
	defer client.Close()

	// Draining server.Read() triggers an automatic Pong reply (RFC 6455
	// Section 5.5.2) to whatever Ping the client sends. The client never
	// reads, so the Pong itself is not observed here; the test checks
	// that the Ping is sent without error while the server answers it.
	go func() {
		_, _, _ = server.Read()
	}()

	if err := client.Ping([]byte("ping-payload")); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestConnCloseHandshake(t *testing.T) {
	server, client := websocket.NewConnPairForTest(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := server.Read()
		if !websocket.IsCloseError(err) {
			t.Errorf("server.Read() error = %v, want ErrClosed", err)
		}
	}()

	if err := client.CloseWithCode(websocket.CloseNormalClosure, "bye"); err != nil {
		t.Fatalf("CloseWithCode: %v", err)
	}

	wg.Wait()
}

func TestConnWriteRejectsInvalidUTF8(t *testing.T) {
	server, client := websocket.NewConnPairForTest(0)
	defer server.Close()
	defer client.Close()

	if err := client.Write(websocket.TextMessage, []byte{0xFF, 0xFE}); !errors.Is(err, websocket.ErrInvalidUTF8) {
		t.Fatalf("got %v, want ErrInvalidUTF8", err)
	}
}

func TestConnSendChunksFragments(t *testing.T) {
	server, client := websocket.NewConnPairForTest(0)
	defer server.Close()
	defer client.Close()

	chunks := make(chan []byte, 3)
	chunks <- []byte("ab")
	chunks <- []byte("cd")
	chunks <- []byte("ef")
	close(chunks)

	done := make(chan error, 1)
	go func() {
		_, data, err := server.Read()
		if err != nil {
			done <- err
			return
		}
		if string(data) != "abcdef" {
			done <- errors.New("got " + string(data))
			return
		}
		done <- nil
	}()

	if err := client.SendChunks(websocket.BinaryMessage, chunks); err != nil {
		t.Fatalf("SendChunks: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled message")
	}
}
