package websocket_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/coregx/wsstream/websocket"
)

func TestBuildFrameUnmasked(t *testing.T) {
	f := &websocket.FrameForTest{Fin: true, Opcode: websocket.OpcodeTextForTest, Payload: []byte("hi")}
	out, err := websocket.BuildFrameForTest(f)
	if err != nil {
		t.Fatalf("BuildFrameForTest: %v", err)
	}

	want := []byte{0x81, 0x02, 'h', 'i'}
	if string(out) != string(want) {
		t.Fatalf("got % x, want % x", out, want)
	}
}

func TestBuildFrameMasked(t *testing.T) {
	mask := [4]byte{0x01, 0x02, 0x03, 0x04}
	f := &websocket.FrameForTest{
		Fin: true, Opcode: websocket.OpcodeBinaryForTest, Masked: true,
		Mask: mask, Payload: []byte{0xAA, 0xBB},
	}
	out, err := websocket.BuildFrameForTest(f)
	if err != nil {
		t.Fatalf("BuildFrameForTest: %v", err)
	}
	if len(out) != 2+4+2 {
		t.Fatalf("got %d bytes, want 8", len(out))
	}
	if out[1]&0x80 == 0 {
		t.Fatal("mask bit not set")
	}

	payload := append([]byte(nil), out[6:8]...)
	websocket.ApplyMaskForTest(payload, mask)
	if payload[0] != 0xAA || payload[1] != 0xBB {
		t.Fatalf("unmasked payload = % x, want aa bb", payload)
	}
}

func TestBuildFrameExtendedLength16(t *testing.T) {
	payload := make([]byte, 200)
	f := &websocket.FrameForTest{Fin: true, Opcode: websocket.OpcodeBinaryForTest, Payload: payload}
	out, err := websocket.BuildFrameForTest(f)
	if err != nil {
		t.Fatalf("BuildFrameForTest: %v", err)
	}
	if out[1] != 126 {
		t.Fatalf("length field = %d, want 126", out[1])
	}
	if len(out) != 2+2+200 {
		t.Fatalf("got %d bytes, want %d", len(out), 2+2+200)
	}
}

func TestBuildFrameRejectsControlFragment(t *testing.T) {
	f := &websocket.FrameForTest{Fin: false, Opcode: websocket.OpcodePingForTest}
	if _, err := websocket.BuildFrameForTest(f); err == nil {
		t.Fatal("expected error for fragmented control frame")
	}
}

func TestBuildFrameRejectsOversizedControl(t *testing.T) {
	f := &websocket.FrameForTest{Fin: true, Opcode: websocket.OpcodePingForTest, Payload: make([]byte, 126)}
	if _, err := websocket.BuildFrameForTest(f); err == nil {
		t.Fatal("expected error for control payload > 125 bytes")
	}
}

func TestBuildFrameRejectsInvalidOpcode(t *testing.T) {
	f := &websocket.FrameForTest{Fin: true, Opcode: 0x3}
	if _, err := websocket.BuildFrameForTest(f); err == nil {
		t.Fatal("expected error for reserved opcode")
	}
}

// TestBuildFrameRoundTripsThroughParser checks that encoding a frame and
// feeding the wire bytes back through the incremental parser reproduces
// the original frame, for both masked and unmasked cases.
func TestBuildFrameRoundTripsThroughParser(t *testing.T) {
	cases := []*websocket.FrameForTest{
		{Fin: true, Opcode: websocket.OpcodeTextForTest, Payload: []byte("round trip")},
		{
			Fin: true, Opcode: websocket.OpcodeBinaryForTest, Masked: true,
			Mask: [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, Payload: make([]byte, 300),
		},
		{Fin: false, Opcode: websocket.OpcodeTextForTest, Payload: []byte("fragment")},
	}

	for _, want := range cases {
		wire, err := websocket.BuildFrameForTest(want)
		if err != nil {
			t.Fatalf("BuildFrameForTest: %v", err)
		}

		fp := websocket.NewFrameParserForTest()
		consumed, got, err := fp.Feed(wire)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if consumed != len(wire) {
			t.Fatalf("consumed %d bytes, want %d", consumed, len(wire))
		}
		if got == nil {
			t.Fatal("Feed returned no frame")
		}

		// The parser unmasks in place and reports masked frames with
		// their mask applied already, so compare against the masked
		// wire encoding's own unmasking semantics by zeroing the mask
		// on both sides for masked cases: what matters is the payload
		// bytes and header flags round trip, not the transient mask key.
		gotCopy, wantCopy := *got, *want
		if wantCopy.Masked {
			gotCopy.Mask, wantCopy.Mask = [4]byte{}, [4]byte{}
		}
		if diff := cmp.Diff(&wantCopy, &gotCopy); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}
