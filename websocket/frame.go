package websocket

import (
	"encoding/binary"

	"github.com/gobwas/pool/pbytes"
)

// Maximum payload sizes (implementation limits, RFC 6455 Section 5.2/5.5).
const (
	// maxControlPayload is the maximum payload length for control frames.
	maxControlPayload = 125

	// maxFramePayload is the implementation ceiling on a single frame's
	// payload length; spec.md allows up to 2^63-1 on the wire but no
	// real deployment accepts that much unbuffered memory per frame.
	maxFramePayload = 32 * 1024 * 1024

	payloadLen7Bit  = 125 // 0-125: stored directly in the 7-bit length field
	payloadLen16Bit = 126 // 126: followed by a 16-bit extended length
	payloadLen64Bit = 127 // 127: followed by a 64-bit extended length
)

// frame is a single WebSocket frame as defined in RFC 6455 Section 5.2.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//	:                     Payload Data continued ...                :
//	+---------------------------------------------------------------+
type frame struct {
	fin              bool
	rsv1, rsv2, rsv3 bool
	opcode           byte
	masked           bool
	mask             [4]byte
	payload          []byte
}

// buildFrame encodes f per RFC 6455 Section 5.2 and returns the wire bytes.
//
// Validation performed here mirrors frameParser.advance's (parse.go): reserved
// opcodes, control-frame fragmentation, and control-frame size are all
// rejected before anything is written.
func buildFrame(f *frame) ([]byte, error) {
	if !isValidOpcode(f.opcode) {
		return nil, ErrInvalidOpcode
	}
	if isControlFrame(f.opcode) {
		if !f.fin {
			return nil, ErrControlFragmented
		}
		if len(f.payload) > maxControlPayload {
			return nil, ErrControlTooLarge
		}
	}
	if len(f.payload) > maxFramePayload {
		return nil, ErrFrameTooLarge
	}

	headerLen := 2
	payloadLen := uint64(len(f.payload))
	switch {
	case payloadLen > 0xFFFF:
		headerLen += 8
	case payloadLen > payloadLen7Bit:
		headerLen += 2
	}
	if f.masked {
		headerLen += 4
	}

	out := pbytes.GetLen(headerLen + len(f.payload))
	out = out[:headerLen+len(f.payload)]

	b0 := byte(0)
	if f.fin {
		b0 |= 0x80
	}
	if f.rsv1 {
		b0 |= 0x40
	}
	if f.rsv2 {
		b0 |= 0x20
	}
	if f.rsv3 {
		b0 |= 0x10
	}
	b0 |= f.opcode & 0x0F
	out[0] = b0

	b1 := byte(0)
	if f.masked {
		b1 |= 0x80
	}

	pos := 2
	switch {
	case payloadLen <= payloadLen7Bit:
		b1 |= byte(payloadLen)
	case payloadLen <= 0xFFFF:
		b1 |= payloadLen16Bit
		binary.BigEndian.PutUint16(out[pos:], uint16(payloadLen))
		pos += 2
	default:
		b1 |= payloadLen64Bit
		binary.BigEndian.PutUint64(out[pos:], payloadLen)
		pos += 8
	}
	out[1] = b1

	if f.masked {
		copy(out[pos:pos+4], f.mask[:])
		pos += 4
	}

	copy(out[pos:], f.payload)
	if f.masked {
		applyMask(out[pos:], f.mask)
	}

	return out, nil
}

// releaseFrameBytes returns a buffer obtained from buildFrame to the pool.
// Callers must not touch buf after calling this.
func releaseFrameBytes(buf []byte) {
	pbytes.Put(buf)
}

// applyMask XORs data with the masking key, cycling through its 4 bytes.
// RFC 6455 Section 5.3. The operation is its own inverse: masking and
// unmasking are the same transform.
func applyMask(data []byte, mask [4]byte) {
	for i := range data {
		data[i] ^= mask[i%4]
	}
}
