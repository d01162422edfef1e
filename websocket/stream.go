package websocket

import (
	"encoding/binary"
	"errors"
)

// validCloseCodes are the status codes RFC 6455 Section 7.4.1/7.4.2
// permit on the wire. 1005, 1006, and 1015 are reserved for internal
// use and must never appear in an actual close frame; 3000-3999 are
// reserved for registered extensions/libraries and 4000-4999 for
// private use, both accepted without further meaning assigned here.
var validCloseCodes = map[CloseCode]bool{
	CloseNormalClosure:          true,
	CloseGoingAway:              true,
	CloseProtocolError:          true,
	CloseUnsupportedData:        true,
	CloseInvalidFramePayloadData: true,
	ClosePolicyViolation:        true,
	CloseMessageTooBig:          true,
	CloseMandatoryExtension:     true,
	CloseInternalServerErr:      true,
}

func isValidCloseCode(code CloseCode) bool {
	if validCloseCodes[code] {
		return true
	}
	return code >= 3000 && code <= 4999
}

// stream is the message assembler described in spec.md §4.3, grounded
// on ws4py's streaming.Stream class (original_source/ws4py/streaming.py):
// it owns one frameParser, dispatches each completed frame by opcode,
// reassembles fragmented Text/Binary messages across continuation
// frames, and incrementally validates UTF-8 on Text payloads as they
// arrive rather than after the whole message is buffered.
//
// One stream handles one direction of one connection; isServer selects
// which masking direction is expected of incoming frames (RFC 6455
// Section 5.1: clients mask, servers don't).
type stream struct {
	parser frameParser
	utf8   utf8Validator
	isServer bool
	maxMessageSize int

	assembling *Message // in-progress fragmented Text/Binary message, or nil
}

func newStream(isServer bool, maxMessageSize int) *stream {
	s := &stream{isServer: isServer, maxMessageSize: maxMessageSize}
	s.parser.reset()
	return s
}

// feed advances the underlying parser with data and, if a complete
// frame results, dispatches it. It returns the number of bytes
// consumed (always <= len(data)) and at most one Message. Callers
// should loop, re-feeding data[consumed:], until consumed == len(data)
// to drain every frame a single read produced.
func (s *stream) feed(data []byte) (consumed int, msg *Message, err error) {
	consumed, f, err := s.parser.feed(data)
	if err != nil {
		return consumed, nil, err
	}
	if f == nil {
		return consumed, nil, nil
	}

	if err := s.checkMaskDirection(f); err != nil {
		return consumed, nil, err
	}

	msg, err = s.dispatch(f)
	return consumed, msg, err
}

func (s *stream) checkMaskDirection(f *frame) error {
	if s.isServer && !f.masked {
		return ErrMaskRequired
	}
	if !s.isServer && f.masked {
		return ErrMaskUnexpected
	}
	return nil
}

func (s *stream) dispatch(f *frame) (*Message, error) {
	switch f.opcode {
	case opcodeText, opcodeBinary:
		return s.startData(f)
	case opcodeContinuation:
		return s.continueData(f)
	case opcodeClose:
		return s.parseClose(f)
	case opcodePing:
		return NewPingMessage(f.payload), nil
	case opcodePong:
		return NewPongMessage(f.payload), nil
	default:
		return nil, ErrUnsupportedOpcode
	}
}

// closeCodeForStreamError maps an error returned by stream.feed (or the
// frameParser underneath it) to the RFC 6455 close code the endpoint
// driver must send back to the peer, per spec.md §7's error taxonomy.
// Errors not recognized here (transport errors, ErrClosed, etc.) fall
// back to CloseProtocolError, since by construction every error this
// function is called on originates from the protocol layer.
func closeCodeForStreamError(err error) CloseCode {
	switch {
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidFramePayloadData
	case errors.Is(err, ErrUnsupportedOpcode):
		return CloseUnsupportedData
	case errors.Is(err, ErrFrameTooLarge), errors.Is(err, ErrMessageTooLarge):
		return CloseMessageTooBig
	default:
		// ErrProtocolError, ErrReservedBits, ErrInvalidOpcode,
		// ErrControlFragmented, ErrControlTooLarge,
		// ErrUnexpectedContinuation, ErrUnexpectedDataStart,
		// ErrMaskRequired, ErrMaskUnexpected, ErrInvalidCloseCode, and
		// anything else reaching here are all spec.md §7's 1002 bucket.
		return CloseProtocolError
	}
}

func (s *stream) startData(f *frame) (*Message, error) {
	if s.assembling != nil {
		return nil, ErrUnexpectedDataStart
	}
	if s.maxMessageSize > 0 && len(f.payload) > s.maxMessageSize {
		return nil, ErrMessageTooLarge
	}

	m := &Message{opcode: f.opcode, Data: f.payload, Completed: f.fin}
	if f.opcode == opcodeText {
		s.utf8.reset()
		if !s.utf8.write(f.payload) {
			return nil, ErrInvalidUTF8
		}
	}

	if f.fin {
		if f.opcode == opcodeText && !s.utf8.complete() {
			return nil, ErrInvalidUTF8
		}
		return m, nil
	}
	s.assembling = m
	return nil, nil
}

func (s *stream) continueData(f *frame) (*Message, error) {
	if s.assembling == nil {
		return nil, ErrUnexpectedContinuation
	}
	m := s.assembling

	if s.maxMessageSize > 0 && len(m.Data)+len(f.payload) > s.maxMessageSize {
		s.assembling = nil
		return nil, ErrMessageTooLarge
	}

	if m.opcode == opcodeText && !s.utf8.write(f.payload) {
		s.assembling = nil
		return nil, ErrInvalidUTF8
	}
	m.extend(f.payload, f.fin)

	if !f.fin {
		return nil, nil
	}
	s.assembling = nil
	if m.opcode == opcodeText && !s.utf8.complete() {
		return nil, ErrInvalidUTF8
	}
	return m, nil
}

// parseClose decodes a close frame's optional status code and reason
// per RFC 6455 Section 7.4. Per spec.md's Design Notes §9 Open
// Question, an empty close payload maps to CloseNoStatusReceived
// (1005) — the RFC's "no status was present" sentinel — rather than
// ws4py's original choice of assuming 1000.
func (s *stream) parseClose(f *frame) (*Message, error) {
	switch {
	case len(f.payload) == 0:
		return NewCloseMessage(CloseNoStatusReceived, ""), nil
	case len(f.payload) == 1:
		return nil, ErrProtocolError
	}

	code := CloseCode(binary.BigEndian.Uint16(f.payload[:2]))
	if !isValidCloseCode(code) {
		return nil, ErrInvalidCloseCode
	}
	reason := f.payload[2:]
	if !validUTF8(reason) {
		return nil, ErrInvalidUTF8
	}
	return NewCloseMessage(code, string(reason)), nil
}
