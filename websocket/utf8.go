package websocket

// Incremental UTF-8 validation using Bjoern Hoehrmann's DFA
// (https://bjoern.hoehrmann.de/utf-8/decoder/dfa/, released into the
// public domain). The table is reproduced verbatim; only the Go wrapper
// around it is original. gorilla/websocket's internal/utf8 package
// (reachable through grafana-k6's dependency on gorilla/websocket in
// this pack) uses the identical table, which is the standard way this
// problem is solved in the Go WebSocket ecosystem.
//
// spec.md requires a validator that can be fed one byte or one buffer
// at a time and, after any call, report both "no invalid byte seen yet"
// and "currently sitting on a code-point boundary" (the latter matters
// at end-of-message: a text message must not end mid-rune).

const (
	utf8Accept = 0
	utf8Reject = 12
)

//nolint:gochecknoglobals // static DFA table, not mutated after init
var utf8d = [...]byte{
	// byte -> character class
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	10, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 3, 3, 11, 6, 6, 6, 5, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,

	// state + character class -> state
	0, 12, 24, 36, 60, 96, 84, 12, 12, 12, 48, 72, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	12, 0, 12, 12, 12, 12, 12, 0, 12, 0, 12, 12, 12, 24, 12, 12, 12, 12, 12, 24, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12, 12, 12, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12, 12, 36, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
}

// decodeRune advances the DFA by one byte, returning the new state.
// utf8Accept means a full code point was just completed; utf8Reject
// means the byte stream is not valid UTF-8; any other value means a
// multi-byte sequence is in progress.
func decodeRune(state *uint32, b byte) uint32 {
	cl := uint32(utf8d[b])
	*state = uint32(utf8d[256+*state+cl])
	return *state
}

// utf8Validator tracks UTF-8 validity across an arbitrary sequence of
// write calls, e.g. one call per fragment of a message. It holds no
// buffered bytes: only the DFA state survives between calls.
type utf8Validator struct {
	state uint32
}

// write feeds data through the DFA. It returns false as soon as an
// invalid byte is seen; once false, the validator must not be reused
// without calling reset.
func (v *utf8Validator) write(data []byte) bool {
	for _, b := range data {
		if decodeRune(&v.state, b) == utf8Reject {
			return false
		}
	}
	return true
}

// complete reports whether the bytes written so far end on a code
// point boundary. A text message whose final fragment leaves the
// validator mid-sequence (e.g. truncated inside a 3-byte rune) is
// invalid UTF-8 as a whole, even though every individual byte was
// accepted by write.
func (v *utf8Validator) complete() bool {
	return v.state == utf8Accept
}

// reset prepares the validator for a new message.
func (v *utf8Validator) reset() {
	v.state = utf8Accept
}

// validUTF8 is a one-shot convenience check used outside message
// streaming, e.g. validating a close frame's reason text (RFC 6455
// Section 7.4: reason must be valid UTF-8).
func validUTF8(data []byte) bool {
	v := utf8Validator{}
	return v.write(data) && v.complete()
}
