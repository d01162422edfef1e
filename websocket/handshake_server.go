package websocket

import (
	"bufio"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gobwas/httphead"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Magic GUID from RFC 6455 Section 1.3.
// Used for computing Sec-WebSocket-Accept header.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Default buffer sizes for WebSocket connections.
const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096

	// defaultMaxMessageSize bounds reassembled message size (sum of all
	// fragments) unless UpgradeOptions.MaxMessageSize overrides it.
	defaultMaxMessageSize = 32 * 1024 * 1024
)

// UpgradeOptions configures WebSocket upgrade behavior.
//
// All fields are optional. Zero values use sensible defaults.
type UpgradeOptions struct {
	// Subprotocols is the list of subprotocols advertised by server.
	// Server will select first match from client's requested subprotocols.
	// Empty list = no subprotocol negotiation.
	Subprotocols []string

	// Extensions is the list of extension names the server recognizes.
	// Only name intersection is negotiated (RFC 6455 Section 9's
	// parameterized extensions are a declared Non-goal); a matched
	// extension is reported via Conn.Extensions() but enables no
	// behavior change.
	Extensions []string

	// CheckOrigin verifies the Origin header. nil uses checkSameOrigin,
	// which allows requests with no Origin header (non-browser clients)
	// and otherwise requires Origin to match the request's own
	// scheme+host, per spec.md's Design Notes §9 Open Question.
	//
	// Example:
	//   CheckOrigin: func(r *http.Request) bool {
	//       origin := r.Header.Get("Origin")
	//       return origin == "https://example.com"
	//   }
	CheckOrigin func(*http.Request) bool

	// ReadBufferSize sets size of read buffer (default: 4096).
	ReadBufferSize int

	// WriteBufferSize sets size of write buffer (default: 4096).
	WriteBufferSize int

	// MaxMessageSize bounds reassembled message size (default: 32 MiB).
	// A negative value disables the check.
	MaxMessageSize int

	// Logger receives connection lifecycle events. The zero value
	// (zerolog.Logger{}) is a valid no-op logger.
	Logger zerolog.Logger
}

// Upgrade upgrades an HTTP connection to the WebSocket protocol.
//
// Implements RFC 6455 Section 4: Opening Handshake.
//
// Steps:
//  1. Verify HTTP method is GET
//  2. Check Upgrade: websocket header
//  3. Check Connection: Upgrade header
//  4. Verify Sec-WebSocket-Version: 13
//  5. Get Sec-WebSocket-Key
//  6. Check origin (CheckOrigin, or checkSameOrigin when nil)
//  7. Negotiate subprotocol and extensions
//  8. Compute Sec-WebSocket-Accept
//  9. Send 101 Switching Protocols response
//  10. Hijack connection
//  11. Create and return WebSocket connection
//
// Returns *Conn for reading/writing WebSocket messages.
//
//nolint:gocyclo,cyclop // Handshake requires many validation steps per RFC 6455
func Upgrade(w http.ResponseWriter, r *http.Request, opts *UpgradeOptions) (*Conn, error) {
	if opts == nil {
		opts = &UpgradeOptions{}
	}
	if opts.ReadBufferSize == 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	if opts.WriteBufferSize == 0 {
		opts.WriteBufferSize = defaultWriteBufferSize
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = checkSameOrigin
	}

	if r.Method != http.MethodGet {
		return nil, ErrInvalidMethod
	}
	if !headerContainsToken(r.Header.Get("Upgrade"), "websocket") {
		return nil, ErrMissingUpgrade
	}
	if !headerContainsToken(r.Header.Get("Connection"), "upgrade") {
		return nil, ErrMissingConnection
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return nil, ErrInvalidVersion
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, ErrMissingSecKey
	}
	decodedKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(decodedKey) != 16 {
		return nil, ErrInvalidSecKey
	}
	if !checkOrigin(r) {
		return nil, ErrOriginDenied
	}

	subprotocol := negotiateSubprotocol(r, opts.Subprotocols)
	extensions := negotiateExtensions(r, opts.Extensions)
	accept := computeAcceptKey(key)

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", accept)
	if subprotocol != "" {
		w.Header().Set("Sec-WebSocket-Protocol", subprotocol)
	}
	if len(extensions) > 0 {
		w.Header().Set("Sec-WebSocket-Extensions", strings.Join(extensions, ", "))
	}
	w.WriteHeader(http.StatusSwitchingProtocols)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, ErrHijackFailed
	}

	netConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		return nil, err
	}

	if err := bufrw.Flush(); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	var reader *bufio.Reader
	if bufrw.Reader.Size() >= opts.ReadBufferSize {
		reader = bufrw.Reader
	} else {
		reader = bufio.NewReaderSize(netConn, opts.ReadBufferSize)
	}
	writer := bufio.NewWriterSize(netConn, opts.WriteBufferSize)

	conn := newConn(connParams{
		transport:      newTransport(netConn),
		reader:         reader,
		writer:         writer,
		isServer:       true,
		subprotocol:    subprotocol,
		extensions:     extensions,
		maxMessageSize: opts.MaxMessageSize,
		id:             uuid.New(),
		logger:         opts.Logger,
	})

	return conn, nil
}

// computeAcceptKey computes Sec-WebSocket-Accept from client key.
//
// RFC 6455 Section 1.3: Sec-WebSocket-Accept = base64(SHA-1(key + GUID)).
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3 (not for cryptographic security)
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// negotiateSubprotocol selects first match from client's requested subprotocols.
// RFC 6455 Section 1.9: Server selects ONE subprotocol from client's list.
func negotiateSubprotocol(r *http.Request, serverProtos []string) string {
	if len(serverProtos) == 0 {
		return ""
	}

	clientProtos := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	for _, clientProto := range clientProtos {
		clientProto = strings.TrimSpace(clientProto)
		for _, serverProto := range serverProtos {
			if clientProto == serverProto {
				return clientProto
			}
		}
	}
	return ""
}

// negotiateExtensions intersects the client's offered extension names
// with the server's supported names, preserving the client's order
// (RFC 6455 Section 9.1). Extension parameters are ignored: see
// UpgradeOptions.Extensions.
func negotiateExtensions(r *http.Request, serverExts []string) []string {
	if len(serverExts) == 0 {
		return nil
	}

	var matched []string
	for _, entry := range strings.Split(r.Header.Get("Sec-WebSocket-Extensions"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(entry), ";")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for _, serverExt := range serverExts {
			if name == serverExt {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched
}

// headerContainsToken checks if header value contains token
// (case-insensitive), using gobwas/httphead's comma-separated token
// scanner rather than a hand-rolled split (RFC 6455 Section 4.2.1:
// header tokens are case-insensitive and comma-separated).
func headerContainsToken(header, token string) bool {
	found := false
	httphead.ScanTokens([]byte(header), func(t []byte) bool {
		if strings.EqualFold(string(t), token) {
			found = true
			return false
		}
		return true
	})
	return found
}

// checkSameOrigin is the default origin checker: it allows requests
// with no Origin header (non-browser clients, e.g. curl or another Go
// process) and otherwise requires Origin to match the request's own
// scheme and host. Hosts needing a stricter or looser policy (e.g. an
// explicit allow-list) set UpgradeOptions.CheckOrigin.
func checkSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return origin == scheme+"://"+r.Host
}
