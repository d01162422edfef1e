package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DialOptions configures the client-side opening handshake (RFC 6455
// Section 4.1). All fields are optional.
type DialOptions struct {
	// Subprotocols requested via Sec-WebSocket-Protocol, in preference order.
	Subprotocols []string

	// Extensions requested via Sec-WebSocket-Extensions (name only; see
	// UpgradeOptions.Extensions for why parameters aren't modeled).
	Extensions []string

	// Header carries additional request headers (e.g. Authorization, Cookie).
	Header http.Header

	// TLSConfig configures the TLS connection for wss/wss+unix URLs. nil
	// uses Go's default configuration. For wss URLs an empty ServerName
	// is filled in from the URL's host; wss+unix URLs need it set here.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds dialing and the handshake round trip
	// (default: 10s).
	HandshakeTimeout time.Duration

	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int

	Logger zerolog.Logger
}

const defaultHandshakeTimeout = 10 * time.Second

// Dial opens a WebSocket connection to rawURL (ws://, wss://,
// ws+unix://, or wss+unix://; see url.go). It performs the TCP/TLS/Unix
// dial, sends the HTTP Upgrade request, and validates the server's 101
// response, grounded on the same request/response shape as
// daabr-chrome-vision's pkg/websocket Handshake (nonce generation,
// header construction, and Sec-WebSocket-Accept verification), extended
// here for TLS and Unix-domain-socket targets.
func Dial(ctx context.Context, rawURL string, opts *DialOptions) (*Conn, error) {
	if opts == nil {
		opts = &DialOptions{}
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
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

	target, err := parseWSURL(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, target.network(), target.host)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial: %w", err)
	}

	if target.secure {
		tlsConfig := opts.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if tlsConfig.ServerName == "" && !target.unix {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName, _, _ = net.SplitHostPort(target.host)
		}
		tlsConn := tls.Client(rawConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("websocket: tls handshake: %w", err)
		}
		rawConn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = rawConn.SetDeadline(deadline)
	}

	nonce, key := generateNonce()
	if err := sendUpgradeRequest(rawConn, target, key, opts); err != nil {
		_ = rawConn.Close()
		return nil, err
	}

	reader := bufio.NewReaderSize(rawConn, opts.ReadBufferSize)
	subprotocol, extensions, err := receiveUpgradeResponse(reader, nonce, target)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	_ = rawConn.SetDeadline(time.Time{})

	conn := newConn(connParams{
		transport:      newTransport(rawConn),
		reader:         reader,
		isServer:       false,
		subprotocol:    subprotocol,
		extensions:     extensions,
		maxMessageSize: opts.MaxMessageSize,
		id:             uuid.New(),
		logger:         opts.Logger,
	})
	return conn, nil
}

// generateNonce produces the 16 random bytes and base64 encoding
// required for Sec-WebSocket-Key (RFC 6455 Section 4.1).
func generateNonce() (nonce [16]byte, key string) {
	_, _ = rand.Read(nonce[:])
	return nonce, base64.StdEncoding.EncodeToString(nonce[:])
}

func sendUpgradeRequest(conn net.Conn, target *wsURL, key string, opts *DialOptions) error {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", target.requestTarget())
	fmt.Fprintf(&b, "Host: %s\r\n", target.host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	fmt.Fprintf(&b, "Origin: %s\r\n", target.origin())
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	if len(opts.Subprotocols) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(opts.Subprotocols, ", "))
	}
	if len(opts.Extensions) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", strings.Join(opts.Extensions, ", "))
	}
	for name, values := range opts.Header {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	b.WriteString("\r\n")

	_, err := conn.Write([]byte(b.String()))
	return err
}

// receiveUpgradeResponse reads the HTTP response line and headers off
// reader and validates the 101 Switching Protocols handshake.
func receiveUpgradeResponse(reader *bufio.Reader, nonce [16]byte, target *wsURL) (subprotocol string, extensions []string, err error) {
	tp := textproto.NewReader(reader)

	statusLine, err := tp.ReadLine()
	if err != nil {
		return "", nil, fmt.Errorf("websocket: reading status line: %w", err)
	}
	if !strings.Contains(statusLine, "101") {
		return "", nil, fmt.Errorf("%w: %q", ErrBadStatus, statusLine)
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		return "", nil, fmt.Errorf("websocket: reading response headers: %w", err)
	}
	header := http.Header(mimeHeader)

	if !headerContainsToken(header.Get("Upgrade"), "websocket") {
		return "", nil, ErrMissingUpgrade
	}
	if !headerContainsToken(header.Get("Connection"), "upgrade") {
		return "", nil, ErrMissingConnection
	}

	expected := expectedAcceptKey(nonce)
	if header.Get("Sec-WebSocket-Accept") != expected {
		return "", nil, ErrBadAccept
	}

	subprotocol = header.Get("Sec-WebSocket-Protocol")
	if ext := header.Get("Sec-WebSocket-Extensions"); ext != "" {
		for _, e := range strings.Split(ext, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(e), ";")
			if name = strings.TrimSpace(name); name != "" {
				extensions = append(extensions, name)
			}
		}
	}
	return subprotocol, extensions, nil
}

func expectedAcceptKey(nonce [16]byte) string {
	return computeAcceptKey(base64.StdEncoding.EncodeToString(nonce[:]))
}
