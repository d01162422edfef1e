package websocket

import (
	"fmt"
	"net/url"
	"strings"
)

// wsURL is a parsed WebSocket endpoint address per spec.md §6's URL
// grammar: ws://host[:port]/path, wss://host[:port]/path, and the
// Unix-domain-socket variants ws+unix:///path/to.sock:/http-path and
// wss+unix:///path/to.sock:/http-path (the part before the colon
// following the last path segment ending in a socket file is the
// filesystem path; what follows is the HTTP request path).
//
// daabr-chrome-vision's client only ever dials plain TCP, so the
// +unix variants have no teacher precedent; they are built directly
// from the grammar in spec.md §6.
type wsURL struct {
	secure   bool
	unix     bool
	host     string // "host:port" for TCP, socket path for +unix
	path     string
	rawQuery string
}

func parseWSURL(raw string) (*wsURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("websocket: %w", err)
	}

	out := &wsURL{rawQuery: u.RawQuery}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		out.secure, out.unix = false, false
	case "wss":
		out.secure, out.unix = true, false
	case "ws+unix":
		out.secure, out.unix = false, true
	case "wss+unix":
		out.secure, out.unix = true, true
	case "":
		return nil, ErrMissingScheme
	default:
		return nil, fmt.Errorf("%w: %q", ErrMissingScheme, u.Scheme)
	}

	if out.unix {
		// u.Path is "/path/to.sock:/http-path" or just "/path/to.sock".
		sockPath, httpPath, found := strings.Cut(u.Path, ":")
		if !found {
			sockPath, httpPath = u.Path, "/"
		}
		if sockPath == "" {
			return nil, ErrMissingHost
		}
		if httpPath == "" {
			httpPath = "/"
		}
		out.host = sockPath
		out.path = httpPath
		return out, nil
	}

	if u.Host == "" {
		return nil, ErrMissingHost
	}
	out.host = u.Host
	if !strings.Contains(out.host, ":") {
		if out.secure {
			out.host += ":443"
		} else {
			out.host += ":80"
		}
	}
	out.path = u.Path
	if out.path == "" {
		out.path = "/"
	}
	return out, nil
}

// requestTarget is the path (+ query string) sent on the handshake's
// request line.
func (u *wsURL) requestTarget() string {
	if u.rawQuery == "" {
		return u.path
	}
	return u.path + "?" + u.rawQuery
}

// network reports the net.Dial network name for this address.
func (u *wsURL) network() string {
	if u.unix {
		return "unix"
	}
	return "tcp"
}

// origin is the ASCII serialization of the request's origin (RFC 6454),
// sent as the Origin header on the client's opening handshake per
// spec.md §4.4's request template. ws+unix/wss+unix targets have no
// real host component; http(s):// plus the socket path is used as a
// stable, if non-canonical, stand-in.
func (u *wsURL) origin() string {
	scheme := "http"
	if u.secure {
		scheme = "https"
	}
	return scheme + "://" + u.host
}
