// Package transport carries proto messages over websockets, length-prefixed
// stream sockets, or in-memory pipes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"trackway/internal/proto"
)

// ErrClosed is returned by Send and Recv once either side has closed the
// connection.
var ErrClosed = errors.New("transport closed")

// Conn is a bidirectional stream of messages. Send and Recv may be called
// from different goroutines, but each must have a single caller at a time.
type Conn interface {
	Send(ctx context.Context, msg proto.Message) error
	Recv(ctx context.Context) (proto.Message, error)
	Close() error
}

// Dial connects to addr. Supported schemes are ws, wss, tcp and unix; the
// token, when set, is sent as a bearer Authorization header on websocket
// upgrades.
func Dial(ctx context.Context, addr, token string) (Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		ws, err := DialWebSocket(ctx, addr, token)
		if err != nil {
			return nil, err
		}
		return ws, nil
	case "tcp":
		return dialFramed(ctx, "tcp", u.Host)
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return dialFramed(ctx, "unix", path)
	case "":
		return nil, fmt.Errorf("address %q has no scheme (want ws://, wss://, tcp:// or unix://)", addr)
	}
	return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func dialFramed(ctx context.Context, network, address string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return NewFramed(c), nil
}

// Listen opens a stream listener for a tcp:// or unix:// address. Accepted
// connections are wrapped with NewFramed.
func Listen(addr string) (net.Listener, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "tcp":
		return net.Listen("tcp", u.Host)
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return net.Listen("unix", path)
	}
	return nil, fmt.Errorf("cannot listen on scheme %q", u.Scheme)
}
