package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"trackway/internal/proto"
)

// Subprotocol is negotiated on every websocket upgrade.
const Subprotocol = "trackway.v1"

// WebSocket carries one JSON message per text frame.
type WebSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

// DialWebSocket opens a websocket to addr.
func DialWebSocket(ctx context.Context, addr, token string) (*WebSocket, error) {
	opts := &websocket.DialOptions{Subprotocols: []string{Subprotocol}}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	conn.SetReadLimit(MaxFrameSize)
	return &WebSocket{conn: conn}, nil
}

// AcceptWebSocket upgrades an HTTP request on the server side.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}
	conn.SetReadLimit(MaxFrameSize)
	return &WebSocket{conn: conn}, nil
}

func (c *WebSocket) Send(ctx context.Context, msg proto.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, body); err != nil {
		return c.mapErr(ctx, err)
	}
	return nil
}

// Recv reads the next message. As with the underlying websocket, cancelling
// ctx while a read is pending closes the connection.
func (c *WebSocket) Recv(ctx context.Context) (proto.Message, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return proto.Message{}, c.mapErr(ctx, err)
	}
	if typ != websocket.MessageText {
		return proto.Message{}, fmt.Errorf("unexpected websocket frame type %v", typ)
	}
	var msg proto.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return proto.Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, nil
}

func (c *WebSocket) mapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func (c *WebSocket) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	return err
}
