// Package peer implements the remote end of a session: it answers the
// handshake, reads the task announcement, pushes code fragments and collects
// their results.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"trackway/internal/engine/auth"
	"trackway/internal/proto"
	"trackway/internal/transport"
)

var ErrUnauthorized = errors.New("unauthorized")

// RemoteError is a control/err reply from the agent.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string { return "remote: " + e.Reason }

type Options struct {
	Verifier         auth.Verifier
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Conn is an accepted, authenticated agent connection.
type Conn struct {
	conn      transport.Conn
	principal auth.Principal
	log       *zap.Logger

	mu   sync.Mutex
	task *proto.TaskAnnouncement
	// prompts holds prompt-plane text received while waiting for other replies.
	prompts []string
}

// Accept runs the server side of the handshake on conn. On failure the
// agent is sent control/err and conn is closed.
func Accept(ctx context.Context, conn transport.Conn, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	p, err := accept(hctx, conn, opts.Verifier)
	if err != nil {
		_ = conn.Send(hctx, proto.Err(err.Error()))
		_ = conn.Close()
		return nil, err
	}
	c := &Conn{
		conn:      conn,
		principal: p,
		log:       opts.Logger.With(zap.String("component", "peer"), zap.String("subject", p.Subject)),
	}
	c.log.Info("agent authenticated", zap.String("source", p.Source))
	return c, nil
}

func accept(ctx context.Context, conn transport.Conn, v auth.Verifier) (auth.Principal, error) {
	msg, err := conn.Recv(ctx)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("await hello: %w", err)
	}
	if !msg.Is(proto.CodeHello) {
		return auth.Principal{}, fmt.Errorf("expected control/hello, got %s", msg)
	}
	if err := conn.Send(ctx, proto.Hello()); err != nil {
		return auth.Principal{}, fmt.Errorf("send hello: %w", err)
	}
	if err := conn.Send(ctx, proto.SendToken()); err != nil {
		return auth.Principal{}, fmt.Errorf("request token: %w", err)
	}
	msg, err = conn.Recv(ctx)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("await token: %w", err)
	}
	if !msg.Is(proto.CodeOK) {
		return auth.Principal{}, fmt.Errorf("expected token, got %s", msg)
	}
	if v == nil {
		return auth.Principal{}, fmt.Errorf("%w: no verifier configured", ErrUnauthorized)
	}
	p, err := v.Verify(string(msg.Data))
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if err := conn.Send(ctx, proto.OK()); err != nil {
		return auth.Principal{}, fmt.Errorf("send ok: %w", err)
	}
	return p, nil
}

func (c *Conn) Principal() auth.Principal { return c.principal }

// next returns the next message accepted by want. Announcements and prompts
// seen on the way are recorded; other control traffic is logged and skipped.
func (c *Conn) next(ctx context.Context, want func(proto.Message) bool) (proto.Message, error) {
	for {
		msg, err := c.conn.Recv(ctx)
		if err != nil {
			return proto.Message{}, err
		}
		if want(msg) {
			return msg, nil
		}
		switch {
		case msg.Is(proto.CodeTask):
			a, err := proto.DecodeAnnouncement(msg)
			if err != nil {
				return proto.Message{}, err
			}
			c.mu.Lock()
			c.task = &a
			c.mu.Unlock()
			c.log.Info("task announced", zap.String("task", a.TaskName))
		case msg.Type == proto.Prompt:
			c.mu.Lock()
			c.prompts = append(c.prompts, string(msg.Data))
			c.mu.Unlock()
		case msg.Is(proto.CodeBye):
			return proto.Message{}, transport.ErrClosed
		default:
			c.log.Debug("skipping", zap.Stringer("message", msg))
		}
	}
}

// Task waits for the task announcement if it has not arrived yet.
func (c *Conn) Task(ctx context.Context) (proto.TaskAnnouncement, error) {
	c.mu.Lock()
	if c.task != nil {
		a := *c.task
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()
	msg, err := c.next(ctx, func(m proto.Message) bool { return m.Is(proto.CodeTask) })
	if err != nil {
		return proto.TaskAnnouncement{}, fmt.Errorf("await task: %w", err)
	}
	a, err := proto.DecodeAnnouncement(msg)
	if err != nil {
		return a, err
	}
	c.mu.Lock()
	c.task = &a
	c.mu.Unlock()
	return a, nil
}

// Exec sends one fragment and waits for its result. A failed evaluation is
// returned as *RemoteError and the connection stays usable.
func (c *Conn) Exec(ctx context.Context, code string) (json.RawMessage, error) {
	if err := c.conn.Send(ctx, proto.NewPipe([]byte(code))); err != nil {
		return nil, fmt.Errorf("send code: %w", err)
	}
	msg, err := c.next(ctx, func(m proto.Message) bool {
		return m.Type == proto.Pipe || m.Is(proto.CodeErr)
	})
	if err != nil {
		return nil, fmt.Errorf("await result: %w", err)
	}
	if msg.Is(proto.CodeErr) {
		return nil, &RemoteError{Reason: string(msg.Data)}
	}
	return json.RawMessage(msg.Data), nil
}

// Exports asks the agent for its capability list.
func (c *Conn) Exports(ctx context.Context) (json.RawMessage, error) {
	if err := c.conn.Send(ctx, proto.NewControl(proto.CodeSendExports, nil)); err != nil {
		return nil, err
	}
	msg, err := c.next(ctx, func(m proto.Message) bool {
		return m.Is(proto.CodeExports) || m.Is(proto.CodeErr)
	})
	if err != nil {
		return nil, fmt.Errorf("await exports: %w", err)
	}
	if msg.Is(proto.CodeErr) {
		return nil, &RemoteError{Reason: string(msg.Data)}
	}
	return json.RawMessage(msg.Data), nil
}

// Prompt sends text on the prompt plane and waits for the agent's reply.
func (c *Conn) Prompt(ctx context.Context, text string) (string, error) {
	if text != "" {
		if err := c.conn.Send(ctx, proto.NewPrompt(text)); err != nil {
			return "", err
		}
	}
	c.mu.Lock()
	if len(c.prompts) > 0 {
		reply := c.prompts[0]
		c.prompts = c.prompts[1:]
		c.mu.Unlock()
		return reply, nil
	}
	c.mu.Unlock()
	msg, err := c.next(ctx, func(m proto.Message) bool { return m.Type == proto.Prompt })
	if err != nil {
		return "", err
	}
	return string(msg.Data), nil
}

// Bye ends the session and closes the transport.
func (c *Conn) Bye(ctx context.Context) error {
	err := c.conn.Send(ctx, proto.Bye())
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Handler upgrades websocket requests, authenticates the agent and hands the
// connection to serve. The connection is closed when serve returns.
func Handler(opts Options, serve func(context.Context, *Conn) error) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.AcceptWebSocket(w, r)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		ctx := r.Context()
		c, err := Accept(ctx, ws, opts)
		if err != nil {
			log.Warn("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		defer c.conn.Close()
		if err := serve(ctx, c); err != nil {
			log.Warn("peer session ended with error", zap.Error(err))
		}
	})
}
