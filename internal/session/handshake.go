package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trackway/internal/proto"
)

// ErrHandshake matches every HandshakeError.
var ErrHandshake = errors.New("handshake failed")

// HandshakeError reports where the handshake left the expected sequence.
type HandshakeError struct {
	Step string
	Want proto.Code
	Got  proto.Message
	Err  error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("handshake %s: want control/%s, got %s", e.Step, e.Want, e.Got)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (e *HandshakeError) Is(target error) bool { return target == ErrHandshake }

// Handshake runs the client side of the authentication sequence:
//
//	-> hello
//	<- hello
//	<- send_token
//	-> ok(token)
//	<- ok
//
// Any deviation is fatal: the session terminates and the transport is closed.
func (s *Session) Handshake(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Connecting), int32(Handshaking)) {
		return fmt.Errorf("handshake from state %s: %w", s.State(), ErrNotEstablish)
	}
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	if err := s.handshake(hctx); err != nil {
		s.opts.Metrics.RecordHandshake(false)
		s.event(context.WithoutCancel(ctx), EventHandshake, map[string]any{"ok": false, "error": err.Error()})
		s.terminate(err)
		_ = s.conn.Close()
		return err
	}

	s.state.Store(int32(Established))
	s.opts.Metrics.RecordHandshake(true)
	s.logger.Info("session established")
	s.event(ctx, EventOpen, nil)
	s.event(ctx, EventHandshake, map[string]any{"ok": true})
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	if err := s.conn.Send(ctx, proto.Hello()); err != nil {
		return &HandshakeError{Step: "hello", Err: err}
	}
	if err := s.expect(ctx, "hello ack", proto.CodeHello); err != nil {
		return err
	}
	if err := s.expect(ctx, "token request", proto.CodeSendToken); err != nil {
		return err
	}
	if err := s.conn.Send(ctx, proto.Token(s.opts.Token)); err != nil {
		return &HandshakeError{Step: "token", Err: err}
	}
	return s.expect(ctx, "token ack", proto.CodeOK)
}

func (s *Session) expect(ctx context.Context, step string, want proto.Code) error {
	msg, err := s.conn.Recv(ctx)
	if err != nil {
		return &HandshakeError{Step: step, Want: want, Err: err}
	}
	s.logger.Debug("handshake", zap.String("step", step), zap.Stringer("message", msg))
	if !msg.Is(want) {
		return &HandshakeError{Step: step, Want: want, Got: msg}
	}
	return nil
}
