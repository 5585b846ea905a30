// Package session runs one handshake-authenticated conversation with a
// remote peer over a transport.Conn.
//
// Outbound messages go through a single ordered queue drained by one writer.
// Every inbound message is copied to each broadcast subscriber and then
// routed exactly once: control messages to the dispatcher, pipe messages to
// the pipe queue read by RecvPipe.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trackway/internal/metrics"
	"trackway/internal/proto"
	"trackway/internal/transport"
)

// State is a session's position in its lifecycle.
type State int32

const (
	Connecting State = iota
	Handshaking
	Established
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	// ErrTerminated is returned by sends and receives once the session is over.
	ErrTerminated   = errors.New("session terminated")
	ErrNotEstablish = errors.New("session not established")
)

// Event kinds passed to an EventSink.
const (
	EventOpen      = "session.open"
	EventHandshake = "session.handshake"
	EventAnnounce  = "task.announce"
	EventClose     = "session.close"
)

// EventSink receives lifecycle events. Implementations must not block for
// long; they are called from the session's goroutines.
type EventSink interface {
	SessionEvent(ctx context.Context, sessionID, kind string, payload any)
}

// CallHandler answers a remote call request.
type CallHandler func(ctx context.Context, call proto.Call) (json.RawMessage, error)

type Options struct {
	Token            string
	HandshakeTimeout time.Duration
	// OutboundBuffer is the capacity of the outbound queue; Send blocks
	// while it is full.
	OutboundBuffer int
	Logger         *zap.Logger
	Metrics        *metrics.Collector
	Events         EventSink
	OnCall         CallHandler
	// Exports answers exports inquiries. Without it the peer gets err.
	Exports func() ([]byte, error)
	OnReady func()
}

type outbound struct {
	msg proto.Message
	// flushed is closed once everything queued before it has been written.
	flushed chan struct{}
}

// Session is safe for concurrent use once established.
type Session struct {
	id     string
	conn   transport.Conn
	opts   Options
	logger *zap.Logger

	state atomic.Int32
	out   chan outbound
	pipe  *queue

	subMu   sync.Mutex
	subs    map[int]*queue
	nextSub int

	calls sync.WaitGroup

	done      chan struct{}
	doneOnce  sync.Once
	closing   atomic.Bool
	serving   atomic.Bool
	termErrMu sync.Mutex
	termErr   error
}

func New(conn transport.Conn, opts Options) *Session {
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = 64
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "session"), zap.String("session_id", id)),
		out:    make(chan outbound, opts.OutboundBuffer),
		pipe:   newQueue(),
		subs:   map[int]*queue{},
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session terminated; nil after a clean bye.
func (s *Session) Err() error {
	s.termErrMu.Lock()
	defer s.termErrMu.Unlock()
	return s.termErr
}

func (s *Session) event(ctx context.Context, kind string, payload any) {
	if s.opts.Events != nil {
		s.opts.Events.SessionEvent(ctx, s.id, kind, payload)
	}
}

// terminate moves to Terminated exactly once, waking every receiver.
func (s *Session) terminate(err error) {
	s.doneOnce.Do(func() {
		s.termErrMu.Lock()
		s.termErr = err
		s.termErrMu.Unlock()
		s.state.Store(int32(Terminated))
		close(s.done)
		s.pipe.close()
		s.subMu.Lock()
		for _, q := range s.subs {
			q.close()
		}
		s.subMu.Unlock()
		if err != nil {
			s.logger.Warn("session terminated", zap.Error(err))
		} else {
			s.logger.Info("session terminated")
		}
	})
}

// Send queues msg for delivery in program order.
func (s *Session) Send(ctx context.Context, msg proto.Message) error {
	switch s.State() {
	case Terminated:
		return ErrTerminated
	case Established:
	default:
		return ErrNotEstablish
	}
	return s.enqueue(ctx, outbound{msg: msg})
}

func (s *Session) enqueue(ctx context.Context, o outbound) error {
	select {
	case <-s.done:
		return ErrTerminated
	default:
	}
	select {
	case s.out <- o:
		return nil
	case <-s.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every message queued so far has been written.
func (s *Session) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	if err := s.enqueue(ctx, outbound{flushed: ch}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-s.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) SendPipe(ctx context.Context, data []byte) error {
	return s.Send(ctx, proto.NewPipe(data))
}

func (s *Session) SendPrompt(ctx context.Context, text string) error {
	return s.Send(ctx, proto.NewPrompt(text))
}

// RecvPipe returns the payload of the next inbound pipe message. After the
// session terminates and queued messages are drained it returns
// ErrTerminated.
func (s *Session) RecvPipe(ctx context.Context) ([]byte, error) {
	msg, err := s.pipe.pop(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Announce sends the task announcement.
func (s *Session) Announce(ctx context.Context, a proto.TaskAnnouncement) error {
	msg, err := proto.Announce(a)
	if err != nil {
		return err
	}
	if err := s.Send(ctx, msg); err != nil {
		return fmt.Errorf("announce %s: %w", a.TaskName, err)
	}
	s.logger.Info("task announced", zap.String("task", a.TaskName))
	s.event(ctx, EventAnnounce, map[string]any{"task": a.TaskName})
	return nil
}

// Subscription observes every inbound message from the moment it was created.
type Subscription struct {
	s  *Session
	id int
	q  *queue
}

func (s *Session) Subscribe() *Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	q := newQueue()
	select {
	case <-s.done:
		q.close()
	default:
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = q
	return &Subscription{s: s, id: id, q: q}
}

// Recv returns the next observed message, or ErrTerminated once the session
// is over and every observed message has been returned.
func (sub *Subscription) Recv(ctx context.Context) (proto.Message, error) {
	return sub.q.pop(ctx)
}

func (sub *Subscription) Close() {
	sub.s.subMu.Lock()
	delete(sub.s.subs, sub.id)
	sub.s.subMu.Unlock()
	sub.q.close()
}

func (s *Session) broadcast(msg proto.Message) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, q := range s.subs {
		q.push(msg)
	}
}

var errBye = errors.New("bye")

// Serve pumps messages until the peer says bye, the transport closes, or ctx
// ends. A bye, or a Close from this side, is a clean end and returns nil.
// The transport is closed before Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	if s.State() != Established {
		return ErrNotEstablish
	}
	s.serving.Store(true)
	s.opts.Metrics.SessionStarted()
	defer s.opts.Metrics.SessionEnded()
	defer s.conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.readLoop(gctx) })
	err := g.Wait()
	s.calls.Wait()

	switch {
	case errors.Is(err, errBye), s.closing.Load():
		err = nil
	case err == nil && ctx.Err() != nil:
		err = ctx.Err()
	}
	s.terminate(err)
	reason := "bye"
	if err != nil {
		reason = err.Error()
	}
	s.event(context.WithoutCancel(ctx), EventClose, map[string]any{"reason": reason})
	return err
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case o := <-s.out:
			if o.flushed != nil {
				close(o.flushed)
				continue
			}
			if err := s.conn.Send(ctx, o.msg); err != nil {
				if s.closing.Load() {
					return nil
				}
				return fmt.Errorf("send %s: %w", o.msg, err)
			}
			s.opts.Metrics.RecordMessage("out", string(o.msg.Type), string(o.msg.Code))
			s.logger.Debug("sent", zap.Stringer("message", o.msg))
		case <-s.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.conn.Recv(ctx)
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil {
				return nil
			}
			select {
			case <-s.done:
				return nil
			default:
			}
			return fmt.Errorf("receive: %w", err)
		}
		s.opts.Metrics.RecordMessage("in", string(msg.Type), string(msg.Code))
		s.logger.Debug("received", zap.Stringer("message", msg))

		s.broadcast(msg)
		switch msg.Type {
		case proto.Control:
			if err := s.dispatch(ctx, msg); err != nil {
				return err
			}
		case proto.Pipe:
			s.pipe.push(msg)
		case proto.Prompt:
			// consumed by subscribers only
		default:
			s.logger.Warn("message on unknown plane", zap.String("type", string(msg.Type)))
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg proto.Message) error {
	switch msg.Code {
	case proto.CodeBye:
		s.logger.Info("peer said bye")
		s.terminate(nil)
		return errBye
	case proto.CodeReady:
		s.logger.Info("peer ready")
		if s.opts.OnReady != nil {
			s.opts.OnReady()
		}
	case proto.CodeExports, proto.CodeSendExports:
		s.answerExports(ctx)
	case proto.CodeCall:
		s.calls.Add(1)
		go func() {
			defer s.calls.Done()
			s.answerCall(ctx, msg)
		}()
	case proto.CodeErr:
		s.logger.Warn("peer reported error", zap.ByteString("reason", msg.Data))
	case proto.CodeUnknown:
		s.logger.Warn("unknown control code")
	default:
		s.logger.Debug("ignoring control message", zap.String("code", string(msg.Code)))
	}
	return nil
}

func (s *Session) answerExports(ctx context.Context) {
	reply := proto.Err("no exports available")
	if s.opts.Exports != nil {
		data, err := s.opts.Exports()
		if err != nil {
			reply = proto.Err(err.Error())
		} else {
			reply = proto.NewControl(proto.CodeExports, data)
		}
	}
	if err := s.Send(ctx, reply); err != nil {
		s.logger.Debug("exports reply dropped", zap.Error(err))
	}
}

func (s *Session) answerCall(ctx context.Context, msg proto.Message) {
	var call proto.Call
	reply := proto.Err("calls are not supported")
	switch {
	case json.Unmarshal(msg.Data, &call) != nil:
		reply = proto.Err("malformed call payload")
	case s.opts.OnCall != nil:
		result, err := s.opts.OnCall(ctx, call)
		if err != nil {
			s.logger.Warn("call failed", zap.String("method", call.Method), zap.Error(err))
			reply = proto.Err(err.Error())
		} else {
			reply = proto.NewControl(proto.CodeOK, result)
		}
	}
	if err := s.Send(ctx, reply); err != nil {
		s.logger.Debug("call reply dropped", zap.Error(err))
	}
}

// Close says bye when established, waits for queued messages to be written,
// and closes the transport.
func (s *Session) Close(ctx context.Context) error {
	if s.State() == Established {
		if s.serving.Load() {
			if err := s.Send(ctx, proto.Bye()); err == nil {
				_ = s.Flush(ctx)
			}
		} else {
			_ = s.conn.Send(ctx, proto.Bye())
		}
	}
	s.closing.Store(true)
	s.terminate(nil)
	return s.conn.Close()
}
