// Package agent runs one task against a remote peer: handshake, announce,
// then the slot loop until the peer says bye.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trackway/internal/bridge"
	"trackway/internal/compiler"
	"trackway/internal/metrics"
	"trackway/internal/proto"
	"trackway/internal/repl"
	"trackway/internal/session"
	"trackway/internal/transport"
)

var ErrUnknownTask = errors.New("unknown task")

type Options struct {
	Token            string
	HandshakeTimeout time.Duration
	OutboundBuffer   int
	Evaluator        bridge.Evaluator
	Logger           *zap.Logger
	Metrics          *metrics.Collector
	Events           session.EventSink
	// ConsoleIn and ConsoleOut, when both set, attach a prompt console.
	ConsoleIn  io.Reader
	ConsoleOut io.Writer
}

// Run drives task from mod over conn. It returns nil when the peer ends the
// session with bye. conn is closed on return.
func Run(ctx context.Context, conn transport.Conn, mod *compiler.Module, taskName string, opts Options) error {
	task, ok := mod.Task(taskName)
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskName)
	}
	if opts.Evaluator == nil {
		_ = conn.Close()
		return errors.New("no evaluator configured")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := session.New(conn, session.Options{
		Token:            opts.Token,
		HandshakeTimeout: opts.HandshakeTimeout,
		OutboundBuffer:   opts.OutboundBuffer,
		Logger:           log,
		Metrics:          opts.Metrics,
		Events:           opts.Events,
		Exports: func() ([]byte, error) {
			return json.Marshal(mod.Exports(task))
		},
		OnCall: callHandler(mod, task),
	})
	if err := s.Handshake(ctx); err != nil {
		return err
	}
	log = log.With(zap.String("session_id", s.ID()), zap.String("task", task.Name))

	in := bridge.New(task.Name, s, opts.Evaluator, bridge.Options{
		Logger:  log,
		Metrics: opts.Metrics,
		Events:  opts.Events,
	})

	g, gctx := errgroup.WithContext(ctx)
	// Cancellation says bye before the transport goes away.
	stop := context.AfterFunc(gctx, func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = s.Close(closeCtx)
	})
	defer stop()
	g.Go(func() error { return s.Serve(context.WithoutCancel(gctx)) })
	g.Go(func() error {
		err := s.Announce(gctx, proto.TaskAnnouncement{
			TaskName:        task.Name,
			TaskDescription: mod.Description(task),
			TaskContext:     mod.Render(task),
		})
		if err != nil {
			return err
		}
		return in.Drive(gctx)
	})
	if opts.ConsoleIn != nil && opts.ConsoleOut != nil {
		g.Go(func() error { return repl.Run(gctx, s, opts.ConsoleIn, opts.ConsoleOut) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	log.Info("session finished", zap.Int("unretired_slots", in.Pending()))
	return nil
}

// callHandler answers a call naming one of task's capabilities with its
// export entry. Capabilities run through the slot plane, so the call plane
// only resolves them.
func callHandler(mod *compiler.Module, task *compiler.Task) session.CallHandler {
	exports := map[string]compiler.Export{}
	for _, e := range mod.Exports(task) {
		exports[e.Name] = e
	}
	return func(_ context.Context, call proto.Call) (json.RawMessage, error) {
		e, ok := exports[call.Method]
		if !ok {
			return nil, fmt.Errorf("%s has no capability %q", task.Name, call.Method)
		}
		return json.Marshal(e)
	}
}
