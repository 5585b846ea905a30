// Package bridge pairs remote code fragments with local evaluations.
//
// An Instance holds the slot table for one announced task. Callers alternate
// Poll and Run; Poll delivers the previous slot's result and fetches the next
// fragment in the same step, so one round trip serves both.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trackway/internal/metrics"
	"trackway/internal/proto"
	"trackway/internal/session"
)

var ErrUnknownSlot = errors.New("unknown slot")

// Event kinds emitted for slots.
const (
	EventSlotCompleted = "slot.completed"
	EventSlotFailed    = "slot.failed"
)

// Evaluator runs one piece of source text in isolation.
type Evaluator interface {
	Evaluate(ctx context.Context, source string) (json.RawMessage, error)
}

// Channel is the part of a session the bridge needs.
type Channel interface {
	ID() string
	Send(ctx context.Context, msg proto.Message) error
	SendPipe(ctx context.Context, data []byte) error
	RecvPipe(ctx context.Context) ([]byte, error)
	// Err is the reason the channel terminated, nil after a clean bye.
	Err() error
}

type SlotState int

const (
	AwaitingExecution SlotState = iota
	Completed
)

func (s SlotState) String() string {
	if s == Completed {
		return "completed"
	}
	return "awaiting_execution"
}

type Slot struct {
	ID     uint64
	State  SlotState
	Source string
	Value  json.RawMessage
}

// EvaluationError wraps a failed Run. The slot stays AwaitingExecution.
type EvaluationError struct {
	Slot uint64
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("slot %d: evaluation failed: %v", e.Slot, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Events  session.EventSink
}

// Instance is the live binding between one task and one session.
type Instance struct {
	task string
	ch   Channel
	eval Evaluator
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	slots map[uint64]*Slot
	next  uint64

	// run serialises evaluations; evaluators are not reentrant.
	run sync.Mutex
}

func New(task string, ch Channel, eval Evaluator, opts Options) *Instance {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Instance{
		task:  task,
		ch:    ch,
		eval:  eval,
		opts:  opts,
		log:   opts.Logger.With(zap.String("component", "bridge"), zap.String("task", task)),
		slots: map[uint64]*Slot{},
	}
}

// Slot returns a copy of the slot with the given id.
func (in *Instance) Slot(id uint64) (Slot, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	s, ok := in.slots[id]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// Pending is the number of slots not yet retired.
func (in *Instance) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.slots)
}

// Poll retires prev if it has completed, sending its value to the peer, and
// then waits for the next code fragment. ok is false once the peer has said
// bye; a transport failure is returned as err.
func (in *Instance) Poll(ctx context.Context, prev *uint64) (id uint64, ok bool, err error) {
	if prev != nil {
		if err := in.deliver(ctx, *prev); err != nil {
			return 0, false, err
		}
	}

	data, err := in.ch.RecvPipe(ctx)
	if err != nil {
		if errors.Is(err, session.ErrTerminated) {
			if cause := in.ch.Err(); cause != nil {
				return 0, false, fmt.Errorf("poll: %w", cause)
			}
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("poll: %w", err)
	}

	in.mu.Lock()
	id = in.next
	in.next++
	in.slots[id] = &Slot{ID: id, State: AwaitingExecution, Source: string(data)}
	in.mu.Unlock()

	in.opts.Metrics.RecordSlot("allocated")
	in.log.Debug("slot allocated", zap.Uint64("slot", id), zap.Int("bytes", len(data)))
	return id, true, nil
}

func (in *Instance) deliver(ctx context.Context, id uint64) error {
	in.mu.Lock()
	s, ok := in.slots[id]
	if !ok || s.State != Completed {
		in.mu.Unlock()
		return nil
	}
	value := s.Value
	in.mu.Unlock()

	if err := in.ch.SendPipe(ctx, value); err != nil {
		return fmt.Errorf("deliver slot %d: %w", id, err)
	}

	in.mu.Lock()
	delete(in.slots, id)
	in.mu.Unlock()
	in.opts.Metrics.RecordSlot("delivered")
	return nil
}

// Run evaluates an AwaitingExecution slot. Running a completed slot is a
// no-op.
func (in *Instance) Run(ctx context.Context, id uint64) error {
	in.run.Lock()
	defer in.run.Unlock()

	in.mu.Lock()
	s, ok := in.slots[id]
	if !ok {
		in.mu.Unlock()
		return fmt.Errorf("slot %d: %w", id, ErrUnknownSlot)
	}
	if s.State == Completed {
		in.mu.Unlock()
		return nil
	}
	source := s.Source
	in.mu.Unlock()

	start := time.Now()
	value, err := in.eval.Evaluate(ctx, source)
	in.opts.Metrics.ObserveEvaluation(time.Since(start), err)
	if err != nil {
		in.opts.Metrics.RecordSlot("failed")
		in.emit(ctx, EventSlotFailed, map[string]any{"slot": id, "error": err.Error()})
		return &EvaluationError{Slot: id, Err: err}
	}

	in.mu.Lock()
	s.State = Completed
	s.Value = value
	s.Source = ""
	in.mu.Unlock()

	in.opts.Metrics.RecordSlot("completed")
	in.emit(ctx, EventSlotCompleted, map[string]any{"slot": id, "bytes": len(value)})
	in.log.Debug("slot completed", zap.Uint64("slot", id), zap.Duration("took", time.Since(start)))
	return nil
}

func (in *Instance) emit(ctx context.Context, kind string, payload map[string]any) {
	if in.opts.Events == nil {
		return
	}
	payload["task"] = in.task
	in.opts.Events.SessionEvent(ctx, in.ch.ID(), kind, payload)
}

// Drive runs the poll/run loop until the peer says bye. Evaluation failures
// are reported to the peer as control/err and the loop continues; the failed
// slot is left unretired.
func (in *Instance) Drive(ctx context.Context) error {
	var prev *uint64
	for {
		id, ok, err := in.Poll(ctx, prev)
		if err != nil {
			return err
		}
		if !ok {
			in.log.Info("peer finished", zap.Int("unretired", in.Pending()))
			return nil
		}

		prev = nil
		if err := in.Run(ctx, id); err != nil {
			var ee *EvaluationError
			if !errors.As(err, &ee) {
				return err
			}
			in.log.Warn("evaluation failed", zap.Uint64("slot", id), zap.Error(ee.Err))
			if err := in.ch.Send(ctx, proto.Err(ee.Error())); err != nil {
				return fmt.Errorf("report slot %d: %w", id, err)
			}
			continue
		}
		slot := id
		prev = &slot
	}
}
