package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trackway/internal/domain"
	"trackway/internal/repo"
)

// Writer appends session lifecycle events to the event log.
type Writer struct {
	Repo   repo.Repo
	Now    func() time.Time
	Logger *zap.Logger
}

type EventPayload map[string]any

// Append stores one event. A "task" key in payload also fills the task column.
func (w Writer) Append(ctx context.Context, sessionID, kind string, payload any) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Repo.InsertEvent(ctx, domain.Event{
		TS:        w.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Kind:      kind,
		Task:      taskOf(payload),
		Payload:   string(data),
	})
}

// SessionEvent records an event on behalf of a session. Failures are logged;
// the event log never stops a session.
func (w Writer) SessionEvent(ctx context.Context, sessionID, kind string, payload any) {
	if _, err := w.Append(ctx, sessionID, kind, payload); err != nil && w.Logger != nil {
		w.Logger.Warn("event not recorded", zap.String("kind", kind), zap.String("session_id", sessionID), zap.Error(err))
	}
}

func taskOf(payload any) string {
	var m map[string]any
	switch p := payload.(type) {
	case map[string]any:
		m = p
	case EventPayload:
		m = p
	default:
		return ""
	}
	s, _ := m["task"].(string)
	return s
}
