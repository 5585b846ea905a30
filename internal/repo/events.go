package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"trackway/internal/domain"
)

func (r Repo) InsertEvent(ctx context.Context, e domain.Event) (int64, error) {
	payload := e.Payload
	if payload == "" {
		payload = "{}"
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO session_events(ts,session_id,kind,task,payload_json) VALUES (?,?,?,?,?)`,
		e.TS, e.SessionID, e.Kind, nullable(e.Task), payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type EventFilters struct {
	SessionID string
	Kind      string
	Task      string
	// Before pages backwards: only ids below it are returned.
	Before int64
	Limit  int
}

// LatestEvents returns matching events, newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Task != "" {
		clauses = append(clauses, "task=?")
		args = append(args, f.Task)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,session_id,kind,task,payload_json FROM session_events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, f.Limit)...)
}

// EventsAfter returns events with ids greater than cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,session_id,kind,task,payload_json FROM session_events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var task sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.SessionID, &e.Kind, &task, &e.Payload); err != nil {
			return nil, err
		}
		e.Task = task.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 for an empty log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM session_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
