package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackway/internal/db"
	"trackway/internal/migrate"
	"trackway/internal/repo"
	"trackway/internal/session"
)

func TestWriterRecordsSessionEvents(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	r := repo.Repo{DB: conn}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var sink session.EventSink = Writer{Repo: r, Now: func() time.Time { return fixed }}

	sink.SessionEvent(ctx, "s1", session.EventOpen, nil)
	sink.SessionEvent(ctx, "s1", session.EventAnnounce, map[string]any{"task": "Weather"})
	sink.SessionEvent(ctx, "s1", "bad", map[string]any{"fn": func() {}})

	evts, err := r.LatestEvents(ctx, repo.EventFilters{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, session.EventAnnounce, evts[0].Kind)
	assert.Equal(t, "Weather", evts[0].Task)
	assert.JSONEq(t, `{"task":"Weather"}`, evts[0].Payload)
	assert.Equal(t, fixed.Format(time.RFC3339Nano), evts[1].TS)
	assert.JSONEq(t, `{}`, evts[1].Payload)
}
