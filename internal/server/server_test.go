package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"trackway/internal/config"
	"trackway/internal/db"
	"trackway/internal/domain"
	"trackway/internal/engine"
	"trackway/internal/engine/auth"
	"trackway/internal/metrics"
	"trackway/internal/migrate"
)

const testSecret = "test-secret"

const thermoSource = `
type Reading = { celsius: number; station: Station };
type Station = string;

@task("Read temperatures from weather stations and convert them between units on request")
export class Thermo extends Task<Reading> {
    @hint("Convert a temperature in degrees celsius into degrees fahrenheit and return it")
    convert(celsius: number): number {
        return celsius * 1.8 + 32;
    }
}
`

type testServer struct {
	*httptest.Server
	Engine engine.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("trackway", reg, nil)
	e, err := engine.New(conn, config.Default(), nil, m)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
		Metrics:  m,
		Gatherer: reg,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{Server: srv, Engine: e}
}

func mintToken(t *testing.T, scopes ...string) string {
	t.Helper()
	token, err := auth.Mint(testSecret, "tester", 0, scopes...)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/modules", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/modules", nil, bearer("not-a-jwt"))
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/modules", nil, bearer(mintToken(t)))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list modules status %d: %s", res.StatusCode, data)
	}
}

func TestDevTokenInstallAndInspect(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/token", map[string]any{
		"subject": "alice",
		"scopes":  []string{ScopeModulesWrite},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev token status %d: %s", res.StatusCode, data)
	}
	var tok DevTokenResponse
	if err := json.Unmarshal(data, &tok); err != nil || tok.Token == "" {
		t.Fatalf("dev token body: %v %s", err, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/modules", InstallModuleRequest{
		Source:  "thermo.ts",
		Content: thermoSource,
	}, bearer(tok.Token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("install status %d: %s", res.StatusCode, data)
	}
	var installed InstallModuleResponse
	if err := json.Unmarshal(data, &installed); err != nil {
		t.Fatalf("unmarshal install: %v", err)
	}
	if installed.Module.Name != "thermo" || len(installed.Module.Tasks) != 1 {
		t.Fatalf("unexpected module %+v", installed.Module)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/modules", InstallModuleRequest{
		Source:  "thermo.ts",
		Content: thermoSource,
	}, bearer(tok.Token))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate install status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, bearer(tok.Token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, data)
	}
	var tasks []domain.TaskSummary
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != "Thermo" || len(tasks[0].Methods) != 1 {
		t.Fatalf("tasks = %+v", tasks)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/Thermo", nil, bearer(tok.Token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("task context status %d: %s", res.StatusCode, data)
	}
	var tc TaskContextResponse
	if err := json.Unmarshal(data, &tc); err != nil {
		t.Fatalf("unmarshal context: %v", err)
	}
	if !strings.Contains(tc.Context, "type Station = string") || len(tc.Exports) != 1 {
		t.Fatalf("unexpected context %+v", tc)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/Nope", nil, bearer(tok.Token))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/modules/thermo", nil, bearer(tok.Token))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/modules/thermo", nil, bearer(tok.Token))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestInstallNeedsScope(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/modules", InstallModuleRequest{
		Source:  "thermo.ts",
		Content: thermoSource,
	}, bearer(mintToken(t)))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}
}

func TestInstallSyntaxError(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/modules", InstallModuleRequest{
		Source:  "bad.ts",
		Content: "type A = {\n  x: ;\n}",
	}, bearer(mintToken(t, "*")))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "syntax_error" {
		t.Fatalf("expected 422 syntax_error, got %d: %s", res.StatusCode, data)
	}
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for _, kind := range []string{"session.open", "session.handshake", "task.announce", "session.close"} {
		if _, err := srv.Engine.Events.Append(ctx, "s1", kind, map[string]any{"task": "Thermo"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	token := mintToken(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?session_id=s1&limit=3", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 3 || page.Items[0].Kind != "session.close" || page.NextCursor == "" {
		t.Fatalf("first page = %+v", page)
	}
	if page.Items[0].Payload["task"] != "Thermo" {
		t.Fatalf("payload = %v", page.Items[0].Payload)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?session_id=s1&limit=3&cursor="+page.NextCursor, nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, data)
	}
	page = paginatedEvents{}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Kind != "session.open" || page.NextCursor != "" {
		t.Fatalf("second page = %+v", page)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, bearer(token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d: %s", res.StatusCode, data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "trackway_http_requests_total") {
		t.Fatalf("metrics missing http counter:\n%s", data)
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	if _, err := srv.Engine.Events.Append(ctx, "old", "session.open", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	type delivery struct {
		kind, sig string
		body      []byte
	}
	var mu sync.Mutex
	var got []delivery
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, delivery{kind: r.Header.Get("X-Trackway-Event"), sig: r.Header.Get(SignatureHeader), body: body})
		mu.Unlock()
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.Engine.Repo, []config.Webhook{{
		URL:     hook.URL,
		Events:  []string{"slot.failed"},
		Secret:  "s3cret",
		Enabled: true,
	}}, nil)
	// The first pass pins the cursor at the end of the log.
	d.DispatchAll(ctx)

	for _, kind := range []string{"slot.completed", "slot.failed"} {
		if _, err := srv.Engine.Events.Append(ctx, "s1", kind, map[string]any{"slot": 1}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].kind != "slot.failed" {
		t.Fatalf("kind = %q", got[0].kind)
	}
	if got[0].sig != Sign("s3cret", got[0].body) {
		t.Fatalf("bad signature")
	}
	var evt webhookEvent
	if err := json.Unmarshal(got[0].body, &evt); err != nil {
		t.Fatalf("unmarshal delivery: %v", err)
	}
	if evt.SessionID != "s1" || !strings.Contains(string(evt.Payload), `"slot":1`) {
		t.Fatalf("delivery = %+v", evt)
	}
}
