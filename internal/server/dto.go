package server

import (
	"encoding/json"

	"trackway/internal/compiler"
	"trackway/internal/domain"
)

type InstallModuleRequest struct {
	Name    string `json:"name,omitempty" doc:"Defaults to the source file name"`
	Source  string `json:"source" example:"thermo.ts"`
	Content string `json:"content"`
	Replace bool   `json:"replace,omitempty"`
}

type InstallModuleResponse struct {
	Module      domain.Module       `json:"module"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
	Skipped     []string            `json:"skipped"`
}

type ExportResponse struct {
	Name      string `json:"name"`
	Hint      string `json:"hint"`
	Signature string `json:"signature"`
}

type TaskContextResponse struct {
	Module      string           `json:"module"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Context     string           `json:"context"`
	Exports     []ExportResponse `json:"exports"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Task      string         `json:"task,omitempty"`
	Payload   map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type DevTokenRequest struct {
	Subject string   `json:"subject" example:"alice"`
	Scopes  []string `json:"scopes,omitempty" example:"[\"modules.write\"]"`
	TTL     string   `json:"ttl,omitempty" example:"1h"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		SessionID: e.SessionID,
		Kind:      e.Kind,
		Task:      e.Task,
		Payload:   decodeJSONMap(e.Payload),
	}
}

func diagnosticResponses(in []compiler.Diagnostic) []domain.Diagnostic {
	out := make([]domain.Diagnostic, 0, len(in))
	for _, d := range in {
		out = append(out, domain.Diagnostic{
			Severity: string(d.Severity),
			Task:     d.Task,
			Line:     d.Pos.Line,
			Column:   d.Pos.Col,
			Message:  d.Message,
		})
	}
	return out
}

func exportResponses(in []compiler.Export) []ExportResponse {
	out := make([]ExportResponse, 0, len(in))
	for _, e := range in {
		out = append(out, ExportResponse(e))
	}
	return out
}

func taskSummary(module string, m *compiler.Module, t *compiler.Task) domain.TaskSummary {
	return domain.TaskSummary{
		Module:      module,
		Name:        t.Name,
		Description: m.Description(t),
		Methods:     nonNilSlice(t.MethodNames()),
	}
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
