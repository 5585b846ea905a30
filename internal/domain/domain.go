package domain

// Module is an installed task source.
type Module struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Source      string   `json:"source"`
	Version     int      `json:"version"`
	Digest      string   `json:"digest"`
	Tasks       []string `json:"tasks"`
	InstalledAt string   `json:"installed_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// ModuleSource is a module with its source text.
type ModuleSource struct {
	Module
	Content string `json:"content"`
}

type TaskSummary struct {
	Module      string   `json:"module"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Methods     []string `json:"methods"`
}

type Diagnostic struct {
	Severity string `json:"severity" enum:"warning,error"`
	Task     string `json:"task,omitempty"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Task      string `json:"task,omitempty"`
	Payload   string `json:"payload_json"`
}
