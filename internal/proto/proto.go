// Package proto defines the messages exchanged between a local agent and
// its remote peer.
package proto

import (
	"encoding/json"
	"fmt"
)

// MessageType selects the plane a message travels on.
type MessageType string

const (
	Control MessageType = "control"
	Pipe    MessageType = "pipe"
	Prompt  MessageType = "prompt"
)

// Code names a control message. Unrecognised strings decode to CodeUnknown.
type Code string

const (
	CodeHello       Code = "hello"
	CodeSendToken   Code = "send_token"
	CodeOK          Code = "ok"
	CodeErr         Code = "err"
	CodeReady       Code = "ready"
	CodeCall        Code = "call"
	CodeExports     Code = "exports"
	CodeSendExports Code = "send_exports"
	CodeBye         Code = "bye"
	CodeTask        Code = "task"
	CodeUnknown     Code = "unknown"
)

var knownCodes = map[Code]bool{
	CodeHello: true, CodeSendToken: true, CodeOK: true, CodeErr: true, CodeReady: true,
	CodeCall: true, CodeExports: true, CodeSendExports: true, CodeBye: true, CodeTask: true,
}

// ParseCode maps s to a known code, or CodeUnknown. Matching is exact.
func ParseCode(s string) Code {
	if c := Code(s); knownCodes[c] {
		return c
	}
	return CodeUnknown
}

func (c *Code) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode code: %w", err)
	}
	if s == "" {
		*c = ""
		return nil
	}
	*c = ParseCode(s)
	return nil
}

// Message is one transport frame.
type Message struct {
	Type MessageType `json:"message_type"`
	Code Code        `json:"code,omitempty"`
	Data []byte      `json:"data,omitempty"`
}

func (m Message) String() string {
	if m.Code == "" {
		return fmt.Sprintf("%s (%d bytes)", m.Type, len(m.Data))
	}
	return fmt.Sprintf("%s/%s (%d bytes)", m.Type, m.Code, len(m.Data))
}

// Is reports whether m is a control message with code c.
func (m Message) Is(c Code) bool {
	return m.Type == Control && m.Code == c
}

func NewControl(code Code, data []byte) Message {
	return Message{Type: Control, Code: code, Data: data}
}

func Hello() Message     { return NewControl(CodeHello, nil) }
func SendToken() Message { return NewControl(CodeSendToken, nil) }
func OK() Message        { return NewControl(CodeOK, nil) }
func Bye() Message       { return NewControl(CodeBye, nil) }
func Ready() Message     { return NewControl(CodeReady, nil) }

// Token carries the bearer token in reply to send_token.
func Token(token string) Message { return NewControl(CodeOK, []byte(token)) }

func Err(reason string) Message { return NewControl(CodeErr, []byte(reason)) }

func NewPipe(data []byte) Message { return Message{Type: Pipe, Data: data} }

func NewPrompt(text string) Message { return Message{Type: Prompt, Data: []byte(text)} }

// TaskAnnouncement is the payload of a task control message.
type TaskAnnouncement struct {
	TaskName        string `json:"task_name"`
	TaskDescription string `json:"task_description"`
	TaskContext     string `json:"task_context"`
}

func Announce(a TaskAnnouncement) (Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return Message{}, fmt.Errorf("encode task announcement: %w", err)
	}
	return NewControl(CodeTask, data), nil
}

func DecodeAnnouncement(m Message) (TaskAnnouncement, error) {
	var a TaskAnnouncement
	if !m.Is(CodeTask) {
		return a, fmt.Errorf("expected control/task, got %s", m)
	}
	if err := json.Unmarshal(m.Data, &a); err != nil {
		return a, fmt.Errorf("decode task announcement: %w", err)
	}
	return a, nil
}

// Call is the payload of a call request.
type Call struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}
