// Package threads persists conversations: an append-only message log per
// thread plus a derived thread index used for listing.
package threads

import (
	"strings"
	"time"

	"concierge/internal/trace"
	"concierge/internal/workflow"
)

// MessageType identifies who produced a message.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
)

// Message is one entry of a thread's log. Messages are never edited after
// they are appended.
type Message struct {
	ID               string             `json:"id"`
	Type             MessageType        `json:"type"`
	Content          string             `json:"content"`
	Timestamp        time.Time          `json:"timestamp"`
	WorkflowResponse *workflow.Response `json:"workflow_response,omitempty"`
	Trace            *trace.Trace       `json:"trace,omitempty"`
}

// Thread is the index entry summarising a message log. Only Title may be set
// independently of the log (via rename).
type Thread struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastMessage  string    `json:"lastMessage"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
	UserRole     string    `json:"userRole"`
	UserEmail    string    `json:"userEmail"`
}

// Defaults seeds a new thread.
type Defaults struct {
	Title     string
	UserEmail string
	UserRole  string
}

const (
	DefaultTitle     = "New conversation"
	defaultUserRole  = "HR"
	defaultUserEmail = "user@company.com"
	titleMaxRunes    = 50
)

// DeriveTitle builds a title from the first message of a log.
func DeriveTitle(firstContent string) string {
	compact := strings.Join(strings.Fields(firstContent), " ")
	if compact == "" {
		return DefaultTitle
	}
	runes := []rune(compact)
	if len(runes) <= titleMaxRunes {
		return compact
	}
	return string(runes[:titleMaxRunes]) + "..."
}

// Filter returns the threads whose title, last message or role contains
// query, case-insensitively. An empty query returns threads unchanged.
func Filter(threads []Thread, query string) []Thread {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return threads
	}
	out := make([]Thread, 0, len(threads))
	for _, thread := range threads {
		if strings.Contains(strings.ToLower(thread.Title), needle) ||
			strings.Contains(strings.ToLower(thread.LastMessage), needle) ||
			strings.Contains(strings.ToLower(thread.UserRole), needle) {
			out = append(out, thread)
		}
	}
	return out
}
