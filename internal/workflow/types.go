// Package workflow models the responses returned by the compliance workflow
// engine and resolves their result union.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is a lifecycle state reported by the engine.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Normalize lowercases and trims s. Unknown values are kept as-is.
func (s Status) Normalize() Status {
	return Status(strings.ToLower(strings.TrimSpace(string(s))))
}

// Known tool names.
const (
	ToolCheckPermissions = "check_permissions"
	ToolFetchData        = "fetch_data"
	ToolAuditLog         = "audit_log"
)

// Response is the handler document returned by a workflow run. Result is kept
// verbatim so it can be persisted unchanged; use DecodeResult to interpret it.
type Response struct {
	HandlerID    string          `json:"handler_id"`
	WorkflowName string          `json:"workflow_name"`
	RunID        string          `json:"run_id"`
	Error        *string         `json:"error,omitempty"`
	Status       Status          `json:"status"`
	StartedAt    string          `json:"started_at"`
	UpdatedAt    string          `json:"updated_at"`
	CompletedAt  string          `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Step is one reasoning step of an execution trace.
type Step struct {
	StepName    string         `json:"step_name"`
	Timestamp   string         `json:"timestamp"`
	Status      Status         `json:"status"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

// ToolCall records a single tool invocation. Output is tool-specific; use the
// typed accessors to read it.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	Timestamp  string         `json:"timestamp"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Status     Status         `json:"status"`
	DurationMs *float64       `json:"duration_ms,omitempty"`
}

// Employee is a row returned by fetch_data.
type Employee struct {
	EmployeeID         int      `json:"employee_id"`
	Name               string   `json:"name"`
	Email              string   `json:"email,omitempty"`
	Department         string   `json:"department,omitempty"`
	Role               string   `json:"role,omitempty"`
	ManagerID          *int     `json:"manager_id,omitempty"`
	Salary             *float64 `json:"salary,omitempty"`
	HireDate           string   `json:"hire_date,omitempty"`
	PerformanceRating  *float64 `json:"performance_rating,omitempty"`
	PerformanceSummary string   `json:"performance_summary,omitempty"`
	SSNLast4           string   `json:"ssn_last4,omitempty"`
	HomeCity           string   `json:"home_city,omitempty"`
}

// PermissionDecision is the output of check_permissions.
type PermissionDecision struct {
	Allow     *bool  `json:"allow"`
	Reason    string `json:"reason"`
	PolicyRef string `json:"policy_ref"`
	UserEmail string `json:"user_email,omitempty"`
	UserRole  string `json:"user_role,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Action    string `json:"action,omitempty"`
}

// Denied reports an explicit allow=false.
func (p PermissionDecision) Denied() bool {
	return p.Allow != nil && !*p.Allow
}

// DataFetch is the output of fetch_data.
type DataFetch struct {
	Rows     []Employee `json:"rows"`
	Count    int        `json:"count"`
	Resource string     `json:"resource,omitempty"`
}

// AuditResult is the output of audit_log.
type AuditResult struct {
	Status  string `json:"status"`
	EntryID string `json:"entry_id,omitempty"`
}

// Permission reads the output of a check_permissions call field by field, so
// one oddly typed field never hides the others. It reports false for any other
// tool so that allow is never read from unrelated output.
func (t ToolCall) Permission() (PermissionDecision, bool) {
	if t.ToolName != ToolCheckPermissions || t.Output == nil {
		return PermissionDecision{}, false
	}
	out := PermissionDecision{
		Reason:    anyString(t.Output["reason"]),
		PolicyRef: anyString(t.Output["policy_ref"]),
		UserEmail: anyString(t.Output["user_email"]),
		UserRole:  anyString(t.Output["user_role"]),
		Resource:  anyString(t.Output["resource"]),
		Action:    anyString(t.Output["action"]),
	}
	if allow, ok := t.Output["allow"].(bool); ok {
		out.Allow = &allow
	}
	return out, true
}

// DataFetch decodes the output of a fetch_data call.
func (t ToolCall) DataFetch() (DataFetch, bool) {
	if t.ToolName != ToolFetchData || t.Output == nil {
		return DataFetch{}, false
	}
	out, err := decodeAny[DataFetch](t.Output)
	if err != nil {
		return DataFetch{}, false
	}
	if _, ok := t.Output["count"]; !ok {
		out.Count = len(out.Rows)
	}
	return out, true
}

// Audit decodes the output of an audit_log call. Older engines report the
// entry identifier as "id".
func (t ToolCall) Audit() (AuditResult, bool) {
	if t.ToolName != ToolAuditLog || t.Output == nil {
		return AuditResult{}, false
	}
	out, err := decodeAny[AuditResult](t.Output)
	if err != nil {
		return AuditResult{}, false
	}
	if out.EntryID == "" {
		if id, ok := t.Output["id"].(string); ok {
			out.EntryID = id
		}
	}
	return out, true
}

// Duration returns duration_ms rounded to whole milliseconds.
func (t ToolCall) Duration() (int64, bool) {
	if t.DurationMs == nil || *t.DurationMs < 0 {
		return 0, false
	}
	return int64(*t.DurationMs + 0.5), true
}

func decodeAny[T any](payload any) (T, error) {
	var out T
	buf, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, err
	}
	return out, nil
}

// anyString renders a decoded JSON value as text: strings as is, nil as
// empty, anything else as compact JSON.
func anyString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(buf)
}
