// Package trace derives a renderable execution trace from a workflow
// response. Derivation is best-effort: malformed input yields a degraded
// trace, never an error.
package trace

import (
	"fmt"
	"strings"
	"time"

	"concierge/internal/workflow"
)

// denialMarkers are matched case-insensitively against a successful answer.
// This is a text heuristic that backs up the check_permissions record.
var denialMarkers = []string{"denied"}

// Trace is the normalized view of one workflow run.
type Trace struct {
	Steps       []workflow.Step     `json:"steps"`
	Tools       []workflow.ToolCall `json:"tools"`
	Synthesized bool                `json:"synthesized,omitempty"`

	AggregateStatus  workflow.Status `json:"aggregate_status"`
	DurationMs       *int64          `json:"duration_ms,omitempty"`
	PermissionDenied bool            `json:"permission_denied"`

	Kind      workflow.ResultKind `json:"kind"`
	Answer    string              `json:"answer,omitempty"`
	Failure   *workflow.Failure   `json:"failure,omitempty"`
	StartedAt string              `json:"started_at,omitempty"`
}

// Normalize maps resp into a Trace. A nil response produces a synthesized
// trace with an empty answer.
func Normalize(resp *workflow.Response) Trace {
	var status workflow.Status
	var startedAt, completedAt string
	if resp != nil {
		status = resp.Status.Normalize()
		startedAt = resp.StartedAt
		completedAt = resp.CompletedAt
	}

	out := Trace{
		AggregateStatus: status,
		StartedAt:       startedAt,
		DurationMs:      duration(startedAt, completedAt),
	}

	var steps []workflow.Step
	var tools []workflow.ToolCall
	switch result := resp.Decode().(type) {
	case *workflow.Failure:
		out.Kind = workflow.KindFailure
		out.Failure = result
	case *workflow.Success:
		out.Kind = workflow.KindSuccess
		out.Answer = result.Answer
		steps = result.Steps
		tools = result.ToolsUsed
	}

	if len(steps) > 0 {
		out.Steps = steps
	} else {
		out.Steps = synthesizeSteps(status, startedAt)
		out.Synthesized = true
	}
	out.Tools = tools
	if out.Tools == nil {
		out.Tools = []workflow.ToolCall{}
	}

	out.PermissionDenied = deniedByTools(out.Tools) ||
		(out.Kind == workflow.KindSuccess && containsDenial(out.Answer))
	return out
}

func deniedByTools(tools []workflow.ToolCall) bool {
	for _, tool := range tools {
		if tool.Status.Normalize() != workflow.StatusCompleted {
			continue
		}
		if tool.ToolName != workflow.ToolCheckPermissions {
			continue
		}
		if allow, ok := tool.Output["allow"].(bool); ok && !allow {
			return true
		}
	}
	return false
}

func containsDenial(answer string) bool {
	lower := strings.ToLower(answer)
	for _, marker := range denialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// synthesizeSteps stands in for missing telemetry. Every step carries the
// response status; nothing downstream derives outcome from these steps.
func synthesizeSteps(status workflow.Status, startedAt string) []workflow.Step {
	if status == "" {
		status = workflow.StatusRunning
	}
	return []workflow.Step{
		{
			StepName:    workflow.ToolCheckPermissions,
			Timestamp:   startedAt,
			Status:      status,
			Description: "Validate access against policy",
		},
		{
			StepName:    workflow.ToolFetchData,
			Timestamp:   startedAt,
			Status:      status,
			Description: "Retrieve the requested records",
		},
		{
			StepName:    workflow.ToolAuditLog,
			Timestamp:   startedAt,
			Status:      status,
			Description: "Record the access attempt",
		},
	}
}

func duration(startedAt, completedAt string) *int64 {
	if strings.TrimSpace(completedAt) == "" {
		return nil
	}
	start, err := workflow.ParseTimestamp(startedAt)
	if err != nil {
		return nil
	}
	end, err := workflow.ParseTimestamp(completedAt)
	if err != nil {
		return nil
	}
	ms := end.Sub(start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}

// Open reports whether the run has no known end time.
func (t Trace) Open() bool {
	return t.DurationMs == nil
}

// Elapsed returns the closed duration, or the time since start for an open
// trace. The second value is false when neither can be computed.
func (t Trace) Elapsed(now time.Time) (time.Duration, bool) {
	if t.DurationMs != nil {
		return time.Duration(*t.DurationMs) * time.Millisecond, true
	}
	start, err := workflow.ParseTimestamp(t.StartedAt)
	if err != nil {
		return 0, false
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, true
}

// ToolDurationTotal sums duration_ms over all tool records that report one.
func (t Trace) ToolDurationTotal() int64 {
	var total int64
	for _, tool := range t.Tools {
		if ms, ok := tool.Duration(); ok {
			total += ms
		}
	}
	return total
}

// Badge is the one-word summary shown next to a run.
func (t Trace) Badge() string {
	switch {
	case t.PermissionDenied:
		return "Access Denied"
	case t.Kind == workflow.KindFailure:
		return "Error"
	case t.AggregateStatus == workflow.StatusCompleted:
		return "Completed"
	case t.AggregateStatus == workflow.StatusFailed:
		return "Failed"
	default:
		return "Running"
	}
}

// FormatDuration renders a duration in milliseconds. nil means the run is
// still open.
func FormatDuration(ms *int64) string {
	if ms == nil {
		return "Running..."
	}
	d := time.Duration(*ms) * time.Millisecond
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", *ms)
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		minutes := int(d / time.Minute)
		seconds := int((d % time.Minute) / time.Second)
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}
