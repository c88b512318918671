package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"concierge/internal/threads"
	"concierge/internal/trace"
	"concierge/internal/workflow"
)

var (
	rendererMu sync.Mutex
	renderers  = map[int]*glamour.TermRenderer{}
)

func markdownRenderer(width int) *glamour.TermRenderer {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	if r, ok := renderers[width]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	renderers[width] = r
	return r
}

// renderMarkdown renders assistant answers. It falls back to wrapped plain
// text when markdown is off or rendering fails.
func renderMarkdown(enabled bool, content string, width int) string {
	width = max(20, width)
	if enabled && strings.TrimSpace(content) != "" {
		if r := markdownRenderer(width); r != nil {
			if rendered, err := r.Render(content); err == nil {
				return strings.Trim(rendered, "\n")
			}
		}
	}
	return wrapText(content, width)
}

func speakerLabel(kind threads.MessageType) string {
	switch kind {
	case threads.MessageUser:
		return "you"
	case threads.MessageAssistant:
		return "concierge"
	default:
		return "system"
	}
}

func traceBadgeLine(tr trace.Trace) string {
	parts := []string{"[" + tr.Badge() + "]"}
	if !tr.Open() {
		parts = append(parts, trace.FormatDuration(tr.DurationMs))
	}
	parts = append(parts, fmt.Sprintf("%d steps", len(tr.Steps)))
	if len(tr.Tools) > 0 {
		parts = append(parts, fmt.Sprintf("%d tools", len(tr.Tools)))
	}
	return strings.Join(parts, " · ")
}

func stepIcon(status workflow.Status) string {
	switch status.Normalize() {
	case workflow.StatusCompleted:
		return "✓"
	case workflow.StatusFailed:
		return "✗"
	default:
		return "…"
	}
}

// traceDetailLines is the plain-text execution trace shared by the Trace tab
// and the ask command.
func traceDetailLines(tr trace.Trace, now time.Time) []string {
	lines := []string{"status: " + string(nullStatus(tr.AggregateStatus))}
	if tr.Open() {
		if elapsed, ok := tr.Elapsed(now); ok {
			lines = append(lines, "elapsed: "+elapsed.Round(time.Second).String()+" (running)")
		} else {
			lines = append(lines, "duration: "+trace.FormatDuration(nil))
		}
	} else {
		lines = append(lines, "duration: "+trace.FormatDuration(tr.DurationMs))
	}
	if total := tr.ToolDurationTotal(); total > 0 {
		lines = append(lines, "tool time: "+trace.FormatDuration(&total))
	}

	if tr.Failure != nil {
		kind := nullCoalesce(tr.Failure.ErrorType, "error")
		lines = append(lines, fmt.Sprintf("%s: %s", kind, compactSingleLine(tr.Failure.Error, 200)))
	}

	lines = append(lines, ternary(tr.Synthesized, "steps (inferred):", "steps:"))
	for _, step := range tr.Steps {
		line := fmt.Sprintf("  %s %s", stepIcon(step.Status), step.StepName)
		if desc := strings.TrimSpace(step.Description); desc != "" {
			line += " · " + compactSingleLine(desc, 80)
		}
		lines = append(lines, line)
	}

	if len(tr.Tools) > 0 {
		lines = append(lines, "tools:")
		for _, tool := range tr.Tools {
			line := fmt.Sprintf("  %s %s", stepIcon(tool.Status), tool.ToolName)
			if ms, ok := tool.Duration(); ok {
				line += " " + trace.FormatDuration(&ms)
			}
			if detail := toolDetail(tool); detail != "" {
				line += " · " + detail
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func nullStatus(status workflow.Status) workflow.Status {
	if status == "" {
		return "unknown"
	}
	return status
}

func toolDetail(tool workflow.ToolCall) string {
	if decision, ok := tool.Permission(); ok {
		verdict := "allow=?"
		if decision.Allow != nil {
			verdict = ternary(*decision.Allow, "allowed", "denied")
		}
		parts := []string{verdict}
		if decision.PolicyRef != "" {
			parts = append(parts, "policy "+decision.PolicyRef)
		}
		if decision.Reason != "" {
			parts = append(parts, compactSingleLine(decision.Reason, 80))
		}
		return strings.Join(parts, " · ")
	}
	if fetch, ok := tool.DataFetch(); ok {
		detail := fmt.Sprintf("%d rows", fetch.Count)
		if fetch.Resource != "" {
			detail += " of " + fetch.Resource
		}
		return detail
	}
	if audit, ok := tool.Audit(); ok {
		return strings.TrimSpace(nullCoalesce(audit.Status, "logged") + " " + audit.EntryID)
	}
	if len(tool.Output) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tool.Output))
	for key := range tool.Output {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return "output: " + compactSingleLine(strings.Join(keys, ", "), 80)
}
