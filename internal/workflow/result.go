package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResultKind discriminates the Result union.
type ResultKind string

const (
	KindSuccess ResultKind = "success"
	KindFailure ResultKind = "failure"
)

// Result is either *Success or *Failure.
type Result interface {
	Kind() ResultKind
}

// Success is the payload of a run that produced an answer.
type Success struct {
	Answer    string     `json:"answer,omitempty"`
	Steps     []Step     `json:"steps,omitempty"`
	ToolsUsed []ToolCall `json:"tools_used,omitempty"`
}

// Kind implements Result.
func (*Success) Kind() ResultKind { return KindSuccess }

// Failure is the payload of a run that raised inside the engine.
type Failure struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// Kind implements Result.
func (*Failure) Kind() ResultKind { return KindFailure }

// DecodeResult resolves the result union. The presence of an "error" key is
// the only discriminator; the response status is not consulted. Malformed
// input degrades to an empty Success rather than failing.
func DecodeResult(raw json.RawMessage) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &Success{}
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return &Success{Answer: text}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return &Success{}
	}

	if errRaw, ok := fields["error"]; ok {
		return &Failure{
			Error:     looseString(errRaw),
			ErrorType: looseString(fields["error_type"]),
			Traceback: looseString(fields["traceback"]),
		}
	}

	return &Success{
		Answer:    looseString(fields["answer"]),
		Steps:     decodeEach[Step](fields["steps"]),
		ToolsUsed: decodeTools(fields["tools_used"]),
	}
}

// Decode is a convenience for DecodeResult(r.Result). A nil response decodes
// to an empty Success.
func (r *Response) Decode() Result {
	if r == nil {
		return &Success{}
	}
	return DecodeResult(r.Result)
}

// looseString renders a JSON value as text: strings unquoted, null as empty,
// anything else as its compact JSON.
func looseString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

// decodeEach decodes a JSON array element by element, skipping elements that
// do not fit T. A value that is not an array yields nil.
func decodeEach[T any](raw json.RawMessage) []T {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil
	}
	out := make([]T, 0, len(elements))
	for _, element := range elements {
		var item T
		if err := json.Unmarshal(element, &item); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

// decodeTools decodes tools_used like decodeEach, except that an object which
// does not fit ToolCall is kept in degraded form instead of dropped.
func decodeTools(raw json.RawMessage) []ToolCall {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil
	}
	out := make([]ToolCall, 0, len(elements))
	for _, element := range elements {
		var item ToolCall
		if err := json.Unmarshal(element, &item); err == nil {
			out = append(out, item)
			continue
		}
		if item, ok := degradedTool(element); ok {
			out = append(out, item)
		}
	}
	return out
}

func degradedTool(raw json.RawMessage) (ToolCall, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ToolCall{}, false
	}
	item := ToolCall{
		ToolName:  looseString(fields["tool_name"]),
		Timestamp: looseString(fields["timestamp"]),
		Status:    Status(looseString(fields["status"])),
	}
	var output map[string]any
	if err := json.Unmarshal(fields["output"], &output); err == nil {
		item.Output = output
	}
	var input map[string]any
	if err := json.Unmarshal(fields["input"], &input); err == nil {
		item.Input = input
	}
	if ms, err := strconv.ParseFloat(looseString(fields["duration_ms"]), 64); err == nil {
		item.DurationMs = &ms
	}
	return item, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 variants the engine emits. Values
// without a zone are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, trimmed)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
