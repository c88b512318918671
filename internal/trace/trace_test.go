package trace

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/workflow"
)

func response(status workflow.Status, result string) *workflow.Response {
	return &workflow.Response{
		HandlerID:    "h-1",
		WorkflowName: "concierge",
		RunID:        "run-1",
		Status:       status,
		StartedAt:    "2025-03-01T10:00:00Z",
		UpdatedAt:    "2025-03-01T10:00:02Z",
		CompletedAt:  "2025-03-01T10:00:02.500Z",
		Result:       json.RawMessage(result),
	}
}

func TestNormalize_ExplicitStepsAndToolsKeepOrder(t *testing.T) {
	resp := response(workflow.StatusCompleted, `{
		"answer": "Alice Chen's salary is $120,000",
		"steps": [
			{"step_name":"audit","status":"completed","description":"c"},
			{"step_name":"check","status":"completed","description":"a"},
			{"step_name":"fetch","status":"completed","description":"b"}
		],
		"tools_used": [
			{"tool_name":"check_permissions","status":"completed","output":{"allow":true,"reason":"HR","policy_ref":"HR-1.2"},"duration_ms":40},
			{"tool_name":"fetch_data","status":"completed","output":{"rows":[],"count":0},"duration_ms":60}
		]
	}`)

	got := Normalize(resp)

	wantSteps := []string{"audit", "check", "fetch"}
	var gotSteps []string
	for _, step := range got.Steps {
		gotSteps = append(gotSteps, step.StepName)
	}
	if diff := cmp.Diff(wantSteps, gotSteps); diff != "" {
		t.Fatalf("step order mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.Synthesized)
	require.Len(t, got.Tools, 2)
	assert.Equal(t, workflow.ToolCheckPermissions, got.Tools[0].ToolName)
	assert.False(t, got.PermissionDenied)
	assert.Equal(t, workflow.KindSuccess, got.Kind)
	assert.Equal(t, "Alice Chen's salary is $120,000", got.Answer)
	assert.Equal(t, int64(100), got.ToolDurationTotal())
	assert.Equal(t, "Completed", got.Badge())
}

func TestNormalize_DeniedByCheckPermissionsRecord(t *testing.T) {
	resp := response(workflow.StatusCompleted, `{
		"answer": "Here is what I found.",
		"tools_used": [{"tool_name":"check_permissions","status":"completed","output":{"allow":false,"reason":"Only HR roles","policy_ref":"HR-1.2"}}]
	}`)
	got := Normalize(resp)
	assert.True(t, got.PermissionDenied)
	assert.Equal(t, "Access Denied", got.Badge())
}

func TestNormalize_DenialSurvivesOddlyTypedFields(t *testing.T) {
	cases := []struct {
		name string
		tool string
	}{
		{"numeric policy_ref", `{"tool_name":"check_permissions","status":"completed","output":{"allow":false,"policy_ref":12}}`},
		{"string duration_ms", `{"tool_name":"check_permissions","status":"completed","duration_ms":"12","output":{"allow":false,"policy_ref":"HR-1.2"}}`},
		{"object reason", `{"tool_name":"check_permissions","status":"completed","output":{"allow":false,"reason":{"code":"hr_only"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(response(workflow.StatusCompleted, `{"answer":"Here is what I found.","tools_used":[`+tc.tool+`]}`))
			assert.True(t, got.PermissionDenied)
			require.Len(t, got.Tools, 1)
			assert.Equal(t, workflow.ToolCheckPermissions, got.Tools[0].ToolName)
			decision, ok := got.Tools[0].Permission()
			require.True(t, ok)
			assert.True(t, decision.Denied())
		})
	}
}

func TestNormalize_DegradedToolKeepsDuration(t *testing.T) {
	got := Normalize(response(workflow.StatusCompleted, `{
		"answer": "ok",
		"tools_used": [{"tool_name":"fetch_data","status":"completed","duration_ms":"12","output":{"count":3}}]
	}`))
	require.Len(t, got.Tools, 1)
	ms, ok := got.Tools[0].Duration()
	require.True(t, ok)
	assert.Equal(t, int64(12), ms)
	assert.Equal(t, float64(3), got.Tools[0].Output["count"])
}

func TestNormalize_DeniedByAnswerText(t *testing.T) {
	resp := response(workflow.StatusCompleted, `{"answer":"Access DENIED: salary data is restricted (HR-1.2)."}`)
	assert.True(t, Normalize(resp).PermissionDenied)
}

func TestNormalize_AllowFromOtherToolsIsIgnored(t *testing.T) {
	resp := response(workflow.StatusCompleted, `{
		"answer": "ok",
		"tools_used": [
			{"tool_name":"fetch_data","status":"completed","output":{"allow":false,"rows":[]}},
			{"tool_name":"custom_tool","status":"completed","output":{"allow":false}}
		]
	}`)
	assert.False(t, Normalize(resp).PermissionDenied)
}

func TestNormalize_IncompleteCheckPermissionsIsIgnored(t *testing.T) {
	resp := response(workflow.StatusRunning, `{
		"tools_used": [{"tool_name":"check_permissions","status":"running","output":{"allow":false}}]
	}`)
	assert.False(t, Normalize(resp).PermissionDenied)
}

func TestNormalize_FailureTextIsNotScannedForDenial(t *testing.T) {
	resp := response(workflow.StatusCompleted, `{"error":"permission denied by upstream","error_type":"RuntimeError","traceback":""}`)
	got := Normalize(resp)
	assert.Equal(t, workflow.KindFailure, got.Kind)
	require.NotNil(t, got.Failure)
	assert.Equal(t, "permission denied by upstream", got.Failure.Error)
	assert.False(t, got.PermissionDenied)
	assert.Equal(t, "Error", got.Badge())
}

func TestNormalize_SynthesizesStepsFromStatus(t *testing.T) {
	got := Normalize(response(workflow.StatusCompleted, `{"answer":"done"}`))
	require.True(t, got.Synthesized)
	require.Len(t, got.Steps, 3)
	names := []string{got.Steps[0].StepName, got.Steps[1].StepName, got.Steps[2].StepName}
	assert.Equal(t, []string{"check_permissions", "fetch_data", "audit_log"}, names)
	for _, step := range got.Steps {
		assert.Equal(t, workflow.StatusCompleted, step.Status)
	}
	assert.Empty(t, got.Tools)
	assert.NotNil(t, got.Tools)
}

func TestNormalize_SynthesizedStepsDoNotAffectAggregate(t *testing.T) {
	got := Normalize(response(workflow.StatusFailed, `{"answer":"partial"}`))
	assert.Equal(t, workflow.StatusFailed, got.AggregateStatus)
	assert.Equal(t, workflow.KindSuccess, got.Kind)
	assert.False(t, got.PermissionDenied)
}

func TestNormalize_Duration(t *testing.T) {
	got := Normalize(response(workflow.StatusCompleted, `{}`))
	require.NotNil(t, got.DurationMs)
	assert.Equal(t, int64(2500), *got.DurationMs)
	assert.Equal(t, "2.5s", FormatDuration(got.DurationMs))
}

func TestNormalize_OpenEndedDuration(t *testing.T) {
	resp := response(workflow.StatusRunning, `{}`)
	resp.CompletedAt = ""
	got := Normalize(resp)
	assert.True(t, got.Open())
	assert.Equal(t, "Running...", FormatDuration(got.DurationMs))
	assert.Equal(t, "Running", got.Badge())

	now := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	elapsed, ok := got.Elapsed(now)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, elapsed)
}

func TestNormalize_UnparseableTimesAreOpen(t *testing.T) {
	resp := response(workflow.StatusCompleted, `{}`)
	resp.StartedAt = "not a time"
	got := Normalize(resp)
	assert.True(t, got.Open())
	_, ok := got.Elapsed(time.Now())
	assert.False(t, ok)
}

func TestNormalize_NeverPanicsOnMalformedInput(t *testing.T) {
	inputs := []*workflow.Response{
		nil,
		{},
		{Status: "???", Result: json.RawMessage(`{"tools_used":"nope","steps":7}`)},
		{Result: json.RawMessage(`{"tools_used":[{"tool_name":"check_permissions","status":"completed"}]}`)},
		{Result: json.RawMessage(`{{{`)},
	}
	for _, input := range inputs {
		assert.NotPanics(t, func() {
			got := Normalize(input)
			assert.Len(t, got.Steps, 3)
			assert.False(t, got.PermissionDenied)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{
		0:      "0ms",
		850:    "850ms",
		1200:   "1.2s",
		125000: "2m 5s",
	}
	for ms, want := range cases {
		value := ms
		assert.Equal(t, want, FormatDuration(&value))
	}
}

func TestTrace_RoundTripsThroughJSON(t *testing.T) {
	original := Normalize(response(workflow.StatusCompleted, `{"answer":"ok"}`))
	raw, err := json.Marshal(original)
	require.NoError(t, err)
	var restored Trace
	require.NoError(t, json.Unmarshal(raw, &restored))
	if diff := cmp.Diff(original, restored); diff != "" {
		t.Fatalf("trace changed after JSON round trip (-want +got):\n%s", diff)
	}
}
