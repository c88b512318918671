package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResult_ErrorKeyMeansFailureRegardlessOfStatus(t *testing.T) {
	resp := Response{
		Status: StatusCompleted,
		Result: json.RawMessage(`{"error":"policy denied","error_type":"PermissionError","traceback":"tb"}`),
	}
	failure, ok := resp.Decode().(*Failure)
	require.True(t, ok, "expected Failure, got %T", resp.Decode())
	assert.Equal(t, "policy denied", failure.Error)
	assert.Equal(t, "PermissionError", failure.ErrorType)
	assert.Equal(t, "tb", failure.Traceback)
	assert.Equal(t, KindFailure, failure.Kind())
}

func TestDecodeResult_NoErrorKeyMeansSuccessRegardlessOfStatus(t *testing.T) {
	for _, status := range []Status{StatusRunning, StatusCompleted, StatusFailed, "weird"} {
		resp := Response{Status: status, Result: json.RawMessage(`{"answer":"ok"}`)}
		success, ok := resp.Decode().(*Success)
		require.True(t, ok, "status %q", status)
		assert.Equal(t, "ok", success.Answer)
	}
}

func TestDecodeResult_NonStringErrorIsStringified(t *testing.T) {
	failure, ok := DecodeResult(json.RawMessage(`{"error":{"code":7}, "debug_received":{}}`)).(*Failure)
	require.True(t, ok)
	assert.Equal(t, `{"code":7}`, failure.Error)
}

func TestDecodeResult_NullErrorStillDiscriminates(t *testing.T) {
	_, ok := DecodeResult(json.RawMessage(`{"error":null}`)).(*Failure)
	assert.True(t, ok)
}

func TestDecodeResult_DegradedShapes(t *testing.T) {
	cases := map[string]struct {
		raw    string
		answer string
	}{
		"empty":  {raw: ``, answer: ""},
		"null":   {raw: `null`, answer: ""},
		"string": {raw: `"plain answer"`, answer: "plain answer"},
		"array":  {raw: `[1,2]`, answer: ""},
		"number": {raw: `42`, answer: ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			success, ok := DecodeResult(json.RawMessage(tc.raw)).(*Success)
			require.True(t, ok)
			assert.Equal(t, tc.answer, success.Answer)
			assert.Empty(t, success.Steps)
			assert.Empty(t, success.ToolsUsed)
		})
	}
}

func TestDecodeResult_SkipsMalformedTraceElements(t *testing.T) {
	raw := json.RawMessage(`{
		"answer": "done",
		"steps": [{"step_name":"plan","status":"completed"}, "garbage", {"step_name":"act","status":"running"}],
		"tools_used": [{"tool_name":"fetch_data","status":"completed","output":{"rows":[],"count":0}}, 17]
	}`)
	success, ok := DecodeResult(raw).(*Success)
	require.True(t, ok)
	require.Len(t, success.Steps, 2)
	assert.Equal(t, "plan", success.Steps[0].StepName)
	assert.Equal(t, "act", success.Steps[1].StepName)
	require.Len(t, success.ToolsUsed, 1)
	assert.Equal(t, ToolFetchData, success.ToolsUsed[0].ToolName)
}

func TestDecodeResult_KeepsOddlyTypedToolInDegradedForm(t *testing.T) {
	raw := json.RawMessage(`{
		"tools_used": [{"tool_name":"check_permissions","status":"completed","duration_ms":"40","timestamp":7,"output":{"allow":false,"reason":{"code":"hr_only"}}}]
	}`)
	success, ok := DecodeResult(raw).(*Success)
	require.True(t, ok)
	require.Len(t, success.ToolsUsed, 1)
	tool := success.ToolsUsed[0]
	assert.Equal(t, ToolCheckPermissions, tool.ToolName)
	assert.Equal(t, StatusCompleted, tool.Status)
	assert.Equal(t, "7", tool.Timestamp)
	require.NotNil(t, tool.DurationMs)
	assert.Equal(t, 40.0, *tool.DurationMs)

	decision, ok := tool.Permission()
	require.True(t, ok)
	assert.True(t, decision.Denied())
	assert.Equal(t, `{"code":"hr_only"}`, decision.Reason)
}

func TestToolCall_PermissionStringifiesOddFields(t *testing.T) {
	decision, ok := ToolCall{
		ToolName: ToolCheckPermissions,
		Output:   map[string]any{"allow": "no", "policy_ref": float64(12)},
	}.Permission()
	require.True(t, ok)
	assert.Nil(t, decision.Allow)
	assert.Equal(t, "12", decision.PolicyRef)
}

func TestDecodeResult_StepsNotAnArray(t *testing.T) {
	success, ok := DecodeResult(json.RawMessage(`{"answer":"x","steps":{"a":1}}`)).(*Success)
	require.True(t, ok)
	assert.Nil(t, success.Steps)
}

func TestToolCall_PermissionOnlyForCheckPermissions(t *testing.T) {
	allowFalse := map[string]any{"allow": false, "reason": "HR only", "policy_ref": "HR-1.2"}

	check := ToolCall{ToolName: ToolCheckPermissions, Output: allowFalse}
	decision, ok := check.Permission()
	require.True(t, ok)
	assert.True(t, decision.Denied())
	assert.Equal(t, "HR-1.2", decision.PolicyRef)

	other := ToolCall{ToolName: ToolFetchData, Output: allowFalse}
	_, ok = other.Permission()
	assert.False(t, ok)

	missing := ToolCall{ToolName: ToolCheckPermissions}
	_, ok = missing.Permission()
	assert.False(t, ok)
}

func TestPermissionDecision_MissingAllowIsNotDenied(t *testing.T) {
	decision, ok := ToolCall{ToolName: ToolCheckPermissions, Output: map[string]any{"reason": "?"}}.Permission()
	require.True(t, ok)
	assert.False(t, decision.Denied())
}

func TestToolCall_DataFetchCountDefaultsToRows(t *testing.T) {
	call := ToolCall{
		ToolName: ToolFetchData,
		Output: map[string]any{
			"rows": []any{
				map[string]any{"employee_id": 101, "name": "Alice Chen", "department": "Engineering"},
			},
		},
	}
	fetch, ok := call.DataFetch()
	require.True(t, ok)
	assert.Equal(t, 1, fetch.Count)
	assert.Equal(t, "Alice Chen", fetch.Rows[0].Name)
}

func TestToolCall_AuditAcceptsLegacyID(t *testing.T) {
	audit, ok := ToolCall{ToolName: ToolAuditLog, Output: map[string]any{"status": "logged", "id": "audit_1"}}.Audit()
	require.True(t, ok)
	assert.Equal(t, "audit_1", audit.EntryID)
}

func TestToolCall_Duration(t *testing.T) {
	ms := 12.6
	got, ok := ToolCall{DurationMs: &ms}.Duration()
	require.True(t, ok)
	assert.Equal(t, int64(13), got)

	_, ok = ToolCall{}.Duration()
	assert.False(t, ok)
}

func TestParseTimestamp(t *testing.T) {
	withZone, err := ParseTimestamp("2025-03-01T10:00:00Z")
	require.NoError(t, err)
	noZone, err := ParseTimestamp("2025-03-01T10:00:00.250000")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, noZone.Sub(withZone))

	_, err = ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestStatus_Normalize(t *testing.T) {
	assert.Equal(t, StatusCompleted, Status(" Completed ").Normalize())
}
