package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/workflow"
)

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:4501/workflows/concierge/run", Endpoint(Config{}))
	assert.Equal(t, "http://api.local/v2/hr/run", Endpoint(Config{
		BaseURL:  " http://api.local/ ",
		Workflow: "hr",
		RunPath:  "v2/{workflow}/run",
	}))
}

func TestRunWorkflow_PostsStartEvent(t *testing.T) {
	var gotBody map[string]any
	var gotPath, gotMethod, gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"handler_id":"h-9","workflow_name":"concierge","run_id":"r-1","status":"completed",
			"started_at":"2025-03-01T10:00:00Z","updated_at":"2025-03-01T10:00:01Z","completed_at":"2025-03-01T10:00:01Z",
			"result":{"answer":"Alice Chen works in Engineering."}
		}`)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	resp, err := client.RunWorkflow(context.Background(), "[user_email=a@b.c; role=HR] who is Alice?")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/workflows/concierge/run", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, map[string]any{"start_event": map[string]any{"message": "[user_email=a@b.c; role=HR] who is Alice?"}}, gotBody)

	assert.Equal(t, "h-9", resp.HandlerID)
	assert.Equal(t, workflow.StatusCompleted, resp.Status)
	success, ok := resp.Decode().(*workflow.Success)
	require.True(t, ok)
	assert.Equal(t, "Alice Chen works in Engineering.", success.Answer)
}

func TestRunWorkflow_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream\n   exploded")
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).RunWorkflow(context.Background(), "q")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "workflow http 502: upstream exploded", err.Error())
}

func TestRunWorkflow_NonJSONPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).RunWorkflow(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-json")
}

func TestRunWorkflow_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := New(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}).RunWorkflow(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestRunWorkflow_CancelledContextDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, BreakerThreshold: 1, BreakerRecovery: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.RunWorkflow(ctx, "q")
	require.Error(t, err)
	assert.False(t, client.Breaker().Open)
}

func TestRunWorkflow_BreakerOpensAndRecovers(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"status":"completed","result":{"answer":"ok"}}`)
	}))
	defer server.Close()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	client := New(
		Config{BaseURL: server.URL, BreakerThreshold: 2, BreakerRecovery: 30 * time.Second},
		WithClock(func() time.Time { return now }),
	)

	for i := 0; i < 2; i++ {
		_, err := client.RunWorkflow(context.Background(), "q")
		require.Error(t, err)
	}
	status := client.Breaker()
	require.True(t, status.Open)
	assert.Equal(t, 1, status.TripCount)
	assert.Equal(t, "workflow http 503", status.LastError)

	_, err := client.RunWorkflow(context.Background(), "q")
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, strings.Contains(err.Error(), "retry in 30s"), err.Error())
	assert.Equal(t, int32(2), calls.Load())

	now = now.Add(31 * time.Second)
	healthy.Store(true)
	resp, err := client.RunWorkflow(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, resp.Status)
	assert.False(t, client.Breaker().Open)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunWorkflow_BreakerDisabledByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	for i := 0; i < 5; i++ {
		_, err := client.RunWorkflow(context.Background(), "q")
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
	}
	assert.False(t, client.Breaker().Open)
}
