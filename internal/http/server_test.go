package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	flowbithttp "github.com/arun84-eng/FlowBit/internal/http"
	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/service"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}

type testServer struct {
	*httptest.Server
	store storage.Store
	exec  *service.ExecutionService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemStore()
	exec := service.NewExecutionService(context.Background(), store, service.NewSimulator(), nopLogger{})
	exec.SetPollPolicy(time.Millisecond, 5)
	broadcaster := service.NewLogBroadcaster(store, nopLogger{})
	scheduler := service.NewCronScheduler(context.Background(), store, exec, nopLogger{},
		filepath.Join(t.TempDir(), "cron-jobs.json"))

	srv := httptest.NewServer(flowbithttp.NewServer(store, exec, scheduler, broadcaster).Router())
	t.Cleanup(func() {
		srv.Close()
		scheduler.Stop()
		broadcaster.Shutdown()
	})
	return &testServer{Server: srv, store: store, exec: exec}
}

func (ts *testServer) postJSON(t *testing.T, path string, body interface{}) *nethttp.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := nethttp.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *nethttp.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := nethttp.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestListWorkflows(t *testing.T) {
	ts := newTestServer(t)
	resp, err := nethttp.Get(ts.URL + "/api/workflows")
	require.NoError(t, err)

	var workflows []models.Workflow
	decodeJSON(t, resp, &workflows)
	require.Len(t, workflows, 4)
	ids := make([]string, 0, 4)
	for _, w := range workflows {
		ids = append(ids, w.ID)
	}
	assert.Contains(t, ids, "email-agent")
	assert.Contains(t, ids, "pdf-agent")
	assert.Contains(t, ids, "json-agent")
	assert.Contains(t, ids, "classifier-agent")
}

func TestTriggerEndpoint(t *testing.T) {
	t.Run("UnknownWorkflow", func(t *testing.T) {
		ts := newTestServer(t)
		resp := ts.postJSON(t, "/api/trigger", map[string]interface{}{"workflow_id": "nope"})
		defer resp.Body.Close()
		assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	})

	t.Run("SuccessfulTrigger", func(t *testing.T) {
		ts := newTestServer(t)
		resp := ts.postJSON(t, "/api/trigger", map[string]interface{}{
			"workflow_id":   "email-agent",
			"input_payload": map[string]interface{}{"email_text": "great service"},
		})
		require.Equal(t, nethttp.StatusOK, resp.StatusCode)

		var out struct {
			Success bool       `json:"success"`
			RunID   string     `json:"run_id"`
			Run     models.Run `json:"run"`
		}
		decodeJSON(t, resp, &out)
		assert.True(t, out.Success)
		assert.NotEmpty(t, out.RunID)
		assert.Equal(t, models.ManualTrigger, out.Run.TriggerKind)

		ts.exec.Wait()

		getResp, err := nethttp.Get(ts.URL + "/api/runs/" + out.RunID)
		require.NoError(t, err)
		var detail struct {
			Run  models.Run        `json:"run"`
			Logs []models.LogEntry `json:"logs"`
		}
		decodeJSON(t, getResp, &detail)
		assert.Equal(t, models.SuccessRunStatus, detail.Run.Status)
		assert.NotEmpty(t, detail.Logs)
	})

	t.Run("InvalidBody", func(t *testing.T) {
		ts := newTestServer(t)
		resp, err := nethttp.Post(ts.URL+"/api/trigger", "application/json", strings.NewReader("{broken"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetRunNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, err := nethttp.Get(ts.URL + "/api/runs/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
}

func TestListRunsShape(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.postJSON(t, "/api/trigger", map[string]interface{}{"workflow_id": "email-agent"})
	resp.Body.Close()
	ts.exec.Wait()

	listResp, err := nethttp.Get(ts.URL + "/api/runs?limit=10")
	require.NoError(t, err)
	var out struct {
		Runs  []models.Run `json:"runs"`
		Total int          `json:"total"`
	}
	decodeJSON(t, listResp, &out)
	assert.Equal(t, 1, out.Total)
	require.Len(t, out.Runs, 1)
}

func TestWebhookIngress(t *testing.T) {
	t.Run("Enabled", func(t *testing.T) {
		ts := newTestServer(t)
		resp := ts.postJSON(t, "/api/hooks/email-agent", map[string]interface{}{"email_text": "hello"})
		require.Equal(t, nethttp.StatusOK, resp.StatusCode)

		var out struct {
			Success bool   `json:"success"`
			RunID   string `json:"run_id"`
		}
		decodeJSON(t, resp, &out)
		assert.True(t, out.Success)

		ts.exec.Wait()
		run, err := ts.exec.GetRun(out.RunID)
		require.NoError(t, err)
		assert.Equal(t, models.WebhookTrigger, run.TriggerKind)
	})

	t.Run("Disabled", func(t *testing.T) {
		ts := newTestServer(t)
		_, err := ts.store.UpdateWebhookConfig("email-agent", false, false)
		require.NoError(t, err)

		resp := ts.postJSON(t, "/api/hooks/email-agent", map[string]interface{}{})
		defer resp.Body.Close()
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	})

	t.Run("UnknownWorkflow", func(t *testing.T) {
		ts := newTestServer(t)
		resp := ts.postJSON(t, "/api/hooks/ghost-agent", map[string]interface{}{})
		defer resp.Body.Close()
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	})
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("InvalidExpression", func(t *testing.T) {
		resp := ts.postJSON(t, "/api/schedules", map[string]interface{}{
			"workflow_id":     "email-agent",
			"cron_expression": "not a cron",
		})
		defer resp.Body.Close()
		assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	})

	t.Run("CreateListDelete", func(t *testing.T) {
		resp := ts.postJSON(t, "/api/schedules", map[string]interface{}{
			"workflow_id":     "email-agent",
			"cron_expression": "0 9 * * 1-5",
		})
		require.Equal(t, nethttp.StatusOK, resp.StatusCode)

		var created models.CronSchedule
		decodeJSON(t, resp, &created)
		assert.NotZero(t, created.ID)
		assert.True(t, created.Enabled, "enabled defaults to true")
		require.NotNil(t, created.NextRun)

		listResp, err := nethttp.Get(ts.URL + "/api/schedules")
		require.NoError(t, err)
		var schedules []models.CronSchedule
		decodeJSON(t, listResp, &schedules)
		require.Len(t, schedules, 1)

		req, err := nethttp.NewRequest(nethttp.MethodDelete,
			fmt.Sprintf("%s/api/schedules/%d", ts.URL, created.ID), nil)
		require.NoError(t, err)
		delResp, err := nethttp.DefaultClient.Do(req)
		require.NoError(t, err)
		delResp.Body.Close()
		assert.Equal(t, nethttp.StatusOK, delResp.StatusCode)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		req, err := nethttp.NewRequest(nethttp.MethodDelete, ts.URL+"/api/schedules/12345", nil)
		require.NoError(t, err)
		resp, err := nethttp.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	})
}

func TestWebhookEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := nethttp.Get(ts.URL + "/api/webhooks")
	require.NoError(t, err)
	var configs []struct {
		models.WebhookConfig
		URL string `json:"url"`
	}
	decodeJSON(t, resp, &configs)
	require.Len(t, configs, 4)
	for _, c := range configs {
		assert.Contains(t, c.URL, "/api/hooks/"+c.WorkflowID)
	}

	data, _ := json.Marshal(map[string]interface{}{"enabled": false, "require_auth": true})
	req, err := nethttp.NewRequest(nethttp.MethodPut, ts.URL+"/api/webhooks/email-agent", bytes.NewReader(data))
	require.NoError(t, err)
	putResp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)

	var updated models.WebhookConfig
	decodeJSON(t, putResp, &updated)
	assert.False(t, updated.Enabled)
	assert.True(t, updated.RequireAuth)

	req, err = nethttp.NewRequest(nethttp.MethodPut, ts.URL+"/api/webhooks/ghost-agent", bytes.NewReader(data))
	require.NoError(t, err)
	missResp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	missResp.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, missResp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.postJSON(t, "/api/trigger", map[string]interface{}{"workflow_id": "email-agent"})
	resp.Body.Close()
	ts.exec.Wait()

	metricsResp, err := nethttp.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	var snapshot service.MetricsSnapshot
	decodeJSON(t, metricsResp, &snapshot)
	assert.Equal(t, 1, snapshot.TotalRuns)
	assert.Equal(t, "100.0%", snapshot.SuccessRate)
	assert.Equal(t, 0, snapshot.ActiveRuns)
}

func TestStreamEndpoint(t *testing.T) {
	t.Run("UnknownRun", func(t *testing.T) {
		ts := newTestServer(t)
		resp, err := nethttp.Get(ts.URL + "/api/runs/ghost/stream")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	})

	t.Run("ReplaysBacklogAsSSE", func(t *testing.T) {
		ts := newTestServer(t)
		trigResp := ts.postJSON(t, "/api/trigger", map[string]interface{}{"workflow_id": "email-agent"})
		var out struct {
			RunID string `json:"run_id"`
		}
		decodeJSON(t, trigResp, &out)
		ts.exec.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet,
			ts.URL+"/api/runs/"+out.RunID+"/stream", nil)
		require.NoError(t, err)
		resp, err := nethttp.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		scanner := bufio.NewScanner(resp.Body)
		var first models.LogEntry
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &first))
				break
			}
		}
		assert.Equal(t, out.RunID, first.RunID)
		assert.Equal(t, int64(1), first.ID, "the stream starts from the first backlog entry")
	})
}
