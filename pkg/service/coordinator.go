package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultPollInterval is the delay between status polls of a remote run.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxPollAttempts bounds the poll loop; together with the interval
	// it is the only run timeout (5 minutes with the defaults).
	DefaultMaxPollAttempts = 60
)

// Logger defines the logging interface for FlowBit services.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// ExecutionService is the run lifecycle state machine. It creates run
// records, dispatches them to the engine, polls until a terminal state and
// records every transition in the store, mutation first, log append second.
// It is the sole mutator of run status, output and error.
type ExecutionService struct {
	store           storage.Store
	engine          EngineClient
	logger          Logger
	ctx             context.Context
	pollInterval    time.Duration
	maxPollAttempts int
	wg              sync.WaitGroup
}

func NewExecutionService(ctx context.Context, store storage.Store, engine EngineClient, logger Logger) *ExecutionService {
	return &ExecutionService{
		store:           store,
		engine:          engine,
		logger:          logger,
		ctx:             ctx,
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
	}
}

// SetPollPolicy overrides the poll interval and attempt budget.
func (s *ExecutionService) SetPollPolicy(interval time.Duration, maxAttempts int) {
	s.pollInterval = interval
	s.maxPollAttempts = maxAttempts
}

// Start triggers a workflow run. It fails with ErrUnknownWorkflow before any
// run is created; once a run exists all later failures are recorded into the
// run and its log instead of being returned.
func (s *ExecutionService) Start(ctx context.Context, workflowID string, payload models.JSONMap, kind models.TriggerKind) (models.Run, error) {
	def, ok := models.FindWorkflow(workflowID)
	if !ok {
		return models.Run{}, errors.Wrapf(ErrUnknownWorkflow, "%q", workflowID)
	}

	run := models.Run{
		ID:           uuid.NewString(),
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		Status:       models.RunningRunStatus,
		TriggerKind:  kind,
		InputPayload: payload,
		StartedAt:    time.Now(),
	}
	run, err := s.store.SaveRun(run)
	if err != nil {
		return models.Run{}, errors.Wrap(err, "save run")
	}
	s.appendLog(run.ID, models.InfoLogLevel, fmt.Sprintf("Starting %s execution...", def.Name), "", models.JSONMap{
		"workflow_id":  workflowID,
		"trigger_kind": string(kind),
	})

	engineRun, err := s.engine.Dispatch(ctx, workflowID, payload)
	if err != nil {
		// Dispatch failure is terminal; no polling happens.
		msg := fmt.Sprintf("workflow dispatch failed: %v", err)
		s.finish(run.ID, models.FailedRunStatus, nil, msg)
		s.appendLog(run.ID, models.ErrorLogLevel, "Execution failed: "+msg, "", nil)
		return s.currentRun(run), nil
	}

	if err := s.store.SetRunEngineID(run.ID, engineRun.RunID); err != nil {
		s.logger.Errorf("Failed to record engine run ID for run %s: %v", run.ID, err)
	}
	run.EngineRunID = engineRun.RunID
	s.appendLog(run.ID, models.InfoLogLevel, "Engine execution initiated successfully", "", models.JSONMap{
		"engine_run_id": engineRun.RunID,
	})

	s.wg.Add(1)
	go s.monitor(run.ID, engineRun.RunID)

	s.logger.Infof("Started run %s for workflow %s (trigger: %s)", run.ID, workflowID, kind)
	return run, nil
}

// StartWebhook triggers a workflow from an inbound webhook, honoring the
// per-workflow ingress flag.
func (s *ExecutionService) StartWebhook(ctx context.Context, workflowID string, payload models.JSONMap) (models.Run, error) {
	cfg, err := s.store.GetWebhookConfig(workflowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Run{}, errors.Wrapf(ErrWebhookDisabled, "workflow %q", workflowID)
		}
		return models.Run{}, errors.Wrap(err, "load webhook config")
	}
	if !cfg.Enabled {
		return models.Run{}, errors.Wrapf(ErrWebhookDisabled, "workflow %q", workflowID)
	}
	return s.Start(ctx, workflowID, payload, models.WebhookTrigger)
}

// GetRun fetches a single run.
func (s *ExecutionService) GetRun(id string) (models.Run, error) {
	return s.store.GetRun(id)
}

// ListRuns returns run records, most recent first.
func (s *ExecutionService) ListRuns(limit, offset int) ([]models.Run, error) {
	return s.store.ListRuns(limit, offset)
}

// GetLogs returns the full log history of a run in append order.
func (s *ExecutionService) GetLogs(runID string) ([]models.LogEntry, error) {
	return s.store.GetLogs(runID)
}

// Wait blocks until all in-flight monitor loops have finished. Used on
// shutdown and in tests.
func (s *ExecutionService) Wait() {
	s.wg.Wait()
}

// monitor is the per-run poll loop. It is the only goroutine touching the
// run after Start returns, which keeps log appends totally ordered.
func (s *ExecutionService) monitor(runID, engineRunID string) {
	defer s.wg.Done()

	for attempt := 1; attempt <= s.maxPollAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.pollInterval):
		}

		status, err := s.engine.PollStatus(s.ctx, engineRunID)
		if err != nil {
			// Transient; retried within the same attempt budget.
			s.logger.Errorf("Poll attempt %d for run %s failed: %v", attempt, runID, err)
			s.appendLog(runID, models.WarnLogLevel, fmt.Sprintf("Status poll failed: %v", err), "", models.JSONMap{
				"attempt": attempt,
			})
			continue
		}

		s.appendLog(runID, models.InfoLogLevel, fmt.Sprintf("Execution status: %s", orRunning(status.Status)), "", models.JSONMap{
			"engine_status": status.Status,
			"attempt":       attempt,
		})

		switch {
		case status.Completed():
			s.finish(runID, models.SuccessRunStatus, status.Output, "")
			s.appendLog(runID, models.SuccessLogLevel, "Execution completed successfully", "", models.JSONMap{
				"total_attempts": attempt,
			})
			return
		case status.Failed():
			msg := status.Error
			if msg == "" {
				msg = "engine execution failed"
			}
			s.finish(runID, models.FailedRunStatus, nil, msg)
			s.appendLog(runID, models.ErrorLogLevel, "Execution failed: "+msg, "", models.JSONMap{
				"total_attempts": attempt,
			})
			return
		}
	}

	s.finish(runID, models.FailedRunStatus, nil, "execution timeout - exceeded maximum monitoring time")
	s.appendLog(runID, models.ErrorLogLevel, "Execution monitoring timeout", "", models.JSONMap{
		"total_attempts": s.maxPollAttempts,
		"timeout":        true,
	})
}

// finish applies a terminal status. The store sets completed_at atomically
// with the status; the duration is derived from the run's start time.
func (s *ExecutionService) finish(runID string, status models.RunStatus, output models.JSONMap, errMsg string) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		s.logger.Errorf("Failed to load run %s to finish it: %v", runID, err)
		return
	}
	duration := FormatDuration(time.Since(run.StartedAt))
	if err := s.store.FinishRun(runID, status, output, errMsg, duration); err != nil {
		s.logger.Errorf("Failed to finish run %s: %v", runID, err)
	}
}

func (s *ExecutionService) appendLog(runID string, level models.LogLevel, message, nodeID string, metadata models.JSONMap) {
	_, err := s.store.AppendLog(models.LogEntry{
		RunID:    runID,
		Level:    level,
		Message:  message,
		NodeID:   nodeID,
		Metadata: metadata,
	})
	if err != nil {
		s.logger.Errorf("Failed to append log for run %s: %v", runID, err)
	}
}

func (s *ExecutionService) currentRun(fallback models.Run) models.Run {
	run, err := s.store.GetRun(fallback.ID)
	if err != nil {
		return fallback
	}
	return run
}

func orRunning(status string) string {
	if status == "" {
		return engineStateRunning
	}
	return status
}

// FormatDuration renders elapsed wall time the way the UI shows it: seconds
// with one decimal below a minute, minutes+seconds below an hour,
// hours+minutes beyond that. Rounding to the displayed precision happens
// before the unit is chosen, so 59.96s renders as "1m 0s", never "60.0s".
func FormatDuration(d time.Duration) string {
	secs := math.Round(d.Seconds()*10) / 10
	switch {
	case secs < 60:
		return fmt.Sprintf("%.1fs", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", int(secs)/60, int(secs)%60)
	default:
		return fmt.Sprintf("%dh %dm", int(secs)/3600, (int(secs)%3600)/60)
	}
}
