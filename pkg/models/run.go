package models

import "time"

type RunStatus string

const (
	PendingRunStatus RunStatus = "pending"
	RunningRunStatus RunStatus = "running"
	SuccessRunStatus RunStatus = "success"
	FailedRunStatus  RunStatus = "failed"
)

// Terminal reports whether no further status transitions can occur.
func (s RunStatus) Terminal() bool {
	return s == SuccessRunStatus || s == FailedRunStatus
}

type TriggerKind string

const (
	ManualTrigger    TriggerKind = "manual"
	WebhookTrigger   TriggerKind = "webhook"
	ScheduledTrigger TriggerKind = "scheduled"
)

// Run represents one execution attempt of a workflow, from trigger to terminal state.
type Run struct {
	ID           string      `json:"id" db:"id"`                                 // UUID
	WorkflowID   string      `json:"workflow_id" db:"workflow_id"`               // e.g. "email-agent"
	WorkflowName string      `json:"workflow_name" db:"workflow_name"`           // e.g. "Email Agent"
	Status       RunStatus   `json:"status" db:"status"`                         // pending, running, success, failed
	TriggerKind  TriggerKind `json:"trigger_kind" db:"trigger_kind"`             // manual, webhook, scheduled
	InputPayload JSONMap     `json:"input_payload,omitempty" db:"input_payload"` // Opaque input data
	Output       JSONMap     `json:"output,omitempty" db:"output"`               // Present only on success
	Error        string      `json:"error,omitempty" db:"error_msg"`             // Present only on failure
	StartedAt    time.Time   `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"` // Nil while running
	Duration     string      `json:"duration,omitempty" db:"duration"`         // e.g. "2.3s", set with terminal status
	EngineRunID  string      `json:"engine_run_id,omitempty" db:"engine_run_id"`
}
