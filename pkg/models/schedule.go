package models

import "time"

// CronSchedule is a recurring trigger for a workflow. The scheduler owns the
// live timer; this record only describes it.
type CronSchedule struct {
	ID         int64      `json:"id" db:"id"`
	WorkflowID string     `json:"workflow_id" db:"workflow_id"`
	Expression string     `json:"cron_expression" db:"cron_expression"` // Five-field standard form
	Payload    JSONMap    `json:"payload,omitempty" db:"payload"`       // Default payload for fired runs
	Enabled    bool       `json:"enabled" db:"enabled"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastRun    *time.Time `json:"last_run,omitempty" db:"last_run"` // Nil until first fire
	NextRun    *time.Time `json:"next_run,omitempty" db:"next_run"`
}
