package models

import "time"

// WebhookConfig controls whether inbound webhook triggers are accepted for a
// workflow.
type WebhookConfig struct {
	ID          int64     `json:"id" db:"id"`
	WorkflowID  string    `json:"workflow_id" db:"workflow_id"` // Unique per workflow
	Enabled     bool      `json:"enabled" db:"enabled"`
	RequireAuth bool      `json:"require_auth" db:"require_auth"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
