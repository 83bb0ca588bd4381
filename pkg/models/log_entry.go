package models

import "time"

type LogLevel string

const (
	InfoLogLevel    LogLevel = "info"
	WarnLogLevel    LogLevel = "warn"
	ErrorLogLevel   LogLevel = "error"
	SuccessLogLevel LogLevel = "success"
)

// LogEntry is one append-only log line belonging to a run. Entries are never
// mutated once appended and are totally ordered within a run by ID.
type LogEntry struct {
	ID        int64     `json:"id" db:"id"` // Monotonically increasing within a run
	RunID     string    `json:"run_id" db:"run_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	NodeID    string    `json:"node_id,omitempty" db:"node_id"`     // Optional node/stage identifier
	Metadata  JSONMap   `json:"metadata,omitempty" db:"metadata"`   // Additional structured data
}
