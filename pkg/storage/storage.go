package storage

import (
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// LogObserver is notified synchronously after every log append, regardless of
// which component performed the append.
type LogObserver func(models.LogEntry)

// Store defines the storage operations for FlowBit.
type Store interface {
	// Run operations
	SaveRun(r models.Run) (models.Run, error)
	GetRun(id string) (models.Run, error)
	ListRuns(limit, offset int) ([]models.Run, error)
	ListActiveRuns() ([]models.Run, error)
	SetRunEngineID(id, engineRunID string) error
	// FinishRun moves a run to a terminal status, setting completed_at and
	// duration atomically with the status. Exactly one of output/errMsg is
	// expected to be set.
	FinishRun(id string, status models.RunStatus, output models.JSONMap, errMsg, duration string) error

	// Log operations. AppendLog assigns the entry ID and timestamp, then
	// notifies every registered observer before returning.
	AppendLog(e models.LogEntry) (models.LogEntry, error)
	GetLogs(runID string) ([]models.LogEntry, error)
	RegisterLogObserver(obs LogObserver)

	// Cron schedule operations
	SaveSchedule(s models.CronSchedule) (models.CronSchedule, error)
	GetSchedule(id int64) (models.CronSchedule, error)
	ListSchedules() ([]models.CronSchedule, error)
	UpdateScheduleRunTimes(id int64, lastRun, nextRun time.Time) error
	SetScheduleEnabled(id int64, enabled bool) error
	DeleteSchedule(id int64) error

	// Webhook configuration operations
	ListWebhookConfigs() ([]models.WebhookConfig, error)
	GetWebhookConfig(workflowID string) (models.WebhookConfig, error)
	SaveWebhookConfig(c models.WebhookConfig) (models.WebhookConfig, error)
	UpdateWebhookConfig(workflowID string, enabled, requireAuth bool) (models.WebhookConfig, error)

	Close() error
}
