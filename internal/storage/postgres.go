package storage

import (
	"database/sql"
	"sync"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type PostgresStore struct {
	db *sqlx.DB

	obsMu     sync.RWMutex
	observers []storage.LogObserver
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts a new run record.
func (s *PostgresStore) SaveRun(r models.Run) (models.Run, error) {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, workflow_id, workflow_name, status, trigger_kind, input_payload, output, error_msg, started_at, completed_at, duration, engine_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.WorkflowID, r.WorkflowName, r.Status, r.TriggerKind, r.InputPayload, r.Output, r.Error, r.StartedAt, r.CompletedAt, r.Duration, r.EngineRunID)
	if err != nil {
		return models.Run{}, errors.Wrap(err, "save run")
	}
	return r, nil
}

func (s *PostgresStore) GetRun(id string) (models.Run, error) {
	var r models.Run
	err := s.db.Get(&r, "SELECT * FROM runs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Run{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Run{}, err
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(limit, offset int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	runs := []models.Run{}
	err := s.db.Select(&runs, "SELECT * FROM runs ORDER BY started_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *PostgresStore) ListActiveRuns() ([]models.Run, error) {
	runs := []models.Run{}
	err := s.db.Select(&runs, "SELECT * FROM runs WHERE status = $1 ORDER BY started_at DESC", models.RunningRunStatus)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *PostgresStore) SetRunEngineID(id, engineRunID string) error {
	res, err := s.db.Exec("UPDATE runs SET engine_run_id = $1 WHERE id = $2", engineRunID, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

// FinishRun applies a terminal status together with completed_at and
// duration in a single statement. The status guard keeps transitions
// monotonic: an already terminal run is never touched.
func (s *PostgresStore) FinishRun(id string, status models.RunStatus, output models.JSONMap, errMsg, duration string) error {
	if !status.Terminal() {
		return errors.Errorf("cannot finish run with non-terminal status %q", status)
	}
	res, err := s.db.Exec(`
		UPDATE runs
		SET status = $1, output = $2, error_msg = $3, completed_at = NOW(), duration = $4
		WHERE id = $5 AND status IN ($6, $7)`,
		status, output, errMsg, duration, id, models.PendingRunStatus, models.RunningRunStatus)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetRun(id); getErr != nil {
			return getErr
		}
		return errors.Errorf("run %s already finished", id)
	}
	return nil
}

// AppendLog inserts the entry with the next per-run sequence number and then
// notifies every registered observer.
func (s *PostgresStore) AppendLog(e models.LogEntry) (models.LogEntry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	err := s.db.QueryRowx(`
		INSERT INTO run_logs (id, run_id, timestamp, level, message, node_id, metadata)
		VALUES ((SELECT COALESCE(MAX(id), 0) + 1 FROM run_logs WHERE run_id = $1), $1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.RunID, e.Timestamp, e.Level, e.Message, e.NodeID, e.Metadata).Scan(&e.ID)
	if err != nil {
		return models.LogEntry{}, errors.Wrap(err, "append log")
	}

	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, obs := range observers {
		obs(e)
	}
	return e, nil
}

func (s *PostgresStore) GetLogs(runID string) ([]models.LogEntry, error) {
	logs := []models.LogEntry{}
	err := s.db.Select(&logs, "SELECT id, run_id, timestamp, level, message, node_id, metadata FROM run_logs WHERE run_id = $1 ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *PostgresStore) RegisterLogObserver(obs storage.LogObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, obs)
}

func (s *PostgresStore) SaveSchedule(sched models.CronSchedule) (models.CronSchedule, error) {
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now()
	}
	err := s.db.QueryRowx(`
		INSERT INTO cron_schedules (workflow_id, cron_expression, payload, enabled, created_at, last_run, next_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		sched.WorkflowID, sched.Expression, sched.Payload, sched.Enabled, sched.CreatedAt, sched.LastRun, sched.NextRun).Scan(&sched.ID)
	if err != nil {
		return models.CronSchedule{}, errors.Wrap(err, "save schedule")
	}
	return sched, nil
}

func (s *PostgresStore) GetSchedule(id int64) (models.CronSchedule, error) {
	var sched models.CronSchedule
	err := s.db.Get(&sched, "SELECT * FROM cron_schedules WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.CronSchedule{}, storage.ErrNotFound
	}
	if err != nil {
		return models.CronSchedule{}, err
	}
	return sched, nil
}

func (s *PostgresStore) ListSchedules() ([]models.CronSchedule, error) {
	schedules := []models.CronSchedule{}
	err := s.db.Select(&schedules, "SELECT * FROM cron_schedules ORDER BY id")
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (s *PostgresStore) UpdateScheduleRunTimes(id int64, lastRun, nextRun time.Time) error {
	var next interface{}
	if !nextRun.IsZero() {
		next = nextRun
	}
	res, err := s.db.Exec("UPDATE cron_schedules SET last_run = $1, next_run = $2 WHERE id = $3", lastRun, next, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (s *PostgresStore) SetScheduleEnabled(id int64, enabled bool) error {
	res, err := s.db.Exec("UPDATE cron_schedules SET enabled = $1 WHERE id = $2", enabled, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (s *PostgresStore) DeleteSchedule(id int64) error {
	res, err := s.db.Exec("DELETE FROM cron_schedules WHERE id = $1", id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (s *PostgresStore) ListWebhookConfigs() ([]models.WebhookConfig, error) {
	configs := []models.WebhookConfig{}
	err := s.db.Select(&configs, "SELECT * FROM webhook_configs ORDER BY id")
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *PostgresStore) GetWebhookConfig(workflowID string) (models.WebhookConfig, error) {
	var cfg models.WebhookConfig
	err := s.db.Get(&cfg, "SELECT * FROM webhook_configs WHERE workflow_id = $1", workflowID)
	if err == sql.ErrNoRows {
		return models.WebhookConfig{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WebhookConfig{}, err
	}
	return cfg, nil
}

func (s *PostgresStore) SaveWebhookConfig(cfg models.WebhookConfig) (models.WebhookConfig, error) {
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	err := s.db.QueryRowx(`
		INSERT INTO webhook_configs (workflow_id, enabled, require_auth, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id) DO UPDATE SET enabled = EXCLUDED.enabled, require_auth = EXCLUDED.require_auth
		RETURNING id`,
		cfg.WorkflowID, cfg.Enabled, cfg.RequireAuth, cfg.CreatedAt).Scan(&cfg.ID)
	if err != nil {
		return models.WebhookConfig{}, errors.Wrap(err, "save webhook config")
	}
	return cfg, nil
}

func (s *PostgresStore) UpdateWebhookConfig(workflowID string, enabled, requireAuth bool) (models.WebhookConfig, error) {
	res, err := s.db.Exec("UPDATE webhook_configs SET enabled = $1, require_auth = $2 WHERE workflow_id = $3", enabled, requireAuth, workflowID)
	if err != nil {
		return models.WebhookConfig{}, err
	}
	if err := rowsAffectedOrNotFound(res); err != nil {
		return models.WebhookConfig{}, err
	}
	return s.GetWebhookConfig(workflowID)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
