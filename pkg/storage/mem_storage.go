package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/pkg/errors"
)

// memStore implements Store with in-memory maps. It backs tests and the
// zero-configuration demo mode of the server.
type memStore struct {
	mu             sync.RWMutex
	runs           map[string]models.Run
	logs           map[string][]models.LogEntry
	logSeq         map[string]int64
	schedules      map[int64]models.CronSchedule
	webhooks       map[string]models.WebhookConfig
	nextScheduleID int64
	nextWebhookID  int64
	observers      []LogObserver
}

// NewMemStore returns an empty in-memory store with webhook ingress enabled
// for every registered workflow.
func NewMemStore() Store {
	m := &memStore{
		runs:      make(map[string]models.Run),
		logs:      make(map[string][]models.LogEntry),
		logSeq:    make(map[string]int64),
		schedules: make(map[int64]models.CronSchedule),
		webhooks:  make(map[string]models.WebhookConfig),
	}
	for _, w := range models.Workflows {
		m.nextWebhookID++
		m.webhooks[w.ID] = models.WebhookConfig{
			ID:         m.nextWebhookID,
			WorkflowID: w.ID,
			Enabled:    true,
			CreatedAt:  time.Now(),
		}
	}
	return m
}

func (m *memStore) SaveRun(r models.Run) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		return models.Run{}, errors.New("run ID cannot be empty")
	}
	if _, ok := m.runs[r.ID]; ok {
		return models.Run{}, errors.Errorf("run %s already exists", r.ID)
	}
	m.runs[r.ID] = r
	return r, nil
}

func (m *memStore) GetRun(id string) (models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListRuns(limit, offset int) ([]models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]models.Run, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	if offset >= len(all) {
		return []models.Run{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) ListActiveRuns() ([]models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []models.Run
	for _, r := range m.runs {
		if r.Status == models.RunningRunStatus {
			active = append(active, r)
		}
	}
	return active, nil
}

func (m *memStore) SetRunEngineID(id, engineRunID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.EngineRunID = engineRunID
	m.runs[id] = r
	return nil
}

func (m *memStore) FinishRun(id string, status models.RunStatus, output models.JSONMap, errMsg, duration string) error {
	if !status.Terminal() {
		return errors.Errorf("cannot finish run with non-terminal status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return errors.Errorf("run %s already finished with status %q", id, r.Status)
	}
	now := time.Now()
	r.Status = status
	r.Output = output
	r.Error = errMsg
	r.CompletedAt = &now
	r.Duration = duration
	m.runs[id] = r
	return nil
}

func (m *memStore) AppendLog(e models.LogEntry) (models.LogEntry, error) {
	m.mu.Lock()
	if _, ok := m.runs[e.RunID]; !ok {
		m.mu.Unlock()
		return models.LogEntry{}, ErrNotFound
	}
	m.logSeq[e.RunID]++
	e.ID = m.logSeq[e.RunID]
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.logs[e.RunID] = append(m.logs[e.RunID], e)
	observers := m.observers
	m.mu.Unlock()

	for _, obs := range observers {
		obs(e)
	}
	return e, nil
}

func (m *memStore) GetLogs(runID string) ([]models.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := m.logs[runID]
	out := make([]models.LogEntry, len(logs))
	copy(out, logs)
	return out, nil
}

func (m *memStore) RegisterLogObserver(obs LogObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

func (m *memStore) SaveSchedule(s models.CronSchedule) (models.CronSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextScheduleID++
	s.ID = m.nextScheduleID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.schedules[s.ID] = s
	return s, nil
}

func (m *memStore) GetSchedule(id int64) (models.CronSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return models.CronSchedule{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) ListSchedules() ([]models.CronSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CronSchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateScheduleRunTimes(id int64, lastRun, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ErrNotFound
	}
	s.LastRun = &lastRun
	if nextRun.IsZero() {
		s.NextRun = nil
	} else {
		s.NextRun = &nextRun
	}
	m.schedules[id] = s
	return nil
}

func (m *memStore) SetScheduleEnabled(id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ErrNotFound
	}
	s.Enabled = enabled
	m.schedules[id] = s
	return nil
}

func (m *memStore) DeleteSchedule(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *memStore) ListWebhookConfigs() ([]models.WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WebhookConfig, 0, len(m.webhooks))
	for _, c := range m.webhooks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetWebhookConfig(workflowID string) (models.WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.webhooks[workflowID]
	if !ok {
		return models.WebhookConfig{}, ErrNotFound
	}
	return c, nil
}

func (m *memStore) SaveWebhookConfig(c models.WebhookConfig) (models.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWebhookID++
	c.ID = m.nextWebhookID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.webhooks[c.WorkflowID] = c
	return c, nil
}

func (m *memStore) UpdateWebhookConfig(workflowID string, enabled, requireAuth bool) (models.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.webhooks[workflowID]
	if !ok {
		return models.WebhookConfig{}, ErrNotFound
	}
	c.Enabled = enabled
	c.RequireAuth = requireAuth
	m.webhooks[workflowID] = c
	return c, nil
}

func (m *memStore) Close() error {
	return nil
}
