package service

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// CronScheduler owns the live timers for recurring workflow triggers, at most
// one per schedule id. The persisted CronSchedule records live in the store;
// the scheduler additionally persists the set of active schedule ids to a
// JSON sidecar file after every activate/deactivate so a restart can
// reconcile which timers were running.
type CronScheduler struct {
	store     storage.Store
	exec      *ExecutionService
	logger    Logger
	ctx       context.Context
	statePath string
	parser    cron.Parser
	runner    *cron.Cron
	mu        sync.Mutex
	entries   map[int64]cron.EntryID
}

func NewCronScheduler(ctx context.Context, store storage.Store, exec *ExecutionService, logger Logger, statePath string) *CronScheduler {
	// Standard five-field expressions plus @descriptors.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	runner := cron.New(cron.WithParser(parser))
	runner.Start()
	return &CronScheduler{
		store:     store,
		exec:      exec,
		logger:    logger,
		ctx:       ctx,
		statePath: statePath,
		parser:    parser,
		runner:    runner,
		entries:   make(map[int64]cron.EntryID),
	}
}

// Activate installs a timer for the schedule, replacing any existing timer
// for the same id. It fails with ErrInvalidExpression if the expression does
// not parse.
func (s *CronScheduler) Activate(id int64, expression, workflowID string, payload models.JSONMap) error {
	sched, err := s.parser.Parse(expression)
	if err != nil {
		return errors.Wrapf(ErrInvalidExpression, "%q: %v", expression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(id)
	entryID := s.runner.Schedule(sched, cron.FuncJob(func() {
		s.fire(id, workflowID, payload, sched)
	}))
	s.entries[id] = entryID
	s.persistLocked()

	s.logger.Infof("Cron schedule %d activated with expression %q", id, expression)
	return nil
}

// Deactivate cancels the schedule's timer. Already-in-flight runs it
// triggered are unaffected.
func (s *CronScheduler) Deactivate(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(id) {
		s.persistLocked()
		s.logger.Infof("Cron schedule %d deactivated", id)
	}
}

// IsActive reports whether the schedule currently has a live timer.
func (s *CronScheduler) IsActive(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// ActiveIDs returns the ids with live timers, sorted.
func (s *CronScheduler) ActiveIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NextRunTime computes the next fire time of an expression from now. It is a
// pure function of the expression and clock; unparseable input, or an
// expression that never fires again (cron gives up with the zero time, e.g.
// "0 0 30 2 *"), yields (zero, false) rather than an error.
func (s *CronScheduler) NextRunTime(expression string) (time.Time, bool) {
	sched, err := s.parser.Parse(expression)
	if err != nil {
		return time.Time{}, false
	}
	next := sched.Next(time.Now())
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// CreateSchedule validates, persists and (when enabled) activates a new
// recurring trigger.
func (s *CronScheduler) CreateSchedule(workflowID, expression string, payload models.JSONMap, enabled bool) (models.CronSchedule, error) {
	if _, ok := models.FindWorkflow(workflowID); !ok {
		return models.CronSchedule{}, errors.Wrapf(ErrUnknownWorkflow, "%q", workflowID)
	}
	next, ok := s.NextRunTime(expression)
	if !ok {
		return models.CronSchedule{}, errors.Wrapf(ErrInvalidExpression, "%q", expression)
	}

	sched := models.CronSchedule{
		WorkflowID: workflowID,
		Expression: expression,
		Payload:    payload,
		Enabled:    enabled,
		CreatedAt:  time.Now(),
		NextRun:    &next,
	}
	sched, err := s.store.SaveSchedule(sched)
	if err != nil {
		return models.CronSchedule{}, errors.Wrap(err, "save schedule")
	}

	if enabled {
		if err := s.Activate(sched.ID, expression, workflowID, payload); err != nil {
			return models.CronSchedule{}, err
		}
	}
	return sched, nil
}

// DeleteSchedule deactivates the timer, then removes the persisted record.
func (s *CronScheduler) DeleteSchedule(id int64) error {
	s.Deactivate(id)
	if err := s.store.DeleteSchedule(id); err != nil {
		return err
	}
	s.logger.Infof("Cron schedule %d deleted", id)
	return nil
}

// Restore re-activates schedules that were active before the last shutdown:
// the persisted id set is cross-referenced with schedules still enabled in
// the store; ids that no longer exist there are skipped silently.
func (s *CronScheduler) Restore() error {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read scheduler state")
	}
	var activeIDs []int64
	if err := json.Unmarshal(data, &activeIDs); err != nil {
		return errors.Wrap(err, "decode scheduler state")
	}

	schedules, err := s.store.ListSchedules()
	if err != nil {
		return errors.Wrap(err, "list schedules")
	}
	byID := make(map[int64]models.CronSchedule, len(schedules))
	for _, sched := range schedules {
		byID[sched.ID] = sched
	}

	for _, id := range activeIDs {
		sched, ok := byID[id]
		if !ok || !sched.Enabled {
			continue
		}
		if err := s.Activate(sched.ID, sched.Expression, sched.WorkflowID, sched.Payload); err != nil {
			s.logger.Errorf("Failed to restore cron schedule %d: %v", id, err)
		}
	}
	return nil
}

// Stop halts the runner and drops in-memory timers. The persisted id set is
// left intact so the next start can reconcile.
func (s *CronScheduler) Stop() {
	s.runner.Stop()
	s.mu.Lock()
	s.entries = make(map[int64]cron.EntryID)
	s.mu.Unlock()
}

// fire runs on every tick: record last/next run times, then trigger the
// workflow. A start failure does not deactivate the schedule.
func (s *CronScheduler) fire(id int64, workflowID string, payload models.JSONMap, sched cron.Schedule) {
	now := time.Now()
	if err := s.store.UpdateScheduleRunTimes(id, now, sched.Next(now)); err != nil {
		s.logger.Errorf("Failed to update run times for cron schedule %d: %v", id, err)
	}
	s.logger.Infof("Executing scheduled workflow %s (schedule %d)", workflowID, id)
	if _, err := s.exec.Start(s.ctx, workflowID, payload, models.ScheduledTrigger); err != nil {
		s.logger.Errorf("Cron schedule %d failed to start workflow %s: %v", id, workflowID, err)
	}
}

func (s *CronScheduler) removeLocked(id int64) bool {
	entryID, ok := s.entries[id]
	if !ok {
		return false
	}
	s.runner.Remove(entryID)
	delete(s.entries, id)
	return true
}

func (s *CronScheduler) persistLocked() {
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		s.logger.Errorf("Failed to encode scheduler state: %v", err)
		return
	}
	if err := os.WriteFile(s.statePath, data, 0o644); err != nil {
		s.logger.Errorf("Failed to persist scheduler state: %v", err)
	}
}
