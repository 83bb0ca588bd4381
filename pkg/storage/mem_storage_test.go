package storage_test

import (
	"testing"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun(id string, startedAt time.Time) models.Run {
	return models.Run{
		ID:           id,
		WorkflowID:   "email-agent",
		WorkflowName: "Email Agent",
		Status:       models.RunningRunStatus,
		TriggerKind:  models.ManualTrigger,
		StartedAt:    startedAt,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := storage.NewMemStore()

	saved, err := store.SaveRun(newRun("run-1", time.Now()))
	require.NoError(t, err)

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	_, err = store.SaveRun(newRun("run-1", time.Now()))
	assert.Error(t, err, "duplicate run IDs are rejected")

	_, err = store.SaveRun(models.Run{})
	assert.Error(t, err)

	_, err = store.GetRun("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	store := storage.NewMemStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		_, err := store.SaveRun(newRun(
			string(rune('a'+i)),
			base.Add(time.Duration(i)*time.Minute),
		))
		require.NoError(t, err)
	}

	runs, err := store.ListRuns(2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "e", runs[0].ID, "newest first")
	assert.Equal(t, "d", runs[1].ID)

	runs, err = store.ListRuns(2, 4)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)

	runs, err = store.ListRuns(10, 99)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFinishRun(t *testing.T) {
	store := storage.NewMemStore()
	_, err := store.SaveRun(newRun("run-1", time.Now()))
	require.NoError(t, err)

	err = store.FinishRun("run-1", models.SuccessRunStatus, models.JSONMap{"ok": true}, "", "1.2s")
	require.NoError(t, err)

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.SuccessRunStatus, got.Status)
	assert.Equal(t, "1.2s", got.Duration)
	require.NotNil(t, got.CompletedAt)

	err = store.FinishRun("run-1", models.FailedRunStatus, nil, "late failure", "9s")
	assert.Error(t, err, "terminal runs never transition again")

	after, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.SuccessRunStatus, after.Status)

	err = store.FinishRun("run-1", models.RunningRunStatus, nil, "", "")
	assert.Error(t, err, "running is not a terminal status")

	err = store.FinishRun("missing", models.FailedRunStatus, nil, "x", "1s")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppendLog(t *testing.T) {
	store := storage.NewMemStore()
	_, err := store.SaveRun(newRun("run-1", time.Now()))
	require.NoError(t, err)

	var observed []models.LogEntry
	store.RegisterLogObserver(func(e models.LogEntry) {
		observed = append(observed, e)
	})

	first, err := store.AppendLog(models.LogEntry{RunID: "run-1", Level: models.InfoLogLevel, Message: "one"})
	require.NoError(t, err)
	second, err := store.AppendLog(models.LogEntry{RunID: "run-1", Level: models.ErrorLogLevel, Message: "two"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.False(t, first.Timestamp.IsZero())

	logs, err := store.GetLogs("run-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "one", logs[0].Message)
	assert.Equal(t, "two", logs[1].Message)

	require.Len(t, observed, 2, "every append notifies the observer")
	assert.Equal(t, first, observed[0])
	assert.Equal(t, second, observed[1])

	_, err = store.AppendLog(models.LogEntry{RunID: "missing", Message: "orphan"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogSequencesArePerRun(t *testing.T) {
	store := storage.NewMemStore()
	_, err := store.SaveRun(newRun("run-1", time.Now()))
	require.NoError(t, err)
	_, err = store.SaveRun(newRun("run-2", time.Now()))
	require.NoError(t, err)

	_, err = store.AppendLog(models.LogEntry{RunID: "run-1", Message: "a"})
	require.NoError(t, err)
	e, err := store.AppendLog(models.LogEntry{RunID: "run-2", Message: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.ID, "each run numbers its logs from 1")
}

func TestScheduleLifecycle(t *testing.T) {
	store := storage.NewMemStore()

	saved, err := store.SaveSchedule(models.CronSchedule{
		WorkflowID: "pdf-agent",
		Expression: "0 9 * * 1-5",
		Enabled:    true,
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	last := time.Now()
	next := last.Add(time.Hour)
	require.NoError(t, store.UpdateScheduleRunTimes(saved.ID, last, next))

	got, err := store.GetSchedule(saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(next))

	require.NoError(t, store.SetScheduleEnabled(saved.ID, false))
	got, err = store.GetSchedule(saved.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, store.DeleteSchedule(saved.ID))
	_, err = store.GetSchedule(saved.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.DeleteSchedule(saved.ID), storage.ErrNotFound)
}

func TestWebhookConfigsAreSeeded(t *testing.T) {
	store := storage.NewMemStore()

	configs, err := store.ListWebhookConfigs()
	require.NoError(t, err)
	assert.Len(t, configs, len(models.Workflows))
	for _, c := range configs {
		assert.True(t, c.Enabled, "webhook ingress starts enabled for %s", c.WorkflowID)
	}

	updated, err := store.UpdateWebhookConfig("email-agent", false, true)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.True(t, updated.RequireAuth)

	got, err := store.GetWebhookConfig("email-agent")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, err = store.UpdateWebhookConfig("no-such-agent", true, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
