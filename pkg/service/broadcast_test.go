package service_test

import (
	"testing"
	"time"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/service"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRun(t *testing.T, store storage.Store, id string) models.Run {
	t.Helper()
	run, err := store.SaveRun(models.Run{
		ID:          id,
		WorkflowID:  "email-agent",
		Status:      models.RunningRunStatus,
		TriggerKind: models.ManualTrigger,
		StartedAt:   time.Now(),
	})
	require.NoError(t, err)
	return run
}

func appendInfo(t *testing.T, store storage.Store, runID, message string) {
	t.Helper()
	_, err := store.AppendLog(models.LogEntry{RunID: runID, Level: models.InfoLogLevel, Message: message})
	require.NoError(t, err)
}

func collect(t *testing.T, ch <-chan models.LogEntry, n int) []models.LogEntry {
	t.Helper()
	out := make([]models.LogEntry, 0, n)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for entry %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestSubscribeReplaysHistory(t *testing.T) {
	store := storage.NewMemStore()
	b := service.NewLogBroadcaster(store, logger{})
	defer b.Shutdown()

	seedRun(t, store, "run-1")
	appendInfo(t, store, "run-1", "first")
	appendInfo(t, store, "run-1", "second")

	sub, err := b.Subscribe("run-1")
	require.NoError(t, err)
	defer sub.Cancel()

	got := collect(t, sub.C, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
}

func TestSubscribeMidRun(t *testing.T) {
	store := storage.NewMemStore()
	b := service.NewLogBroadcaster(store, logger{})
	defer b.Shutdown()

	seedRun(t, store, "run-1")
	appendInfo(t, store, "run-1", "before-1")
	appendInfo(t, store, "run-1", "before-2")

	sub, err := b.Subscribe("run-1")
	require.NoError(t, err)
	defer sub.Cancel()

	appendInfo(t, store, "run-1", "after-1")
	appendInfo(t, store, "run-1", "after-2")

	got := collect(t, sub.C, 4)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.ID, "backlog then live entries, no gap and no reorder")
	}
	assert.Equal(t, "before-1", got[0].Message)
	assert.Equal(t, "after-2", got[3].Message)
}

func TestSubscribeDuringAppendDeliversOnce(t *testing.T) {
	store := storage.NewMemStore()

	// An observer registered ahead of the broadcaster subscribes from inside
	// the append notification, landing exactly between the entry becoming
	// visible to GetLogs and the broadcaster's publish. This is the
	// interleaving a concurrent stream connect hits.
	var b *service.LogBroadcaster
	var sub *service.Subscription
	store.RegisterLogObserver(func(e models.LogEntry) {
		if sub != nil {
			return
		}
		s, err := b.Subscribe(e.RunID)
		require.NoError(t, err)
		sub = s
	})
	b = service.NewLogBroadcaster(store, logger{})
	defer b.Shutdown()

	seedRun(t, store, "run-1")
	appendInfo(t, store, "run-1", "only-once")
	require.NotNil(t, sub)
	defer sub.Cancel()

	got := collect(t, sub.C, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "only-once", got[0].Message)

	select {
	case e := <-sub.C:
		t.Fatalf("entry %d (%q) delivered twice", e.ID, e.Message)
	case <-time.After(50 * time.Millisecond):
	}

	// Later appends still arrive live, exactly once.
	appendInfo(t, store, "run-1", "after")
	got = collect(t, sub.C, 1)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, "after", got[0].Message)
}

func TestSubscribersAreIndependent(t *testing.T) {
	store := storage.NewMemStore()
	b := service.NewLogBroadcaster(store, logger{})
	defer b.Shutdown()

	seedRun(t, store, "run-1")
	seedRun(t, store, "run-2")

	subA, err := b.Subscribe("run-1")
	require.NoError(t, err)
	defer subA.Cancel()
	subB, err := b.Subscribe("run-1")
	require.NoError(t, err)
	defer subB.Cancel()
	other, err := b.Subscribe("run-2")
	require.NoError(t, err)
	defer other.Cancel()

	appendInfo(t, store, "run-1", "hello")

	assert.Equal(t, "hello", collect(t, subA.C, 1)[0].Message)
	assert.Equal(t, "hello", collect(t, subB.C, 1)[0].Message)

	select {
	case e := <-other.C:
		t.Fatalf("run-2 subscriber received foreign entry %q", e.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	store := storage.NewMemStore()
	b := service.NewLogBroadcaster(store, logger{})
	defer b.Shutdown()

	seedRun(t, store, "run-1")
	sub, err := b.Subscribe("run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("run-1"))

	sub.Cancel()
	sub.Cancel() // idempotent
	assert.Equal(t, 0, b.SubscriberCount("run-1"))

	_, open := <-sub.C
	assert.False(t, open, "channel is closed after Cancel")

	// Appends after cancellation do not panic and reach nobody.
	appendInfo(t, store, "run-1", "late")
}

func TestLaggingSubscriberDoesNotBlockAppends(t *testing.T) {
	store := storage.NewMemStore()
	b := service.NewLogBroadcaster(store, logger{})
	defer b.Shutdown()

	seedRun(t, store, "run-1")
	sub, err := b.Subscribe("run-1")
	require.NoError(t, err)
	defer sub.Cancel()

	// Never read from sub.C; well past the buffer capacity every append
	// must still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			appendInfo(t, store, "run-1", "flood")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("appends blocked on a lagging subscriber")
	}

	logs, err := store.GetLogs("run-1")
	require.NoError(t, err)
	assert.Len(t, logs, 200, "persistence is unaffected by subscriber backpressure")
}

func TestShutdownRejectsNewSubscribers(t *testing.T) {
	store := storage.NewMemStore()
	b := service.NewLogBroadcaster(store, logger{})

	seedRun(t, store, "run-1")
	sub, err := b.Subscribe("run-1")
	require.NoError(t, err)

	b.Shutdown()
	b.Shutdown() // idempotent

	_, open := <-sub.C
	assert.False(t, open)

	_, err = b.Subscribe("run-1")
	assert.Error(t, err)
}
