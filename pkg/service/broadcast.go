package service

import (
	"sync"

	"github.com/arun84-eng/FlowBit/pkg/models"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/pkg/errors"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing entries; reconnecting replays the full
// history, so delivery stays at-least-once with gap-free replay-from-start.
const subscriberBuffer = 64

// Subscription is one live log feed for a run. Entries arrive on C in append
// order, backlog first. Cancel is idempotent and closes C.
type Subscription struct {
	C      <-chan models.LogEntry
	cancel func()
	once   sync.Once
}

// Cancel removes the subscription from the fan-out set and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type subscriber struct {
	ch chan models.LogEntry
	// lastReplayed is the highest entry ID delivered from history. Store
	// observers fire outside the append lock, so an entry can already be
	// visible to the history read when its publish arrives; IDs are dense
	// and monotonic per run, so anything at or below this watermark was
	// replayed and must not be delivered again live.
	lastReplayed int64
	dropped      int
}

// LogBroadcaster fans log appends out to live subscribers per run. It is
// registered as the store's log observer at wiring time, so every append
// flows through it no matter which component wrote the entry.
type LogBroadcaster struct {
	store  storage.Store
	logger Logger
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewLogBroadcaster creates a broadcaster and registers it as the store's
// log observer.
func NewLogBroadcaster(store storage.Store, logger Logger) *LogBroadcaster {
	b := &LogBroadcaster{
		store:  store,
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
	store.RegisterLogObserver(b.publish)
	return b
}

// Subscribe delivers the run's full log history in append order, then every
// subsequently appended entry. History replay and live registration happen
// under the same lock that publish takes, so no entry is lost or reordered
// in between.
func (b *LogBroadcaster) Subscribe(runID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("broadcaster is shut down")
	}

	history, err := b.store.GetLogs(runID)
	if err != nil {
		return nil, errors.Wrapf(err, "replay logs for run %s", runID)
	}

	sub := &subscriber{ch: make(chan models.LogEntry, len(history)+subscriberBuffer)}
	for _, e := range history {
		sub.ch <- e
	}
	if len(history) > 0 {
		sub.lastReplayed = history[len(history)-1].ID
	}

	if b.subs[runID] == nil {
		b.subs[runID] = make(map[*subscriber]struct{})
	}
	b.subs[runID][sub] = struct{}{}

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			b.unsubscribe(runID, sub)
		},
	}, nil
}

// SubscriberCount reports how many live subscribers a run has.
func (b *LogBroadcaster) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Shutdown cancels every subscription and rejects new ones.
func (b *LogBroadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for runID, subs := range b.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.subs, runID)
	}
}

// publish is the store's log observer. Entries already covered by a
// subscriber's replay watermark are skipped. A full subscriber buffer drops
// the entry for that subscriber only; appends and other subscribers never
// block.
func (b *LogBroadcaster) publish(e models.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[e.RunID] {
		if e.ID <= sub.lastReplayed {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
			b.logger.Errorf("Subscriber for run %s is lagging, dropped %d entries", e.RunID, sub.dropped)
		}
	}
}

func (b *LogBroadcaster) unsubscribe(runID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[runID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subs, runID)
	}
}
