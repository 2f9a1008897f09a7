package broadcast

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/podiumapp/podium-server/internal/domain"
	"github.com/podiumapp/podium-server/internal/id"
)

// Config tunes the delivery classes.
type Config struct {
	// BatchInterval is how often coalesced moved events are flushed.
	BatchInterval time.Duration
	// FlushInterval is how often throttled subscribers are retried.
	FlushInterval time.Duration
	// SubscriberEventsPerSec caps deliveries to a single subscriber. Excess
	// events are coalesced so only the latest state per user survives.
	SubscriberEventsPerSec int
}

func (c Config) withDefaults() Config {
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	if c.SubscriberEventsPerSec <= 0 {
		c.SubscriberEventsPerSec = 10
	}
	return c
}

// Subscriber represents one connected stream consumer.
type Subscriber struct {
	ID          string
	UserID      string
	EventChan   chan Event
	Done        chan struct{}
	ConnectedAt time.Time

	// Loop-owned delivery state. Only touched by the manager goroutine.
	limiter        *rate.Limiter
	lastGeneration uint64
	pending        map[string]Event
}

// Manager receives ranking snapshots, diffs them, and fans out delta events.
// A single goroutine owns all delivery state, so per-subscriber ordering is
// a property of the loop rather than of locking discipline.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	snapshots chan domain.Snapshot
	wg        sync.WaitGroup

	// Shutdown state - protected by shutdownMu.
	shutdownMu sync.RWMutex
	shutdown   bool

	// Loop-local state.
	prev  domain.Snapshot
	batch map[string]Event
}

// NewManager creates a broadcast manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg.withDefaults(),
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		snapshots:   make(chan domain.Snapshot, 1024),
		batch:       make(map[string]Event),
	}
}

// Publish queues a snapshot for diffing. Never blocks; the ranking commit
// path calls this and must not wait on slow subscribers.
func (m *Manager) Publish(snap domain.Snapshot) {
	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()

	if m.shutdown {
		return
	}

	select {
	case m.snapshots <- snap:
	default:
		// A full queue self-heals: the next snapshot that fits carries the
		// complete window state, so dropped intermediates only cost
		// granularity.
		m.logger.Warn("snapshot queue full, dropping snapshot",
			slog.Uint64("generation", snap.Generation))
	}
}

// Start begins the delivery loop. Call once at server startup in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	m.logger.Info("broadcast manager starting")

	batchTicker := time.NewTicker(m.cfg.BatchInterval)
	defer batchTicker.Stop()
	flushTicker := time.NewTicker(m.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case snap, ok := <-m.snapshots:
			if !ok {
				return
			}
			m.apply(snap)

		case <-batchTicker.C:
			m.flushBatch()

		case <-flushTicker.C:
			m.flushPending()

		case <-ctx.Done():
			m.logger.Info("broadcast manager stopping")
			m.closeAllSubscribers()
			return
		}
	}
}

// Shutdown stops accepting snapshots, drains the queue, and disconnects all
// subscribers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("broadcast manager shutdown initiated")

	m.shutdownMu.Lock()
	m.shutdown = true
	close(m.snapshots)
	m.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("broadcast drain timeout, some events may be lost")
	}

	m.closeAllSubscribers()
	m.logger.Info("broadcast manager shutdown complete")
	return nil
}

// Subscribe registers a stream consumer.
func (m *Manager) Subscribe(userID string) (*Subscriber, error) {
	subID, err := id.Generate("sub")
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		ID:          subID,
		UserID:      userID,
		EventChan:   make(chan Event, 64),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
		limiter:     rate.NewLimiter(rate.Limit(m.cfg.SubscriberEventsPerSec), m.cfg.SubscriberEventsPerSec),
		pending:     make(map[string]Event),
	}

	m.mu.Lock()
	m.subscribers[sub.ID] = sub
	total := len(m.subscribers)
	m.mu.Unlock()

	m.logger.Info("stream subscriber connected",
		slog.String("subscriber_id", subID),
		slog.String("user_id", userID),
		slog.Int("total_subscribers", total))
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channels.
func (m *Manager) Unsubscribe(subID string) {
	m.mu.Lock()
	sub, ok := m.subscribers[subID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subscribers, subID)
	total := len(m.subscribers)
	m.mu.Unlock()

	close(sub.Done)
	close(sub.EventChan)

	m.logger.Info("stream subscriber disconnected",
		slog.String("subscriber_id", subID),
		slog.Duration("duration", time.Since(sub.ConnectedAt)),
		slog.Int("total_subscribers", total))
}

// SubscriberCount returns the number of connected subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// apply diffs a new snapshot against the previous one. Membership changes
// ship immediately; position churn is coalesced into the batch.
func (m *Manager) apply(next domain.Snapshot) {
	events := diff(m.prev, next)
	m.prev = next

	var immediate []Event
	for _, ev := range events {
		if ev.Type == EventMoved {
			m.batch[ev.UserID] = ev // latest generation wins
			continue
		}
		immediate = append(immediate, ev)

		// A membership change supersedes any batched movement for the
		// same user.
		delete(m.batch, ev.UserID)
	}

	if len(immediate) > 0 {
		m.dispatch(immediate)
	}
}

// flushBatch delivers coalesced moved events.
func (m *Manager) flushBatch() {
	if len(m.batch) == 0 {
		return
	}
	events := make([]Event, 0, len(m.batch))
	for _, ev := range m.batch {
		events = append(events, ev)
	}
	sort.Slice(events, func(a, b int) bool { return events[a].Generation < events[b].Generation })
	clear(m.batch)

	m.dispatch(events)
}

// dispatch delivers events to every subscriber, enforcing the throttle and
// the non-decreasing generation guarantee.
func (m *Manager) dispatch(events []Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		for _, ev := range events {
			m.deliver(sub, ev)
		}
	}
}

// deliver sends one event to one subscriber, or coalesces it when the
// subscriber is over its rate.
func (m *Manager) deliver(sub *Subscriber, ev Event) {
	// Never deliver behind what the subscriber has already seen.
	if ev.Generation < sub.lastGeneration {
		return
	}

	if !sub.limiter.Allow() {
		sub.pending[coalesceKey(ev)] = ev
		return
	}

	select {
	case sub.EventChan <- ev:
		sub.lastGeneration = ev.Generation
	default:
		// Slow consumer: at-most-once means we drop rather than queue a
		// backlog.
		m.logger.Warn("dropped event for slow subscriber",
			slog.String("subscriber_id", sub.ID),
			slog.String("event_type", string(ev.Type)))
	}
}

// flushPending retries throttled subscribers as their allowance refills.
func (m *Manager) flushPending() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		if len(sub.pending) == 0 {
			continue
		}

		events := make([]Event, 0, len(sub.pending))
		for _, ev := range sub.pending {
			events = append(events, ev)
		}
		sort.Slice(events, func(a, b int) bool { return events[a].Generation < events[b].Generation })

		for _, ev := range events {
			if !sub.limiter.Allow() {
				break
			}
			delete(sub.pending, coalesceKey(ev))
			if ev.Generation < sub.lastGeneration {
				continue
			}
			select {
			case sub.EventChan <- ev:
				sub.lastGeneration = ev.Generation
			default:
			}
		}
	}
}

func coalesceKey(ev Event) string {
	return string(ev.Type) + ":" + ev.UserID
}

// closeAllSubscribers closes every subscriber connection (shutdown path).
func (m *Manager) closeAllSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscribers {
		close(sub.Done)
		close(sub.EventChan)
	}
	m.subscribers = make(map[string]*Subscriber)

	m.logger.Info("all stream subscribers disconnected")
}
