// Package ranking owns the authoritative score totals and their ordering.
// All mutations flow through a single Engine whose commits are serialized:
// each accepted action is written to the durable ledger first, then applied
// to the in-memory order-statistics index, then announced as a new snapshot
// generation. The in-memory state is a cache rebuilt from the ledger on
// startup.
package ranking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/podiumapp/podium-server/internal/errors"

	"github.com/podiumapp/podium-server/internal/domain"
)

// Ledger is the durable append-only record the engine writes ahead of every
// in-memory apply. Append assigns entry.Seq. Replay yields entries in
// ascending sequence order.
type Ledger interface {
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	Replay(ctx context.Context, fn func(entry *domain.LedgerEntry) error) error
}

// RankedEntry is a rank-annotated row returned by queries.
type RankedEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Total  int64  `json:"total"`
}

// CommitResult describes the outcome of one committed action.
type CommitResult struct {
	Entry        domain.LedgerEntry
	PreviousRank int // 0 when the user had no prior entry
	NewRank      int
	Generation   uint64
	Participants int
}

// Engine serializes all ranking mutations behind one mutex. Reads take the
// same mutex; queries are cheap enough (O(log n) plus the result size) that
// a single lock keeps the commit path trivially consistent.
type Engine struct {
	mu     sync.Mutex
	ledger Ledger
	logger *slog.Logger

	list       *skipList
	totals     map[string]int64
	generation uint64
	windowSize int

	publish func(domain.Snapshot)
}

// NewEngine creates an engine over the given ledger. windowSize is the number
// of entries included in published snapshots (the top-N window).
func NewEngine(ledger Ledger, windowSize int, logger *slog.Logger) *Engine {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Engine{
		ledger:     ledger,
		logger:     logger,
		list:       newSkipList(),
		totals:     make(map[string]int64),
		windowSize: windowSize,
	}
}

// SetPublisher installs the snapshot sink called after every commit. The sink
// must not block; the broadcaster hands the snapshot to its own loop.
func (e *Engine) SetPublisher(fn func(domain.Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish = fn
}

// Rebuild restores totals and ordering from the ledger. Called once on
// startup before the engine accepts commits.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.list = newSkipList()
	e.totals = make(map[string]int64)

	var lastSeq uint64
	err := e.ledger.Replay(ctx, func(entry *domain.LedgerEntry) error {
		if entry.Outcome != domain.OutcomeAccepted {
			return nil
		}
		// ResultingTotal is authoritative; later entries for the same user
		// simply supersede earlier ones.
		e.totals[entry.UserID] = entry.ResultingTotal
		lastSeq = entry.Seq
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to replay ledger")
	}

	for userID, total := range e.totals {
		e.list.insert(domain.RankEntry{UserID: userID, Total: total})
	}

	// Generations stay monotonic across restarts so reconnecting
	// subscribers never see the counter move backwards.
	e.generation = lastSeq

	e.logger.Info("ranking rebuilt",
		slog.Int("participants", e.list.length),
		slog.Uint64("last_seq", lastSeq),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Commit durably records an accepted action and applies it to the ranking.
// The ledger append happens before any in-memory mutation; if the append
// fails the ranking is untouched and the caller must surface a retryable
// error.
func (e *Engine) Commit(ctx context.Context, userID string, actionType domain.ActionType, delta int64, nonce string, now time.Time) (CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldTotal, existed := e.totals[userID]
	newTotal := oldTotal + delta

	entry := domain.LedgerEntry{
		UserID:          userID,
		ActionType:      actionType,
		Delta:           delta,
		ResultingTotal:  newTotal,
		ServerTimestamp: now,
		Nonce:           nonce,
		Outcome:         domain.OutcomeAccepted,
	}
	if err := e.ledger.Append(ctx, &entry); err != nil {
		return CommitResult{}, apperrors.Wrap(err, apperrors.CodeTransient, "failed to persist action")
	}

	var previousRank int
	if existed {
		old := domain.RankEntry{UserID: userID, Total: oldTotal}
		previousRank = e.list.rank(old)
		e.list.remove(old)
	}
	next := domain.RankEntry{UserID: userID, Total: newTotal}
	e.list.insert(next)
	e.totals[userID] = newTotal
	e.generation++

	res := CommitResult{
		Entry:        entry,
		PreviousRank: previousRank,
		NewRank:      e.list.rank(next),
		Generation:   e.generation,
		Participants: e.list.length,
	}

	if e.publish != nil {
		e.publish(e.snapshotLocked())
	}
	return res, nil
}

// Snapshot returns the current top-N window.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() domain.Snapshot {
	return domain.Snapshot{
		Generation:   e.generation,
		Entries:      e.list.slice(1, e.windowSize),
		Participants: e.list.length,
	}
}

// TopN returns the best n entries with ranks attached.
func (e *Engine) TopN(n int) []RankedEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return annotate(e.list.slice(1, n), 1)
}

// Rank returns a user's current row, or false if the user has no entry.
func (e *Engine) Rank(userID string) (RankedEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	total, ok := e.totals[userID]
	if !ok {
		return RankedEntry{}, false
	}
	r := e.list.rank(domain.RankEntry{UserID: userID, Total: total})
	return RankedEntry{Rank: r, UserID: userID, Total: total}, true
}

// Around returns the window of entries centered on a user, radius rows in
// each direction, clipped at the edges of the ranking.
func (e *Engine) Around(userID string, radius int) ([]RankedEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	total, ok := e.totals[userID]
	if !ok {
		return nil, false
	}
	r := e.list.rank(domain.RankEntry{UserID: userID, Total: total})

	start := r - radius
	if start < 1 {
		start = 1
	}
	end := r + radius
	if end > e.list.length {
		end = e.list.length
	}
	return annotate(e.list.slice(start, end-start+1), start), true
}

// Participants returns the number of users with at least one accepted action.
func (e *Engine) Participants() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list.length
}

func annotate(entries []domain.RankEntry, startRank int) []RankedEntry {
	out := make([]RankedEntry, len(entries))
	for i, en := range entries {
		out[i] = RankedEntry{Rank: startRank + i, UserID: en.UserID, Total: en.Total}
	}
	return out
}
