package broadcast

import (
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/podiumapp/podium-server/internal/domain"
)

// SnapshotSource provides the current top-N window for the initial event.
type SnapshotSource interface {
	Snapshot() domain.Snapshot
}

// Handler streams ranking delta events over SSE at GET /api/v1/stream.
type Handler struct {
	manager   *Manager
	snapshots SnapshotSource
	logger    *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(manager *Manager, snapshots SnapshotSource, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		snapshots: snapshots,
		logger:    logger,
	}
}

// ServeHTTP handles the SSE connection. userID scopes the subscription and
// comes from the authenticated session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Context().Err() != nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sub, err := h.manager.Subscribe(userID)
	if err != nil {
		h.logger.Error("failed to register subscriber", slog.String("error", err.Error()))
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Unsubscribe(sub.ID)

	subLogger := h.logger.With(slog.String("subscriber_id", sub.ID))

	// The first event is the full current window so the client starts from
	// a consistent state; deltas build on it from there.
	snap := h.snapshots.Snapshot()
	initial := Event{
		Type:       EventSnapshot,
		Generation: snap.Generation,
		Payload:    snap,
		Timestamp:  time.Now(),
	}
	if err := h.sendEvent(w, rc, initial); err != nil {
		subLogger.Warn("failed to send initial snapshot", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()

	heartbeatTicker := time.NewTicker(30 * time.Second)
	defer heartbeatTicker.Stop()

	for {
		select {
		case event, ok := <-sub.EventChan:
			if !ok {
				return
			}
			// The subscriber registers before the initial snapshot is read, so
			// a commit landing in between leaves older-generation deltas queued
			// here. The snapshot already reflects them; forwarding them would
			// regress the generation order.
			if event.Generation <= snap.Generation {
				continue
			}
			if err := h.sendEvent(w, rc, event); err != nil {
				// Client disconnect is normal, not an error condition.
				subLogger.Info("subscriber disconnected during send")
				return
			}

		case <-heartbeatTicker.C:
			if err := h.sendEvent(w, rc, NewHeartbeatEvent()); err != nil {
				subLogger.Info("subscriber disconnected during heartbeat")
				return
			}

		case <-sub.Done:
			subLogger.Info("subscriber closed by manager")
			return

		case <-ctx.Done():
			subLogger.Info("subscriber context canceled")
			return
		}
	}
}

// sendEvent writes one SSE frame and flushes it.
func (h *Handler) sendEvent(w http.ResponseWriter, rc *http.ResponseController, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}

	// Reset the write deadline after each successful write so hung
	// connections eventually fail.
	if err := rc.SetWriteDeadline(time.Now().Add(60 * time.Second)); err != nil {
		h.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}

	return nil
}
