package liveview

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/geeko/internal/clock"
)

const defaultWatchInterval = time.Second

type WatcherConfig struct {
	Publisher *Publisher
	View      *Service
	Clock     clock.Clock
	Interval  time.Duration
}

// Watcher periodically pushes sessions with an open question so clients see the
// countdown and the closure by time. It only reads, advancing is left to the host.
type Watcher struct {
	publisher *Publisher
	view      *Service
	clock     clock.Clock
	interval  time.Duration

	// seen is the last pushed position of each session. Only touched by Tick.
	seen map[string]watched
}

type watched struct {
	index  int
	closed bool
}

func NewWatcher(c WatcherConfig) *Watcher {
	w := &Watcher{
		publisher: c.Publisher,
		view:      c.View,
		clock:     c.Clock,
		interval:  c.Interval,
		seen:      make(map[string]watched),
	}

	if w.clock == nil {
		w.clock = clock.Real()
	}
	if w.interval <= 0 {
		w.interval = defaultWatchInterval
	}

	return w
}

// Run ticks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := w.clock.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			w.Tick(ctx)
		}
	}
}

// Tick flushes throttled sessions, then pushes every in-progress session whose question
// is open or has closed since the previous tick.
func (w *Watcher) Tick(ctx context.Context) {
	if err := w.publisher.Flush(ctx); err != nil {
		slog.ErrorContext(ctx, "watcher: flush failed", "error", err)
	}

	sessions, err := w.view.ActiveSessions(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "watcher: list active sessions failed", "error", err)
		return
	}

	live := make(map[string]struct{}, len(sessions))
	for _, ss := range sessions {
		live[ss.SessionID] = struct{}{}

		snap, err := w.view.Snapshot(ctx, SnapshotRequest{SessionID: ss.SessionID})
		if err != nil {
			slog.ErrorContext(ctx, "watcher: snapshot failed", "session_id", ss.SessionID, "error", err)
			continue
		}

		now := watched{index: snap.QuestionIndex, closed: snap.QuestionClosed}
		if prev, ok := w.seen[ss.SessionID]; ok && prev == now && now.closed {
			continue
		}
		w.seen[ss.SessionID] = now

		if err := w.publisher.deliver(ctx, Notification{
			Event:     EventTick,
			SessionID: ss.SessionID,
			Snapshot:  *snap,
		}); err != nil {
			slog.ErrorContext(ctx, "watcher: push failed", "session_id", ss.SessionID, "error", err)
		}
	}

	for id := range w.seen {
		if _, ok := live[id]; !ok {
			delete(w.seen, id)
		}
	}
}
