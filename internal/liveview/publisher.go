package liveview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/event"
	"github.com/victornm/geeko/internal/telemetry"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
	maxConcurrentSinks     = 10
)

// Notification is what subscribers of a session receive.
type Notification struct {
	// Event names what triggered the push.
	Event     string          `json:"event"`
	SessionID string          `json:"session_id"`
	Snapshot  domain.Snapshot `json:"data"`
}

// EventTick marks pushes made by the watcher rather than by a state change.
const EventTick = "tick"

// Sink delivers notifications to clients.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Throttle limits how often answer and join bursts of a session are pushed.
type Throttle interface {
	// Allow reports whether a push for the session may go out now.
	Allow(ctx context.Context, sessionID string) (bool, error)
}

type PublisherConfig struct {
	EventBus *event.Bus
	View     *Service
	Sinks    []Sink
	// Throttle defaults to a LocalThrottle with a 200ms interval.
	Throttle Throttle
	Clock    clock.Clock
}

// Publisher turns engine events into participant view snapshots and pushes them to sinks.
// Session transitions are always pushed. Joins and answers are throttled per session, a
// throttled session is marked dirty and pushed by the next Flush.
type Publisher struct {
	view     *Service
	sinks    []Sink
	throttle Throttle

	mu    sync.Mutex
	dirty map[string]struct{}
}

func NewPublisher(c PublisherConfig) *Publisher {
	p := &Publisher{
		view:     c.View,
		sinks:    c.Sinks,
		throttle: c.Throttle,
		dirty:    make(map[string]struct{}),
	}

	if p.throttle == nil {
		p.throttle = NewLocalThrottle(c.Clock, defaultPublishInterval)
	}

	c.EventBus.Subscribe(domain.EventNameSessionChanged, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventSessionChanged)
		return p.Publish(ctx, ev.Session.SessionID, ev.Name())
	})
	c.EventBus.Subscribe(domain.EventNameParticipantJoined, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventParticipantJoined)
		return p.schedulePublish(ctx, ev.Participant.SessionID, ev.Name())
	})
	c.EventBus.Subscribe(domain.EventNameAnswerScored, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventAnswerScored)
		return p.schedulePublish(ctx, ev.Answer.SessionID, ev.Name())
	})

	return p
}

func (p *Publisher) schedulePublish(ctx context.Context, sessionID, eventName string) error {
	ok, err := p.throttle.Allow(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}

	if !ok {
		p.mu.Lock()
		p.dirty[sessionID] = struct{}{}
		p.mu.Unlock()
		return nil
	}

	return p.Publish(ctx, sessionID, eventName)
}

// Publish pushes the current participant view of a session to every sink.
func (p *Publisher) Publish(ctx context.Context, sessionID, eventName string) error {
	p.mu.Lock()
	delete(p.dirty, sessionID)
	p.mu.Unlock()

	snap, err := p.view.Snapshot(ctx, SnapshotRequest{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("build snapshot: session=%s: %w", sessionID, err)
	}

	return p.deliver(ctx, Notification{
		Event:     eventName,
		SessionID: sessionID,
		Snapshot:  *snap,
	})
}

func (p *Publisher) deliver(ctx context.Context, n Notification) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrentSinks)

	for _, sink := range p.sinks {
		eg.Go(func() error {
			if err := sink.Deliver(ctx, n); err != nil {
				slog.ErrorContext(ctx, "liveview: deliver failed",
					"sink", sink.Name(),
					"session_id", n.SessionID,
					"error", err,
				)
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			telemetry.RecordSnapshotPublished(sink.Name())
			return nil
		})
	}

	return eg.Wait()
}

// Flush pushes every session whose last update was throttled.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := p.Publish(ctx, id, EventTick); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("flush %d sessions: %w", len(errs), errs[0])
	}
	return nil
}

// LocalThrottle allows one push per session per interval within this process.
type LocalThrottle struct {
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewLocalThrottle(c clock.Clock, interval time.Duration) *LocalThrottle {
	if c == nil {
		c = clock.Real()
	}
	return &LocalThrottle{
		clock:    c,
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

func (t *LocalThrottle) Allow(_ context.Context, sessionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if last, ok := t.last[sessionID]; ok && now.Sub(last) < t.interval {
		return false, nil
	}
	t.last[sessionID] = now

	// Sessions quiet for 100 intervals are forgotten.
	for id, last := range t.last {
		if now.Sub(last) > 100*t.interval {
			delete(t.last, id)
		}
	}
	return true, nil
}
