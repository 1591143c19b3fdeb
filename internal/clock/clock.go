// Package clock is the time authority of the engine. The remaining time of a question is
// always derived from the server timestamp stored when the question was armed, so any
// observer computing it at the same instant gets the same value.
package clock

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source used across the engine.
type Clock = clockwork.Clock

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Armed is the start timestamp and time limit of the active question.
type Armed struct {
	StartedAt time.Time
	Limit     time.Duration
}

// Arm records now as the start of a question answer window.
func Arm(now time.Time, limit time.Duration) Armed {
	return Armed{StartedAt: now, Limit: limit}
}

// Elapsed is the time spent in the window at now, clamped to [0, Limit].
// A start timestamp in the future (clock skew between instances) counts as zero.
func (a Armed) Elapsed(now time.Time) time.Duration {
	d := now.Sub(a.StartedAt)
	switch {
	case d < 0:
		return 0
	case d > a.Limit:
		return a.Limit
	}
	return d
}

// Remaining is max(0, Limit - (now - StartedAt)).
func (a Armed) Remaining(now time.Time) time.Duration {
	return a.Limit - a.Elapsed(now)
}

func (a Armed) Expired(now time.Time) bool {
	return a.Remaining(now) == 0
}

func (a Armed) Deadline() time.Time {
	return a.StartedAt.Add(a.Limit)
}

// Seconds renders d with millisecond precision for snapshots.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
