package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/codes"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

const namespace = "geeko"

var (
	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Sessions entering a status.",
	}, []string{"status"})

	answersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_scored_total",
		Help:      "Accepted answers by correctness.",
	}, []string{"correct"})

	participantsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "participants_joined_total",
		Help:      "New participants admitted to a session.",
	})

	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejections_total",
		Help:      "Operations refused by an engine rule.",
	}, []string{"operation", "reason"})

	snapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_published_total",
		Help:      "Live snapshots delivered per sink.",
	}, []string{"sink"})
)

func RecordTransition(to domain.SessionStatus) {
	sessionTransitions.WithLabelValues(string(to)).Inc()
}

func RecordAnswer(correct bool) {
	answersScored.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func RecordJoin() {
	participantsJoined.Inc()
}

// RecordRejection counts err under its reason, or its code when it carries none.
func RecordRejection(op string, err error) {
	reason := string(errors.ReasonOf(err))
	if reason == "" {
		reason = codes.Code(errors.Convert(err).Code).String()
	}
	rejections.WithLabelValues(op, reason).Inc()
}

func RecordSnapshotPublished(sink string) {
	snapshotsPublished.WithLabelValues(sink).Inc()
}
