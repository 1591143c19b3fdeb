package session

import (
	"time"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

// The functions below are the transitions of the state machine. They mutate the session
// in place and never touch storage, the store decides whether the result is persisted.

func authorize(s *domain.Session, hostID string) error {
	if s.HostID != hostID {
		return errors.Because(errors.ReasonNotAuthorized,
			errors.WithMessagef("only the host can control session %s", s.SessionID))
	}
	if s.Status.Terminal() {
		return errors.Because(errors.ReasonSessionClosed,
			errors.WithMessagef("session %s is %s", s.SessionID, s.Status))
	}
	return nil
}

func start(s *domain.Session, set domain.QuestionSet, now time.Time) error {
	if s.Status != domain.StatusWaiting {
		return errors.Because(errors.ReasonInvalidTransition,
			errors.WithMessagef("cannot start session %s in status %s", s.SessionID, s.Status))
	}
	if len(set.Questions) == 0 {
		return errors.Because(errors.ReasonInvalidTransition,
			errors.WithMessagef("question set %s has no questions", set.SetID))
	}

	s.Set = set
	s.Status = domain.StatusInProgress
	s.QuestionIndex = 0
	s.StartedAt = &now
	s.QuestionStartedAt = &now
	return nil
}

// advance moves to the next question, or completes the session after the last one.
// A non-nil from must equal the current index.
func advance(s *domain.Session, from *int, now time.Time) error {
	if s.Status != domain.StatusInProgress {
		return errors.Because(errors.ReasonInvalidTransition,
			errors.WithMessagef("cannot advance session %s in status %s", s.SessionID, s.Status))
	}
	if from != nil && *from != s.QuestionIndex {
		return errors.Because(errors.ReasonInvalidTransition,
			errors.WithMessagef("session %s is at question %d, not %d", s.SessionID, s.QuestionIndex, *from))
	}

	if s.QuestionIndex+1 >= len(s.Set.Questions) {
		s.Status = domain.StatusCompleted
		s.EndedAt = &now
		s.QuestionStartedAt = nil
		return nil
	}

	s.QuestionIndex++
	s.QuestionStartedAt = &now
	return nil
}

func cancel(s *domain.Session, now time.Time) error {
	if s.Status != domain.StatusWaiting && s.Status != domain.StatusInProgress {
		return errors.Because(errors.ReasonInvalidTransition,
			errors.WithMessagef("cannot cancel session %s in status %s", s.SessionID, s.Status))
	}

	s.Status = domain.StatusCancelled
	s.EndedAt = &now
	s.QuestionStartedAt = nil
	return nil
}

// Window returns the answer window of the active question.
func Window(s domain.Session) (clock.Armed, bool) {
	q, ok := s.ActiveQuestion()
	if !ok || s.QuestionStartedAt == nil {
		return clock.Armed{}, false
	}
	return clock.Arm(*s.QuestionStartedAt, s.Set.TimeLimit(q)), true
}

// QuestionClosed reports whether the active question no longer accepts answers: its time
// has run out or every eligible participant has answered it. A session without an
// active question is always closed.
func QuestionClosed(s domain.Session, now time.Time, answered, participants int) bool {
	w, ok := Window(s)
	if !ok {
		return true
	}
	if w.Expired(now) {
		return true
	}
	return participants > 0 && answered >= participants
}

// Eligible reports whether p may answer the active question. Participants who joined
// after it opened play from the next question on.
func Eligible(s domain.Session, p domain.Participant) bool {
	return s.QuestionStartedAt == nil || !p.JoinedAt.After(*s.QuestionStartedAt)
}

// EligibleCount is the number of participants who may answer the active question.
func EligibleCount(s domain.Session, ps []domain.Participant) int {
	n := 0
	for _, p := range ps {
		if Eligible(s, p) {
			n++
		}
	}
	return n
}
