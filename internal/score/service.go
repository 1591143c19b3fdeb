package score

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
	"github.com/victornm/geeko/internal/event"
	"github.com/victornm/geeko/internal/session"
	"github.com/victornm/geeko/internal/telemetry"
)

// Store records answers. RecordAnswer must insert the answer and update the participant
// in one atomic step, running guard under the session's shared lock, and reject a second
// answer for the same question and participant with ErrAlreadyAnswered.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error)
	RecordAnswer(ctx context.Context, a domain.Answer, guard func(s domain.Session) error) (domain.Participant, error)
}

type Config struct {
	Store    Store
	EventBus *event.Bus
	Clock    clock.Clock
	// Policy scores sessions with the speed bonus on. Defaults to DefaultPolicy.
	Policy Policy
}

type Service struct {
	store  Store
	eb     *event.Bus
	clock  clock.Clock
	policy Policy
}

func NewService(c Config) *Service {
	s := &Service{
		store:  c.Store,
		eb:     c.EventBus,
		clock:  c.Clock,
		policy: c.Policy,
	}

	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.policy == nil {
		s.policy = DefaultPolicy
	}

	return s
}

type SubmitAnswerRequest struct {
	SessionID     string
	ParticipantID string
	QuestionID    string
	Selection     domain.Selection
}

type SubmitAnswerResponse struct {
	Answer domain.Answer
	// Participant carries the aggregates after this answer.
	Participant domain.Participant
}

// SubmitAnswer judges and scores an answer to the active question, and adds it to the
// participant's aggregates. Each participant answers a question at most once.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	res, err := s.submitAnswer(ctx, req)
	if err != nil {
		if errors.ReasonOf(err) != "" {
			slog.InfoContext(ctx, "score: answer rejected",
				"session_id", req.SessionID,
				"participant_id", req.ParticipantID,
				"question_id", req.QuestionID,
				"reason", errors.ReasonOf(err),
			)
			telemetry.RecordRejection("submit", err)
		}
		return nil, err
	}

	telemetry.RecordAnswer(res.Answer.IsCorrect)

	s.eb.Publish(ctx, domain.EventAnswerScored{
		Answer:      res.Answer,
		Participant: res.Participant,
	})

	return res, nil
}

func (s *Service) submitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	now := s.clock.Now()

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status.Terminal() {
		return nil, errors.Because(errors.ReasonSessionClosed,
			errors.WithMessagef("session %s is %s", ss.SessionID, ss.Status))
	}
	if ss.Status == domain.StatusWaiting {
		return nil, errors.Because(errors.ReasonQuestionClosed,
			errors.WithMessagef("session %s has not started", ss.SessionID))
	}

	member, err := s.store.GetParticipant(ctx, ss.SessionID, req.ParticipantID)
	if err != nil {
		return nil, err
	}

	q, ok := ss.Set.Question(req.QuestionID)
	if !ok {
		return nil, errors.Because(errors.ReasonNotFound,
			errors.WithMessagef("question not found: session=%s question=%s", ss.SessionID, req.QuestionID))
	}
	if q.OrderIndex != ss.QuestionIndex {
		return nil, errors.Because(errors.ReasonStaleQuestion,
			errors.WithMessagef("question %s is not active, session is at question %d", q.QuestionID, ss.QuestionIndex))
	}

	w, ok := session.Window(ss)
	if !ok || w.Expired(now) {
		return nil, errors.Because(errors.ReasonQuestionClosed,
			errors.WithMessagef("time is up for question %s", q.QuestionID))
	}

	if !session.Eligible(ss, member) {
		return nil, errors.Because(errors.ReasonQuestionClosed,
			errors.WithMessagef("participant %s joined after question %s opened", member.ParticipantID, q.QuestionID))
	}

	if err := ValidateSelection(q, req.Selection); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate answer ID: %w", err)
	}

	policy := s.policy
	if !ss.Settings.SpeedBonus {
		policy = Flat{}
	}

	elapsed := w.Elapsed(now)
	correct := Correct(q, req.Selection)
	a := domain.Answer{
		AnswerID:      id.String(),
		SessionID:     ss.SessionID,
		QuestionID:    q.QuestionID,
		QuestionIndex: q.OrderIndex,
		ParticipantID: req.ParticipantID,
		Selection:     req.Selection,
		IsCorrect:     correct,
		Points:        policy.Points(q.PointBudget, elapsed, w.Limit, correct),
		Latency:       elapsed,
		AnsweredAt:    now,
	}

	p, err := s.store.RecordAnswer(ctx, a, func(cur domain.Session) error {
		return stillOpen(cur, a, w)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "score: answer recorded",
		"session_id", a.SessionID,
		"participant_id", a.ParticipantID,
		"question_id", a.QuestionID,
		"correct", a.IsCorrect,
		"points", a.Points,
		"total_score", p.TotalScore,
	)

	return &SubmitAnswerResponse{
		Answer:      a,
		Participant: p,
	}, nil
}

// stillOpen rejects an answer whose question was closed by a transition that committed
// after the answer was judged.
func stillOpen(cur domain.Session, a domain.Answer, judged clock.Armed) error {
	if cur.Status.Terminal() {
		return errors.Because(errors.ReasonSessionClosed,
			errors.WithMessagef("session %s is %s", cur.SessionID, cur.Status))
	}

	w, ok := session.Window(cur)
	if !ok || cur.QuestionIndex != a.QuestionIndex || !w.StartedAt.Equal(judged.StartedAt) {
		return errors.Because(errors.ReasonStaleQuestion,
			errors.WithMessagef("session %s moved past question %s", cur.SessionID, a.QuestionID))
	}
	return nil
}
