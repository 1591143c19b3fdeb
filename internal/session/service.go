package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
	"github.com/victornm/geeko/internal/event"
	"github.com/victornm/geeko/internal/telemetry"
)

const defaultCodeAttempts = 10

// DefaultSettings apply when the host does not choose any.
var DefaultSettings = domain.Settings{
	ShowCorrectAnswers: true,
	SpeedBonus:         true,
}

// Store persists sessions. UpdateSession must run fn with the session exclusively locked,
// so that answers and joins evaluated under the shared lock never observe a half-applied
// transition. The session is only written when fn returns nil.
type Store interface {
	// CreateSession fails with CodeAlreadyExists when the code is held by a non-terminal session.
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// FindSessionByCode prefers the non-terminal holder of the code, then the latest terminal one.
	FindSessionByCode(ctx context.Context, code string) (domain.Session, error)
	UpdateSession(ctx context.Context, sessionID string, fn func(s *domain.Session) error) (domain.Session, error)
}

type QuestionSets interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

type Config struct {
	Store        Store
	QuestionSets QuestionSets
	EventBus     *event.Bus
	Clock        clock.Clock
	// CodeAttempts bounds the retries when a generated join code is already in use.
	CodeAttempts int
}

type Service struct {
	store        Store
	questionSets QuestionSets
	eb           *event.Bus
	clock        clock.Clock
	codeAttempts int
	newCode      func() (string, error)
}

func NewService(c Config) *Service {
	s := &Service{
		store:        c.Store,
		questionSets: c.QuestionSets,
		eb:           c.EventBus,
		clock:        c.Clock,
		codeAttempts: c.CodeAttempts,
		newCode:      NewCode,
	}

	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.codeAttempts <= 0 {
		s.codeAttempts = defaultCodeAttempts
	}

	return s
}

// CreateSessionRequest represents a request to create a new quiz session.
type CreateSessionRequest struct {
	QuestionSetID string
	// HostID is the identity reference of the host.
	HostID string
	// Settings defaults to DefaultSettings when nil.
	Settings *domain.Settings
}

// CreateSession creates a session in the lobby with a fresh join code.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.HostID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("host is required"))
	}
	if req.QuestionSetID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question set is required"))
	}

	if _, err := s.questionSets.GetQuestionSet(ctx, req.QuestionSetID); err != nil {
		return nil, err
	}

	settings := DefaultSettings
	if req.Settings != nil {
		settings = *req.Settings
	}
	if settings.LateJoinCutoff < 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("late join cutoff must not be negative"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := domain.Session{
		SessionID:     id.String(),
		QuestionSetID: req.QuestionSetID,
		HostID:        req.HostID,
		Status:        domain.StatusWaiting,
		QuestionIndex: -1,
		CreatedAt:     s.clock.Now(),
		Settings:      settings,
	}

	if err := s.insertSession(ctx, &ss); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "session: created",
		"session_id", ss.SessionID,
		"code", ss.Code,
		"question_set_id", ss.QuestionSetID,
	)
	telemetry.RecordTransition(ss.Status)

	return &ss, nil
}

func (s *Service) insertSession(ctx context.Context, ss *domain.Session) error {
	taken := errors.New(errors.CodeAlreadyExists)

	for attempt := 1; attempt <= s.codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		ss.Code = code

		err = s.store.CreateSession(ctx, *ss)
		if err == nil {
			return nil
		}
		if !errors.Is(err, taken) {
			return fmt.Errorf("insert session: %w", err)
		}

		slog.InfoContext(ctx, "session: join code collision, retrying",
			"code", code,
			"attempt", attempt,
		)
	}

	return fmt.Errorf("insert session: no free join code after %d attempts", s.codeAttempts)
}

type StartSessionRequest struct {
	SessionID string
	HostID    string
}

// StartSession freezes the question set and opens the first question.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (*domain.Session, error) {
	current, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(&current, req.HostID); err != nil {
		return nil, s.rejected(ctx, "start", req.SessionID, err)
	}

	// Loaded outside the lock. The copy is only used if the session is still waiting.
	set, err := s.questionSets.GetQuestionSet(ctx, current.QuestionSetID)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, "start", req.SessionID, func(ss *domain.Session) error {
		if err := authorize(ss, req.HostID); err != nil {
			return err
		}
		return start(ss, set, s.clock.Now())
	})
}

type AdvanceQuestionRequest struct {
	SessionID string
	HostID    string
	// FromIndex is the question index the host is looking at. The advance only happens
	// if the session is still at that index. When nil, the index read just before the
	// transition is used, so overlapping advances move the session once.
	FromIndex *int
}

// AdvanceQuestion opens the next question, or completes the session after the last one.
func (s *Service) AdvanceQuestion(ctx context.Context, req AdvanceQuestionRequest) (*domain.Session, error) {
	from := req.FromIndex
	if from == nil {
		current, err := s.store.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		from = &current.QuestionIndex
	}

	return s.transition(ctx, "advance", req.SessionID, func(ss *domain.Session) error {
		if err := authorize(ss, req.HostID); err != nil {
			return err
		}
		return advance(ss, from, s.clock.Now())
	})
}

type CancelSessionRequest struct {
	SessionID string
	HostID    string
}

// CancelSession ends the session early. Answers already scored are kept.
func (s *Service) CancelSession(ctx context.Context, req CancelSessionRequest) (*domain.Session, error) {
	return s.transition(ctx, "cancel", req.SessionID, func(ss *domain.Session) error {
		if err := authorize(ss, req.HostID); err != nil {
			return err
		}
		return cancel(ss, s.clock.Now())
	})
}

func (s *Service) transition(ctx context.Context, op, sessionID string, fn func(ss *domain.Session) error) (*domain.Session, error) {
	var from domain.SessionStatus
	ss, err := s.store.UpdateSession(ctx, sessionID, func(ss *domain.Session) error {
		from = ss.Status
		return fn(ss)
	})
	if err != nil {
		return nil, s.rejected(ctx, op, sessionID, err)
	}

	slog.InfoContext(ctx, "session: transitioned",
		"session_id", ss.SessionID,
		"operation", op,
		"from", from,
		"to", ss.Status,
		"question_index", ss.QuestionIndex,
	)
	telemetry.RecordTransition(ss.Status)

	s.eb.Publish(ctx, domain.EventSessionChanged{
		Session: ss,
		From:    from,
	})

	return &ss, nil
}

func (s *Service) rejected(ctx context.Context, op, sessionID string, err error) error {
	if r := errors.ReasonOf(err); r != "" {
		slog.InfoContext(ctx, "session: transition rejected",
			"session_id", sessionID,
			"operation", op,
			"reason", r,
		)
		telemetry.RecordRejection(op, err)
	}
	return err
}

type GetSessionRequest struct {
	SessionID string
}

func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

// ResolveCode finds the session a participant refers to by its join code.
func (s *Service) ResolveCode(ctx context.Context, code string) (*domain.Session, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed join code %q", code))
	}

	ss, err := s.store.FindSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}
