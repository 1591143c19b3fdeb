package participant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
	"github.com/victornm/geeko/internal/event"
	"github.com/victornm/geeko/internal/telemetry"
)

const MaxNicknameLength = 32

// Store registers participants. AddParticipant evaluates admit and the identity lookup
// under the session's shared lock, so a join never races a transition.
type Store interface {
	AddParticipant(ctx context.Context, sessionID string, p domain.Participant, admit func(s domain.Session, rejoin bool) error) (domain.Participant, bool, error)
	GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

// Sessions resolves join codes.
type Sessions interface {
	ResolveCode(ctx context.Context, code string) (*domain.Session, error)
}

type Config struct {
	Store    Store
	Sessions Sessions
	EventBus *event.Bus
	Clock    clock.Clock
}

type Service struct {
	store    Store
	sessions Sessions
	eb       *event.Bus
	clock    clock.Clock
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		sessions: c.Sessions,
		eb:       c.EventBus,
		clock:    c.Clock,
	}

	if s.clock == nil {
		s.clock = clock.Real()
	}

	return s
}

type JoinSessionRequest struct {
	Code       string
	IdentityID string
	Nickname   string
}

type JoinSessionResponse struct {
	Participant domain.Participant
	// Rejoined is true when the identity was already registered and its record was returned.
	Rejoined bool
}

// JoinSession admits an identity into the session behind a join code.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*JoinSessionResponse, error) {
	if req.IdentityID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("identity is required"))
	}
	nickname := strings.TrimSpace(req.Nickname)
	if n := utf8.RuneCountInString(nickname); n == 0 || n > MaxNicknameLength {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("nickname must be 1 to %d characters", MaxNicknameLength))
	}

	ss, err := s.sessions.ResolveCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate participant ID: %w", err)
	}

	now := s.clock.Now()
	p, created, err := s.store.AddParticipant(ctx, ss.SessionID, domain.Participant{
		ParticipantID:  id.String(),
		SessionID:      ss.SessionID,
		IdentityID:     req.IdentityID,
		Nickname:       nickname,
		JoinedAt:       now,
		LastActivityAt: now,
		QuestionScores: map[string]int{},
	}, Admit)
	if err != nil {
		if errors.ReasonOf(err) != "" {
			telemetry.RecordRejection("join", err)
		}
		return nil, err
	}

	if !created {
		slog.InfoContext(ctx, "participant: rejoined",
			"session_id", p.SessionID,
			"participant_id", p.ParticipantID,
		)
		return &JoinSessionResponse{Participant: p, Rejoined: true}, nil
	}

	slog.InfoContext(ctx, "participant: joined",
		"session_id", p.SessionID,
		"participant_id", p.ParticipantID,
		"status", ss.Status,
	)
	telemetry.RecordJoin()

	s.eb.Publish(ctx, domain.EventParticipantJoined{
		Participant: p,
	})

	return &JoinSessionResponse{Participant: p}, nil
}

// Admit decides whether an identity may enter the session in its current state.
// Known identities get their record back as long as the session is not over.
func Admit(ss domain.Session, rejoin bool) error {
	notJoinable := func(format string, args ...any) error {
		return errors.Because(errors.ReasonSessionNotJoinable, errors.WithMessagef(format, args...))
	}

	switch {
	case ss.Status.Terminal():
		return notJoinable("session %s is %s", ss.SessionID, ss.Status)
	case rejoin, ss.Status == domain.StatusWaiting:
		return nil
	case !ss.Settings.AllowLateJoin:
		return notJoinable("session %s does not admit late joins", ss.SessionID)
	case ss.Settings.LateJoinCutoff > 0 && ss.QuestionIndex >= ss.Settings.LateJoinCutoff:
		return notJoinable("session %s closed late joins at question %d", ss.SessionID, ss.Settings.LateJoinCutoff)
	}
	return nil
}

type GetParticipantRequest struct {
	SessionID     string
	ParticipantID string
}

func (s *Service) GetParticipant(ctx context.Context, req GetParticipantRequest) (*domain.Participant, error) {
	p, err := s.store.GetParticipant(ctx, req.SessionID, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type ListParticipantsRequest struct {
	SessionID string
}

// ListParticipants returns the participants of a session in join order.
func (s *Service) ListParticipants(ctx context.Context, req ListParticipantsRequest) ([]domain.Participant, error) {
	return s.store.ListParticipants(ctx, req.SessionID)
}
