package api

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/liveview"
	"github.com/victornm/geeko/internal/participant"
	"github.com/victornm/geeko/internal/score"
	"github.com/victornm/geeko/internal/session"
)

type Config struct {
	GRPC        *grpc.Server
	Session     *session.Service
	Participant *participant.Service
	Score       *score.Service
	View        *liveview.Service
}

// API exposes the engine operations. The same methods back the gRPC service, the HTTP
// routes and the inbound messages of the live socket.
type API struct {
	ss *session.Service
	ps *participant.Service
	sc *score.Service
	lv *liveview.Service
}

func New(c Config) *API {
	a := &API{
		ss: c.Session,
		ps: c.Participant,
		sc: c.Score,
		lv: c.View,
	}

	if c.GRPC != nil {
		RegisterGeekoServer(c.GRPC, a)
	}

	return a
}

type (
	Session struct {
		SessionID         string               `json:"session_id"`
		QuestionSetID     string               `json:"question_set_id"`
		Code              string               `json:"code"`
		HostID            string               `json:"host_id"`
		Status            domain.SessionStatus `json:"status"`
		QuestionIndex     int                  `json:"question_index"`
		QuestionCount     int                  `json:"question_count"`
		QuestionStartedAt *time.Time           `json:"question_started_at,omitempty"`
		CreatedAt         time.Time            `json:"created_at"`
		StartedAt         *time.Time           `json:"started_at,omitempty"`
		EndedAt           *time.Time           `json:"ended_at,omitempty"`
		Settings          domain.Settings      `json:"settings"`
	}

	Participant struct {
		ParticipantID  string         `json:"participant_id"`
		SessionID      string         `json:"session_id"`
		IdentityID     string         `json:"identity_id"`
		Nickname       string         `json:"nickname"`
		TotalScore     int            `json:"total_score"`
		CorrectCount   int            `json:"correct_count"`
		WrongCount     int            `json:"wrong_count"`
		QuestionScores map[string]int `json:"question_scores"`
		JoinedAt       time.Time      `json:"joined_at"`
	}

	Answer struct {
		AnswerID       string           `json:"answer_id"`
		QuestionID     string           `json:"question_id"`
		QuestionIndex  int              `json:"question_index"`
		Selection      domain.Selection `json:"selection"`
		IsCorrect      bool             `json:"is_correct"`
		Points         int              `json:"points"`
		LatencySeconds float64          `json:"latency_seconds"`
		AnsweredAt     time.Time        `json:"answered_at"`
	}
)

func toSession(ss *domain.Session) *Session {
	return &Session{
		SessionID:         ss.SessionID,
		QuestionSetID:     ss.QuestionSetID,
		Code:              ss.Code,
		HostID:            ss.HostID,
		Status:            ss.Status,
		QuestionIndex:     ss.QuestionIndex,
		QuestionCount:     len(ss.Set.Questions),
		QuestionStartedAt: ss.QuestionStartedAt,
		CreatedAt:         ss.CreatedAt,
		StartedAt:         ss.StartedAt,
		EndedAt:           ss.EndedAt,
		Settings:          ss.Settings,
	}
}

func toParticipant(p domain.Participant) *Participant {
	return &Participant{
		ParticipantID:  p.ParticipantID,
		SessionID:      p.SessionID,
		IdentityID:     p.IdentityID,
		Nickname:       p.Nickname,
		TotalScore:     p.TotalScore,
		CorrectCount:   p.CorrectCount,
		WrongCount:     p.WrongCount,
		QuestionScores: p.QuestionScores,
		JoinedAt:       p.JoinedAt,
	}
}

type CreateSessionRequest struct {
	QuestionSetID string           `json:"question_set_id"`
	HostID        string           `json:"host_id"`
	Settings      *domain.Settings `json:"settings,omitempty"`
}

type SessionResponse struct {
	Session *Session `json:"session"`
}

func (a *API) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionResponse, error) {
	ss, err := a.ss.CreateSession(ctx, session.CreateSessionRequest{
		QuestionSetID: req.QuestionSetID,
		HostID:        req.HostID,
		Settings:      req.Settings,
	})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

type JoinSessionRequest struct {
	Code       string `json:"code"`
	IdentityID string `json:"identity_id"`
	Nickname   string `json:"nickname"`
}

type JoinSessionResponse struct {
	Participant *Participant `json:"participant"`
	Rejoined    bool         `json:"rejoined"`
}

func (a *API) JoinSession(ctx context.Context, req *JoinSessionRequest) (*JoinSessionResponse, error) {
	res, err := a.ps.JoinSession(ctx, participant.JoinSessionRequest{
		Code:       req.Code,
		IdentityID: req.IdentityID,
		Nickname:   req.Nickname,
	})
	if err != nil {
		return nil, err
	}

	return &JoinSessionResponse{
		Participant: toParticipant(res.Participant),
		Rejoined:    res.Rejoined,
	}, nil
}

// HostRequest addresses a host-only transition.
type HostRequest struct {
	SessionID string `json:"session_id"`
	HostID    string `json:"host_id"`
	// FromIndex is only read by AdvanceQuestion.
	FromIndex *int `json:"from_index,omitempty"`
}

func (a *API) StartSession(ctx context.Context, req *HostRequest) (*SessionResponse, error) {
	ss, err := a.ss.StartSession(ctx, session.StartSessionRequest{SessionID: req.SessionID, HostID: req.HostID})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

func (a *API) AdvanceQuestion(ctx context.Context, req *HostRequest) (*SessionResponse, error) {
	ss, err := a.ss.AdvanceQuestion(ctx, session.AdvanceQuestionRequest{
		SessionID: req.SessionID,
		HostID:    req.HostID,
		FromIndex: req.FromIndex,
	})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

func (a *API) CancelSession(ctx context.Context, req *HostRequest) (*SessionResponse, error) {
	ss, err := a.ss.CancelSession(ctx, session.CancelSessionRequest{SessionID: req.SessionID, HostID: req.HostID})
	if err != nil {
		return nil, err
	}

	return &SessionResponse{Session: toSession(ss)}, nil
}

type SubmitAnswerRequest struct {
	SessionID     string           `json:"session_id"`
	ParticipantID string           `json:"participant_id"`
	QuestionID    string           `json:"question_id"`
	Selection     domain.Selection `json:"selection"`
}

type SubmitAnswerResponse struct {
	Answer      *Answer      `json:"answer"`
	Participant *Participant `json:"participant"`
}

func (a *API) SubmitAnswer(ctx context.Context, req *SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	res, err := a.sc.SubmitAnswer(ctx, score.SubmitAnswerRequest{
		SessionID:     req.SessionID,
		ParticipantID: req.ParticipantID,
		QuestionID:    req.QuestionID,
		Selection:     req.Selection,
	})
	if err != nil {
		return nil, err
	}

	return &SubmitAnswerResponse{
		Answer: &Answer{
			AnswerID:       res.Answer.AnswerID,
			QuestionID:     res.Answer.QuestionID,
			QuestionIndex:  res.Answer.QuestionIndex,
			Selection:      res.Answer.Selection,
			IsCorrect:      res.Answer.IsCorrect,
			Points:         res.Answer.Points,
			LatencySeconds: res.Answer.Latency.Seconds(),
			AnsweredAt:     res.Answer.AnsweredAt,
		},
		Participant: toParticipant(res.Participant),
	}, nil
}

type GetSnapshotRequest struct {
	SessionID string `json:"session_id"`
	ViewerID  string `json:"viewer_id"`
}

func (a *API) GetSnapshot(ctx context.Context, req *GetSnapshotRequest) (*domain.Snapshot, error) {
	return a.lv.Snapshot(ctx, liveview.SnapshotRequest{SessionID: req.SessionID, ViewerID: req.ViewerID})
}

type GetFinalResultsRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) GetFinalResults(ctx context.Context, req *GetFinalResultsRequest) (*domain.FinalResults, error) {
	return a.lv.FinalResults(ctx, liveview.FinalResultsRequest{SessionID: req.SessionID})
}

// participantOf checks that participantID took part in the session, for the live socket.
func (a *API) participantOf(ctx context.Context, sessionID, participantID string) (*domain.Participant, error) {
	return a.ps.GetParticipant(ctx, participant.GetParticipantRequest{SessionID: sessionID, ParticipantID: participantID})
}
