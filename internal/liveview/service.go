// Package liveview serves the read model of running sessions and pushes it to connected clients.
package liveview

import (
	"context"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
)

type Store interface {
	// LoadSessionState reads a session and everything recorded in it without interleaving a transition.
	LoadSessionState(ctx context.Context, sessionID string) (domain.SessionState, error)
	// ListActiveSessions returns the in-progress sessions.
	ListActiveSessions(ctx context.Context) ([]domain.Session, error)
}

type Config struct {
	Store Store
	Clock clock.Clock
	// LeaderboardSize caps the leaderboard shown to participants. Zero shows everybody.
	LeaderboardSize int
}

type Service struct {
	store           Store
	clock           clock.Clock
	leaderboardSize int
}

func NewService(c Config) *Service {
	s := &Service{
		store:           c.Store,
		clock:           c.Clock,
		leaderboardSize: c.LeaderboardSize,
	}

	if s.clock == nil {
		s.clock = clock.Real()
	}

	return s
}

type SnapshotRequest struct {
	SessionID string
	// ViewerID is the identity asking. The host gets the host view.
	ViewerID string
}

// Snapshot returns the current state of a session, computed at the time of the call.
func (s *Service) Snapshot(ctx context.Context, req SnapshotRequest) (*domain.Snapshot, error) {
	st, err := s.store.LoadSessionState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	snap := BuildSnapshot(st, req.ViewerID, s.clock.Now(), s.leaderboardSize)
	return &snap, nil
}

type FinalResultsRequest struct {
	SessionID string
}

// FinalResults returns the final leaderboard and per-question statistics of an ended session.
func (s *Service) FinalResults(ctx context.Context, req FinalResultsRequest) (*domain.FinalResults, error) {
	st, err := s.store.LoadSessionState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	res, err := BuildResults(st)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ActiveSessions lists the sessions a watcher should keep refreshing.
func (s *Service) ActiveSessions(ctx context.Context) ([]domain.Session, error) {
	return s.store.ListActiveSessions(ctx)
}
