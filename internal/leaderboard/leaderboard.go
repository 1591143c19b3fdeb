// Package leaderboard ranks the participants of a session.
package leaderboard

import (
	"sort"

	"github.com/victornm/geeko/internal/domain"
)

// Less is the leaderboard order: higher total first, then earlier join, then participant ID.
// It is a total order, so every observer ranks the same participants identically.
func Less(a, b domain.Participant) bool {
	if a.TotalScore != b.TotalScore {
		return a.TotalScore > b.TotalScore
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ParticipantID < b.ParticipantID
}

// Rank orders participants and numbers them 1..n. Ties on score get distinct ranks.
// Identity and activity are only filled in for the host.
func Rank(participants []domain.Participant, forHost bool) []domain.LeaderboardEntry {
	ps := make([]domain.Participant, len(participants))
	copy(ps, participants)
	sort.Slice(ps, func(i, j int) bool { return Less(ps[i], ps[j]) })

	entries := make([]domain.LeaderboardEntry, 0, len(ps))
	for i, p := range ps {
		e := domain.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: p.ParticipantID,
			Nickname:      p.Nickname,
			TotalScore:    p.TotalScore,
			CorrectCount:  p.CorrectCount,
			WrongCount:    p.WrongCount,
			JoinedAt:      p.JoinedAt,
		}
		if forHost {
			e.IdentityID = p.IdentityID
			lastActivity := p.LastActivityAt
			e.LastActivityAt = &lastActivity
		}
		entries = append(entries, e)
	}

	return entries
}

// Top returns at most n leading entries. n <= 0 returns all of them.
func Top(entries []domain.LeaderboardEntry, n int) []domain.LeaderboardEntry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[:n]
}
