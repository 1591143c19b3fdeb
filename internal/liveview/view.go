package liveview

import (
	"time"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
	"github.com/victornm/geeko/internal/leaderboard"
	"github.com/victornm/geeko/internal/session"
)

// BuildSnapshot renders the state of a session as seen by viewerID at now. The host
// sees the tally at any time and the host-only leaderboard fields. leaderboardSize
// caps the leaderboard of other viewers, zero means no cap.
func BuildSnapshot(st domain.SessionState, viewerID string, now time.Time, leaderboardSize int) domain.Snapshot {
	ss := st.Session
	host := viewerID != "" && viewerID == ss.HostID

	snap := domain.Snapshot{
		SessionID:         ss.SessionID,
		Code:              ss.Code,
		Status:            ss.Status,
		QuestionIndex:     ss.QuestionIndex,
		QuestionCount:     len(ss.Set.Questions),
		QuestionClosed:    true,
		ServerTime:        now,
		TotalParticipants: len(st.Participants),
	}

	board := leaderboard.Rank(st.Participants, host)
	if !host {
		board = leaderboard.Top(board, leaderboardSize)
	}
	snap.Leaderboard = board

	q, ok := ss.ActiveQuestion()
	if !ok {
		return snap
	}

	answers := answersTo(st.Answers, q.QuestionID)
	snap.AnsweredCount = len(answers)
	snap.QuestionClosed = session.QuestionClosed(ss, now, len(answers), session.EligibleCount(ss, st.Participants))

	if w, ok := session.Window(ss); ok {
		snap.RemainingSeconds = clock.Seconds(w.Remaining(now))
		deadline := w.Deadline()
		snap.Deadline = &deadline
	}

	view := questionView(ss.Set, q)
	if snap.QuestionClosed && ss.Settings.ShowCorrectAnswers {
		key := cloneKey(q.Key)
		view.CorrectAnswer = &key
	}
	snap.Question = &view

	if host || snap.QuestionClosed || ss.Settings.RevealTallyEarly {
		snap.Tally = tally(q, answers)
	}

	return snap
}

// BuildResults renders the final results of a terminal session.
func BuildResults(st domain.SessionState) (domain.FinalResults, error) {
	ss := st.Session
	if !ss.Status.Terminal() {
		return domain.FinalResults{}, errors.Because(errors.ReasonInvalidTransition,
			errors.WithMessagef("session %s is still %s", ss.SessionID, ss.Status))
	}

	res := domain.FinalResults{
		SessionID:   ss.SessionID,
		Status:      ss.Status,
		EndedAt:     ss.EndedAt,
		Leaderboard: leaderboard.Rank(st.Participants, false),
		Questions:   make([]domain.QuestionStats, 0, len(ss.Set.Questions)),
	}

	for _, q := range ss.Set.Questions {
		answers := answersTo(st.Answers, q.QuestionID)
		stats := domain.QuestionStats{
			QuestionID:    q.QuestionID,
			Index:         q.OrderIndex,
			Text:          q.Text,
			Answered:      len(answers),
			Tally:         tally(q, answers),
			CorrectAnswer: cloneKey(q.Key),
		}

		var latency time.Duration
		for _, a := range answers {
			if a.IsCorrect {
				stats.Correct++
			} else {
				stats.Wrong++
			}
			latency += a.Latency
		}
		if len(answers) > 0 {
			stats.AverageLatencySeconds = clock.Seconds(latency / time.Duration(len(answers)))
		}

		res.Questions = append(res.Questions, stats)
	}

	return res, nil
}

func answersTo(all []domain.Answer, questionID string) []domain.Answer {
	var out []domain.Answer
	for _, a := range all {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out
}

func questionView(set domain.QuestionSet, q domain.Question) domain.QuestionView {
	return domain.QuestionView{
		QuestionID:       q.QuestionID,
		Index:            q.OrderIndex,
		Text:             q.Text,
		MediaRef:         q.MediaRef,
		Kind:             q.Kind,
		Options:          append([]string(nil), q.Options...),
		PointBudget:      q.PointBudget,
		TimeLimitSeconds: int(set.TimeLimit(q) / time.Second),
	}
}

// tally counts answers per option. True/false counts true at index 0. Free text has no tally.
func tally(q domain.Question, answers []domain.Answer) []int {
	switch {
	case q.Kind.Choice():
		counts := make([]int, len(q.Options))
		for _, a := range answers {
			for _, o := range a.Selection.Options {
				if o >= 0 && o < len(counts) {
					counts[o]++
				}
			}
		}
		return counts
	case q.Kind == domain.KindTrueFalse:
		counts := make([]int, 2)
		for _, a := range answers {
			if a.Selection.Truth == nil {
				continue
			}
			if *a.Selection.Truth {
				counts[0]++
			} else {
				counts[1]++
			}
		}
		return counts
	}
	return nil
}

func cloneKey(k domain.AnswerKey) domain.AnswerKey {
	return domain.AnswerKey{
		Options: append([]int(nil), k.Options...),
		Truth:   k.Truth,
		Texts:   append([]string(nil), k.Texts...),
	}
}
