package domain

import "time"

// Snapshot is the consistent read model of a session served to hosts and participants.
type Snapshot struct {
	SessionID         string             `json:"session_id"`
	Code              string             `json:"code"`
	Status            SessionStatus      `json:"status"`
	QuestionIndex     int                `json:"question_index"`
	QuestionCount     int                `json:"question_count"`
	Question          *QuestionView      `json:"question,omitempty"`
	QuestionClosed    bool               `json:"question_closed"`
	RemainingSeconds  float64            `json:"remaining_seconds"`
	Deadline          *time.Time         `json:"deadline,omitempty"`
	ServerTime        time.Time          `json:"server_time"`
	AnsweredCount     int                `json:"answered_count"`
	TotalParticipants int                `json:"total_participants"`
	Tally             []int              `json:"tally,omitempty"`
	Leaderboard       []LeaderboardEntry `json:"leaderboard"`
}

// QuestionView is a question as shown to players. CorrectAnswer is only set once it may be revealed.
type QuestionView struct {
	QuestionID       string       `json:"question_id"`
	Index            int          `json:"index"`
	Text             string       `json:"text"`
	MediaRef         string       `json:"media_ref,omitempty"`
	Kind             QuestionKind `json:"kind"`
	Options          []string     `json:"options,omitempty"`
	PointBudget      int          `json:"point_budget"`
	TimeLimitSeconds int          `json:"time_limit_seconds"`
	CorrectAnswer    *AnswerKey   `json:"correct_answer,omitempty"`
}

// LeaderboardEntry is one ranked participant. IdentityID and LastActivityAt are host-only.
type LeaderboardEntry struct {
	Rank           int        `json:"rank"`
	ParticipantID  string     `json:"participant_id"`
	Nickname       string     `json:"nickname"`
	TotalScore     int        `json:"total_score"`
	CorrectCount   int        `json:"correct_count"`
	WrongCount     int        `json:"wrong_count"`
	JoinedAt       time.Time  `json:"joined_at"`
	IdentityID     string     `json:"identity_id,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// FinalResults is the historical view of a terminal session.
type FinalResults struct {
	SessionID   string             `json:"session_id"`
	Status      SessionStatus      `json:"status"`
	EndedAt     *time.Time         `json:"ended_at,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Questions   []QuestionStats    `json:"questions"`
}

type QuestionStats struct {
	QuestionID            string    `json:"question_id"`
	Index                 int       `json:"index"`
	Text                  string    `json:"text"`
	Answered              int       `json:"answered"`
	Correct               int       `json:"correct"`
	Wrong                 int       `json:"wrong"`
	AverageLatencySeconds float64   `json:"average_latency_seconds"`
	Tally                 []int     `json:"tally,omitempty"`
	CorrectAnswer         AnswerKey `json:"correct_answer"`
}
