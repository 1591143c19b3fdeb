package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further writes are accepted in this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Settings are the per-session policy switches chosen by the host.
type Settings struct {
	// AllowLateJoin admits new participants while the session is in progress.
	AllowLateJoin bool `json:"allow_late_join"`
	// LateJoinCutoff closes late joins once this question index is reached. Zero means no cutoff.
	LateJoinCutoff int `json:"late_join_cutoff"`
	// ShowCorrectAnswers reveals the answer key in snapshots once a question is closed.
	ShowCorrectAnswers bool `json:"show_correct_answers"`
	// RevealTallyEarly shows per-option counts to participants before the question closes.
	RevealTallyEarly bool `json:"reveal_tally_early"`
	// SpeedBonus makes faster correct answers worth more.
	SpeedBonus bool `json:"speed_bonus"`
}

// Session represents one run of a question set, from lobby to completion.
type Session struct {
	SessionID         string
	QuestionSetID     string
	Code              string
	HostID            string
	Status            SessionStatus
	QuestionIndex     int
	QuestionStartedAt *time.Time
	CreatedAt         time.Time
	StartedAt         *time.Time
	EndedAt           *time.Time
	Settings          Settings

	// Set is the question set frozen when the session started. It is shared
	// between copies of the session and must not be mutated.
	Set QuestionSet
}

// ActiveQuestion returns the question currently being played.
func (s Session) ActiveQuestion() (Question, bool) {
	if s.Status != StatusInProgress || s.QuestionIndex < 0 || s.QuestionIndex >= len(s.Set.Questions) {
		return Question{}, false
	}
	return s.Set.Questions[s.QuestionIndex], true
}

// Participant is a player registered in a session together with their running aggregates.
type Participant struct {
	ParticipantID  string
	SessionID      string
	IdentityID     string
	Nickname       string
	TotalScore     int
	CorrectCount   int
	WrongCount     int
	JoinedAt       time.Time
	LastActivityAt time.Time

	// QuestionScores maps question ID to the points earned for it.
	QuestionScores map[string]int
}

// Clone returns a copy that does not share the score map.
func (p Participant) Clone() Participant {
	scores := make(map[string]int, len(p.QuestionScores))
	for k, v := range p.QuestionScores {
		scores[k] = v
	}
	p.QuestionScores = scores
	return p
}

// Answer is a single scored submission. Answers are written once and never updated.
type Answer struct {
	AnswerID      string
	SessionID     string
	QuestionID    string
	QuestionIndex int
	ParticipantID string
	Selection     Selection
	IsCorrect     bool
	Points        int
	Latency       time.Duration
	AnsweredAt    time.Time
}

// SessionState is a session read together with everything recorded in it, in join and
// answer order.
type SessionState struct {
	Session      Session
	Participants []Participant
	Answers      []Answer
}
