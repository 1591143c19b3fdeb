package domain

const (
	EventNameSessionChanged    = "session.changed"
	EventNameParticipantJoined = "participant.joined"
	EventNameAnswerScored      = "answer.scored"
)

// EventSessionChanged is published after every successful state machine transition.
type EventSessionChanged struct {
	Session Session
	From    SessionStatus
}

func (EventSessionChanged) Name() string { return EventNameSessionChanged }

type EventParticipantJoined struct {
	Participant Participant
}

func (EventParticipantJoined) Name() string { return EventNameParticipantJoined }

type EventAnswerScored struct {
	Answer      Answer
	Participant Participant
}

func (EventAnswerScored) Name() string { return EventNameAnswerScored }
