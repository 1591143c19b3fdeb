package domain

import "time"

// QuestionKind selects the answer shape of a question and the rule used to compare answers.
type QuestionKind string

const (
	KindSingleChoice QuestionKind = "single_choice"
	KindMultiChoice  QuestionKind = "multi_choice"
	KindTrueFalse    QuestionKind = "true_false"
	KindFreeText     QuestionKind = "free_text"
)

// Choice reports whether answers to this kind are option indices.
func (k QuestionKind) Choice() bool {
	return k == KindSingleChoice || k == KindMultiChoice
}

// QuestionSet is an ordered collection of questions supplied by the authoring subsystem.
type QuestionSet struct {
	SetID                   string     `json:"set_id"`
	Title                   string     `json:"title"`
	DefaultTimeLimitSeconds int        `json:"default_time_limit_seconds"`
	Questions               []Question `json:"questions"`
}

// TimeLimit returns the answer window of q, falling back to the set default.
func (s QuestionSet) TimeLimit(q Question) time.Duration {
	if q.TimeLimitSeconds > 0 {
		return time.Duration(q.TimeLimitSeconds) * time.Second
	}
	return time.Duration(s.DefaultTimeLimitSeconds) * time.Second
}

// Question looks up a question of the set by ID.
func (s QuestionSet) Question(questionID string) (Question, bool) {
	for _, q := range s.Questions {
		if q.QuestionID == questionID {
			return q, true
		}
	}
	return Question{}, false
}

// Clone returns a deep copy of the set.
func (s QuestionSet) Clone() QuestionSet {
	qs := make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]string(nil), q.Options...)
		q.Key = AnswerKey{
			Options: append([]int(nil), q.Key.Options...),
			Truth:   q.Key.Truth,
			Texts:   append([]string(nil), q.Key.Texts...),
		}
		qs[i] = q
	}
	s.Questions = qs
	return s
}

type Question struct {
	QuestionID       string       `json:"question_id"`
	OrderIndex       int          `json:"order_index"`
	Text             string       `json:"text"`
	MediaRef         string       `json:"media_ref,omitempty"`
	Kind             QuestionKind `json:"kind"`
	Options          []string     `json:"options,omitempty"`
	Key              AnswerKey    `json:"key"`
	PointBudget      int          `json:"point_budget"`
	TimeLimitSeconds int          `json:"time_limit_seconds,omitempty"`
}

// AnswerKey holds the correct answer of a question. Which field is meaningful depends on the kind:
// Options for single and multi choice, Truth for true/false, Texts (any of) for free text.
type AnswerKey struct {
	Options []int    `json:"options,omitempty"`
	Truth   bool     `json:"truth,omitempty"`
	Texts   []string `json:"texts,omitempty"`
}

// Selection is what a participant submitted. It mirrors AnswerKey: Options for choice kinds,
// Truth for true/false and Text for free text.
type Selection struct {
	Options []int   `json:"options,omitempty"`
	Truth   *bool   `json:"truth,omitempty"`
	Text    *string `json:"text,omitempty"`
}
