package score_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/score"
)

func TestSpeedDecay_Points(t *testing.T) {
	const limit = 20 * time.Second

	tests := map[string]struct {
		policy  score.Policy
		elapsed time.Duration
		correct bool
		want    int
	}{
		"instant":                          {policy: score.DefaultPolicy, elapsed: 0, correct: true, want: 1000},
		"one quarter":                      {policy: score.DefaultPolicy, elapsed: 5 * time.Second, correct: true, want: 875},
		"on the deadline":                  {policy: score.DefaultPolicy, elapsed: limit, correct: true, want: 500},
		"past the deadline is clamped":     {policy: score.DefaultPolicy, elapsed: time.Minute, correct: true, want: 500},
		"three seconds":                    {policy: score.DefaultPolicy, elapsed: 3 * time.Second, correct: true, want: 925},
		"wrong":                            {policy: score.DefaultPolicy, elapsed: 0, correct: false, want: 0},
		"full penalty reaches zero":        {policy: score.SpeedDecay{MaxPenalty: decimal.NewFromInt(1)}, elapsed: limit, correct: true, want: 0},
		"penalty above one floors at zero": {policy: score.SpeedDecay{MaxPenalty: decimal.NewFromInt(3)}, elapsed: limit, correct: true, want: 0},
		"flat ignores time":                {policy: score.Flat{}, elapsed: 19 * time.Second, correct: true, want: 1000},
		"flat wrong":                       {policy: score.Flat{}, elapsed: 0, correct: false, want: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Points(1000, tt.elapsed, limit, tt.correct))
		})
	}

	// 1000 * (1 - 0.5 * 7/20) = 825
	assert.Equal(t, 825, score.DefaultPolicy.Points(1000, 7*time.Second, limit, true))
	// 999 * (1 - 0.5 * 1/3) = 832.5
	assert.Equal(t, 832, score.DefaultPolicy.Points(999, 10*time.Second, 30*time.Second, true))
}

func TestCorrect(t *testing.T) {
	single := domain.Question{Kind: domain.KindSingleChoice, Options: []string{"a", "b", "c"}, Key: domain.AnswerKey{Options: []int{2}}}
	multi := domain.Question{Kind: domain.KindMultiChoice, Options: []string{"a", "b", "c", "d"}, Key: domain.AnswerKey{Options: []int{0, 3}}}
	truth := domain.Question{Kind: domain.KindTrueFalse, Options: []string{"True", "False"}, Key: domain.AnswerKey{Truth: false}}
	text := domain.Question{Kind: domain.KindFreeText, Key: domain.AnswerKey{Texts: []string{"Straße", "New  York"}}}

	tests := map[string]struct {
		q    domain.Question
		sel  domain.Selection
		want bool
	}{
		"single match":            {q: single, sel: domain.Selection{Options: []int{2}}, want: true},
		"single miss":             {q: single, sel: domain.Selection{Options: []int{1}}},
		"multi in any order":      {q: multi, sel: domain.Selection{Options: []int{3, 0}}, want: true},
		"multi subset is wrong":   {q: multi, sel: domain.Selection{Options: []int{0}}},
		"multi superset is wrong": {q: multi, sel: domain.Selection{Options: []int{0, 1, 3}}},
		"false is correct":        {q: truth, sel: domain.Selection{Truth: ptr(false)}, want: true},
		"true is wrong":           {q: truth, sel: domain.Selection{Truth: ptr(true)}},
		"text ignores case":       {q: text, sel: domain.Selection{Text: ptr("STRASSE")}, want: true},
		"text collapses spaces":   {q: text, sel: domain.Selection{Text: ptr("  new york ")}, want: true},
		"text folds width":        {q: text, sel: domain.Selection{Text: ptr("Ｎｅｗ Ｙｏｒｋ")}, want: true},
		"text different word":     {q: text, sel: domain.Selection{Text: ptr("Boston")}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, score.ValidateSelection(tt.q, tt.sel))
			assert.Equal(t, tt.want, score.Correct(tt.q, tt.sel))
		})
	}
}

func TestValidateSelection(t *testing.T) {
	multi := domain.Question{Kind: domain.KindMultiChoice, Options: []string{"a", "b"}, Key: domain.AnswerKey{Options: []int{0}}}
	text := domain.Question{Kind: domain.KindFreeText, Key: domain.AnswerKey{Texts: []string{"x"}}}

	tests := map[string]struct {
		q   domain.Question
		sel domain.Selection
	}{
		"nothing selected":      {q: multi, sel: domain.Selection{}},
		"option out of range":   {q: multi, sel: domain.Selection{Options: []int{2}}},
		"option selected twice": {q: multi, sel: domain.Selection{Options: []int{1, 1}}},
		"text for a choice":     {q: multi, sel: domain.Selection{Text: ptr("a")}},
		"blank text":            {q: text, sel: domain.Selection{Text: ptr(" \t ")}},
		"options for free text": {q: text, sel: domain.Selection{Options: []int{0}}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, score.ValidateSelection(tt.q, tt.sel))
		})
	}
}
