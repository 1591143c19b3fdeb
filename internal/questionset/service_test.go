package questionset_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
	"github.com/victornm/geeko/internal/questionset"
)

func TestService_GetQuestionSet(t *testing.T) {
	fc := clockwork.NewFakeClock()
	loader := &countingLoader{Loader: questionset.NewStaticLoader(sampleSet())}
	s := questionset.NewService(questionset.Config{
		Loader: loader,
		TTL:    time.Minute,
		Clock:  fc,
	})

	set, err := s.GetQuestionSet(context.Background(), "set-1")
	require.NoError(t, err)
	require.Len(t, set.Questions, 3)
	assert.Equal(t, "q1", set.Questions[0].QuestionID, "questions are ordered by order index")
	assert.Equal(t, questionset.TrueFalseOptions, set.Questions[2].Options, "true/false gets implicit options")
	assert.Equal(t, 20, set.DefaultTimeLimitSeconds, "default limit is filled in")

	// Callers get their own copy.
	set.Questions[0].Text = "mutated"
	again, err := s.GetQuestionSet(context.Background(), "set-1")
	require.NoError(t, err)
	assert.Equal(t, "Capital of France?", again.Questions[0].Text)
	assert.EqualValues(t, 1, loader.calls.Load(), "second read is served from cache")

	fc.Advance(2 * time.Minute)
	_, err = s.GetQuestionSet(context.Background(), "set-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load(), "expired entry is reloaded")

	s.Invalidate("set-1")
	_, err = s.GetQuestionSet(context.Background(), "set-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, loader.calls.Load(), "invalidated entry is reloaded")
}

func TestService_ConcurrentLoadsAreCollapsed(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{Loader: questionset.NewStaticLoader(sampleSet()), gate: release}
	s := questionset.NewService(questionset.Config{Loader: loader})

	var eg errgroup.Group
	var started sync.WaitGroup
	for i := 0; i < 20; i++ {
		started.Add(1)
		eg.Go(func() error {
			started.Done()
			_, err := s.GetQuestionSet(context.Background(), "set-1")
			return err
		})
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, eg.Wait())
	assert.LessOrEqual(t, loader.calls.Load(), int32(2))
}

func TestService_UnknownSet(t *testing.T) {
	s := questionset.NewService(questionset.Config{Loader: questionset.NewStaticLoader()})

	_, err := s.GetQuestionSet(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(set *domain.QuestionSet)
		wantErr bool
	}{
		"sample set is valid": {
			mutate: func(*domain.QuestionSet) {},
		},
		"empty set is valid, it just cannot be started": {
			mutate: func(set *domain.QuestionSet) { set.Questions = nil },
		},
		"gap in order index": {
			mutate:  func(set *domain.QuestionSet) { set.Questions[2].OrderIndex = 5 },
			wantErr: true,
		},
		"duplicate question ID": {
			mutate:  func(set *domain.QuestionSet) { set.Questions[1].QuestionID = "q1" },
			wantErr: true,
		},
		"zero point budget": {
			mutate:  func(set *domain.QuestionSet) { set.Questions[0].PointBudget = 0 },
			wantErr: true,
		},
		"single choice with two correct options": {
			mutate:  func(set *domain.QuestionSet) { set.Questions[0].Key.Options = []int{0, 1} },
			wantErr: true,
		},
		"correct option out of range": {
			mutate:  func(set *domain.QuestionSet) { set.Questions[0].Key.Options = []int{7} },
			wantErr: true,
		},
		"free text without accepted answers": {
			mutate:  func(set *domain.QuestionSet) { set.Questions[1].Key.Texts = nil },
			wantErr: true,
		},
		"unknown kind": {
			mutate:  func(set *domain.QuestionSet) { set.Questions[1].Kind = "essay" },
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			set := sampleSet()
			set.DefaultTimeLimitSeconds = 20
			set = questionset.Normalize(set)
			tt.mutate(&set)

			err := questionset.Validate(set)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.New(errors.CodeInvalidArgument))
				return
			}
			assert.NoError(t, err)
		})
	}
}

type countingLoader struct {
	questionset.Loader
	calls atomic.Int32
	gate  chan struct{}
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.Loader.LoadQuestionSet(ctx, setID)
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		SetID: "set-1",
		Title: "Geography",
		Questions: []domain.Question{
			{
				QuestionID:  "q3",
				OrderIndex:  2,
				Text:        "The Nile is in Africa.",
				Kind:        domain.KindTrueFalse,
				Key:         domain.AnswerKey{Truth: true},
				PointBudget: 500,
			},
			{
				QuestionID:  "q1",
				OrderIndex:  0,
				Text:        "Capital of France?",
				Kind:        domain.KindSingleChoice,
				Options:     []string{"Berlin", "Paris", "Rome"},
				Key:         domain.AnswerKey{Options: []int{1}},
				PointBudget: 1000,
			},
			{
				QuestionID:       "q2",
				OrderIndex:       1,
				Text:             "Longest river in Europe?",
				Kind:             domain.KindFreeText,
				Key:              domain.AnswerKey{Texts: []string{"Volga"}},
				PointBudget:      1000,
				TimeLimitSeconds: 30,
			},
		},
	}
}
