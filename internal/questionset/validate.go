package questionset

import (
	"slices"
	"sort"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

// TrueFalseOptions are the display options of a true/false question. Index 0 is true.
var TrueFalseOptions = []string{"True", "False"}

// Normalize orders questions by OrderIndex, canonicalizes choice keys and fills the
// implicit options of true/false questions.
func Normalize(set domain.QuestionSet) domain.QuestionSet {
	set = set.Clone()

	sort.SliceStable(set.Questions, func(i, j int) bool {
		return set.Questions[i].OrderIndex < set.Questions[j].OrderIndex
	})

	for i := range set.Questions {
		q := &set.Questions[i]
		switch q.Kind {
		case domain.KindTrueFalse:
			if len(q.Options) == 0 {
				q.Options = slices.Clone(TrueFalseOptions)
			}
		case domain.KindSingleChoice, domain.KindMultiChoice:
			slices.Sort(q.Key.Options)
			q.Key.Options = slices.Compact(q.Key.Options)
		}
	}

	return set
}

// Validate checks a normalized set is playable.
func Validate(set domain.QuestionSet) error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question set %s: "+format, append([]any{set.SetID}, args...)...))
	}

	if set.DefaultTimeLimitSeconds <= 0 {
		return invalid("default time limit must be positive")
	}

	seen := make(map[string]struct{}, len(set.Questions))
	for i, q := range set.Questions {
		if q.OrderIndex != i {
			return invalid("order index %d is not contiguous at position %d", q.OrderIndex, i)
		}
		if q.QuestionID == "" {
			return invalid("question at position %d has no ID", i)
		}
		if _, dup := seen[q.QuestionID]; dup {
			return invalid("duplicate question ID %s", q.QuestionID)
		}
		seen[q.QuestionID] = struct{}{}

		if q.PointBudget <= 0 {
			return invalid("question %s: point budget must be positive", q.QuestionID)
		}
		if q.TimeLimitSeconds < 0 {
			return invalid("question %s: negative time limit", q.QuestionID)
		}

		switch q.Kind {
		case domain.KindSingleChoice, domain.KindMultiChoice:
			if len(q.Options) < 2 {
				return invalid("question %s: needs at least two options", q.QuestionID)
			}
			if len(q.Key.Options) == 0 {
				return invalid("question %s: no correct option", q.QuestionID)
			}
			if q.Kind == domain.KindSingleChoice && len(q.Key.Options) != 1 {
				return invalid("question %s: single choice must have exactly one correct option", q.QuestionID)
			}
			for _, o := range q.Key.Options {
				if o < 0 || o >= len(q.Options) {
					return invalid("question %s: correct option %d out of range", q.QuestionID, o)
				}
			}
		case domain.KindTrueFalse:
			if len(q.Options) != 2 {
				return invalid("question %s: true/false must have two options", q.QuestionID)
			}
		case domain.KindFreeText:
			if len(q.Options) != 0 {
				return invalid("question %s: free text takes no options", q.QuestionID)
			}
			if len(q.Key.Texts) == 0 {
				return invalid("question %s: no accepted answer", q.QuestionID)
			}
		default:
			return invalid("question %s: unknown kind %q", q.QuestionID, q.Kind)
		}
	}

	return nil
}
