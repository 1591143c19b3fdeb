package score

import (
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

const maxTextAnswerLength = 256

// ValidateSelection checks the selection has the shape the question kind expects.
func ValidateSelection(q domain.Question, sel domain.Selection) error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef(format, args...))
	}

	switch q.Kind {
	case domain.KindSingleChoice, domain.KindMultiChoice:
		if sel.Truth != nil || sel.Text != nil {
			return invalid("question %s expects option indices", q.QuestionID)
		}
		if len(sel.Options) == 0 {
			return invalid("no option selected")
		}
		if q.Kind == domain.KindSingleChoice && len(sel.Options) != 1 {
			return invalid("question %s accepts exactly one option", q.QuestionID)
		}
		seen := make(map[int]struct{}, len(sel.Options))
		for _, o := range sel.Options {
			if o < 0 || o >= len(q.Options) {
				return invalid("option %d out of range", o)
			}
			if _, dup := seen[o]; dup {
				return invalid("option %d selected twice", o)
			}
			seen[o] = struct{}{}
		}
	case domain.KindTrueFalse:
		if sel.Truth == nil || len(sel.Options) != 0 || sel.Text != nil {
			return invalid("question %s expects true or false", q.QuestionID)
		}
	case domain.KindFreeText:
		if sel.Text == nil || len(sel.Options) != 0 || sel.Truth != nil {
			return invalid("question %s expects a text answer", q.QuestionID)
		}
		if NormalizeText(*sel.Text) == "" {
			return invalid("empty answer")
		}
		if utf8.RuneCountInString(*sel.Text) > maxTextAnswerLength {
			return invalid("answer longer than %d characters", maxTextAnswerLength)
		}
	default:
		return invalid("unknown question kind %q", q.Kind)
	}

	return nil
}

// Correct judges a selection already checked by ValidateSelection.
func Correct(q domain.Question, sel domain.Selection) bool {
	switch q.Kind {
	case domain.KindSingleChoice, domain.KindMultiChoice:
		got := slices.Clone(sel.Options)
		slices.Sort(got)
		want := slices.Clone(q.Key.Options)
		slices.Sort(want)
		return slices.Equal(slices.Compact(got), slices.Compact(want))
	case domain.KindTrueFalse:
		return sel.Truth != nil && *sel.Truth == q.Key.Truth
	case domain.KindFreeText:
		if sel.Text == nil {
			return false
		}
		got := NormalizeText(*sel.Text)
		for _, accepted := range q.Key.Texts {
			if NormalizeText(accepted) == got {
				return true
			}
		}
	}
	return false
}

// NormalizeText folds width, compatibility forms and case, and collapses whitespace, so
// "  Ｖolga " matches "volga".
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
