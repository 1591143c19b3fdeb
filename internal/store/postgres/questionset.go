package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

// QuestionSetLoader reads finalized question sets published by the authoring subsystem
// into the question_sets table as JSON documents.
type QuestionSetLoader struct {
	db *pgxpool.Pool
}

func NewQuestionSetLoader(db *pgxpool.Pool) *QuestionSetLoader {
	return &QuestionSetLoader{db: db}
}

func (l *QuestionSetLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	const stmt = `SELECT data FROM question_sets WHERE set_id = $1;`

	var set domain.QuestionSet
	err := l.db.QueryRow(ctx, stmt, setID).Scan(&set)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionSet{}, errors.Because(errors.ReasonNotFound, errors.WithMessagef("question set not found: set=%s", setID))
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("select question set: %w", err)
	}

	if set.SetID == "" {
		set.SetID = setID
	}
	return set, nil
}

// PutQuestionSet inserts or replaces a set. Sessions already started keep their frozen copy.
func (l *QuestionSetLoader) PutQuestionSet(ctx context.Context, set domain.QuestionSet) error {
	const stmt = `
INSERT INTO question_sets (set_id, data, updated_at) VALUES ($1, $2, now())
ON CONFLICT (set_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at;`

	if _, err := l.db.Exec(ctx, stmt, set.SetID, set); err != nil {
		return fmt.Errorf("upsert question set: %w", err)
	}
	return nil
}
