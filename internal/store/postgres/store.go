// Package postgres stores sessions, participants and answers in PostgreSQL. Transitions
// lock the session row FOR UPDATE, joins and answers lock it FOR SHARE, so the latter run
// concurrently with each other but never interleave with a transition.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

const (
	codeUniqueViolation = "23505"
	activeCodeIndex     = "sessions_active_code_idx"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) inTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !stderrors.Is(rbErr, pgx.ErrTxClosed) {
				err = stderrors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func uniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr, true
	}
	return nil, false
}

const sessionColumns = `session_id, question_set_id, code, host_id, status, question_index, question_started_at,
	created_at, started_at, ended_at, settings, question_set`

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		ss  domain.Session
		set *domain.QuestionSet
	)
	err := row.Scan(
		&ss.SessionID, &ss.QuestionSetID, &ss.Code, &ss.HostID, &ss.Status, &ss.QuestionIndex, &ss.QuestionStartedAt,
		&ss.CreatedAt, &ss.StartedAt, &ss.EndedAt, &ss.Settings, &set,
	)
	if err != nil {
		return domain.Session{}, err
	}
	if set != nil {
		ss.Set = *set
	}
	return ss, nil
}

func frozenSet(ss domain.Session) *domain.QuestionSet {
	if ss.Set.SetID == "" && len(ss.Set.Questions) == 0 {
		return nil
	}
	return &ss.Set
}

func sessionNotFound(sessionID string) error {
	return errors.Because(errors.ReasonNotFound, errors.WithMessagef("session not found: session=%s", sessionID))
}

func (s *Store) CreateSession(ctx context.Context, ss domain.Session) error {
	const stmt = `
INSERT INTO sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);`

	_, err := s.db.Exec(ctx, stmt,
		ss.SessionID, ss.QuestionSetID, ss.Code, ss.HostID, ss.Status, ss.QuestionIndex, ss.QuestionStartedAt,
		ss.CreatedAt, ss.StartedAt, ss.EndedAt, ss.Settings, frozenSet(ss),
	)
	if pgErr, ok := uniqueViolation(err); ok {
		msg := fmt.Sprintf("session %s already exists", ss.SessionID)
		if pgErr.ConstraintName == activeCodeIndex {
			msg = fmt.Sprintf("join code %s is in use", ss.Code)
		}
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("%s", msg), errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, sessionNotFound(sessionID)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return ss, nil
}

// FindSessionByCode prefers the non-terminal session using code, then the latest one that did.
func (s *Store) FindSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	const stmt = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE code = $1
ORDER BY status IN ('waiting', 'in_progress') DESC, created_at DESC
LIMIT 1;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, code))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, errors.Because(errors.ReasonNotFound, errors.WithMessagef("no session with code %s", code))
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session by code: %w", err)
	}
	return ss, nil
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID, mode string) (domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1 FOR ` + mode + `;`

	ss, err := scanSession(tx.QueryRow(ctx, stmt, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, sessionNotFound(sessionID)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("lock session: %w", err)
	}
	return ss, nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, fn func(ss *domain.Session) error) (domain.Session, error) {
	const stmt = `
UPDATE sessions
SET status = $2, question_index = $3, question_started_at = $4, started_at = $5, ended_at = $6, question_set = $7
WHERE session_id = $1;`

	var next domain.Session
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ss, err := lockSession(ctx, tx, sessionID, "UPDATE")
		if err != nil {
			return err
		}

		if err := fn(&ss); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, stmt,
			sessionID, ss.Status, ss.QuestionIndex, ss.QuestionStartedAt, ss.StartedAt, ss.EndedAt, frozenSet(ss),
		); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		next = ss
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return next, nil
}

// ListActiveSessions returns the sessions currently playing a question.
func (s *Store) ListActiveSessions(ctx context.Context) ([]domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions WHERE status = 'in_progress' ORDER BY session_id;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("select active sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Session, error) {
		return scanSession(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan active sessions: %w", err)
	}
	return sessions, nil
}

const participantColumns = `participant_id, session_id, identity_id, nickname, total_score, correct_count, wrong_count,
	question_scores, joined_at, last_activity_at`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(
		&p.ParticipantID, &p.SessionID, &p.IdentityID, &p.Nickname, &p.TotalScore, &p.CorrectCount, &p.WrongCount,
		&p.QuestionScores, &p.JoinedAt, &p.LastActivityAt,
	)
	if err != nil {
		return domain.Participant{}, err
	}
	if p.QuestionScores == nil {
		p.QuestionScores = make(map[string]int)
	}
	return p, nil
}

func participantNotFound(sessionID, participantID string) error {
	return errors.Because(errors.ReasonNotFound,
		errors.WithMessagef("participant not found: session=%s participant=%s", sessionID, participantID))
}

// AddParticipant registers p unless its identity already joined, in which case the
// existing record is returned. admit sees the session as of the join and may refuse it.
func (s *Store) AddParticipant(
	ctx context.Context,
	sessionID string,
	p domain.Participant,
	admit func(ss domain.Session, rejoin bool) error,
) (domain.Participant, bool, error) {
	const (
		selectStmt = `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1 AND identity_id = $2;`
		insertStmt = `
INSERT INTO participants (` + participantColumns + `)
VALUES ($1, $2, $3, $4, 0, 0, 0, '{}', $5, $6)
ON CONFLICT (session_id, identity_id) DO NOTHING
RETURNING ` + participantColumns + `;`
	)

	var (
		out     domain.Participant
		created bool
	)
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ss, err := lockSession(ctx, tx, sessionID, "SHARE")
		if err != nil {
			return err
		}

		existing, err := scanParticipant(tx.QueryRow(ctx, selectStmt, sessionID, p.IdentityID))
		rejoin := err == nil
		if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("select participant: %w", err)
		}

		if err := admit(ss, rejoin); err != nil {
			return err
		}
		if rejoin {
			out = existing
			return nil
		}

		out, err = scanParticipant(tx.QueryRow(ctx, insertStmt,
			p.ParticipantID, sessionID, p.IdentityID, p.Nickname, p.JoinedAt, p.LastActivityAt,
		))
		if stderrors.Is(err, pgx.ErrNoRows) {
			// A concurrent join of the same identity won, return its record.
			out, err = scanParticipant(tx.QueryRow(ctx, selectStmt, sessionID, p.IdentityID))
			if err != nil {
				return fmt.Errorf("select participant: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}

		created = true
		return nil
	})
	if err != nil {
		return domain.Participant{}, false, err
	}
	return out, created, nil
}

func (s *Store) GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1 AND participant_id = $2;`

	p, err := scanParticipant(s.db.QueryRow(ctx, stmt, sessionID, participantID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, participantNotFound(sessionID, participantID)
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return listParticipants(ctx, s.db, sessionID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listParticipants(ctx context.Context, q querier, sessionID string) ([]domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1 ORDER BY seq;`

	rows, err := q.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}

	participants, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Participant, error) {
		return scanParticipant(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan participants: %w", err)
	}
	return participants, nil
}

// RecordAnswer inserts a, at most once per question and participant, and applies it to the
// participant aggregates in the same transaction. guard sees the session as of the insert.
func (s *Store) RecordAnswer(ctx context.Context, a domain.Answer, guard func(ss domain.Session) error) (domain.Participant, error) {
	const (
		updateStmt = `
UPDATE participants
SET total_score      = total_score + $3,
    correct_count    = correct_count + $4,
    wrong_count      = wrong_count + $5,
    question_scores  = question_scores || jsonb_build_object($6::text, $3::int),
    last_activity_at = $7
WHERE session_id = $1 AND participant_id = $2
RETURNING ` + participantColumns + `;`
		insertStmt = `
INSERT INTO answers (answer_id, session_id, question_id, question_index, participant_id, selection, is_correct, points,
	latency_us, answered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	)

	correct, wrong := 0, 1
	if a.IsCorrect {
		correct, wrong = 1, 0
	}

	var out domain.Participant
	err := s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ss, err := lockSession(ctx, tx, a.SessionID, "SHARE")
		if err != nil {
			return err
		}
		if err := guard(ss); err != nil {
			return err
		}

		// The participant row lock serializes the answers of one participant.
		out, err = scanParticipant(tx.QueryRow(ctx, updateStmt,
			a.SessionID, a.ParticipantID, a.Points, correct, wrong, a.QuestionID, a.AnsweredAt,
		))
		if stderrors.Is(err, pgx.ErrNoRows) {
			return participantNotFound(a.SessionID, a.ParticipantID)
		}
		if err != nil {
			return fmt.Errorf("update participant: %w", err)
		}

		_, err = tx.Exec(ctx, insertStmt,
			a.AnswerID, a.SessionID, a.QuestionID, a.QuestionIndex, a.ParticipantID, a.Selection, a.IsCorrect, a.Points,
			a.Latency.Microseconds(), a.AnsweredAt,
		)
		if _, ok := uniqueViolation(err); ok {
			return errors.Because(errors.ReasonAlreadyAnswered,
				errors.WithMessagef("participant %s already answered question %s", a.ParticipantID, a.QuestionID),
				errors.WithCause(err))
		}
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	return out, nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	return listAnswers(ctx, s.db, sessionID)
}

func listAnswers(ctx context.Context, q querier, sessionID string) ([]domain.Answer, error) {
	const stmt = `
SELECT answer_id, session_id, question_id, question_index, participant_id, selection, is_correct, points, latency_us,
	answered_at
FROM answers
WHERE session_id = $1
ORDER BY seq;`

	rows, err := q.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}

	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var (
			a         domain.Answer
			latencyUS int64
		)
		err := r.Scan(
			&a.AnswerID, &a.SessionID, &a.QuestionID, &a.QuestionIndex, &a.ParticipantID, &a.Selection, &a.IsCorrect,
			&a.Points, &latencyUS, &a.AnsweredAt,
		)
		a.Latency = time.Duration(latencyUS) * time.Microsecond
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan answers: %w", err)
	}
	return answers, nil
}

// LoadSessionState reads the session with its participants and answers from one snapshot.
func (s *Store) LoadSessionState(ctx context.Context, sessionID string) (domain.SessionState, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1;`

	var st domain.SessionState
	err := s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		ss, err := scanSession(tx.QueryRow(ctx, stmt, sessionID))
		if stderrors.Is(err, pgx.ErrNoRows) {
			return sessionNotFound(sessionID)
		}
		if err != nil {
			return fmt.Errorf("select session: %w", err)
		}
		st.Session = ss

		if st.Participants, err = listParticipants(ctx, tx, sessionID); err != nil {
			return err
		}
		if st.Answers, err = listAnswers(ctx, tx, sessionID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.SessionState{}, err
	}
	return st, nil
}
