// Package memory is an in-process store. It serializes transitions of a session with an
// exclusive lock while joins and answers of the same session run concurrently under the
// shared lock.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

// Store keeps everything in memory. Lock order is entry.mu, then Store.mu.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	// active maps the code of every non-terminal session to its ID.
	active map[string]string
	// retired maps a code to the latest terminal session that used it.
	retired map[string]string
}

type entry struct {
	// mu is held exclusively while a transition runs and shared while a join or answer is evaluated.
	mu      sync.RWMutex
	session domain.Session

	pmu          sync.Mutex
	participants map[string]*member
	identities   map[string]string
	joinOrder    []string

	answers sync.Map // answerKey -> domain.Answer
	// answerMu orders answers and is taken before pmu or any member lock.
	answerMu sync.Mutex
	answered []domain.Answer
}

type member struct {
	mu sync.Mutex
	p  domain.Participant
}

type answerKey struct {
	questionID    string
	participantID string
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		active:   make(map[string]string),
		retired:  make(map[string]string),
	}
}

func (s *Store) CreateSession(_ context.Context, ss domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[ss.SessionID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session %s already exists", ss.SessionID))
	}
	if _, ok := s.active[ss.Code]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("join code %s is in use", ss.Code))
	}

	s.sessions[ss.SessionID] = &entry{
		session:      ss,
		participants: make(map[string]*member),
		identities:   make(map[string]string),
	}
	s.active[ss.Code] = ss.SessionID
	return nil
}

func (s *Store) entry(sessionID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.Because(errors.ReasonNotFound, errors.WithMessagef("session not found: session=%s", sessionID))
	}
	return e, nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session, nil
}

func (s *Store) FindSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	id, ok := s.active[code]
	if !ok {
		id, ok = s.retired[code]
	}
	s.mu.RUnlock()

	if !ok {
		return domain.Session{}, errors.Because(errors.ReasonNotFound, errors.WithMessagef("no session with code %s", code))
	}
	return s.GetSession(ctx, id)
}

func (s *Store) UpdateSession(_ context.Context, sessionID string, fn func(ss *domain.Session) error) (domain.Session, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.session
	if err := fn(&next); err != nil {
		return domain.Session{}, err
	}

	if next.Status.Terminal() && !e.session.Status.Terminal() {
		s.mu.Lock()
		if s.active[next.Code] == next.SessionID {
			delete(s.active, next.Code)
		}
		s.retired[next.Code] = next.SessionID
		s.mu.Unlock()
	}

	e.session = next
	return next, nil
}

// ListActiveSessions returns the sessions currently playing a question.
func (s *Store) ListActiveSessions(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.active))
	for _, id := range s.active {
		entries = append(entries, s.sessions[id])
	}
	s.mu.RUnlock()

	out := make([]domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if e.session.Status == domain.StatusInProgress {
			out = append(out, e.session)
		}
		e.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// AddParticipant registers p unless its identity already joined, in which case the
// existing record is returned. admit sees the session as of the join and may refuse it.
func (s *Store) AddParticipant(
	_ context.Context,
	sessionID string,
	p domain.Participant,
	admit func(ss domain.Session, rejoin bool) error,
) (domain.Participant, bool, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.Participant{}, false, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	e.pmu.Lock()
	defer e.pmu.Unlock()

	existingID, rejoin := e.identities[p.IdentityID]
	if err := admit(e.session, rejoin); err != nil {
		return domain.Participant{}, false, err
	}

	if rejoin {
		m := e.participants[existingID]
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.p.Clone(), false, nil
	}

	p.SessionID = sessionID
	if p.QuestionScores == nil {
		p.QuestionScores = make(map[string]int)
	}
	e.participants[p.ParticipantID] = &member{p: p.Clone()}
	e.identities[p.IdentityID] = p.ParticipantID
	e.joinOrder = append(e.joinOrder, p.ParticipantID)

	return p, true, nil
}

func (s *Store) GetParticipant(_ context.Context, sessionID, participantID string) (domain.Participant, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.Participant{}, err
	}

	e.pmu.Lock()
	m, ok := e.participants[participantID]
	e.pmu.Unlock()

	if !ok {
		return domain.Participant{}, errors.Because(errors.ReasonNotFound,
			errors.WithMessagef("participant not found: session=%s participant=%s", sessionID, participantID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p.Clone(), nil
}

func (s *Store) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	return e.listParticipants(), nil
}

func (e *entry) listParticipants() []domain.Participant {
	e.pmu.Lock()
	members := make([]*member, 0, len(e.joinOrder))
	for _, id := range e.joinOrder {
		members = append(members, e.participants[id])
	}
	e.pmu.Unlock()

	out := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		m.mu.Lock()
		out = append(out, m.p.Clone())
		m.mu.Unlock()
	}
	return out
}

// RecordAnswer inserts a, at most once per question and participant, and applies it to the
// participant aggregates. guard sees the session as of the insert and may refuse it.
func (s *Store) RecordAnswer(_ context.Context, a domain.Answer, guard func(ss domain.Session) error) (domain.Participant, error) {
	e, err := s.entry(a.SessionID)
	if err != nil {
		return domain.Participant{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := guard(e.session); err != nil {
		return domain.Participant{}, err
	}

	e.pmu.Lock()
	m, ok := e.participants[a.ParticipantID]
	e.pmu.Unlock()
	if !ok {
		return domain.Participant{}, errors.Because(errors.ReasonNotFound,
			errors.WithMessagef("participant not found: session=%s participant=%s", a.SessionID, a.ParticipantID))
	}

	key := answerKey{questionID: a.QuestionID, participantID: a.ParticipantID}
	if _, loaded := e.answers.LoadOrStore(key, a); loaded {
		return domain.Participant{}, errors.Because(errors.ReasonAlreadyAnswered,
			errors.WithMessagef("participant %s already answered question %s", a.ParticipantID, a.QuestionID))
	}

	// The aggregates and the answer log move together under answerMu, so a state read
	// never lists an answer its participant does not carry yet, or the other way round.
	e.answerMu.Lock()
	defer e.answerMu.Unlock()

	m.mu.Lock()
	m.p.TotalScore += a.Points
	if a.IsCorrect {
		m.p.CorrectCount++
	} else {
		m.p.WrongCount++
	}
	m.p.QuestionScores[a.QuestionID] = a.Points
	m.p.LastActivityAt = a.AnsweredAt
	p := m.p.Clone()
	m.mu.Unlock()

	e.answered = append(e.answered, a)

	return p, nil
}

func (s *Store) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	return e.listAnswers(), nil
}

func (e *entry) listAnswers() []domain.Answer {
	e.answerMu.Lock()
	defer e.answerMu.Unlock()
	return append([]domain.Answer(nil), e.answered...)
}

// LoadSessionState reads the session with its participants and answers under the shared lock,
// so no transition interleaves with the read. Holding answerMu keeps the answers and the
// participant aggregates from the same moment.
func (s *Store) LoadSessionState(_ context.Context, sessionID string) (domain.SessionState, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return domain.SessionState{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	e.answerMu.Lock()
	defer e.answerMu.Unlock()

	return domain.SessionState{
		Session:      e.session,
		Participants: e.listParticipants(),
		Answers:      append([]domain.Answer(nil), e.answered...),
	}, nil
}
