package questionset

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
)

const defaultTTL = 5 * time.Minute

// Loader fetches a question set from the authoring subsystem's storage.
type Loader interface {
	LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

type Config struct {
	Loader Loader
	// TTL of cached sets. Zero uses the default, negative disables caching.
	TTL time.Duration
	// DefaultTimeLimitSeconds applies to sets that do not declare their own default.
	DefaultTimeLimitSeconds int
	Clock                   clock.Clock
}

// Service serves validated question sets, caching them to avoid hitting the loader on every start.
type Service struct {
	loader       Loader
	ttl          time.Duration
	defaultLimit int
	clock        clock.Clock
	sf           singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		loader:       c.Loader,
		ttl:          c.TTL,
		defaultLimit: c.DefaultTimeLimitSeconds,
		clock:        c.Clock,
		cache:        make(map[string]cachedSet),
	}

	if s.ttl == 0 {
		s.ttl = defaultTTL
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 20
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	return s
}

// GetQuestionSet returns a validated deep copy of the set, safe for the caller to keep.
func (s *Service) GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	if set, ok := s.cached(setID); ok {
		return set.Clone(), nil
	}

	res, err, _ := s.sf.Do(setID, func() (any, error) {
		if set, ok := s.cached(setID); ok {
			return set, nil
		}

		set, err := s.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		if set.DefaultTimeLimitSeconds <= 0 {
			set.DefaultTimeLimitSeconds = s.defaultLimit
		}
		set = Normalize(set)
		if err := Validate(set); err != nil {
			return domain.QuestionSet{}, err
		}

		if s.ttl > 0 {
			s.mu.Lock()
			s.cache[setID] = cachedSet{set: set, expiresAt: s.clock.Now().Add(s.ttlWithJitter())}
			s.mu.Unlock()
		}

		return set, nil
	})
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return domain.QuestionSet{}, e
		}
		return domain.QuestionSet{}, fmt.Errorf("questionset: load %s: %w", setID, err)
	}

	return res.(domain.QuestionSet).Clone(), nil
}

// Invalidate drops a cached set, typically after its author edited it.
func (s *Service) Invalidate(setID string) {
	s.mu.Lock()
	delete(s.cache, setID)
	s.mu.Unlock()
}

func (s *Service) cached(setID string) (domain.QuestionSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.cache[setID]
	if !ok || !entry.expiresAt.After(s.clock.Now()) {
		return domain.QuestionSet{}, false
	}
	return entry.set, true
}

// ttlWithJitter adds up to 10% to spread expirations of sets loaded together.
func (s *Service) ttlWithJitter() time.Duration {
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

// StaticLoader serves sets from memory. Useful for demos and tests.
type StaticLoader struct {
	mu   sync.RWMutex
	sets map[string]domain.QuestionSet
}

func NewStaticLoader(sets ...domain.QuestionSet) *StaticLoader {
	l := &StaticLoader{sets: make(map[string]domain.QuestionSet, len(sets))}
	for _, set := range sets {
		l.sets[set.SetID] = set
	}
	return l
}

// Put adds or replaces a set.
func (l *StaticLoader) Put(set domain.QuestionSet) {
	l.mu.Lock()
	l.sets[set.SetID] = set.Clone()
	l.mu.Unlock()
}

func (l *StaticLoader) LoadQuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	set, ok := l.sets[setID]
	if !ok {
		return domain.QuestionSet{}, errors.Because(errors.ReasonNotFound,
			errors.WithMessagef("question set not found: set=%s", setID))
	}
	return set.Clone(), nil
}
