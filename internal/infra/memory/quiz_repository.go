package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/flight"
)

// QuizLoader fetches quiz content from a backing store (e.g., Postgres).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository keeps validated quiz content in process. Entries live for
// ttl plus up to 10% jitter; a content edit can be pushed out early with
// Invalidate.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	loads  singleflight.Group

	mu      sync.RWMutex
	jitter  *rand.Rand
	entries map[string]quizEntry
}

type quizEntry struct {
	quiz  domain.Quiz
	until time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		jitter:  rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]quizEntry),
	}
}

// GetQuiz serves quizID from memory, loading it once for all concurrent
// callers on a miss. Quizzes without questions are refused so a playthrough
// can never start on empty content.
func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.lookup(quizID); ok {
		return quiz, nil
	}
	return flight.Do(ctx, &r.loads, quizID, 0, func(ctx context.Context) (domain.Quiz, error) {
		if quiz, ok := r.lookup(quizID); ok {
			return quiz, nil
		}
		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if len(quiz.Questions) == 0 {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		r.store(quizID, quiz)
		return quiz, nil
	})
}

// Invalidate drops quizID so the next GetQuiz reloads it.
func (r *QuizRepository) Invalidate(quizID string) {
	r.mu.Lock()
	delete(r.entries, quizID)
	r.mu.Unlock()
	r.loads.Forget(quizID)
}

func (r *QuizRepository) lookup(quizID string) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[quizID]
	if !ok || !r.clock().Before(entry.until) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

func (r *QuizRepository) store(quizID string, quiz domain.Quiz) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lifetime := r.ttl
	if spread := int64(r.ttl) / 10; spread > 0 {
		lifetime += time.Duration(r.jitter.Int63n(spread + 1))
	}
	r.entries[quizID] = quizEntry{quiz: quiz, until: r.clock().Add(lifetime)}
}

// StaticQuizLoader serves quizzes from a fixed map (tests, demo mode).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	quiz, ok := l.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}
