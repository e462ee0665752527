package app

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/engine"
)

// SessionRepository abstracts where live quiz sessions are kept (in-memory, Redis, etc).
type SessionRepository interface {
	GetOrCreate(sessionID string, create func() (*Session, error)) (*Session, error)
	Get(sessionID string) (*Session, bool)
	DeleteIfEmpty(sessionID string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRewarder is the account side of the quiz: the one-time claim.
type QuizRewarder interface {
	QuizClaimed(ctx context.Context, sessionID string) (bool, error)
	ClaimQuizForSession(ctx context.Context, sessionID string) error
}

// QuizSettings tunes the playthrough.
type QuizSettings struct {
	QuizID        string
	QuestionTicks int
	TickInterval  time.Duration
	ClaimTimeout  time.Duration
}

// QuizService contains the quiz use cases for one client session at a time.
type QuizService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	prefs    PreferenceStore
	rewarder QuizRewarder
	settings QuizSettings
	logger   *zap.Logger

	claims sync.WaitGroup
}

func NewQuizService(store SessionRepository, quizzes QuizRepository, prefs PreferenceStore, rewarder QuizRewarder, settings QuizSettings, logger *zap.Logger) *QuizService {
	if settings.QuestionTicks <= 0 {
		settings.QuestionTicks = engine.DefaultQuestionTicks
	}
	if settings.ClaimTimeout <= 0 {
		settings.ClaimTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuizService{
		sessions: store,
		quizzes:  quizzes,
		prefs:    prefs,
		rewarder: rewarder,
		settings: settings,
		logger:   logger,
	}
}

// Start returns the session's playthrough, creating it on first visit.
// A session that already claimed the reward gets the AlreadyPlayed state.
func (s *QuizService) Start(ctx context.Context, sessionID string) (engine.QuizSnapshot, error) {
	if session, ok := s.sessions.Get(sessionID); ok {
		return session.Snapshot(), nil
	}

	quiz, err := s.quizzes.GetQuiz(ctx, s.settings.QuizID)
	if err != nil {
		return engine.QuizSnapshot{}, err
	}
	played := s.alreadyPlayed(ctx, sessionID)

	session, err := s.sessions.GetOrCreate(sessionID, func() (*Session, error) {
		opts := []engine.QuizOption{
			engine.WithQuestionTicks(s.settings.QuestionTicks),
			engine.WithCompletionHook(func(engine.QuizSnapshot) { s.onCompleted(sessionID) }),
		}
		if played {
			opts = append(opts, engine.AlreadyPlayed())
		}
		qs, err := engine.NewQuizSession(quiz.Questions, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "quiz %s", quiz.ID)
		}
		return NewSession(sessionID, qs), nil
	})
	if err != nil {
		return engine.QuizSnapshot{}, err
	}
	return session.Snapshot(), nil
}

// Answer records option for question and broadcasts the new state.
func (s *QuizService) Answer(_ context.Context, sessionID string, question, option int) (engine.QuizSnapshot, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return engine.QuizSnapshot{}, domain.ErrSessionNotFound
	}
	return session.answer(question, option)
}

// Tick advances the countdown by one unit.
func (s *QuizService) Tick(_ context.Context, sessionID string) (engine.QuizSnapshot, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return engine.QuizSnapshot{}, domain.ErrSessionNotFound
	}
	return session.tick(), nil
}

// Retry restarts a playthrough that had no correct answers.
func (s *QuizService) Retry(_ context.Context, sessionID string) (engine.QuizSnapshot, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return engine.QuizSnapshot{}, domain.ErrSessionNotFound
	}
	return session.retry()
}

// Subscribe returns a channel that receives every state change of the
// session. The first subscriber starts the countdown. The caller must invoke
// the returned cancel function to avoid leaks.
func (s *QuizService) Subscribe(_ context.Context, sessionID string) (<-chan engine.QuizSnapshot, func(), error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.subscribe(s.settings.TickInterval)
	return ch, cancel, nil
}

// Leave drops the session once nobody is watching it.
func (s *QuizService) Leave(_ context.Context, sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	if session.IsEmpty() {
		s.sessions.DeleteIfEmpty(sessionID)
	}
}

// WaitForClaims blocks until every background reward claim has returned.
func (s *QuizService) WaitForClaims() {
	s.claims.Wait()
}

func (s *QuizService) alreadyPlayed(ctx context.Context, sessionID string) bool {
	if v, ok, err := s.prefs.Get(ctx, sessionID, PrefHasPlayedQuiz); err == nil && ok && v == "true" {
		return true
	}
	claimed, err := s.rewarder.QuizClaimed(ctx, sessionID)
	if err != nil {
		// The claim is idempotent, so a replay is harmless.
		s.logger.Warn("quiz claim lookup failed", zap.String("session", sessionID), zap.Error(err))
		return false
	}
	return claimed
}

// onCompleted marks the quiz as played locally and claims the reward in the
// background. A failed claim is retried on the next dashboard load.
func (s *QuizService) onCompleted(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.ClaimTimeout)
	if err := s.prefs.Set(ctx, sessionID, PrefHasPlayedQuiz, "true"); err != nil {
		s.logger.Warn("store played preference", zap.String("session", sessionID), zap.Error(err))
	}

	s.claims.Add(1)
	go func() {
		defer s.claims.Done()
		defer cancel()
		err := s.rewarder.ClaimQuizForSession(ctx, sessionID)
		switch {
		case err == nil:
			s.logger.Info("quiz reward claimed", zap.String("session", sessionID))
		case errors.Is(err, domain.ErrQuizAlreadyPlayed):
		default:
			s.logger.Warn("quiz reward claim failed", zap.String("session", sessionID), zap.Error(err))
		}
	}()
}

// Session is a live playthrough plus the connections watching it.
type Session struct {
	id   string
	quiz *engine.QuizSession

	mu          sync.Mutex
	subscribers map[chan engine.QuizSnapshot]struct{}
	stopTicker  func()
}

// NewSession is exported for infrastructure layers that need to seed sessions.
func NewSession(id string, quiz *engine.QuizSession) *Session {
	return &Session{
		id:          id,
		quiz:        quiz,
		subscribers: make(map[chan engine.QuizSnapshot]struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Snapshot() engine.QuizSnapshot {
	return s.quiz.Snapshot()
}

// IsEmpty reports whether the session has no subscribers.
func (s *Session) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) == 0
}

func (s *Session) answer(question, option int) (engine.QuizSnapshot, error) {
	snap, err := s.quiz.AnswerQuestion(question, option)
	if err != nil {
		return snap, err
	}
	s.broadcast()
	return snap, nil
}

// tick is a no-op once the playthrough left InProgress.
func (s *Session) tick() engine.QuizSnapshot {
	if s.quiz.Snapshot().State != engine.StateInProgress {
		return s.quiz.Snapshot()
	}
	snap := s.quiz.OnTick()
	s.broadcast()
	return snap
}

func (s *Session) retry() (engine.QuizSnapshot, error) {
	snap, err := s.quiz.Retry()
	if err != nil {
		return snap, err
	}
	s.broadcast()
	return snap, nil
}

func (s *Session) subscribe(interval time.Duration) (<-chan engine.QuizSnapshot, func()) {
	ch := make(chan engine.QuizSnapshot, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.quiz.Snapshot()
	if interval > 0 && s.stopTicker == nil {
		s.stopTicker = s.startTicker(interval)
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		if len(s.subscribers) == 0 && s.stopTicker != nil {
			s.stopTicker()
			s.stopTicker = nil
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) startTicker(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
	return func() { close(done) }
}

// broadcast sends the latest state to every subscriber. Reading the state
// under the subscriber lock keeps deliveries ordered.
func (s *Session) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.quiz.Snapshot()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the oldest pending update so slow readers never block.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
