package engine

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"quiz-rewards-service/internal/domain"
)

// QuizState is the coarse state of a playthrough.
type QuizState string

const (
	StateInProgress    QuizState = "in_progress"
	StateRetryRequired QuizState = "retry_required"
	StateCompleted     QuizState = "completed"
	// StateAlreadyPlayed means the account claimed the quiz before; no transitions happen.
	StateAlreadyPlayed QuizState = "already_played"
)

// DefaultQuestionTicks is the per-question countdown, in ticks.
const DefaultQuestionTicks = 30

// RetryIndex is the question index reported while a retry is required.
const RetryIndex = -1

// QuestionView is what a player may see of a question.
type QuestionView struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// QuizSnapshot is a copy of the session state safe to hand to other goroutines.
type QuizSnapshot struct {
	State          QuizState     `json:"state"`
	QuestionIndex  int           `json:"questionIndex"`
	TotalQuestions int           `json:"totalQuestions"`
	Question       *QuestionView `json:"question,omitempty"`
	Answers        []int         `json:"answers"`
	Remaining      int           `json:"remaining"`
	CorrectCount   int           `json:"correctCount"`
}

// Terminal reports whether no further answers are accepted until a retry or reset.
func (s QuizSnapshot) Terminal() bool {
	return s.State != StateInProgress
}

// QuizOption customizes a QuizSession.
type QuizOption func(*QuizSession)

// WithQuestionTicks overrides the per-question countdown.
func WithQuestionTicks(ticks int) QuizOption {
	return func(s *QuizSession) {
		if ticks > 0 {
			s.ticks = ticks
		}
	}
}

// WithRand sets the source used to pick an answer when a question times out.
func WithRand(rnd *rand.Rand) QuizOption {
	return func(s *QuizSession) {
		if rnd != nil {
			s.rnd = rnd
		}
	}
}

// WithCompletionHook registers the "mark played" side effect. It runs at most
// once per session, after the session lock is released.
func WithCompletionHook(fn func(QuizSnapshot)) QuizOption {
	return func(s *QuizSession) {
		s.onComplete = fn
	}
}

// AlreadyPlayed bypasses the state machine entirely.
func AlreadyPlayed() QuizOption {
	return func(s *QuizSession) {
		s.state = StateAlreadyPlayed
	}
}

// QuizSession drives one fixed-length playthrough to an outcome.
type QuizSession struct {
	mu         sync.Mutex
	questions  []domain.Question
	ticks      int
	rnd        *rand.Rand
	onComplete func(QuizSnapshot)

	state     QuizState
	index     int
	answers   []int
	remaining int
	fired     bool
}

// NewQuizSession validates the questions and starts at InProgress(0).
func NewQuizSession(questions []domain.Question, opts ...QuizOption) (*QuizSession, error) {
	if len(questions) == 0 {
		return nil, errors.Wrap(domain.ErrQuizNotFound, "quiz has no questions")
	}
	for i, q := range questions {
		if len(q.Options) == 0 || q.Correct < 0 || q.Correct >= len(q.Options) {
			return nil, errors.Errorf("question %d: correct index %d outside %d options", i, q.Correct, len(q.Options))
		}
	}

	s := &QuizSession{
		questions: questions,
		ticks:     DefaultQuestionTicks,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		state:     StateInProgress,
		answers:   make([]int, 0, len(questions)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.remaining = s.ticks
	return s, nil
}

// SelectAnswer records an answer for the current question.
func (s *QuizSession) SelectAnswer(option int) (QuizSnapshot, error) {
	s.mu.Lock()
	snap, hook, err := s.answerLocked(s.index, option)
	s.mu.Unlock()
	s.fire(hook, snap)
	return snap, err
}

// AnswerQuestion records an answer only if question is still the current one.
// A second answer for the same question is a no-op reported as
// ErrAnswerAlreadyRecorded.
func (s *QuizSession) AnswerQuestion(question, option int) (QuizSnapshot, error) {
	s.mu.Lock()
	snap, hook, err := s.answerLocked(question, option)
	s.mu.Unlock()
	s.fire(hook, snap)
	return snap, err
}

// OnTick advances the countdown by one unit and times out the question at zero.
func (s *QuizSession) OnTick() QuizSnapshot {
	s.mu.Lock()
	if s.state != StateInProgress {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	s.remaining--
	if s.remaining > 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	snap, hook := s.timeoutLocked()
	s.mu.Unlock()
	s.fire(hook, snap)
	return snap
}

// OnTimeout answers the current question with a random option.
func (s *QuizSession) OnTimeout() QuizSnapshot {
	s.mu.Lock()
	if s.state != StateInProgress {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	snap, hook := s.timeoutLocked()
	s.mu.Unlock()
	s.fire(hook, snap)
	return snap
}

// Retry returns a RetryRequired session to InProgress(0) with no answers.
func (s *QuizSession) Retry() (QuizSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRetryRequired {
		return s.snapshotLocked(), ErrInvalidRetry
	}
	s.state = StateInProgress
	s.index = 0
	s.answers = s.answers[:0]
	s.remaining = s.ticks
	return s.snapshotLocked(), nil
}

// Snapshot returns the current state.
func (s *QuizSession) Snapshot() QuizSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ErrInvalidRetry is returned by Retry outside the RetryRequired state.
var ErrInvalidRetry = errors.Wrap(domain.ErrInvalidTransition, "retry")

func (s *QuizSession) answerLocked(question, option int) (QuizSnapshot, func(QuizSnapshot), error) {
	if s.state != StateInProgress {
		return s.snapshotLocked(), nil, domain.ErrInvalidTransition
	}
	if question != s.index || len(s.answers) > s.index {
		return s.snapshotLocked(), nil, domain.ErrAnswerAlreadyRecorded
	}
	if option < 0 || option >= len(s.questions[s.index].Options) {
		return s.snapshotLocked(), nil, domain.ErrInvalidOption
	}

	s.answers = append(s.answers, option)
	if s.index < len(s.questions)-1 {
		s.index++
		s.remaining = s.ticks
		return s.snapshotLocked(), nil, nil
	}

	if s.correctLocked() == 0 {
		s.state = StateRetryRequired
		s.index = RetryIndex
		s.remaining = 0
		return s.snapshotLocked(), nil, nil
	}

	s.state = StateCompleted
	s.remaining = 0
	if s.fired || s.onComplete == nil {
		return s.snapshotLocked(), nil, nil
	}
	s.fired = true
	return s.snapshotLocked(), s.onComplete, nil
}

func (s *QuizSession) timeoutLocked() (QuizSnapshot, func(QuizSnapshot)) {
	option := s.rnd.Intn(len(s.questions[s.index].Options))
	snap, hook, _ := s.answerLocked(s.index, option)
	return snap, hook
}

func (s *QuizSession) fire(hook func(QuizSnapshot), snap QuizSnapshot) {
	if hook != nil {
		hook(snap)
	}
}

func (s *QuizSession) correctLocked() int {
	correct := 0
	for i, answer := range s.answers {
		if answer == s.questions[i].Correct {
			correct++
		}
	}
	return correct
}

func (s *QuizSession) snapshotLocked() QuizSnapshot {
	snap := QuizSnapshot{
		State:          s.state,
		QuestionIndex:  s.index,
		TotalQuestions: len(s.questions),
		Answers:        append([]int(nil), s.answers...),
		Remaining:      s.remaining,
	}
	switch s.state {
	case StateInProgress:
		q := s.questions[s.index]
		snap.Question = &QuestionView{Prompt: q.Prompt, Options: append([]string(nil), q.Options...)}
	case StateCompleted, StateRetryRequired:
		snap.CorrectCount = s.correctLocked()
	case StateAlreadyPlayed:
		snap.QuestionIndex = 0
		snap.Remaining = 0
	}
	return snap
}
