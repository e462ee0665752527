package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-rewards-service/internal/app"
	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/engine"
	"quiz-rewards-service/internal/gateway"
	"quiz-rewards-service/internal/infra/memory"
)

type quizFixture struct {
	*fixture
	store *memory.SessionStore
	quiz  *app.QuizService
}

func newQuizFixture(t *testing.T, settings app.QuizSettings) *quizFixture {
	t.Helper()
	f := newFixture(t)
	settings.QuizID = "daily"
	store := memory.NewSessionStore()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"daily": {
			ID: "daily",
			Questions: []domain.Question{
				{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Correct: 1},
				{Prompt: "Capital of India?", Options: []string{"New Delhi", "Mumbai"}, Correct: 0},
			},
		},
	}), 5*time.Minute)
	return &quizFixture{
		fixture: f,
		store:   store,
		quiz:    app.NewQuizService(store, quizRepo, f.prefs, f.service, settings, nil),
	}
}

func TestQuizCompletionClaimsReward(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{})

	snap, err := q.quiz.Start(q.ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StateInProgress, snap.State)
	assert.Equal(t, 0, snap.QuestionIndex)
	assert.Equal(t, engine.DefaultQuestionTicks, snap.Remaining)

	_, err = q.quiz.Answer(q.ctx, "client-1", 0, 1)
	require.NoError(t, err)
	snap, err = q.quiz.Answer(q.ctx, "client-1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, snap.State)
	assert.Equal(t, 1, snap.CorrectCount)

	q.quiz.WaitForClaims()
	played, ok, _ := q.prefs.Get(q.ctx, "client-1", app.PrefHasPlayedQuiz)
	assert.True(t, ok)
	assert.Equal(t, "true", played)

	dash, err := q.service.Dashboard(q.ctx, "client-1")
	require.NoError(t, err, "completion creates the account lazily")
	assert.True(t, dash.Account.QuizClaimed)
	assert.Equal(t, "50", dash.Account.Balance.String())
	assert.Equal(t, 1, q.fake.Calls("create"))
}

func TestQuizAllWrongRequiresRetry(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{})
	_, err := q.quiz.Start(q.ctx, "client-1")
	require.NoError(t, err)

	_, _ = q.quiz.Answer(q.ctx, "client-1", 0, 0)
	snap, err := q.quiz.Answer(q.ctx, "client-1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, engine.StateRetryRequired, snap.State)
	assert.Equal(t, engine.RetryIndex, snap.QuestionIndex)

	_, err = q.quiz.Answer(q.ctx, "client-1", 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	snap, err = q.quiz.Retry(q.ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StateInProgress, snap.State)
	assert.Equal(t, 0, snap.QuestionIndex)
	assert.Empty(t, snap.Answers)

	q.quiz.WaitForClaims()
	assert.Equal(t, 0, q.fake.Calls("create"), "no claim without a correct answer")
}

func TestQuizAlreadyPlayedBypass(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{})
	q.bind(t, "client-1", domain.Account{QuizClaimed: true})
	require.NoError(t, q.prefs.Set(q.ctx, "client-2", app.PrefHasPlayedQuiz, "true"))

	for _, session := range []string{"client-1", "client-2"} {
		snap, err := q.quiz.Start(q.ctx, session)
		require.NoError(t, err)
		assert.Equal(t, engine.StateAlreadyPlayed, snap.State, session)

		_, err = q.quiz.Answer(q.ctx, session, 0, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
}

func TestQuizDoubleAnswerIsNoop(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{})
	_, _ = q.quiz.Start(q.ctx, "client-1")

	_, err := q.quiz.Answer(q.ctx, "client-1", 0, 1)
	require.NoError(t, err)
	snap, err := q.quiz.Answer(q.ctx, "client-1", 0, 2)
	assert.ErrorIs(t, err, domain.ErrAnswerAlreadyRecorded)
	assert.Equal(t, []int{1}, snap.Answers)
	assert.Equal(t, 1, snap.QuestionIndex)
}

func TestQuizUnknownSession(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{})

	_, err := q.quiz.Answer(q.ctx, "ghost", 0, 1)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = q.quiz.Tick(q.ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, _, err = q.quiz.Subscribe(q.ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{})
	_, _ = q.quiz.Start(q.ctx, "client-1")

	ch, cancel, err := q.quiz.Subscribe(q.ctx, "client-1")
	require.NoError(t, err)

	initial := <-ch
	assert.Equal(t, 0, initial.QuestionIndex)

	_, err = q.quiz.Answer(q.ctx, "client-1", 0, 1)
	require.NoError(t, err)
	update := <-ch
	assert.Equal(t, 1, update.QuestionIndex)

	_, err = q.quiz.Tick(q.ctx, "client-1")
	require.NoError(t, err)
	ticked := <-ch
	assert.Equal(t, engine.DefaultQuestionTicks-1, ticked.Remaining)

	cancel()
	q.quiz.Leave(q.ctx, "client-1")
	assert.Equal(t, 0, q.store.Len())
}

func TestSubscriptionDrivesCountdown(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{QuestionTicks: 2, TickInterval: 5 * time.Millisecond})
	_, _ = q.quiz.Start(q.ctx, "client-1")

	ch, cancel, err := q.quiz.Subscribe(q.ctx, "client-1")
	require.NoError(t, err)
	defer cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Terminal() {
				assert.Len(t, snap.Answers, 2, "timeouts answer every question")
				return
			}
		case <-deadline:
			t.Fatalf("countdown never finished the quiz")
		}
	}
}

func TestFailedClaimIsRetriedOnDashboard(t *testing.T) {
	q := newQuizFixture(t, app.QuizSettings{})
	id := q.bind(t, "client-1", domain.Account{})
	q.fake.FailNext["update"] = &gateway.TransportError{Op: "update account", StatusCode: 503}

	_, _ = q.quiz.Start(q.ctx, "client-1")
	_, _ = q.quiz.Answer(q.ctx, "client-1", 0, 1)
	snap, _ := q.quiz.Answer(q.ctx, "client-1", 1, 0)
	assert.Equal(t, engine.StateCompleted, snap.State, "local outcome stands even if the claim fails")
	q.quiz.WaitForClaims()

	stored, _ := q.fake.Account(id)
	require.False(t, stored.Account.QuizClaimed)

	dash, err := q.service.Dashboard(context.Background(), "client-1")
	require.NoError(t, err)
	assert.True(t, dash.Account.QuizClaimed)
}
