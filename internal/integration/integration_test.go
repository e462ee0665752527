package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-rewards-service/internal/app"
	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/engine"
	"quiz-rewards-service/internal/gateway/gatewaytest"
	"quiz-rewards-service/internal/infra/memory"
	pgloader "quiz-rewards-service/internal/infra/postgres"
	pgmigrations "quiz-rewards-service/internal/infra/postgres/migrations"
	infraredis "quiz-rewards-service/internal/infra/redis"
)

func TestQuizAndTasksEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	taskLoader := pgloader.NewTaskLoader(pool)
	seeded, err := taskLoader.LoadTasks(ctx)
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(seeded) != 5 || seeded[0].ID != "whatsapp_share" || seeded[0].CooldownHours != 8 {
		t.Fatalf("unexpected seeded catalog %+v", seeded)
	}
	if !seeded[4].ProofRequired || seeded[4].Reward.String() != "25" {
		t.Fatalf("expected proof-required install task, got %+v", seeded[4])
	}

	fake := gatewaytest.New(nil)
	prefs := infraredis.NewPreferenceStore(redisClient, time.Hour)
	accounts := app.NewAccountService(fake, prefs, memory.NewTaskCatalog(taskLoader, time.Minute), app.RewardPolicy{
		QuizReward: decimal.NewFromInt(50),
	})
	quizRepo := infraredis.NewQuizRepository(redisClient, pgloader.NewQuizLoader(pool), 5*time.Minute)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	quiz := app.NewQuizService(sessions, quizRepo, prefs, accounts, app.QuizSettings{QuizID: "daily"}, nil)

	snap, err := quiz.Start(ctx, "client-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.TotalQuestions != 2 || snap.Question == nil || snap.Question.Prompt != "What is 2 + 2?" {
		t.Fatalf("unexpected first question %+v", snap)
	}
	if _, err := quiz.Answer(ctx, "client-1", 0, 1); err != nil {
		t.Fatalf("answer 1: %v", err)
	}
	snap, err = quiz.Answer(ctx, "client-1", 1, 1)
	if err != nil {
		t.Fatalf("answer 2: %v", err)
	}
	if snap.State != engine.StateCompleted {
		t.Fatalf("expected completed, got %s", snap.State)
	}
	quiz.WaitForClaims()

	dash, err := accounts.Dashboard(ctx, "client-1")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if !dash.Account.QuizClaimed || dash.Account.Balance.String() != "50" {
		t.Fatalf("expected claimed quiz reward, got %+v", dash.Account)
	}
	if len(dash.Tasks) != 5 {
		t.Fatalf("expected full task catalog, got %d", len(dash.Tasks))
	}

	dash, err = accounts.CompleteTask(ctx, "client-1", "whatsapp_share")
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if dash.Tasks[0].Status != engine.StatusCoolingDown {
		t.Fatalf("expected cooldown after completion, got %s", dash.Tasks[0].Status)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

// seedQuiz runs the migrations, which also seed the task catalog, then
// stores quiz as JSONB.
func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "daily",
		Questions: []domain.Question{
			{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Correct: 1},
			{Prompt: "Capital of India?", Options: []string{"New Delhi", "Mumbai"}, Correct: 0},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
