package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-rewards-service/internal/app"
	"quiz-rewards-service/internal/config"
	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/engine"
	"quiz-rewards-service/internal/gateway"
	"quiz-rewards-service/internal/infra/memory"
	pgloader "quiz-rewards-service/internal/infra/postgres"
	redisstore "quiz-rewards-service/internal/infra/redis"
	"quiz-rewards-service/internal/logging"
	transport "quiz-rewards-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP and quiz socket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway base_url not configured")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 30*24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		defer pool.Close()
	}

	var quizLoader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes(cfg.Quiz.ID))
	var taskLoader memory.TaskLoader = memory.NewStaticTaskLoader(defaultTasks())
	if pool != nil {
		quizLoader = pgloader.NewQuizLoader(pool)
		taskLoader = pgloader.NewTaskLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var sessions app.SessionRepository
	var prefs app.PreferenceStore
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, quizLoader, quizTTL)
		sessions = redisstore.NewSessionStore(redisClient, time.Hour, redisstore.WithSessionLogger(logger.Named("sessions")))
		prefs = redisstore.NewPreferenceStore(redisClient, redisTTL)
	} else {
		quizRepo = memory.NewQuizRepository(quizLoader, quizTTL)
		sessions = memory.NewSessionStore()
		prefs = memory.NewPreferenceStore()
	}
	tasks := memory.NewTaskCatalog(taskLoader, quizTTL)

	gatewayZone, err := config.Location(cfg.Gateway.Timezone)
	if err != nil {
		return err
	}
	gatewayTimeout := config.TTLDuration(cfg.Gateway.Timeout, 15*time.Second)
	client := gateway.NewClient(cfg.Gateway.BaseURL,
		gateway.WithHTTPClient(&http.Client{Timeout: gatewayTimeout}),
		gateway.WithRateLimit(cfg.Gateway.RatePerSecond, cfg.Gateway.Burst),
		gateway.WithLocation(gatewayZone),
		gateway.WithLogger(logger.Named("gateway")),
	)

	accounts := app.NewAccountService(client, prefs, tasks, rewardPolicy(cfg), app.WithAccountLogger(logger.Named("accounts")),
		app.WithReadTimeout(gatewayTimeout),
	)
	quiz := app.NewQuizService(sessions, quizRepo, prefs, accounts, app.QuizSettings{
		QuizID:        cfg.Quiz.ID,
		QuestionTicks: cfg.Quiz.QuestionSeconds,
		TickInterval:  time.Second,
	}, logger.Named("quiz"))

	api := transport.NewAPI(accounts, transport.RouterConfig{
		RatePerSecond: cfg.Server.RatePerSecond,
		Burst:         cfg.Server.Burst,
	}, logger.Named("http"))
	router := transport.NewRouter(api, transport.NewWSHandler(quiz, logger.Named("ws")))

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go api.RunJanitor(janitorCtx)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting quiz rewards service", zap.String("port", finalPort), zap.String("gateway", cfg.Gateway.BaseURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	quiz.WaitForClaims()
	return err
}

func rewardPolicy(cfg config.Config) app.RewardPolicy {
	return app.RewardPolicy{
		WithdrawalThreshold: config.Amount(cfg.Rewards.WithdrawalThreshold, engine.DefaultWithdrawalThreshold),
		QuizReward:          config.Amount(cfg.Rewards.QuizReward, decimal.NewFromInt(50)),
		Rates: engine.EarningRates{
			Share:    config.Amount(cfg.Rewards.ShareRate, decimal.NewFromInt(1)),
			Click:    config.Amount(cfg.Rewards.ClickRate, decimal.RequireFromString("0.50")),
			Referral: config.Amount(cfg.Rewards.ReferralRate, decimal.NewFromInt(10)),
		},
		ProcessingTimeout: config.TTLDuration(cfg.Rewards.ProcessingTimeout, 45*time.Second),
	}
}

// defaultTasks mirrors the catalog seeded by the tasks migration.
func defaultTasks() []domain.TaskDefinition {
	return []domain.TaskDefinition{
		{ID: "whatsapp_share", Label: "Share on WhatsApp", Reward: decimal.NewFromInt(5), CooldownHours: 8},
		{ID: "telegram_share", Label: "Share on Telegram", Reward: decimal.NewFromInt(5), CooldownHours: 8},
		{ID: "daily_checkin", Label: "Daily check-in", Reward: decimal.NewFromInt(2), CooldownHours: 24},
		{ID: "instagram_follow", Label: "Follow us on Instagram", Reward: decimal.NewFromInt(10)},
		{ID: "terabox_install", Label: "Install TeraBox", Reward: decimal.NewFromInt(25), ProofRequired: true},
	}
}

// sampleQuizzes is served when no Postgres is configured.
func sampleQuizzes(quizID string) map[string]domain.Quiz {
	return map[string]domain.Quiz{
		quizID: {
			ID: quizID,
			Questions: []domain.Question{
				{Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter", "Saturn"}, Correct: 1},
				{Prompt: "How many players does a cricket team field?", Options: []string{"9", "10", "11", "12"}, Correct: 2},
				{Prompt: "What is the capital of India?", Options: []string{"Mumbai", "Kolkata", "New Delhi", "Chennai"}, Correct: 2},
			},
		},
	}
}
