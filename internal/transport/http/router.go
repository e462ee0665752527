package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"quiz-rewards-service/internal/app"
)

// RouterConfig tunes the REST surface.
type RouterConfig struct {
	RatePerSecond float64
	Burst         int
	MaxProofBytes int64
}

// API serves the account REST endpoints.
type API struct {
	accounts *app.AccountService
	validate *validator.Validate
	limiter  *sessionLimiter
	logger   *zap.Logger
	cfg      RouterConfig
}

func NewAPI(accounts *app.AccountService, cfg RouterConfig, logger *zap.Logger) *API {
	if cfg.MaxProofBytes <= 0 {
		cfg.MaxProofBytes = 10 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		accounts: accounts,
		validate: validator.New(),
		limiter:  newSessionLimiter(cfg.RatePerSecond, cfg.Burst),
		logger:   logger,
		cfg:      cfg,
	}
}

// RunJanitor evicts idle rate-limit buckets until ctx is done.
func (a *API) RunJanitor(ctx context.Context) {
	a.limiter.cleanup(ctx, time.Minute)
}

// NewRouter wires the REST API, the quiz socket and the health check.
func NewRouter(api *API, ws *WSHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ws/quiz", ws.ServeWS)

	r := router.PathPrefix("/api").Subrouter()
	r.Use(sessionMiddleware)
	r.Use(loggingMiddleware(api.logger))
	r.Use(api.limiter.middleware)

	r.HandleFunc("/account", api.createAccount).Methods(http.MethodPost)
	r.HandleFunc("/account", api.logout).Methods(http.MethodDelete)
	r.HandleFunc("/dashboard", api.dashboard).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{taskId}/complete", api.completeTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{taskId}/proof", api.submitProof).Methods(http.MethodPost)
	r.HandleFunc("/payout", api.updatePayout).Methods(http.MethodPut)
	r.HandleFunc("/verify", api.verify).Methods(http.MethodPost)
	r.HandleFunc("/share", api.share).Methods(http.MethodPost)
	r.HandleFunc("/withdraw", api.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/referrals/{code}", api.trackReferral).Methods(http.MethodPost)
	r.HandleFunc("/preferences/proofs", api.setProofsExpanded).Methods(http.MethodPut)
	return router
}
