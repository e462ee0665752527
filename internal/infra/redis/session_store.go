package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-rewards-service/internal/app"
)

const defaultMarkerTimeout = 2 * time.Second

// SessionStore keeps playthroughs in process (they own goroutines and
// channels) and mirrors their liveness into Redis so operators can count
// active players across instances. Redis calls happen outside the lock and
// never fail the playthrough.
type SessionStore struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

// SessionOption customizes a SessionStore.
type SessionOption func(*SessionStore)

func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *SessionStore) { s.logger = logger }
}

func NewSessionStore(client *redis.Client, ttl time.Duration, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		client:    client,
		ttl:       ttl,
		opTimeout: defaultMarkerTimeout,
		logger:    zap.NewNop(),
		sessions:  make(map[string]*app.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) GetOrCreate(sessionID string, create func() (*app.Session, error)) (*app.Session, error) {
	s.mu.Lock()
	if session, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return session, nil
	}
	session, err := create()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.marker("set", sessionID, func(ctx context.Context) error {
		return s.client.Set(ctx, s.key(sessionID), string(session.Snapshot().State), s.ttl).Err()
	})
	return session, nil
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		s.marker("refresh", sessionID, func(ctx context.Context) error {
			return s.client.Expire(ctx, s.key(sessionID), s.ttl).Err()
		})
	}
	return session, ok
}

func (s *SessionStore) DeleteIfEmpty(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok || !session.IsEmpty() {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.marker("delete", sessionID, func(ctx context.Context) error {
		return s.client.Del(ctx, s.key(sessionID)).Err()
	})
}

// marker runs one liveness update bounded by opTimeout and logs failures.
func (s *SessionStore) marker(op, sessionID string, call func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := call(ctx); err != nil {
		s.logger.Debug("session marker failed", zap.String("op", op), zap.String("session", sessionID), zap.Error(err))
	}
}

func (s *SessionStore) key(sessionID string) string {
	return "quiz:session:" + sessionID
}
