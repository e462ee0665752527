package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PreferenceStore keeps per-client-session preferences in one Redis hash
// per session (prefs:{sessionID}), refreshed to ttl on every write.
type PreferenceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPreferenceStore(client *redis.Client, ttl time.Duration) *PreferenceStore {
	return &PreferenceStore{client: client, ttl: ttl}
}

func (s *PreferenceStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "read preference")
	}
	return v, true, nil
}

func (s *PreferenceStore) Set(ctx context.Context, sessionID, key, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(sessionID), key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "write preference")
	}
	return nil
}

func (s *PreferenceStore) All(ctx context.Context, sessionID string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read preferences")
	}
	return values, nil
}

func (s *PreferenceStore) Clear(ctx context.Context, sessionID string) error {
	return errors.Wrap(s.client.Del(ctx, s.key(sessionID)).Err(), "clear preferences")
}

func (s *PreferenceStore) key(sessionID string) string {
	return "prefs:" + sessionID
}
