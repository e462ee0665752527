package memory

import (
	"context"
	"sync"
)

// PreferenceStore keeps per-client-session preferences in process memory.
type PreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]map[string]string
}

func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{prefs: make(map[string]map[string]string)}
}

func (s *PreferenceStore) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.prefs[sessionID][key]
	return v, ok, nil
}

func (s *PreferenceStore) Set(_ context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.prefs[sessionID]
	if !ok {
		values = make(map[string]string)
		s.prefs[sessionID] = values
	}
	values[key] = value
	return nil
}

// All returns a copy of the session's preferences, never nil.
func (s *PreferenceStore) All(_ context.Context, sessionID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.prefs[sessionID]))
	for k, v := range s.prefs[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (s *PreferenceStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.prefs, sessionID)
	s.mu.Unlock()
	return nil
}
