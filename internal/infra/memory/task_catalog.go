package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/flight"
)

// TaskLoader fetches the task catalog from a backing store.
type TaskLoader interface {
	LoadTasks(ctx context.Context) ([]domain.TaskDefinition, error)
}

// TaskCatalog caches the catalog for ttl. The catalog is small and changes
// only with a deploy or a migration.
type TaskCatalog struct {
	loader TaskLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu        sync.RWMutex
	tasks     []domain.TaskDefinition
	expiresAt time.Time
}

func NewTaskCatalog(loader TaskLoader, ttl time.Duration) *TaskCatalog {
	return &TaskCatalog{loader: loader, ttl: ttl, clock: time.Now}
}

func (c *TaskCatalog) Tasks(ctx context.Context) ([]domain.TaskDefinition, error) {
	c.mu.RLock()
	if c.tasks != nil && c.expiresAt.After(c.clock()) {
		tasks := c.tasks
		c.mu.RUnlock()
		return tasks, nil
	}
	c.mu.RUnlock()

	return flight.Do(ctx, &c.sf, "tasks", 0, func(ctx context.Context) ([]domain.TaskDefinition, error) {
		tasks, err := c.loader.LoadTasks(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tasks = tasks
		c.expiresAt = c.clock().Add(c.ttl)
		c.mu.Unlock()
		return tasks, nil
	})
}

// StaticTaskLoader serves a fixed catalog (tests, demo mode).
type StaticTaskLoader struct {
	tasks []domain.TaskDefinition
}

func NewStaticTaskLoader(tasks []domain.TaskDefinition) *StaticTaskLoader {
	return &StaticTaskLoader{tasks: tasks}
}

func (l *StaticTaskLoader) LoadTasks(context.Context) ([]domain.TaskDefinition, error) {
	return append([]domain.TaskDefinition(nil), l.tasks...), nil
}
