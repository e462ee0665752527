package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"quiz-rewards-service/internal/domain"
)

// TaskLoader reads the enabled task catalog in display order.
type TaskLoader struct {
	pool *pgxpool.Pool
}

func NewTaskLoader(pool *pgxpool.Pool) *TaskLoader {
	return &TaskLoader{pool: pool}
}

func (l *TaskLoader) LoadTasks(ctx context.Context) ([]domain.TaskDefinition, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, label, reward::text, cooldown_hours, proof_required
		FROM tasks
		WHERE enabled
		ORDER BY position, id`)
	if err != nil {
		return nil, errors.Wrap(err, "query tasks")
	}
	defer rows.Close()

	tasks := make([]domain.TaskDefinition, 0, 8)
	for rows.Next() {
		var (
			task   domain.TaskDefinition
			reward string
		)
		if err := rows.Scan(&task.ID, &task.Label, &reward, &task.CooldownHours, &task.ProofRequired); err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		task.Reward, err = decimal.NewFromString(reward)
		if err != nil {
			return nil, errors.Wrapf(err, "task %s reward", task.ID)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate tasks")
	}
	return tasks, nil
}
