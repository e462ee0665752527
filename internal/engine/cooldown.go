package engine

import (
	"time"

	"quiz-rewards-service/internal/domain"
)

// TaskStatus is the eligibility verdict for a task at a point in time.
type TaskStatus string

const (
	StatusNeverDone   TaskStatus = "never_done"
	StatusEligible    TaskStatus = "eligible"
	StatusCoolingDown TaskStatus = "cooling_down"
	// StatusCompleted is terminal for one-time tasks.
	StatusCompleted TaskStatus = "completed"
)

// TaskVerdict is the result of evaluating one task.
type TaskVerdict struct {
	Task           domain.TaskDefinition `json:"task"`
	Status         TaskStatus            `json:"status"`
	HoursRemaining float64               `json:"hoursRemaining"`
	LastPerformed  *time.Time            `json:"lastPerformed,omitempty"`
	NextAvailable  *time.Time            `json:"nextAvailable,omitempty"`
}

// Available reports whether the task may be performed for reward now.
func (v TaskVerdict) Available() bool {
	return v.Status == StatusNeverDone || v.Status == StatusEligible
}

// EvaluateTask computes the verdict for a task given when it was last
// performed. A zero or absent timestamp counts as never performed.
func EvaluateTask(task domain.TaskDefinition, last time.Time, performed bool, now time.Time) TaskVerdict {
	verdict := TaskVerdict{Task: task}
	if !performed || last.IsZero() {
		verdict.Status = StatusNeverDone
		return verdict
	}
	lastCopy := last
	verdict.LastPerformed = &lastCopy

	if !task.Repeatable() {
		verdict.Status = StatusCompleted
		return verdict
	}

	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	cooldown := time.Duration(task.CooldownHours * float64(time.Hour))
	next := last.Add(cooldown)
	verdict.NextAvailable = &next

	remaining := cooldown - elapsed
	if remaining <= 0 {
		verdict.Status = StatusEligible
		return verdict
	}
	verdict.Status = StatusCoolingDown
	verdict.HoursRemaining = remaining.Hours()
	return verdict
}

// Evaluator evaluates task catalogs against an account.
type Evaluator struct {
	now func() time.Time
}

func NewEvaluator(now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{now: now}
}

// EvaluateCatalog reads the clock once so every verdict in the batch agrees.
func (e *Evaluator) EvaluateCatalog(tasks []domain.TaskDefinition, account domain.Account) []TaskVerdict {
	now := e.now()
	verdicts := make([]TaskVerdict, 0, len(tasks))
	for _, task := range tasks {
		last, ok := account.LastPerformed(task.ID)
		verdicts = append(verdicts, EvaluateTask(task, last, ok, now))
	}
	return verdicts
}

// Evaluate returns the verdict for a single task.
func (e *Evaluator) Evaluate(task domain.TaskDefinition, account domain.Account) TaskVerdict {
	last, ok := account.LastPerformed(task.ID)
	return EvaluateTask(task, last, ok, e.now())
}
