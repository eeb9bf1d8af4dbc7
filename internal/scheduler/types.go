package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"pubflow/internal/workflow"
)

var (
	ErrInvalidCron = errors.New("invalid cron expression")
	ErrNotFound    = errors.New("scheduled task not found")
)

// autoDisableThreshold is the consecutive-failure count that disables a task.
const autoDisableThreshold = 5

// Config controls the task scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ; empty means local time
}

// Runner executes a resolved workflow. Implemented by *workflow.Engine.
type Runner interface {
	Execute(ctx context.Context, def workflow.Definition, wfctx map[string]any) (*workflow.Result, error)
}

// Resolver looks up workflow definitions by id. Implemented by
// *workflow.Definitions.
type Resolver interface {
	Get(id string) (workflow.Definition, bool)
}

// Task is a recurring binding of a cron expression to a workflow.
type Task struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	CronExpr     string         `json:"cron_expr"`
	WorkflowID   string         `json:"workflow_id"`
	Enabled      bool           `json:"enabled"`
	LastRun      time.Time      `json:"last_run,omitzero"`
	NextRun      time.Time      `json:"next_run,omitzero"`
	RunCount     int64          `json:"run_count"`
	FailureCount int64          `json:"failure_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ScheduleResult is returned by scheduling operations.
type ScheduleResult struct {
	Success bool      `json:"success"`
	TaskID  string    `json:"task_id,omitempty"`
	NextRun time.Time `json:"next_run,omitzero"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	TaskID       string `json:"task_id"`
	Name         string `json:"name"`
	WorkflowID   string `json:"workflow_id"`
	Success      bool   `json:"success"`
	FailureCount int64  `json:"failure_count"`
	Error        string `json:"error,omitempty"`
}

// taskState pairs the public record with its trigger bookkeeping.
type taskState struct {
	task     Task
	schedule cron.Schedule
	entryID  cron.EntryID
	// registered is true while an entry is installed on the running cron.
	registered bool
}
