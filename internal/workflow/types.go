package workflow

import (
	"time"
)

// Config controls the execution engine.
type Config struct {
	MaxConcurrent  int           // max simultaneously running workflows (default 10)
	DefaultTimeout time.Duration // per-run timeout when the definition has none; 0 disables
	RetryAttempts  int           // whole-run retries after the first attempt (default 0)
	RetryDelay     time.Duration // base delay between run attempts (default 30s)
	Exponential    bool          // double RetryDelay per attempt
	Retention      time.Duration // how long terminal executions are kept (default 24h)
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// StepType tags a step with the executor that interprets its config.
type StepType string

const (
	StepHTTPRequest  StepType = "http_request"
	StepDatabaseOp   StepType = "database_operation"
	StepAgentCall    StepType = "agent_call"
	StepDelay        StepType = "delay"
	StepConditional  StepType = "conditional"
	StepLoop         StepType = "loop"
)

// RetryPolicy overrides the engine retry defaults for one workflow.
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries"`
	Delay       time.Duration `json:"delay"`
	Exponential bool          `json:"exponential,omitempty"`
}

// Step is one unit of work inside a workflow definition.
//
// Config is opaque to the engine; only the matching StepExecutor interprets
// it. DependsOn is informational: steps always run in declaration order.
type Step struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            StepType       `json:"type"`
	Config          map[string]any `json:"config,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
	Timeout         time.Duration  `json:"timeout,omitempty"`
	Retry           *RetryPolicy   `json:"retry,omitempty"`
	DependsOn       []string       `json:"depends_on,omitempty"`

	// OutputMapping copies fields of a successful step result into the shared
	// context (context key -> result field). A mapping whose field is absent
	// from the result stores the whole result under the context key.
	OutputMapping map[string]string `json:"output_mapping,omitempty"`
}

// Definition is an immutable description of a job. Read-only to this package.
type Definition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Steps       []Step        `json:"steps"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Retry       *RetryPolicy  `json:"retry,omitempty"`
}

// Status is the execution lifecycle state.
//
// Transitions only move forward:
//
//	pending -> running -> completed | failed | cancelled
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) validNext(n Status) bool {
	switch s {
	case StatusPending:
		return n == StatusRunning || n == StatusCancelled
	case StatusRunning:
		return n.Terminal()
	default:
		return false
	}
}

// Result carries the outcome of a completed run.
type Result struct {
	StepResults map[string]any `json:"step_results"`
	Context     map[string]any `json:"context"`
}

// Execution is one run record. It is owned by the Tracker; callers only ever
// see copies.
type Execution struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at,omitzero"`
	RetryCount int            `json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Result     *Result        `json:"result,omitempty"`

	stepsTotal int
	stepsDone  int
}

// ExecutionStatus is the tracker's external view of one execution.
type ExecutionStatus struct {
	Execution

	// Progress is 0-100. For running executions it is derived from
	// steps-completed/steps-total; before the first step completes it falls
	// back to 50, which is an estimate, not a guarantee.
	Progress int `json:"progress"`
}

// Stats is an aggregate view over all tracked executions.
type Stats struct {
	Total           int           `json:"total"`
	Running         int           `json:"running"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	AverageDuration time.Duration `json:"average_duration"`
}

// ExecutionEvent is emitted on the event bus for execution lifecycle events.
type ExecutionEvent struct {
	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}
