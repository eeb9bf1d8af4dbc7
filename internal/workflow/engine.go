package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

// Engine executes workflow definitions.
//
// Execute is safe for concurrent use; each call runs on the caller's
// goroutine and is gated by the tracker's concurrency limit.
type Engine struct {
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	tracker  *Tracker
	registry *Registry

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewEngine(cfg Config, tracker *Tracker, registry *Registry, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		tracker:  tracker,
		registry: registry,
		stopCh:   make(chan struct{}),
	}
}

func (e *Engine) Tracker() *Tracker   { return e.tracker }
func (e *Engine) Registry() *Registry { return e.registry }

// Shutdown force-cancels all non-terminal executions and interrupts retry
// backoff waits. It does not wait for in-flight step executors to return.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.tracker.CancelRunning(time.Now())
}

// Execute runs the workflow with the given shared context and returns its
// result. The whole run is retried per the definition's retry policy (or the
// engine defaults) before the execution goes terminal.
func (e *Engine) Execute(ctx context.Context, def Definition, wfctx map[string]any) (*Result, error) {
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", def.ID, ErrEmptyWorkflow)
	}
	select {
	case <-e.stopCh:
		return nil, ErrShutdown
	default:
	}

	exec := &Execution{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		StartedAt:  time.Now(),
	}
	if err := e.tracker.begin(exec); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", def.ID, err)
	}

	runTimeout := e.runTimeout(def)

	e.tracker.markRunning(exec.ID)
	e.publish(eventbus.ExecutionStarted, ExecutionEvent{
		ExecutionID: exec.ID,
		WorkflowID:  def.ID,
		Status:      StatusRunning,
	})

	retries, delay, exponential := e.retryPolicy(def)
	maxAttempts := 1 + retries

	var res *Result
	var err error
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Retries re-invoke the full workflow with a fresh copy of the
		// caller's context map. Each attempt gets its own deadline; a
		// timed-out attempt must not shorten the ones after it.
		attemptCtx := ctx
		var cancel context.CancelFunc
		if runTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, runTimeout)
		}
		res, err = e.runSteps(attemptCtx, def, exec.ID, cloneContext(wfctx))
		if cancel != nil {
			cancel()
		}
		if err == nil {
			break
		}
		if isTimeout(ctx, err) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if attempt >= maxAttempts {
			break
		}

		e.tracker.noteRetry(exec.ID, err.Error())
		e.publish(eventbus.ExecutionRetried, ExecutionEvent{
			ExecutionID: exec.ID,
			WorkflowID:  def.ID,
			Status:      StatusRunning,
			Attempts:    attempt,
			Error:       err.Error(),
		})

		d := delay
		if exponential {
			for i := 1; i < attempt; i++ {
				d *= 2
			}
		}
		e.log.Debug("workflow retry scheduled",
			logx.String("workflow", def.ID),
			logx.String("execution", exec.ID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", d),
			logx.Err(err))
		tmr := time.NewTimer(d)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			err = ctx.Err()
			break attemptLoop
		case <-e.stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			err = ErrShutdown
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(exec.StartedAt)
	if err != nil {
		e.tracker.markFailed(exec.ID, err.Error())
		st, _ := e.tracker.Get(exec.ID)
		e.publish(eventbus.ExecutionFailed, ExecutionEvent{
			ExecutionID: exec.ID,
			WorkflowID:  def.ID,
			Status:      st.Status,
			Attempts:    st.RetryCount + 1,
			Duration:    dur,
			Error:       err.Error(),
		})
		e.log.Warn("workflow failed",
			logx.String("workflow", def.ID),
			logx.String("execution", exec.ID),
			logx.Duration("dur", dur),
			logx.Err(err))
		return nil, err
	}

	e.tracker.markCompleted(exec.ID, res)
	e.publish(eventbus.ExecutionCompleted, ExecutionEvent{
		ExecutionID: exec.ID,
		WorkflowID:  def.ID,
		Status:      StatusCompleted,
		Duration:    dur,
	})
	e.log.Info("workflow completed",
		logx.String("workflow", def.ID),
		logx.String("execution", exec.ID),
		logx.Duration("dur", dur),
		logx.Int("steps", len(def.Steps)))
	return res, nil
}

func (e *Engine) runSteps(ctx context.Context, def Definition, execID string, wfctx map[string]any) (*Result, error) {
	res := &Result{
		StepResults: make(map[string]any, len(def.Steps)),
		Context:     wfctx,
	}
	total := len(def.Steps)

	for i, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		exec, ok := e.registry.Get(step.Type)
		if !ok {
			serr := &StepError{StepID: step.ID, Type: step.Type, Err: ErrNoExecutor}
			if step.ContinueOnError {
				res.StepResults[step.ID] = map[string]any{"error": serr.Error()}
				e.tracker.noteStep(execID, i+1, total)
				continue
			}
			return nil, serr
		}

		out, err := e.runStep(ctx, exec, step, wfctx)
		if err != nil {
			serr := &StepError{StepID: step.ID, Type: step.Type, Err: err}
			if step.ContinueOnError {
				e.log.Warn("step failed; continuing",
					logx.String("workflow", def.ID),
					logx.String("step", step.ID),
					logx.Err(err))
				res.StepResults[step.ID] = map[string]any{"error": err.Error()}
				e.tracker.noteStep(execID, i+1, total)
				continue
			}
			return nil, serr
		}

		res.StepResults[step.ID] = out
		mergeOutput(step, out, wfctx)
		e.tracker.noteStep(execID, i+1, total)
	}
	return res, nil
}

func (e *Engine) runStep(ctx context.Context, exec StepExecutor, step Step, wfctx map[string]any) (any, error) {
	retries := 0
	delay := time.Duration(0)
	if step.Retry != nil {
		retries = step.Retry.MaxRetries
		delay = step.Retry.Delay
	}

	var out any
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		}
		out, err = exec.Execute(stepCtx, step.Config, wfctx)
		if cancel != nil {
			if err != nil && isTimeout(ctx, err) && stepCtx.Err() == context.DeadlineExceeded {
				err = fmt.Errorf("%w after %s", ErrTimeout, step.Timeout)
			}
			cancel()
		}
		if err == nil || attempt >= retries {
			break
		}
		if delay > 0 {
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return nil, ctx.Err()
			case <-tmr.C:
			}
		}
	}
	return out, err
}

func (e *Engine) runTimeout(def Definition) time.Duration {
	if def.Timeout > 0 {
		return def.Timeout
	}
	return e.cfg.DefaultTimeout
}

func (e *Engine) retryPolicy(def Definition) (retries int, delay time.Duration, exponential bool) {
	if def.Retry != nil {
		d := def.Retry.Delay
		if d <= 0 {
			d = e.cfg.RetryDelay
		}
		return def.Retry.MaxRetries, d, def.Retry.Exponential
	}
	return e.cfg.RetryAttempts, e.cfg.RetryDelay, e.cfg.Exponential
}

func (e *Engine) publish(typ string, ev ExecutionEvent) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// isTimeout reports whether err is a deadline error not caused by the
// parent context being cancelled.
func isTimeout(parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}

func mergeOutput(step Step, out any, wfctx map[string]any) {
	if len(step.OutputMapping) == 0 {
		return
	}
	m, _ := out.(map[string]any)
	for ctxKey, field := range step.OutputMapping {
		if m != nil {
			if v, ok := m[field]; ok {
				wfctx[ctxKey] = v
				continue
			}
		}
		wfctx[ctxKey] = out
	}
}

func cloneContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
