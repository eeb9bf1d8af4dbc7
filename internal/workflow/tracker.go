package workflow

import (
	"sync"
	"time"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

// Tracker is the in-memory registry of executions.
//
// It is the only shared mutable state on the workflow side; all access goes
// through its mutex. The concurrency gate is check-and-increment under that
// same mutex, so concurrent Execute calls can never overshoot the limit.
type Tracker struct {
	mu    sync.Mutex
	execs map[string]*Execution

	// active counts executions in pending or running state. The gate uses
	// this rather than a running-only count so that a record created but not
	// yet started cannot let an extra run slip through.
	active int
	max    int

	log logx.Logger
	bus eventbus.Bus
}

func NewTracker(cfg Config, log logx.Logger, bus eventbus.Bus) *Tracker {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		execs: map[string]*Execution{},
		max:   cfg.MaxConcurrent,
		log:   log,
		bus:   bus,
	}
}

// begin reserves a concurrency slot and registers a pending execution.
func (t *Tracker) begin(e *Execution) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active >= t.max {
		return ErrConcurrencyLimit
	}
	t.active++
	e.Status = StatusPending
	t.execs[e.ID] = e
	return nil
}

func (t *Tracker) transition(id string, next Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.execs[id]
	if e == nil || !e.Status.validNext(next) {
		return
	}
	e.Status = next
	if next.Terminal() {
		e.EndedAt = time.Now()
		if t.active > 0 {
			t.active--
		}
	}
}

func (t *Tracker) markRunning(id string) { t.transition(id, StatusRunning) }

func (t *Tracker) markCompleted(id string, res *Result) {
	t.mu.Lock()
	if e := t.execs[id]; e != nil && e.Status.validNext(StatusCompleted) {
		e.Result = res
		e.LastError = ""
	}
	t.mu.Unlock()
	t.transition(id, StatusCompleted)
}

func (t *Tracker) markFailed(id string, errMsg string) {
	t.mu.Lock()
	if e := t.execs[id]; e != nil {
		e.LastError = errMsg
	}
	t.mu.Unlock()
	t.transition(id, StatusFailed)
}

func (t *Tracker) noteRetry(id string, errMsg string) {
	t.mu.Lock()
	if e := t.execs[id]; e != nil {
		e.RetryCount++
		e.LastError = errMsg
		e.stepsDone = 0
	}
	t.mu.Unlock()
}

func (t *Tracker) noteStep(id string, done, total int) {
	t.mu.Lock()
	if e := t.execs[id]; e != nil {
		e.stepsDone = done
		e.stepsTotal = total
	}
	t.mu.Unlock()
}

// CancelRunning force-cancels every non-terminal execution. Used only at
// whole-system shutdown; already-applied step side effects are not rolled
// back.
func (t *Tracker) CancelRunning(at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.execs {
		if e.Status.Terminal() {
			continue
		}
		e.Status = StatusCancelled
		e.EndedAt = at
		if t.active > 0 {
			t.active--
		}
		n++
	}
	if n > 0 {
		t.log.Warn("cancelled running executions on shutdown", logx.Int("count", n))
	}
	return n
}

// Get returns a copy of the execution with a derived progress value.
func (t *Tracker) Get(id string) (ExecutionStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.execs[id]
	if e == nil {
		return ExecutionStatus{}, ErrNotFound
	}
	return ExecutionStatus{Execution: *e, Progress: progressOf(e)}, nil
}

func progressOf(e *Execution) int {
	switch e.Status {
	case StatusCompleted:
		return 100
	case StatusFailed, StatusCancelled:
		return 0
	case StatusRunning:
		if e.stepsTotal > 0 {
			return e.stepsDone * 100 / e.stepsTotal
		}
		// No step count reported yet; midpoint estimate.
		return 50
	default:
		return 0
	}
}

// Stats aggregates over all tracked executions. AverageDuration covers
// terminal executions only.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st Stats
	var sum time.Duration
	var terminal int
	for _, e := range t.execs {
		st.Total++
		switch e.Status {
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
		if e.Status.Terminal() && !e.EndedAt.IsZero() {
			sum += e.EndedAt.Sub(e.StartedAt)
			terminal++
		}
	}
	if terminal > 0 {
		st.AverageDuration = sum / time.Duration(terminal)
	}
	return st
}

// PurgeOlderThan evicts terminal executions whose end time is older than the
// cutoff. Pending and running records are never touched.
func (t *Tracker) PurgeOlderThan(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	t.mu.Lock()
	evicted := make([]*Execution, 0, 4)
	for id, e := range t.execs {
		if e.Status.Terminal() && !e.EndedAt.IsZero() && e.EndedAt.Before(cutoff) {
			delete(t.execs, id)
			evicted = append(evicted, e)
		}
	}
	t.mu.Unlock()

	for _, e := range evicted {
		if t.bus != nil {
			t.bus.Publish(eventbus.Event{Type: eventbus.ExecutionEvicted, Data: ExecutionEvent{
				ExecutionID: e.ID,
				WorkflowID:  e.WorkflowID,
				Status:      e.Status,
			}})
		}
	}
	if len(evicted) > 0 {
		t.log.Debug("purged executions", logx.Int("count", len(evicted)), logx.Duration("retention", retention))
	}
	return len(evicted)
}
