package workflow

import (
	"errors"
	"testing"
	"time"

	"pubflow/pkg/logx"
)

func TestTrackerConcurrencyGate(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Config{MaxConcurrent: 2}, logx.Nop(), nil)

	if err := tr.begin(&Execution{ID: "e1"}); err != nil {
		t.Fatalf("begin e1: %v", err)
	}
	if err := tr.begin(&Execution{ID: "e2"}); err != nil {
		t.Fatalf("begin e2: %v", err)
	}
	if err := tr.begin(&Execution{ID: "e3"}); !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("begin e3 = %v, want ErrConcurrencyLimit", err)
	}

	// A pending record still holds its slot until it goes terminal.
	tr.markRunning("e1")
	if err := tr.begin(&Execution{ID: "e3"}); !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("begin after markRunning = %v, want ErrConcurrencyLimit", err)
	}
	tr.markCompleted("e1", &Result{})
	if err := tr.begin(&Execution{ID: "e3"}); err != nil {
		t.Fatalf("begin after completion: %v", err)
	}
}

func TestTrackerTransitionsOnlyForward(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Config{}, logx.Nop(), nil)
	if err := tr.begin(&Execution{ID: "e1"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	tr.markRunning("e1")
	tr.markFailed("e1", "first failure")

	// Terminal states never move again.
	tr.markCompleted("e1", &Result{})
	st, err := tr.Get("e1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", st.Status)
	}
	if st.LastError != "first failure" {
		t.Fatalf("LastError = %q", st.LastError)
	}
}

func TestTrackerGetUnknown(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Config{}, logx.Nop(), nil)
	if _, err := tr.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProgressOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		exec Execution
		want int
	}{
		{"pending", Execution{Status: StatusPending}, 0},
		{"running no steps", Execution{Status: StatusRunning}, 50},
		{"running halfway", Execution{Status: StatusRunning, stepsDone: 2, stepsTotal: 4}, 50},
		{"running one of three", Execution{Status: StatusRunning, stepsDone: 1, stepsTotal: 3}, 33},
		{"completed", Execution{Status: StatusCompleted}, 100},
		{"failed", Execution{Status: StatusFailed}, 0},
		{"cancelled", Execution{Status: StatusCancelled}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := progressOf(&tt.exec); got != tt.want {
				t.Fatalf("progressOf = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTrackerStats(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Config{}, logx.Nop(), nil)

	for _, id := range []string{"a", "b", "c"} {
		if err := tr.begin(&Execution{ID: id, StartedAt: time.Now()}); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
		tr.markRunning(id)
	}
	tr.markCompleted("a", &Result{})
	tr.markFailed("b", "oops")

	st := tr.Stats()
	if st.Total != 3 || st.Running != 1 || st.Completed != 1 || st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.AverageDuration < 0 {
		t.Fatalf("AverageDuration = %v", st.AverageDuration)
	}
}

func TestTrackerPurgeOlderThan(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Config{}, logx.Nop(), nil)

	mustBegin := func(id string) {
		t.Helper()
		if err := tr.begin(&Execution{ID: id, StartedAt: time.Now().Add(-30 * time.Hour)}); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
		tr.markRunning(id)
	}

	mustBegin("old")
	tr.markCompleted("old", &Result{})
	mustBegin("fresh")
	tr.markCompleted("fresh", &Result{})
	mustBegin("live")

	// Rewrite end times directly; transitions always stamp time.Now.
	tr.mu.Lock()
	tr.execs["old"].EndedAt = time.Now().Add(-25 * time.Hour)
	tr.execs["fresh"].EndedAt = time.Now().Add(-time.Hour)
	tr.mu.Unlock()

	if n := tr.PurgeOlderThan(24 * time.Hour); n != 1 {
		t.Fatalf("purged %d executions, want 1", n)
	}
	if _, err := tr.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old survived purge: %v", err)
	}
	if _, err := tr.Get("fresh"); err != nil {
		t.Fatalf("fresh evicted: %v", err)
	}
	if _, err := tr.Get("live"); err != nil {
		t.Fatalf("live evicted: %v", err)
	}
}

func TestTrackerCancelRunning(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Config{}, logx.Nop(), nil)
	for _, id := range []string{"a", "b"} {
		if err := tr.begin(&Execution{ID: id}); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}
	tr.markRunning("a")
	tr.markCompleted("a", &Result{})

	at := time.Now()
	if n := tr.CancelRunning(at); n != 1 {
		t.Fatalf("cancelled %d, want 1", n)
	}
	st, err := tr.Get("b")
	if err != nil {
		t.Fatalf("Get b: %v", err)
	}
	if st.Status != StatusCancelled || !st.EndedAt.Equal(at) {
		t.Fatalf("b = %s ended %v", st.Status, st.EndedAt)
	}
}
