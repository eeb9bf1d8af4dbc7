package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pubflow/pkg/logx"
)

// Schedule validates the task's cron expression and registers its trigger.
// Tasks created with Enabled=false keep their definition but no trigger runs
// until Toggle(id, true).
func (s *Service) Schedule(t Task) ScheduleResult {
	if strings.TrimSpace(t.Name) == "" {
		return ScheduleResult{Success: false, Error: "task name is required"}
	}
	if strings.TrimSpace(t.WorkflowID) == "" {
		return ScheduleResult{Success: false, Error: "workflow id is required"}
	}

	sched, err := s.parser.Parse(t.CronExpr)
	if err != nil {
		return ScheduleResult{
			Success: false,
			Error:   fmt.Sprintf("%v: %v", ErrInvalidCron, err),
		}
	}

	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	st := &taskState{task: t, schedule: sched}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	if t.Enabled {
		st.task.NextRun = sched.Next(time.Now().In(loc))
		if s.c != nil {
			s.registerLocked(st)
		}
	}
	s.tasks[t.ID] = st
	next := st.task.NextRun
	s.mu.Unlock()

	s.log.Debug("task scheduled",
		logx.String("task", t.Name),
		logx.String("id", t.ID),
		logx.String("cron", t.CronExpr),
		logx.String("workflow", t.WorkflowID),
		logx.Bool("enabled", t.Enabled))

	return ScheduleResult{
		Success: true,
		TaskID:  t.ID,
		NextRun: next,
		Message: fmt.Sprintf("task %q scheduled (%s)", t.Name, t.CronExpr),
	}
}

// Toggle enables or disables a task. Enabling restarts the trigger,
// recomputes the next run, and resets the consecutive-failure streak (an
// auto-disabled task stays disabled until exactly this call). Disabling
// stops the trigger and clears the next run.
func (s *Service) Toggle(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.tasks[id]
	if st == nil {
		return fmt.Errorf("toggle %s: %w", id, ErrNotFound)
	}

	st.task.Enabled = enabled
	if enabled {
		st.task.FailureCount = 0
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		st.task.NextRun = st.schedule.Next(time.Now().In(loc))
		if s.c != nil {
			s.registerLocked(st)
		}
	} else {
		st.task.NextRun = time.Time{}
		s.unregisterLocked(st)
	}

	s.log.Info("task toggled", logx.String("id", id), logx.Bool("enabled", enabled))
	return nil
}

// Unschedule stops the trigger and removes the task. It is idempotent.
func (s *Service) Unschedule(id string) {
	s.mu.Lock()
	st := s.tasks[id]
	if st != nil {
		s.unregisterLocked(st)
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if st != nil {
		s.log.Info("task unscheduled", logx.String("id", id), logx.String("task", st.task.Name))
	}
}

// Get returns a copy of one task.
func (s *Service) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.tasks[id]
	if st == nil {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return copyTask(st.task), nil
}

// List returns copies of all tasks, sorted by name.
func (s *Service) List() []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, copyTask(st.task))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyTask(t Task) Task {
	cp := t
	if len(t.Metadata) > 0 {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
