package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

// Service manages scheduled tasks on top of a robfig/cron runner.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	tasks  map[string]*taskState

	runner   Runner
	resolver Resolver

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, runner Runner, resolver Resolver, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		bus:      bus,
		cfg:      cfg,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tasks:    map[string]*taskState{},
		runner:   runner,
		resolver: resolver,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps config at runtime. A timezone change restarts the cron runner
// and re-registers every enabled task.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	restart := s.c != nil && oldTZ != newTZ
	s.mu.Unlock()

	if restart {
		s.restart()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	// Register triggers for tasks scheduled before Start.
	now := time.Now().In(loc)
	for _, st := range s.tasks {
		if st.task.Enabled {
			s.registerLocked(st)
			st.task.NextRun = st.schedule.Next(now)
		}
	}

	s.c.Start()
	s.log.Info("task scheduler started",
		logx.String("tz", loc.String()),
		logx.Int("tasks", len(s.tasks)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	if s.c == nil {
		// Never started, or a restart is draining; the cleared runCancel
		// keeps it from coming back.
		s.mu.Unlock()
		return
	}
	stop := s.c.Stop()
	s.c = nil
	for _, st := range s.tasks {
		st.registered = false
	}
	s.mu.Unlock()

	select {
	case <-stop.Done():
	case <-ctx.Done():
	}

	s.log.Info("task scheduler stopped")
}

// restart replaces the cron runner. The wait for the old runner must happen
// without s.mu held: in-flight fires re-acquire the mutex to record their
// outcome, and the runner's stop context only completes once they return.
func (s *Service) restart() {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	stop := s.c.Stop()
	s.c = nil
	for _, st := range s.tasks {
		st.registered = false
	}
	s.mu.Unlock()

	<-stop.Done()

	s.mu.Lock()
	if s.runCancel == nil {
		// Stopped while draining; stay stopped.
		s.mu.Unlock()
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	now := time.Now().In(loc)
	for _, st := range s.tasks {
		if st.task.Enabled {
			s.registerLocked(st)
			st.task.NextRun = st.schedule.Next(now)
		}
	}
	s.c.Start()
	s.mu.Unlock()

	s.log.Info("task scheduler restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// registerLocked installs the cron entry for st. Caller holds s.mu and has
// verified s.c != nil.
func (s *Service) registerLocked(st *taskState) {
	if st.registered || s.c == nil {
		return
	}
	id := st.task.ID
	st.entryID = s.c.Schedule(st.schedule, cron.FuncJob(func() { s.fire(id) }))
	st.registered = true
}

// unregisterLocked removes the cron entry for st, stopping future fires.
func (s *Service) unregisterLocked(st *taskState) {
	if !st.registered {
		return
	}
	if s.c != nil {
		s.c.Remove(st.entryID)
	}
	st.registered = false
}

// fire runs one scheduled fire. It never panics outward: a failing workflow
// (or a panicking step executor) is turned into a failure count plus a
// logged warning, so one broken task cannot stop the scheduler process.
func (s *Service) fire(id string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled task fire",
				logx.String("task", id),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	st := s.tasks[id]
	if st == nil || !st.task.Enabled {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	st.task.RunCount++
	st.task.LastRun = now
	task := st.task
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx == nil {
		return
	}

	err := s.runOnce(ctx, task)

	s.mu.Lock()
	st = s.tasks[id]
	if st == nil {
		s.mu.Unlock()
		return
	}
	disabled := false
	if err != nil {
		st.task.FailureCount++
		if st.task.FailureCount >= autoDisableThreshold {
			st.task.Enabled = false
			st.task.NextRun = time.Time{}
			s.unregisterLocked(st)
			disabled = true
		}
	} else {
		// A success ends the consecutive-failure streak.
		st.task.FailureCount = 0
	}
	if st.task.Enabled && st.schedule != nil {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		st.task.NextRun = st.schedule.Next(time.Now().In(loc))
	}
	ev := TaskEvent{
		TaskID:       st.task.ID,
		Name:         st.task.Name,
		WorkflowID:   st.task.WorkflowID,
		Success:      err == nil,
		FailureCount: st.task.FailureCount,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFired, Data: ev})
	}
	if err != nil {
		s.log.Warn("scheduled task failed",
			logx.String("task", task.Name),
			logx.String("workflow", task.WorkflowID),
			logx.Int64("failures", ev.FailureCount),
			logx.Err(err))
	}
	if disabled {
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskDisabled, Data: ev})
		}
		s.log.Warn("task auto-disabled after repeated failures; re-enable manually",
			logx.String("task", task.Name),
			logx.Int64("failures", ev.FailureCount))
	}
}

func (s *Service) runOnce(ctx context.Context, task Task) error {
	def, ok := s.resolver.Get(task.WorkflowID)
	if !ok {
		return &unknownWorkflowError{id: task.WorkflowID}
	}

	wfctx := make(map[string]any, len(task.Metadata)+2)
	for k, v := range task.Metadata {
		wfctx[k] = v
	}
	wfctx["task_id"] = task.ID
	wfctx["task_name"] = task.Name

	_, err := s.runner.Execute(ctx, def, wfctx)
	return err
}

type unknownWorkflowError struct{ id string }

func (e *unknownWorkflowError) Error() string { return "unknown workflow: " + e.id }
