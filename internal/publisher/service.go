package publisher

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pubflow/internal/eventbus"
	"pubflow/pkg/logx"
)

// Service owns the publication map, the one-shot triggers, and the fan-out
// worker pool.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	pubs map[string]*Publication

	pubMu      sync.RWMutex
	publishers map[string]ChannelPublisher // keyed by platform

	// Per-platform rate limiting.
	rlMu     sync.Mutex
	limiters map[string]*rate.Limiter
	daily    map[string]*dailyCounter

	// One-shot timers (timers are runtime; a version counter ignores stale
	// callbacks from replaced or cancelled timers).
	tmu     sync.Mutex
	timers  map[string]*time.Timer
	fireVer map[string]uint64

	queue     chan string
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

type dailyCounter struct {
	day   string // YYYY-MM-DD in local time
	count int
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:        cfg.withDefaults(),
		log:        log,
		bus:        bus,
		pubs:       map[string]*Publication{},
		publishers: map[string]ChannelPublisher{},
		limiters:   map[string]*rate.Limiter{},
		daily:      map[string]*dailyCounter{},
		timers:     map[string]*time.Timer{},
		fireVer:    map[string]uint64{},
		queue:      make(chan string, 256),
	}
	s.rebuildLimiters()
	return s
}

// RegisterPublisher installs the ChannelPublisher for a platform, replacing
// any previous one.
func (s *Service) RegisterPublisher(platform string, p ChannelPublisher) {
	s.pubMu.Lock()
	s.publishers[strings.ToLower(platform)] = p
	s.pubMu.Unlock()
}

func (s *Service) publisherFor(platform string) (ChannelPublisher, bool) {
	s.pubMu.RLock()
	p, ok := s.publishers[strings.ToLower(platform)]
	s.pubMu.RUnlock()
	return p, ok
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps config at runtime and rebuilds the platform limiters.
// Live pool resizing is out of scope; worker count changes take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	s.rebuildLimiters()
}

func (s *Service) rebuildLimiters() {
	s.mu.Lock()
	limits := s.cfg.RateLimits
	s.mu.Unlock()

	s.rlMu.Lock()
	s.limiters = map[string]*rate.Limiter{}
	for platform, rl := range limits {
		if rl.PostsPerHour > 0 {
			every := time.Hour / time.Duration(rl.PostsPerHour)
			s.limiters[strings.ToLower(platform)] = rate.NewLimiter(rate.Every(every), 1)
		}
	}
	s.rlMu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.Int("workers", cur.Workers))

	// If a Stop() is in progress, wait for it to complete (prevents double
	// worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in publisher worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.log.Info("publication service started", logx.Int("workers", workers))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	// Stop all pending one-shot timers; scheduled records survive a restart
	// and are re-armed by Resume.
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("publication service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

// Resume re-arms timers for every still-scheduled publication. Called after
// a restart (config hot reload).
func (s *Service) Resume() {
	s.mu.Lock()
	ids := make([]string, 0, 4)
	for id, p := range s.pubs {
		if p.Status == StatusScheduled {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.armTimer(id)
	}
	if len(ids) > 0 {
		s.log.Info("re-armed scheduled publications", logx.Int("count", len(ids)))
	}
}

// armTimer (re)schedules the one-shot trigger for a publication. A version
// bump invalidates callbacks from any previously armed timer.
func (s *Service) armTimer(id string) {
	s.mu.Lock()
	p := s.pubs[id]
	if p == nil || p.Status != StatusScheduled {
		s.mu.Unlock()
		return
	}
	at := p.ScheduledAt
	s.mu.Unlock()

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	ver := s.fireVer[id] + 1
	s.fireVer[id] = ver

	localID, localVer := id, ver
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		cur := s.fireVer[localID]
		delete(s.timers, localID)
		s.tmu.Unlock()
		if cur != localVer {
			// Cancelled or replaced; ignore this callback.
			return
		}
		s.enqueue(localID)
	})
	s.tmu.Unlock()
}

// disarmTimer stops and removes the trigger, invalidating in-flight
// callbacks.
func (s *Service) disarmTimer(id string) {
	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.fireVer[id]++
	s.tmu.Unlock()
}

func (s *Service) enqueue(id string) {
	s.mu.Lock()
	q := s.queue
	running := s.stopCh != nil
	s.mu.Unlock()
	if !running {
		s.log.Warn("publication fired while service stopped; left scheduled", logx.String("publication", id))
		return
	}
	select {
	case q <- id:
	default:
		// Leave the record scheduled; the sweep will surface it as stuck.
		s.log.Warn("publication queue full; fire deferred",
			logx.String("publication", id),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)))
	}
}
