// Package observability consumes the event bus and turns lifecycle events
// into Prometheus metrics and audit log entries. It also owns the optional
// HTTP server exposing /metrics and pprof.
package observability

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"pubflow/internal/eventbus"
	"pubflow/internal/publisher"
	"pubflow/internal/scheduler"
	"pubflow/internal/storage"
	"pubflow/internal/workflow"
	"pubflow/pkg/logx"
)

// Observer bridges bus events to metrics and the audit store.
// The store may be nil; metrics are always recorded.
type Observer struct {
	mu    sync.Mutex
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	stopCh   chan struct{}
	stopDone chan struct{}
}

func NewObserver(log logx.Logger, bus eventbus.Bus, store storage.Store) *Observer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Observer{log: log, bus: bus, store: store}
}

func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	if o.stopCh != nil {
		o.mu.Unlock()
		return
	}
	o.stopCh = make(chan struct{})
	o.stopDone = make(chan struct{})
	stopCh, stopDone := o.stopCh, o.stopDone
	o.mu.Unlock()

	events, unsubscribe := o.bus.Subscribe(128)

	go func() {
		defer close(stopDone)
		defer unsubscribe()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("panic in observer loop",
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case ev := <-events:
				o.handle(ctx, ev)
			}
		}
	}()
}

func (o *Observer) Stop(ctx context.Context) {
	o.mu.Lock()
	stopCh, stopDone := o.stopCh, o.stopDone
	o.stopCh, o.stopDone = nil, nil
	o.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	select {
	case <-stopDone:
	case <-ctx.Done():
	}
}

func (o *Observer) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case eventbus.ExecutionCompleted, eventbus.ExecutionFailed:
		e, ok := ev.Data.(workflow.ExecutionEvent)
		if !ok {
			return
		}
		recordExecution(string(e.Status))
		o.append(ctx, storage.AuditEntry{
			At:     ev.Time,
			Kind:   storage.KindExecution,
			RefID:  e.ExecutionID,
			Name:   e.WorkflowID,
			Status: string(e.Status),
			Fail:   boolToInt(e.Status == workflow.StatusFailed),
			OK:     boolToInt(e.Status == workflow.StatusCompleted),
			Error:  e.Error,
			TookMS: e.Duration.Milliseconds(),
		})

	case eventbus.ExecutionRetried:
		executionRetries.Inc()

	case eventbus.ExecutionEvicted:
		recordEviction(storage.KindExecution)

	case eventbus.PublicationPublished, eventbus.PublicationFailed, eventbus.PublicationCancelled:
		e, ok := ev.Data.(publisher.PublicationEvent)
		if !ok {
			return
		}
		recordPublication(string(e.Status))
		o.append(ctx, storage.AuditEntry{
			At:     ev.Time,
			Kind:   storage.KindPublication,
			RefID:  e.PublicationID,
			Name:   e.ContentID,
			Status: string(e.Status),
			OK:     e.Successful,
			Fail:   e.Failed,
			Error:  e.Error,
		})

	case eventbus.PublicationChannel:
		e, ok := ev.Data.(publisher.ChannelResult)
		if !ok {
			return
		}
		recordChannelPublish(e.Platform, e.Success)

	case eventbus.PublicationEvicted:
		recordEviction(storage.KindPublication)

	case eventbus.TaskFired:
		e, ok := ev.Data.(scheduler.TaskEvent)
		if !ok {
			return
		}
		recordFire(e.Success)
		o.append(ctx, storage.AuditEntry{
			At:     ev.Time,
			Kind:   storage.KindTask,
			RefID:  e.TaskID,
			Name:   e.Name,
			Status: fireStatus(e.Success),
			OK:     boolToInt(e.Success),
			Fail:   boolToInt(!e.Success),
			Error:  e.Error,
		})

	case eventbus.TaskDisabled:
		tasksDisabled.Inc()
	}
}

func (o *Observer) append(ctx context.Context, e storage.AuditEntry) {
	if o.store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := o.store.AppendAudit(wctx, e); err != nil {
		o.log.Warn("audit append failed",
			logx.String("kind", e.Kind),
			logx.String("ref", e.RefID),
			logx.Err(err))
	}
}

func fireStatus(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
