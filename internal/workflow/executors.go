package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// StepExecutor runs one step type. Implementations must honor ctx
// cancellation and are responsible for the idempotency of their side effects.
type StepExecutor interface {
	Execute(ctx context.Context, config map[string]any, wfctx map[string]any) (any, error)
}

// ExecutorFunc adapts a function to the StepExecutor interface.
type ExecutorFunc func(ctx context.Context, config map[string]any, wfctx map[string]any) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, config map[string]any, wfctx map[string]any) (any, error) {
	return f(ctx, config, wfctx)
}

// Registry maps step types to executors.
//
// NewRegistry installs the self-contained builtins (delay, conditional,
// loop). Register replaces any previous executor for the same type.
type Registry struct {
	mu    sync.RWMutex
	execs map[StepType]StepExecutor
}

func NewRegistry() *Registry {
	r := &Registry{execs: map[StepType]StepExecutor{}}
	ev := newEvaluator()
	r.Register(StepDelay, ExecutorFunc(execDelay))
	r.Register(StepConditional, &conditionalExecutor{ev: ev})
	r.Register(StepLoop, &loopExecutor{ev: ev})
	return r
}

func (r *Registry) Register(t StepType, e StepExecutor) {
	r.mu.Lock()
	r.execs[t] = e
	r.mu.Unlock()
}

func (r *Registry) Get(t StepType) (StepExecutor, bool) {
	r.mu.RLock()
	e, ok := r.execs[t]
	r.mu.RUnlock()
	return e, ok
}

// ---- delay ----

// execDelay sleeps for config "duration" (Go duration string or milliseconds).
func execDelay(ctx context.Context, config map[string]any, _ map[string]any) (any, error) {
	d, err := durationFromConfig(config, "duration")
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		return map[string]any{"waited": "0s"}, nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tmr.C:
	}
	return map[string]any{"waited": d.String()}, nil
}

func durationFromConfig(config map[string]any, key string) (time.Duration, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("config %q is required", key)
	}
	switch x := v.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("config %q: %w", key, err)
		}
		return d, nil
	case float64:
		return time.Duration(x) * time.Millisecond, nil
	case int:
		return time.Duration(x) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("config %q: unsupported type %T", key, v)
	}
}

// ---- expression evaluation (conditional, loop) ----

// evaluator compiles and caches expr programs. Programs are keyed by source
// so repeated fires of the same workflow reuse the compiled form.
type evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newEvaluator() *evaluator {
	return &evaluator{cache: map[string]*vm.Program{}}
}

func (e *evaluator) compileBool(src string) (*vm.Program, error) {
	return e.compile("b:"+src, src, true)
}

func (e *evaluator) compileAny(src string) (*vm.Program, error) {
	return e.compile("a:"+src, src, false)
}

func (e *evaluator) compile(key, src string, asBool bool) (*vm.Program, error) {
	e.mu.RLock()
	p, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	opts := []expr.Option{expr.AllowUndefinedVariables()}
	if asBool {
		opts = append(opts, expr.AsBool())
	}
	p, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}

	e.mu.Lock()
	e.cache[key] = p
	e.mu.Unlock()
	return p, nil
}

// conditionalExecutor evaluates config "condition" against the shared
// context and reports whether it matched. Optional "then"/"else" values are
// surfaced as the step output so OutputMapping can pick them up.
type conditionalExecutor struct {
	ev *evaluator
}

func (c *conditionalExecutor) Execute(_ context.Context, config map[string]any, wfctx map[string]any) (any, error) {
	src, _ := config["condition"].(string)
	if strings.TrimSpace(src) == "" {
		return nil, errors.New(`config "condition" is required`)
	}
	p, err := c.ev.compileBool(src)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(p, map[string]any{"ctx": wfctx})
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", src, err)
	}
	matched, _ := out.(bool)

	res := map[string]any{"matched": matched}
	if matched {
		if v, ok := config["then"]; ok {
			res["value"] = v
		}
	} else {
		if v, ok := config["else"]; ok {
			res["value"] = v
		}
	}
	return res, nil
}

// loopExecutor evaluates config "expr" once per element of the context slice
// named by config "over" (or "count" times when no slice is given). The
// expression sees {item, index, ctx}.
type loopExecutor struct {
	ev *evaluator
}

func (l *loopExecutor) Execute(ctx context.Context, config map[string]any, wfctx map[string]any) (any, error) {
	src, _ := config["expr"].(string)
	if strings.TrimSpace(src) == "" {
		return nil, errors.New(`config "expr" is required`)
	}
	p, err := l.ev.compileAny(src)
	if err != nil {
		return nil, err
	}

	var items []any
	if over, ok := config["over"].(string); ok && over != "" {
		v, ok := wfctx[over]
		if !ok {
			return nil, fmt.Errorf("context key %q not found", over)
		}
		items, ok = v.([]any)
		if !ok {
			return nil, fmt.Errorf("context key %q is not a list (got %T)", over, v)
		}
	} else {
		n, err := intFromConfig(config, "count")
		if err != nil {
			return nil, err
		}
		items = make([]any, n)
		for i := range items {
			items[i] = i
		}
	}

	results := make([]any, 0, len(items))
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := expr.Run(p, map[string]any{"item": it, "index": i, "ctx": wfctx})
		if err != nil {
			return nil, fmt.Errorf("eval %q at index %d: %w", src, i, err)
		}
		results = append(results, out)
	}
	return map[string]any{"iterations": len(results), "results": results}, nil
}

func intFromConfig(config map[string]any, key string) (int, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("config %q is required", key)
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case float64:
		return int(x), nil
	default:
		return 0, fmt.Errorf("config %q: unsupported type %T", key, v)
	}
}
