package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		config  map[string]any
		wantErr string
	}{
		{"duration string", map[string]any{"duration": "1ms"}, ""},
		{"milliseconds number", map[string]any{"duration": float64(1)}, ""},
		{"zero", map[string]any{"duration": "0s"}, ""},
		{"missing", map[string]any{}, `"duration" is required`},
		{"garbage", map[string]any{"duration": "soon"}, "invalid duration"},
		{"wrong type", map[string]any{"duration": true}, "unsupported type"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := execDelay(context.Background(), tt.config, nil)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("execDelay: %v", err)
			}
			m, ok := out.(map[string]any)
			if !ok || m["waited"] == nil {
				t.Fatalf("out = %#v", out)
			}
		})
	}
}

func TestExecDelayHonorsCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := execDelay(ctx, map[string]any{"duration": "10s"}, nil)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delay did not observe cancellation")
	}
}

func TestConditionalExecutor(t *testing.T) {
	t.Parallel()
	ex := &conditionalExecutor{ev: newEvaluator()}
	wfctx := map[string]any{"count": 3}

	tests := []struct {
		name      string
		config    map[string]any
		wantMatch bool
		wantValue any
		wantErr   string
	}{
		{
			name:      "matched with then",
			config:    map[string]any{"condition": "ctx.count > 1", "then": "big", "else": "small"},
			wantMatch: true,
			wantValue: "big",
		},
		{
			name:      "unmatched with else",
			config:    map[string]any{"condition": "ctx.count > 10", "then": "big", "else": "small"},
			wantMatch: false,
			wantValue: "small",
		},
		{
			name:      "no branch values",
			config:    map[string]any{"condition": "ctx.count == 3"},
			wantMatch: true,
		},
		{
			name:    "missing condition",
			config:  map[string]any{},
			wantErr: `"condition" is required`,
		},
		{
			name:    "bad expression",
			config:  map[string]any{"condition": "ctx.count >"},
			wantErr: "compile",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := ex.Execute(context.Background(), tt.config, wfctx)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			m := out.(map[string]any)
			if m["matched"] != tt.wantMatch {
				t.Fatalf("matched = %v, want %v", m["matched"], tt.wantMatch)
			}
			if tt.wantValue != nil && m["value"] != tt.wantValue {
				t.Fatalf("value = %v, want %v", m["value"], tt.wantValue)
			}
		})
	}
}

func TestLoopExecutorOverSlice(t *testing.T) {
	t.Parallel()
	ex := &loopExecutor{ev: newEvaluator()}
	wfctx := map[string]any{"nums": []any{1, 2, 3}}

	out, err := ex.Execute(context.Background(), map[string]any{"expr": "item * 2", "over": "nums"}, wfctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := out.(map[string]any)
	if m["iterations"] != 3 {
		t.Fatalf("iterations = %v", m["iterations"])
	}
	results := m["results"].([]any)
	want := []int{2, 4, 6}
	for i, w := range want {
		if got, ok := results[i].(int); !ok || got != w {
			t.Fatalf("results[%d] = %v, want %d", i, results[i], w)
		}
	}
}

func TestLoopExecutorCount(t *testing.T) {
	t.Parallel()
	ex := &loopExecutor{ev: newEvaluator()}
	out, err := ex.Execute(context.Background(), map[string]any{"expr": "index", "count": 4}, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := out.(map[string]any)
	if m["iterations"] != 4 {
		t.Fatalf("iterations = %v", m["iterations"])
	}
}

func TestLoopExecutorErrors(t *testing.T) {
	t.Parallel()
	ex := &loopExecutor{ev: newEvaluator()}
	tests := []struct {
		name    string
		config  map[string]any
		wfctx   map[string]any
		wantErr string
	}{
		{"missing expr", map[string]any{"over": "nums"}, nil, `"expr" is required`},
		{"missing context key", map[string]any{"expr": "item", "over": "nums"}, map[string]any{}, `"nums" not found`},
		{"not a list", map[string]any{"expr": "item", "over": "nums"}, map[string]any{"nums": 7}, "not a list"},
		{"no over no count", map[string]any{"expr": "item"}, map[string]any{}, `"count" is required`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ex.Execute(context.Background(), tt.config, tt.wfctx)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluatorCachesPrograms(t *testing.T) {
	t.Parallel()
	ev := newEvaluator()
	p1, err := ev.compileBool("1 < 2")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	p2, err := ev.compileBool("1 < 2")
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	if p1 != p2 {
		t.Fatal("expected cached program on second compile")
	}
}
