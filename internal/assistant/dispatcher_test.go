package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/copilot/internal/observability"
)

// funcTool is a Tool backed by a function.
type funcTool struct {
	name   string
	schema string
	fn     func(ctx context.Context, accountID int64, args json.RawMessage) (string, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return "test tool " + t.name }
func (t *funcTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}
func (t *funcTool) Execute(ctx context.Context, accountID int64, args json.RawMessage) (string, error) {
	return t.fn(ctx, accountID, args)
}

func TestDispatcher_EveryCallGetsAnOutput(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	d, err := NewDispatcher(DispatcherConfig{Metrics: metrics},
		&funcTool{name: "ok", fn: func(ctx context.Context, _ int64, _ json.RawMessage) (string, error) {
			return "fine", nil
		}},
		&funcTool{name: "explodes", fn: func(ctx context.Context, _ int64, _ json.RawMessage) (string, error) {
			panic("kaboom")
		}},
		&funcTool{name: "fails", fn: func(ctx context.Context, _ int64, _ json.RawMessage) (string, error) {
			return "", errors.New("db down")
		}},
		&funcTool{name: "partial", fn: func(ctx context.Context, _ int64, _ json.RawMessage) (string, error) {
			return "best effort", errors.New("side effect failed")
		}},
		&funcTool{
			name:   "strict",
			schema: `{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`,
			fn: func(ctx context.Context, _ int64, _ json.RawMessage) (string, error) {
				return "unreachable", nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	calls := []ToolCall{
		{ID: "c1", Name: "ok"},
		{ID: "c2", Name: "explodes", Arguments: json.RawMessage(`{}`)},
		{ID: "c3", Name: "fails"},
		{ID: "c4", Name: "partial"},
		{ID: "c5", Name: "strict", Arguments: json.RawMessage(`{}`)},
		{ID: "c6", Name: "missing"},
		{ID: "c7", Name: "ok", Arguments: json.RawMessage(`not json`)},
	}
	outputs := d.Dispatch(context.Background(), 1, calls)
	if len(outputs) != len(calls) {
		t.Fatalf("got %d outputs for %d calls", len(outputs), len(calls))
	}
	for i, out := range outputs {
		if out.ToolCallID != calls[i].ID {
			t.Errorf("outputs[%d].ToolCallID = %q, want %q", i, out.ToolCallID, calls[i].ID)
		}
		if out.Output == "" {
			t.Errorf("outputs[%d] is empty", i)
		}
	}

	checks := map[int]string{
		0: "fine",
		1: "Error: explodes failed: panic: kaboom",
		2: "Error: fails failed: db down",
		3: "best effort",
		5: `Error: unknown tool "missing"`,
	}
	for i, want := range checks {
		if outputs[i].Output != want {
			t.Errorf("outputs[%d] = %q, want %q", i, outputs[i].Output, want)
		}
	}
	if !strings.HasPrefix(outputs[4].Output, "Error: invalid arguments for strict") {
		t.Errorf("outputs[4] = %q", outputs[4].Output)
	}
	if !strings.HasPrefix(outputs[6].Output, "Error: invalid arguments for ok") {
		t.Errorf("outputs[6] = %q", outputs[6].Output)
	}

	if got := testutil.ToFloat64(metrics.ToolCalls.WithLabelValues("explodes", "error")); got != 1 {
		t.Errorf("explodes error count = %v", got)
	}
	if got := testutil.ToFloat64(metrics.ToolCalls.WithLabelValues("ok", "success")); got != 1 {
		t.Errorf("ok success count = %v", got)
	}
	if got := testutil.ToFloat64(metrics.ToolCalls.WithLabelValues("missing", "unknown")); got != 1 {
		t.Errorf("unknown count = %v", got)
	}
}

func TestDispatcher_SequentialWithinBatch(t *testing.T) {
	var value string
	d, err := NewDispatcher(DispatcherConfig{},
		&funcTool{name: "set", fn: func(ctx context.Context, _ int64, args json.RawMessage) (string, error) {
			value = "saved"
			return "ok", nil
		}},
		&funcTool{name: "get", fn: func(ctx context.Context, _ int64, _ json.RawMessage) (string, error) {
			return value, nil
		}},
	)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	outputs := d.Dispatch(context.Background(), 1, []ToolCall{{ID: "a", Name: "set"}, {ID: "b", Name: "get"}})
	if outputs[1].Output != "saved" {
		t.Errorf("get observed %q, want saved", outputs[1].Output)
	}
}

func TestDispatcher_PassesAccountAndDefaultsArguments(t *testing.T) {
	var gotAccount int64
	var gotArgs string
	d, err := NewDispatcher(DispatcherConfig{}, &funcTool{name: "echo", fn: func(ctx context.Context, accountID int64, args json.RawMessage) (string, error) {
		gotAccount = accountID
		gotArgs = string(args)
		return "ok", nil
	}})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	d.Dispatch(context.Background(), 42, []ToolCall{{ID: "a", Name: "echo", Arguments: json.RawMessage("  ")}})
	if gotAccount != 42 || gotArgs != "{}" {
		t.Errorf("got account %d args %q", gotAccount, gotArgs)
	}
}

func TestDispatcher_RegisterRejectsBadSchema(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{}, &funcTool{name: "bad", schema: `{"type": 5}`})
	if err == nil {
		t.Fatal("expected schema compile error")
	}
	if _, err := NewDispatcher(DispatcherConfig{}, &funcTool{name: ""}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestDispatcher_SpecsKeepRegistrationOrder(t *testing.T) {
	noop := func(ctx context.Context, _ int64, _ json.RawMessage) (string, error) { return "", nil }
	d, err := NewDispatcher(DispatcherConfig{},
		&funcTool{name: "b", fn: noop},
		&funcTool{name: "a", fn: noop},
	)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Register(&funcTool{name: "b", fn: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	specs := d.Specs()
	if len(specs) != 2 || specs[0].Name != "b" || specs[1].Name != "a" {
		t.Errorf("specs = %+v", specs)
	}
}
