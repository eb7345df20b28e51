package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/goleak"

	"nlsql/capability"
	"nlsql/mcp"
	"nlsql/model"
	"nlsql/provider/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeInvoker serves the registry's catalogue and records every invocation.
type fakeInvoker struct {
	catalogue *mcp.Catalogue
	handle    func(req mcp.InvocationRequest) (mcp.InvocationResult, error)

	mu       sync.Mutex
	inFlight int
	peak     int
	requests []mcp.InvocationRequest
}

func newFakeInvoker(handle func(req mcp.InvocationRequest) (mcp.InvocationResult, error)) *fakeInvoker {
	if handle == nil {
		handle = func(req mcp.InvocationRequest) (mcp.InvocationResult, error) {
			return mcp.InvocationResult{Success: true, Payload: "(20,)"}, nil
		}
	}
	return &fakeInvoker{catalogue: mcp.NewCatalogue(capability.Definitions()...), handle: handle}
}

func (f *fakeInvoker) Catalogue() *mcp.Catalogue { return f.catalogue }

func (f *fakeInvoker) Invoke(ctx context.Context, req mcp.InvocationRequest) (mcp.InvocationResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	return f.handle(req)
}

func (f *fakeInvoker) busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight > 0
}

func newLoop(t *testing.T, engine model.Provider, inv Invoker, opts ...Option) *Loop {
	t.Helper()
	opts = append([]Option{WithMaxSteps(5)}, opts...)
	l, err := New(engine, inv, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

var shapeOnly = cmpopts.IgnoreFields(model.Turn{}, "Timestamp", "Content")

const marchQuery = "SELECT COUNT(*) FROM transaction_score WHERE substr(ENTERED_DATE, 4, 7) = '03-2024'"

func TestRunAnswersAfterInvocation(t *testing.T) {
	engine := testutil.NewScriptedProvider(
		testutil.Reply{ToolCalls: testutil.Call(capability.QueryData, map[string]any{"query": marchQuery})},
		testutil.Reply{Content: "There were 20 transactions in March 2024."},
	)
	inv := newFakeInvoker(nil)

	result, err := newLoop(t, engine, inv).Run(context.Background(), "How many transactions in March 2024?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Answer != "There were 20 transactions in March 2024." {
		t.Errorf("Answer = %q", result.Answer)
	}
	if result.Steps != 2 {
		t.Errorf("Steps = %d, want 2", result.Steps)
	}
	if result.State != StateAnswered {
		t.Errorf("State = %s, want %s", result.State, StateAnswered)
	}

	want := []model.Turn{
		{Role: model.RoleSystem},
		{Role: model.RoleUser},
		{Role: model.RoleAssistant, Call: &model.ToolCall{Name: capability.QueryData, Arguments: map[string]any{"query": marchQuery}}},
		{Role: model.RoleCapabilityResult},
		{Role: model.RoleAssistant},
	}
	if diff := cmp.Diff(want, result.Turns, shapeOnly); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if got := result.Turns[3].Content; got != "(20,)" {
		t.Errorf("capability result = %q, want (20,)", got)
	}

	// The second decision sees the capability result.
	calls := engine.Calls()
	if len(calls) != 2 {
		t.Fatalf("engine called %d times, want 2", len(calls))
	}
	if last := calls[1][len(calls[1])-1]; last.Role != model.RoleCapabilityResult || last.Content != "(20,)" {
		t.Errorf("second decision last turn = %+v", last)
	}
	if !strings.Contains(calls[0][0].Content, "query_data") {
		t.Errorf("system instruction does not list capabilities: %q", calls[0][0].Content)
	}
}

func TestRunDirectAnswer(t *testing.T) {
	engine := testutil.NewScriptedProvider(testutil.Reply{Content: "Hello."})
	inv := newFakeInvoker(nil)

	result, err := newLoop(t, engine, inv).Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Steps != 1 || len(result.Invocations) != 0 || result.Answer != "Hello." {
		t.Errorf("result = %+v", result)
	}
}

func TestRunParseError(t *testing.T) {
	tests := []struct {
		name  string
		reply testutil.Reply
	}{
		{name: "empty reply", reply: testutil.Reply{Content: "  "}},
		{name: "broken call markup", reply: testutil.Reply{Content: "<tool_call>query_data(SELECT 1)</tool_call>"}},
		{name: "unknown capability", reply: testutil.Reply{ToolCalls: testutil.Call("drop_table", nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testutil.NewScriptedProvider(tt.reply)
			result, err := newLoop(t, engine, newFakeInvoker(nil)).Run(context.Background(), "question")

			if !errors.Is(err, ErrParse) {
				t.Fatalf("Run() error = %v, want ErrParse", err)
			}
			if kind, _ := KindOf(err); kind != KindParse {
				t.Errorf("kind = %q, want %q", kind, KindParse)
			}
			if result.Answer != "" {
				t.Errorf("parse failure coerced into answer %q", result.Answer)
			}
			if result.State != StateFailed {
				t.Errorf("State = %s, want %s", result.State, StateFailed)
			}
			if len(result.Turns) != 2 || result.Turns[1].Content != "question" {
				t.Errorf("transcript not preserved: %+v", result.Turns)
			}
		})
	}
}

func TestRunStepLimit(t *testing.T) {
	schemaCall := testutil.Reply{ToolCalls: testutil.Call(capability.GetSchema, nil)}
	engine := testutil.NewScriptedProvider(schemaCall, schemaCall, schemaCall, schemaCall)
	inv := newFakeInvoker(nil)

	result, err := newLoop(t, engine, inv, WithMaxSteps(3)).Run(context.Background(), "loop forever")

	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Run() error = %v, want ErrStepLimit", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindStepLimit || runErr.Step != 3 {
		t.Errorf("error = %#v", err)
	}
	if got := len(engine.Calls()); got != 3 {
		t.Errorf("engine called %d times, want 3", got)
	}
	// The call chosen on the last step is recorded but never run.
	if got := len(result.Invocations); got != 2 {
		t.Errorf("invocations = %d, want 2", got)
	}
	if got := len(inv.requests); got != 2 {
		t.Errorf("invoker saw %d requests, want 2", got)
	}
	turns := result.Turns
	if last := turns[len(turns)-1]; last.Role != model.RoleAssistant || last.Call == nil {
		t.Errorf("last turn = %+v, want the unexecuted call", last)
	}
}

func TestRunInvalidParamsFedBack(t *testing.T) {
	engine := testutil.NewScriptedProvider(
		// rejected before crossing the channel
		testutil.Reply{ToolCalls: testutil.Call(capability.QueryData, map[string]any{})},
		// rejected by the server
		testutil.Reply{ToolCalls: testutil.Call(capability.QueryData, map[string]any{"query": "DELETE FROM transaction_score"})},
		testutil.Reply{ToolCalls: testutil.Call(capability.QueryData, map[string]any{"query": marchQuery})},
		testutil.Reply{Content: "20"},
	)
	inv := newFakeInvoker(func(req mcp.InvocationRequest) (mcp.InvocationResult, error) {
		if q, _ := req.Arg("query"); strings.HasPrefix(q.(string), "DELETE") {
			return mcp.InvocationResult{}, &mcp.InvalidParamsError{Capability: req.Capability, Detail: "only read-only statements are allowed"}
		}
		return mcp.InvocationResult{Success: true, Payload: "(20,)"}, nil
	})

	result, err := newLoop(t, engine, inv).Run(context.Background(), "count March")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Answer != "20" {
		t.Errorf("Answer = %q", result.Answer)
	}

	var failed []model.Turn
	for _, turn := range result.Turns {
		if turn.Role == model.RoleCapabilityResult && turn.Failed {
			failed = append(failed, turn)
		}
	}
	if len(failed) != 2 {
		t.Fatalf("got %d failed results, want 2: %+v", len(failed), result.Turns)
	}
	for _, turn := range failed {
		if !strings.Contains(turn.Content, "invalid params") {
			t.Errorf("failed result = %q, want invalid params", turn.Content)
		}
	}
	if !strings.Contains(failed[0].Content, `missing required argument "query"`) {
		t.Errorf("first failure = %q", failed[0].Content)
	}

	// Only the server-side rejection and the good query reached the channel.
	if got := len(inv.requests); got != 2 {
		t.Errorf("channel saw %d requests, want 2", got)
	}
	if got := len(result.Invocations); got != 3 {
		t.Errorf("recorded %d invocations, want 3", got)
	}
	if !errors.Is(result.Invocations[0].Err, mcp.ErrInvalidParams) {
		t.Errorf("first record error = %v", result.Invocations[0].Err)
	}
}

func TestRunExecutionErrorIsPayload(t *testing.T) {
	engine := testutil.NewScriptedProvider(
		testutil.Reply{ToolCalls: testutil.Call(capability.QueryData, map[string]any{"query": "SELECT nope FROM transaction_score"})},
		testutil.Reply{Content: "The column does not exist."},
	)
	inv := newFakeInvoker(func(req mcp.InvocationRequest) (mcp.InvocationResult, error) {
		return mcp.InvocationResult{Payload: "Error: no such column: nope", Error: "no such column: nope"}, nil
	})

	result, err := newLoop(t, engine, inv).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := result.Turns[3]
	if got.Role != model.RoleCapabilityResult || !got.Failed || got.Content != "Error: no such column: nope" {
		t.Errorf("execution error turn = %+v", got)
	}
}

func TestRunProtocolErrorAborts(t *testing.T) {
	engine := testutil.NewScriptedProvider(
		testutil.Reply{ToolCalls: testutil.Call(capability.GetSchema, nil)},
		testutil.Reply{Content: "never reached"},
	)
	inv := newFakeInvoker(func(req mcp.InvocationRequest) (mcp.InvocationResult, error) {
		return mcp.InvocationResult{}, &mcp.ProtocolError{Op: "invoke get_schema", Err: io.ErrUnexpectedEOF}
	})

	result, err := newLoop(t, engine, inv).Run(context.Background(), "q")
	if !errors.Is(err, mcp.ErrProtocol) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Run() error = %v, want protocol error", err)
	}
	if kind, _ := KindOf(err); kind != KindProtocol {
		t.Errorf("kind = %q, want %q", kind, KindProtocol)
	}
	if got := len(engine.Calls()); got != 1 {
		t.Errorf("engine called %d times after protocol error, want 1", got)
	}
	if n := len(result.Turns); n != 3 {
		t.Errorf("transcript has %d turns, want 3", n)
	}
}

func TestRunNeverOverlaps(t *testing.T) {
	var replies []testutil.Reply
	for i := 0; i < 4; i++ {
		replies = append(replies, testutil.Reply{ToolCalls: testutil.Call(capability.GetSchema, nil)})
	}
	replies = append(replies, testutil.Reply{Content: "done"})
	engine := testutil.NewScriptedProvider(replies...)

	inv := newFakeInvoker(func(req mcp.InvocationRequest) (mcp.InvocationResult, error) {
		time.Sleep(5 * time.Millisecond)
		return mcp.InvocationResult{Success: true, Payload: "CREATE TABLE transaction_score (x)"}, nil
	})

	scripted := engine.ChatWithToolsFunc
	engine.ChatWithToolsFunc = func(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, cb model.StreamCallback) error {
		if inv.busy() {
			t.Error("engine consulted while an invocation was in flight")
		}
		return scripted(ctx, turns, tools, cb)
	}

	if _, err := newLoop(t, engine, inv).Run(context.Background(), "q"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if inv.peak != 1 {
		t.Errorf("peak concurrent invocations = %d, want 1", inv.peak)
	}
}

func TestRunTakesFirstCallOnly(t *testing.T) {
	engine := testutil.NewScriptedProvider(
		testutil.Reply{ToolCalls: []model.ToolCall{
			{Name: capability.GetSchema, Arguments: map[string]any{}},
			{Name: capability.QueryData, Arguments: map[string]any{"query": "SELECT 1"}},
		}},
		testutil.Reply{Content: "ok"},
	)
	inv := newFakeInvoker(nil)

	if _, err := newLoop(t, engine, inv).Run(context.Background(), "q"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(inv.requests) != 1 || inv.requests[0].Capability != capability.GetSchema {
		t.Errorf("requests = %+v, want only get_schema", inv.requests)
	}
}

func TestRunDecisionTimeout(t *testing.T) {
	engine := testutil.NewMockProvider("slow")
	engine.ChatWithToolsFunc = func(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, cb model.StreamCallback) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := newLoop(t, engine, newFakeInvoker(nil), WithDecisionTimeout(20*time.Millisecond)).Run(context.Background(), "q")
	if kind, _ := KindOf(err); kind != KindEngine {
		t.Fatalf("kind = %q, want %q (err = %v)", kind, KindEngine, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestRunCancelled(t *testing.T) {
	engine := testutil.NewMockProvider("any")
	engine.ChatWithToolsFunc = func(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, cb model.StreamCallback) error {
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newLoop(t, engine, newFakeInvoker(nil)).Run(ctx, "q")
	if kind, _ := KindOf(err); kind != KindCancelled {
		t.Fatalf("kind = %q, want %q (err = %v)", kind, KindCancelled, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestTurnHookSeesEveryTurnInOrder(t *testing.T) {
	engine := testutil.NewScriptedProvider(
		testutil.Reply{ToolCalls: testutil.Call(capability.GetSchema, nil)},
		testutil.Reply{Content: "done"},
	)
	var seen []model.Turn
	l := newLoop(t, engine, newFakeInvoker(nil), WithTurnHook(func(turn model.Turn) {
		seen = append(seen, turn)
	}))

	result, err := l.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff(result.Turns, seen); diff != "" {
		t.Errorf("hook turns differ from transcript (-transcript +hook):\n%s", diff)
	}
}

func TestNewRequiresMaxSteps(t *testing.T) {
	engine := testutil.NewMockProvider("any")
	if _, err := New(engine, newFakeInvoker(nil)); !errors.Is(err, ErrNoStepLimit) {
		t.Errorf("New() without max steps error = %v, want ErrNoStepLimit", err)
	}
	if _, err := New(engine, newFakeInvoker(nil), WithMaxSteps(0)); !errors.Is(err, ErrNoStepLimit) {
		t.Errorf("New(WithMaxSteps(0)) error = %v, want ErrNoStepLimit", err)
	}
}

func TestSeedQuery(t *testing.T) {
	if got := SeedQuery("q", ""); got != "q" {
		t.Errorf("SeedQuery without rewrite = %q", got)
	}
	got := SeedQuery("q", "SELECT 1;")
	if !strings.HasPrefix(got, "q\n") || !strings.HasSuffix(got, "SELECT 1;") {
		t.Errorf("SeedQuery with rewrite = %q", got)
	}
}
