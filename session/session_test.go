package session

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"nlsql/agent"
	"nlsql/capability"
	"nlsql/mcp"
	"nlsql/model"
	"nlsql/provider/testutil"
	"nlsql/rewriter"
	"nlsql/storage"
)

const marchQuery = "SELECT COUNT(*) FROM transaction_score WHERE substr(ENTERED_DATE, 4, 7) = '03-2024'"

// inProcessOpener serves a seeded dataset through an in-process MCP server
// and counts how many channels were opened.
func inProcessOpener(t *testing.T) (Opener, *atomic.Int32) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "SCORES.db")
	if _, err := storage.Seed(context.Background(), path, "transaction_score"); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	ds, err := storage.NewDataset(path, "transaction_score", storage.PolicyLexical)
	if err != nil {
		t.Fatalf("NewDataset() error = %v", err)
	}

	var opens atomic.Int32
	open := func(ctx context.Context) (Channel, error) {
		opens.Add(1)
		c, err := client.NewInProcessClient(capability.NewServer(ds))
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		ch, err := mcp.Attach(ctx, c, mcp.ChannelConfig{InvokeTimeout: 5 * time.Second})
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	return open, &opens
}

// fakeChannel is a scripted Channel.
type fakeChannel struct {
	catalogue *mcp.Catalogue
	invoke    func(ctx context.Context, req mcp.InvocationRequest) (mcp.InvocationResult, error)
	broken    atomic.Bool
	closed    atomic.Bool
}

func newFakeChannel(invoke func(ctx context.Context, req mcp.InvocationRequest) (mcp.InvocationResult, error)) *fakeChannel {
	return &fakeChannel{catalogue: mcp.NewCatalogue(capability.Definitions()...), invoke: invoke}
}

func (f *fakeChannel) Catalogue() *mcp.Catalogue { return f.catalogue }
func (f *fakeChannel) Broken() bool              { return f.broken.Load() || f.closed.Load() }
func (f *fakeChannel) Close(ctx context.Context) error {
	f.closed.Store(true)
	return nil
}
func (f *fakeChannel) Invoke(ctx context.Context, req mcp.InvocationRequest) (mcp.InvocationResult, error) {
	return f.invoke(ctx, req)
}

func newShell(t *testing.T, engine model.Provider, open Opener, opts ...Option) *Shell {
	t.Helper()
	opts = append([]Option{
		WithTableHint("transaction_score"),
		WithSteps(true),
		WithLoopOptions(agent.WithMaxSteps(5)),
	}, opts...)
	s := New(engine, open, opts...)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

var roleOnly = cmpopts.IgnoreFields(model.Turn{}, "Content", "Call", "Timestamp")

func TestSubmitAnswersThroughRegistry(t *testing.T) {
	open, opens := inProcessOpener(t)
	engine := testutil.NewScriptedProvider(
		testutil.Reply{Content: "```sql\n" + marchQuery + ";\n```"},
		testutil.Reply{ToolCalls: testutil.Call(capability.QueryData, map[string]any{"query": marchQuery})},
		testutil.Reply{Content: "There were 20 transactions in March 2024."},
	)
	s := newShell(t, engine, open, WithRewriter(rewriter.New(engine)))

	turn, err := s.Submit(context.Background(), "How many transactions were there in March 2024?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if turn.Content != "There were 20 transactions in March 2024." || turn.Failed {
		t.Errorf("Submit() turn = %+v", turn)
	}

	want := []model.Turn{
		{Role: model.RoleUser},
		{Role: model.RoleAssistant},
		{Role: model.RoleCapabilityResult},
		{Role: model.RoleAssistant},
	}
	got := s.Transcript()
	if diff := cmp.Diff(want, got, roleOnly); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	if got[0].Content != "How many transactions were there in March 2024?" {
		t.Errorf("user turn = %q, want the question as typed", got[0].Content)
	}
	if got[1].Content != `query_data(query="`+marchQuery+`")` {
		t.Errorf("step turn = %q", got[1].Content)
	}
	if got[2].Content != "(20,)" {
		t.Errorf("capability result = %q, want (20,)", got[2].Content)
	}

	calls := engine.Calls()
	if len(calls) != 3 {
		t.Fatalf("engine called %d times, want 3", len(calls))
	}
	if !strings.Contains(calls[0][0].Content, "CREATE TABLE transaction_score") {
		t.Error("rewriter was not given the schema")
	}
	seed := calls[1][1].Content
	if !strings.Contains(seed, "in the table transaction_score") || !strings.Contains(seed, marchQuery) {
		t.Errorf("agent seed = %q, want table hint and rewritten query", seed)
	}
	if opens.Load() != 1 {
		t.Errorf("opened %d channels, want 1", opens.Load())
	}
}

func TestFailureIsAppendedNotSubstituted(t *testing.T) {
	open, opens := inProcessOpener(t)
	engine := testutil.NewScriptedProvider(
		testutil.Reply{ToolCalls: testutil.Call(capability.QueryData, map[string]any{"query": marchQuery})},
		testutil.Reply{Content: "20"},
		testutil.Reply{Content: "<tool_call>garbled"},
	)
	s := newShell(t, engine, open)

	if _, err := s.Submit(context.Background(), "March 2024?"); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	before := s.Transcript()

	turn, err := s.Submit(context.Background(), "And April?")
	if !errors.Is(err, agent.ErrParse) {
		t.Fatalf("second Submit() error = %v, want ErrParse", err)
	}
	if !turn.Failed {
		t.Error("failure turn not marked Failed")
	}
	for _, want := range []string{"Error running query (parse)", "Steps completed: 1", "Trace:", "*agent.RunError"} {
		if !strings.Contains(turn.Content, want) {
			t.Errorf("rendered error missing %q:\n%s", want, turn.Content)
		}
	}

	after := s.Transcript()
	if len(after) != len(before)+2 {
		t.Fatalf("transcript grew by %d turns, want 2", len(after)-len(before))
	}
	if diff := cmp.Diff(before, after[:len(before)]); diff != "" {
		t.Errorf("earlier turns changed (-before +after):\n%s", diff)
	}
	if opens.Load() != 1 {
		t.Errorf("opened %d channels across two questions, want 1", opens.Load())
	}
}

func TestChannelReopenedAfterProtocolError(t *testing.T) {
	var channels []*fakeChannel
	open := func(ctx context.Context) (Channel, error) {
		n := len(channels)
		ch := newFakeChannel(func(ctx context.Context, req mcp.InvocationRequest) (mcp.InvocationResult, error) {
			if n == 0 {
				return mcp.InvocationResult{}, &mcp.ProtocolError{Op: "invoke " + req.Capability, Err: errors.New("broken pipe")}
			}
			return mcp.InvocationResult{Success: true, Payload: "(20,)"}, nil
		})
		channels = append(channels, ch)
		return ch, nil
	}
	engine := testutil.NewScriptedProvider(
		testutil.Reply{ToolCalls: testutil.Call(capability.GetSchema, nil)},
		testutil.Reply{ToolCalls: testutil.Call(capability.GetSchema, nil)},
		testutil.Reply{Content: "ok"},
	)
	s := newShell(t, engine, open)

	_, err := s.Submit(context.Background(), "first")
	if !errors.Is(err, mcp.ErrProtocol) {
		t.Fatalf("first Submit() error = %v, want protocol error", err)
	}
	if !channels[0].closed.Load() {
		t.Error("broken channel was not closed")
	}

	if _, err := s.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if len(channels) != 2 {
		t.Errorf("opened %d channels, want 2", len(channels))
	}
}

func TestOpenFailureIsRendered(t *testing.T) {
	open := func(ctx context.Context) (Channel, error) {
		return nil, &mcp.ProtocolError{Op: "start", Err: exec.ErrNotFound}
	}
	s := newShell(t, testutil.NewScriptedProvider(), open)

	turn, err := s.Submit(context.Background(), "anything")
	if !errors.Is(err, mcp.ErrProtocol) || !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("Submit() error = %v", err)
	}
	if !turn.Failed || !strings.Contains(turn.Content, "protocol error during start") {
		t.Errorf("failure turn = %+v", turn)
	}
	if got := s.Transcript(); len(got) != 2 || got[0].Role != model.RoleUser {
		t.Errorf("transcript = %+v", got)
	}
}

func TestSubmitRejectsConcurrentQuestions(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	engine := testutil.NewMockProvider("slow")
	engine.ChatWithToolsFunc = func(ctx context.Context, turns []model.Turn, tools []mcptypes.Tool, cb model.StreamCallback) error {
		close(entered)
		<-release
		return cb("done", nil)
	}
	ch := newFakeChannel(nil)
	s := newShell(t, engine, func(ctx context.Context) (Channel, error) { return ch, nil })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.Submit(context.Background(), "first"); err != nil {
			t.Errorf("first Submit() error = %v", err)
		}
	}()

	<-entered
	if _, err := s.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Submit() error = %v, want ErrBusy", err)
	}
	close(release)
	wg.Wait()

	if got := len(s.Transcript()); got != 2 {
		t.Errorf("transcript has %d turns, want 2 (the rejected question is not recorded)", got)
	}
}

func TestCloseReleasesChannel(t *testing.T) {
	ch := newFakeChannel(nil)
	engine := testutil.NewScriptedProvider(testutil.Reply{Content: "hello"})
	s := newShell(t, engine, func(ctx context.Context) (Channel, error) { return ch, nil })

	if _, err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ch.closed.Load() {
		t.Error("Close() did not close the channel")
	}
	if _, err := s.Submit(context.Background(), "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
}

func TestSubmitEmptyQuestion(t *testing.T) {
	s := newShell(t, testutil.NewScriptedProvider(), func(ctx context.Context) (Channel, error) {
		t.Fatal("channel opened for an empty question")
		return nil, nil
	})
	if _, err := s.Submit(context.Background(), "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("Submit() error = %v, want ErrEmptyQuestion", err)
	}
	if len(s.Transcript()) != 0 {
		t.Error("empty question was recorded")
	}
}

func TestHistorySavedAfterEachQuestion(t *testing.T) {
	store, err := storage.NewHistoryStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ch := newFakeChannel(nil)
	engine := testutil.NewScriptedProvider(testutil.Reply{Content: "hello"}, testutil.Reply{Content: ""})
	s := newShell(t, engine, func(ctx context.Context) (Channel, error) { return ch, nil }, WithHistory(store, "SCORES.db"))

	if _, err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	_, _ = s.Submit(context.Background(), "empty reply")

	rec, err := store.Load(s.ID())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Name != "hi" || rec.Dataset != "SCORES.db" || rec.Model != "scripted" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Turns) != 4 || !rec.Turns[3].Failed {
		t.Errorf("saved turns = %+v", rec.Turns)
	}
}
