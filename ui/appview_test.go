package ui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"nlsql/model"
	"nlsql/session"
)

type stubShell struct {
	mu     sync.Mutex
	turns  []model.Turn
	answer model.Turn
	err    error
}

func (s *stubShell) Submit(ctx context.Context, question string) (model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, model.Turn{Role: model.RoleUser, Content: question, Timestamp: time.Now()})
	s.turns = append(s.turns, s.answer)
	return s.answer, s.err
}

func (s *stubShell) Transcript() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Turn(nil), s.turns...)
}

func readyView(t *testing.T, shell Shell) AppView {
	t.Helper()
	view := NewAppView(shell, nil, Info{Model: "scripted", Dataset: "SCORES.db"})
	m, _ := view.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m.(AppView)
}

// ask types a question, presses Enter and feeds the submit result back.
func ask(t *testing.T, view AppView, question string) AppView {
	t.Helper()
	view.textarea.SetValue(question)
	m, cmd := view.Update(tea.KeyMsg{Type: tea.KeyEnter})
	view = m.(AppView)
	if !view.running {
		t.Fatal("view not running after Enter")
	}
	if cmd == nil {
		t.Fatal("Enter returned no command")
	}

	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		batch = tea.BatchMsg{func() tea.Msg { return msg }}
	}
	for _, c := range batch {
		if c == nil {
			continue
		}
		if done, ok := c().(submitDoneMsg); ok {
			m, _ = view.Update(done)
			return m.(AppView)
		}
	}
	t.Fatal("no submitDoneMsg produced")
	return view
}

func TestAskShowsAnswer(t *testing.T) {
	shell := &stubShell{answer: model.Turn{Role: model.RoleAssistant, Content: "There were 20 transactions."}}
	view := ask(t, readyView(t, shell), "How many transactions in March 2024?")

	if view.running {
		t.Error("view still running after submitDoneMsg")
	}
	if len(view.turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(view.turns))
	}
	if answer, ok := view.lastAnswer(); !ok || answer != "There were 20 transactions." {
		t.Errorf("lastAnswer() = %q, %v", answer, ok)
	}
	if view.textarea.Value() != "" {
		t.Errorf("textarea not cleared: %q", view.textarea.Value())
	}
}

func TestFailedAnswerStaysInTranscript(t *testing.T) {
	shell := &stubShell{
		answer: model.Turn{Role: model.RoleAssistant, Content: "Error running query (parse): boom", Failed: true},
		err:    context.Canceled,
	}
	view := ask(t, readyView(t, shell), "count rows")

	if len(view.turns) != 2 || !view.turns[1].Failed {
		t.Fatalf("turns = %+v", view.turns)
	}
	if _, ok := view.lastAnswer(); ok {
		t.Error("lastAnswer() returned a failed turn")
	}
	if !strings.Contains(view.viewport.View(), "Error running query") {
		t.Errorf("viewport missing failure:\n%s", view.viewport.View())
	}
}

func TestEnterWhileRunningKeepsInput(t *testing.T) {
	view := readyView(t, &stubShell{})
	view.running = true
	view.textarea.SetValue("second question")

	m, cmd := view.Update(tea.KeyMsg{Type: tea.KeyEnter})
	view = m.(AppView)

	if cmd != nil {
		t.Error("Enter while running started another question")
	}
	if view.status != session.ErrBusy.Error() {
		t.Errorf("status = %q", view.status)
	}
	if view.textarea.Value() != "second question" {
		t.Errorf("textarea = %q", view.textarea.Value())
	}
}

func TestCopyWithoutAnswer(t *testing.T) {
	view := readyView(t, &stubShell{})
	m, _ := view.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	if got := m.(AppView).status; got != "nothing to copy yet" {
		t.Errorf("status = %q", got)
	}
}

func TestBusyStatus(t *testing.T) {
	view := readyView(t, &stubShell{})
	view.running = true
	m, _ := view.Update(submitDoneMsg{err: session.ErrBusy})
	if got := m.(AppView).status; got != session.ErrBusy.Error() {
		t.Errorf("status = %q", got)
	}
}

func TestHistorySearchFilters(t *testing.T) {
	h := newHistorySearch()
	h.open([]string{
		"How many transactions in March 2024?",
		"Which channel has the highest debit total?",
	})
	if len(h.matches) != 2 {
		t.Fatalf("matches = %v", h.matches)
	}

	h.input.SetValue("march")
	h.filter()
	if len(h.matches) != 1 || !strings.Contains(h.matches[0], "March") {
		t.Fatalf("matches = %v", h.matches)
	}

	selected, done := h.update(tea.KeyMsg{Type: tea.KeyEnter})
	if !done || selected != "How many transactions in March 2024?" {
		t.Errorf("update(enter) = %q, %v", selected, done)
	}
	if h.active {
		t.Error("search still active after Enter")
	}
}

func TestQuestionsNewestFirst(t *testing.T) {
	view := readyView(t, &stubShell{})
	view.info.PastQuestions = []string{"older", "b"}
	view.turns = []model.Turn{
		{Role: model.RoleUser, Content: "a"},
		{Role: model.RoleAssistant, Content: "x"},
		{Role: model.RoleUser, Content: "b"},
	}
	got := view.questions()
	want := []string{"b", "a", "older"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("questions() = %v, want %v", got, want)
	}
}

func TestTruncateLines(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		limit int
		want  []string
	}{
		{"short", "(20,)", 40, 5, []string{"(20,)"}},
		{"wide", "abcdefghijklmnopqrstuvwxyz", 10, 5, []string{"abcdefghi…"}},
		{"many", "1\n2\n3\n4", 40, 2, []string{"1", "2", "… 2 more lines"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateLines(tt.in, tt.width, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("truncateLines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFrameCodeBlocks(t *testing.T) {
	in := "Query:\n  ┃ SELECT COUNT(*)\n  ┃ FROM transaction_score\nDone"
	got := frameCodeBlocks(in, 40)

	if strings.Contains(got, codeBar) {
		t.Errorf("bar left in output:\n%s", got)
	}
	for _, want := range []string{"[code]", "SELECT COUNT(*)", "FROM transaction_score", "Done"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}
}

func TestFeed(t *testing.T) {
	feed := NewFeed()
	feed.Hook(model.Turn{Role: model.RoleCapabilityResult, Content: "(20,)"})

	msg, ok := feed.wait()().(turnAppendedMsg)
	if !ok || msg.turn.Content != "(20,)" {
		t.Fatalf("wait() = %+v", msg)
	}

	feed.Stop()
	feed.Stop()
	feed.Hook(model.Turn{})
	if got := feed.wait()(); got != nil {
		if _, ok := got.(turnAppendedMsg); !ok {
			t.Errorf("wait() after Stop = %T", got)
		}
	}
}
