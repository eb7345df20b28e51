package model

import (
	"fmt"
	"sync"
	"testing"
)

func TestTranscriptAppendPreservesOrder(t *testing.T) {
	tr := NewTranscript(Turn{Role: RoleSystem, Content: "instructions"})

	idx := tr.Append(Turn{Role: RoleUser, Content: "question"})
	if idx != 1 {
		t.Fatalf("Append() index = %d, want 1", idx)
	}
	tr.Append(Turn{Role: RoleAssistant, Content: "answer"})

	turns := tr.Turns()
	want := []Role{RoleSystem, RoleUser, RoleAssistant}
	if len(turns) != len(want) {
		t.Fatalf("Len = %d, want %d", len(turns), len(want))
	}
	for i, role := range want {
		if turns[i].Role != role {
			t.Errorf("turn %d role = %q, want %q", i, turns[i].Role, role)
		}
		if turns[i].Timestamp.IsZero() {
			t.Errorf("turn %d has no timestamp", i)
		}
	}
}

func TestTranscriptTurnsIsACopy(t *testing.T) {
	tr := NewTranscript(Turn{Role: RoleUser, Content: "original"})

	turns := tr.Turns()
	turns[0].Content = "mutated"

	if got, _ := tr.Last(); got.Content != "original" {
		t.Fatalf("transcript was mutated through Turns(): %q", got.Content)
	}
}

func TestTranscriptConcurrentReadersSeeMonotonicGrowth(t *testing.T) {
	tr := NewTranscript()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			tr.Append(Turn{Role: RoleUser, Content: fmt.Sprintf("%d", i)})
		}
	}()

	last := 0
	for i := 0; i < 200; i++ {
		n := tr.Len()
		if n < last {
			t.Fatalf("transcript shrank from %d to %d", last, n)
		}
		last = n
	}
	wg.Wait()

	for i, turn := range tr.Turns() {
		if turn.Content != fmt.Sprintf("%d", i) {
			t.Fatalf("turn %d content = %q, order not preserved", i, turn.Content)
		}
	}
}

func TestTranscriptLastOnEmpty(t *testing.T) {
	if _, ok := NewTranscript().Last(); ok {
		t.Fatal("Last() on empty transcript returned ok = true")
	}
}
