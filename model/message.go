package model

import (
	"sync"
	"time"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser             Role = "user"
	RoleAssistant        Role = "assistant"
	RoleSystem           Role = "system"
	RoleCapabilityResult Role = "capability-result"
)

// Turn is one entry of a conversation transcript
type Turn struct {
	Role      Role
	Content   string
	Call      *ToolCall // set on assistant turns that invoke a capability
	Failed    bool      // set on capability-result turns carrying an error
	Timestamp time.Time
}

// Transcript is an append-only, ordered list of turns. It is safe to read
// while another goroutine appends, which is how the UI renders a run in
// progress.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewTranscript(turns ...Turn) *Transcript {
	t := &Transcript{}
	for _, turn := range turns {
		t.Append(turn)
	}
	return t
}

// Append adds a turn at the end and returns its index.
func (t *Transcript) Append(turn Turn) int {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
	return len(t.turns) - 1
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Turns returns a copy of the transcript.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Last returns the final turn, if any.
func (t *Transcript) Last() (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}
