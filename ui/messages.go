package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"nlsql/model"
)

// turnAppendedMsg arrives for every turn the shell appends while a question
// runs, including capability steps.
type turnAppendedMsg struct {
	turn model.Turn
}

// submitDoneMsg carries the outcome of one Submit call.
type submitDoneMsg struct {
	turn model.Turn
	err  error
}

// Feed carries turns from the goroutine running a question to the UI. The
// transcript is re-read on every message, so a dropped send only delays a
// redraw.
type Feed struct {
	turns chan model.Turn
	done  chan struct{}
	once  sync.Once
}

func NewFeed() *Feed {
	return &Feed{
		turns: make(chan model.Turn, 64),
		done:  make(chan struct{}),
	}
}

// Hook is meant for session.WithTurnHook. It never blocks the caller.
func (f *Feed) Hook(turn model.Turn) {
	select {
	case <-f.done:
	case f.turns <- turn:
	default:
	}
}

// Stop releases anything waiting on the feed.
func (f *Feed) Stop() {
	f.once.Do(func() { close(f.done) })
}

// wait blocks until the next turn arrives. It returns nil once the feed is
// stopped, which bubbletea ignores.
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case turn := <-f.turns:
			return turnAppendedMsg{turn: turn}
		case <-f.done:
			return nil
		}
	}
}
