package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"nlsql/config"
	"nlsql/session"
)

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

		// Title (1), blank (1), textarea (3), status bar (1)
		a.viewport.Width = a.width
		a.viewport.Height = a.height - 6
		a.textarea.SetWidth(a.width)

		if a.ready {
			// Rendered markdown depends on the width.
			a.rendered = make(map[int]string)
		}
		a.ready = true
		a.updateViewportContent(true)
		return a, nil

	case turnAppendedMsg:
		a.syncTranscript()
		return a, a.feed.wait()

	case submitDoneMsg:
		a.running = false
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		switch {
		case errors.Is(msg.err, session.ErrBusy), errors.Is(msg.err, session.ErrEmptyQuestion), errors.Is(msg.err, session.ErrClosed):
			a.status = msg.err.Error()
		case msg.err != nil:
			// Already in the transcript as a failed turn.
			a.status = ""
			logf("question failed: %v", msg.err)
		default:
			a.status = ""
		}
		a.syncTranscript()
		return a, nil

	case spinner.TickMsg:
		if !a.running {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "alt+q":
			if a.cancel != nil {
				a.cancel()
			}
			return a, tea.Quit
		case "alt+h":
			a.showHelp = !a.showHelp
			return a, nil
		}

		if a.showHelp {
			if msg.String() == "esc" || msg.String() == "enter" {
				a.showHelp = false
			}
			return a, nil
		}

		if a.history.active {
			selected, done := a.history.update(msg)
			if done {
				if selected != "" {
					a.textarea.SetValue(selected)
				}
				a.textarea.Focus()
				return a, textarea.Blink
			}
			if a.history.consumes(msg) {
				return a, nil
			}
			var cmd tea.Cmd
			a.history.input, cmd = a.history.input.Update(msg)
			a.history.filter()
			return a, cmd
		}

		switch msg.String() {
		case "esc":
			if a.running && a.cancel != nil {
				a.cancel()
				a.status = "cancelling..."
			}
			return a, nil

		case "enter":
			return a.submit()

		case "ctrl+y":
			answer, ok := a.lastAnswer()
			if !ok {
				a.status = "nothing to copy yet"
				return a, nil
			}
			if err := clipboard.WriteAll(answer); err != nil {
				a.status = "copy failed: " + err.Error()
				return a, nil
			}
			a.status = "answer copied"
			return a, nil

		case "ctrl+r":
			a.textarea.Blur()
			return a, a.history.open(a.questions())

		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			a.viewport, cmd = a.viewport.Update(msg)
			return a, cmd
		}
	}

	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// submit starts the question in the textarea on its own goroutine. The
// shell itself refuses overlapping questions; the UI checks first so the
// input is not lost.
func (a AppView) submit() (tea.Model, tea.Cmd) {
	question := strings.TrimSpace(a.textarea.Value())
	if question == "" {
		return a, nil
	}
	if a.running {
		a.status = session.ErrBusy.Error()
		return a, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true
	a.status = ""
	a.textarea.Reset()

	shell := a.shell
	run := func() tea.Msg {
		turn, err := shell.Submit(ctx, question)
		return submitDoneMsg{turn: turn, err: err}
	}
	return a, tea.Batch(run, a.spinner.Tick)
}

// syncTranscript re-reads the shell transcript and redraws.
func (a *AppView) syncTranscript() {
	a.turns = a.shell.Transcript()
	a.updateViewportContent(true)
}

func logf(format string, args ...any) {
	if config.DebugLog != nil {
		config.DebugLog.Debugf("[UI] "+format, args...)
	}
}
