package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nlsql/model"
)

// Shell is the part of the session shell the UI drives. *session.Shell
// satisfies it.
type Shell interface {
	Submit(ctx context.Context, question string) (model.Turn, error)
	Transcript() []model.Turn
}

// Info is static data shown in the title and status bars.
type Info struct {
	Model    string
	Dataset  string
	Warnings []string
	// Questions from saved sessions, offered by the history search.
	PastQuestions []string
}

type AppView struct {
	shell Shell
	feed  *Feed
	info  Info

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	turns    []model.Turn
	rendered map[int]string

	running bool
	cancel  context.CancelFunc
	status  string

	showHelp bool
	history  historySearch
}

func NewAppView(shell Shell, feed *Feed, info Info) AppView {
	ta := textarea.New()
	ta.Placeholder = "Ask a question about the data..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)

	// Alt+Enter for newline, Enter submits
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = AssistantStyle

	status := ""
	if len(info.Warnings) > 0 {
		status = strings.Join(info.Warnings, "; ")
	}

	return AppView{
		shell:    shell,
		feed:     feed,
		info:     info,
		viewport: viewport.New(0, 0),
		textarea: ta,
		spinner:  sp,
		rendered: make(map[int]string),
		status:   status,
		history:  newHistorySearch(),
	}
}

func (a AppView) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink}
	if a.feed != nil {
		cmds = append(cmds, a.feed.wait())
	}
	return tea.Batch(cmds...)
}

func (a AppView) View() string {
	if !a.ready {
		return "Loading nlsql..."
	}

	if a.showHelp {
		return renderHelpModal(a.width, a.height)
	}
	if a.history.active {
		return a.history.render(a.width, a.height)
	}

	title := AssistantStyle.Render("nlsql") +
		TitleStyle.Render(fmt.Sprintf(" - %s", a.info.Model)) +
		UserStyle.Render(fmt.Sprintf(" - %s", a.info.Dataset))
	if a.running {
		title += TitleStyle.Render(" | running " + a.spinner.View())
	}

	descStyle := lipgloss.NewStyle().Foreground(successColor).Bold(true)
	statusBar := fmt.Sprintf("Alt+Q %s  Enter %s  Alt+Enter %s  Esc %s  Ctrl+R %s  Ctrl+Y %s  Alt+H %s",
		descStyle.Render("Quit"),
		descStyle.Render("Ask"),
		descStyle.Render("New Line"),
		descStyle.Render("Cancel"),
		descStyle.Render("History"),
		descStyle.Render("Copy"),
		descStyle.Render("Help"),
	)
	if a.status != "" {
		statusBar = WarningStyle.Render(a.status)
	} else {
		statusBar = StatusStyle.Render(statusBar)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		a.viewport.View(),
		a.textarea.View(),
		statusBar,
	)
}

// lastAnswer returns the newest successful answer in the transcript.
func (a AppView) lastAnswer() (string, bool) {
	for i := len(a.turns) - 1; i >= 0; i-- {
		t := a.turns[i]
		if t.Role == model.RoleAssistant && t.Call == nil && !t.Failed {
			return t.Content, true
		}
	}
	return "", false
}

// questions lists past questions, newest first, without duplicates.
func (a AppView) questions() []string {
	seen := make(map[string]bool)
	var out []string
	for i := len(a.turns) - 1; i >= 0; i-- {
		if a.turns[i].Role != model.RoleUser {
			continue
		}
		q := a.turns[i].Content
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	for _, q := range a.info.PastQuestions {
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}
