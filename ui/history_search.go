package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

// historySearch is the Ctrl+R overlay: fuzzy search over past questions.
type historySearch struct {
	active   bool
	input    textinput.Model
	all      []string
	matches  []string
	selected int
}

func newHistorySearch() historySearch {
	input := textinput.New()
	input.Prompt = "Search: "
	input.CharLimit = 100
	return historySearch{input: input}
}

func (h *historySearch) open(questions []string) tea.Cmd {
	h.active = true
	h.all = questions
	h.selected = 0
	h.input.SetValue("")
	h.filter()
	h.input.Focus()
	return textinput.Blink
}

func (h *historySearch) filter() {
	query := h.input.Value()
	if query == "" {
		h.matches = h.all
	} else {
		found := fuzzy.Find(query, h.all)
		h.matches = make([]string, len(found))
		for i, m := range found {
			h.matches[i] = h.all[m.Index]
		}
	}
	if h.selected >= len(h.matches) {
		h.selected = max(len(h.matches)-1, 0)
	}
}

// update handles navigation keys. done reports that the overlay closed;
// selected is empty when it was dismissed. Other keys go to the input.
func (h *historySearch) update(msg tea.KeyMsg) (selected string, done bool) {
	switch msg.String() {
	case "esc", "ctrl+r":
		h.close()
		return "", true
	case "enter":
		if len(h.matches) > 0 {
			selected = h.matches[h.selected]
		}
		h.close()
		return selected, true
	case "up", "ctrl+p":
		if h.selected > 0 {
			h.selected--
		}
		return "", false
	case "down", "ctrl+n":
		if h.selected < len(h.matches)-1 {
			h.selected++
		}
		return "", false
	}
	return "", false
}

// consumes reports whether update handled the key itself.
func (h *historySearch) consumes(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "up", "ctrl+p", "down", "ctrl+n":
		return true
	}
	return false
}

func (h *historySearch) close() {
	h.active = false
	h.input.Blur()
}

func (h historySearch) render(width, height int) string {
	modalWidth := min(width-4, 100)

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(dimColor).
		Padding(1, 2)

	title := TitleStyle.Render("Past questions")

	var results string
	switch {
	case len(h.all) == 0:
		results = DimStyle.Render("No questions asked yet")
	case len(h.matches) == 0:
		results = DimStyle.Render("No matches found")
	default:
		// Border, padding, title, input, footer and spacing
		visible := max(height-12, 1)
		start := 0
		if h.selected >= visible {
			start = h.selected - visible + 1
		}
		end := min(start+visible, len(h.matches))

		results = fmt.Sprintf("%d of %d:\n\n", len(h.matches), len(h.all))
		for i := start; i < end; i++ {
			line := truncateLines(h.matches[i], modalWidth-8, 1)[0]
			if i == h.selected {
				results += SelectedStyle.Render("> "+line) + "\n"
			} else {
				results += "  " + line + "\n"
			}
		}
		if end < len(h.matches) {
			results += DimStyle.Render(fmt.Sprintf("↓ %d more", len(h.matches)-end))
		}
	}

	footer := FormatFooter("Type", "to filter", "↑/↓", "Navigate", "Enter", "Use", "Esc", "Close")

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		h.input.View(),
		"",
		results,
		"",
		footer,
	)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
		modalStyle.Width(modalWidth).Render(content))
}
