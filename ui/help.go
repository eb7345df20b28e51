package ui

import (
	"github.com/charmbracelet/lipgloss"
)

func renderHelpModal(width, height int) string {
	green := lipgloss.NewStyle().
		Bold(true).
		Foreground(successColor)

	title := green.Render("nlsql - Keyboard Shortcuts")

	blue := lipgloss.NewStyle().Foreground(accentColor)

	asking := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Asking"),
		"• Enter         Ask the question",
		"• Alt+Enter     New line",
		"• Esc           Cancel the running question",
		"• Ctrl+R        Search past questions",
		"• Ctrl+Y        Copy the last answer",
	)

	navigation := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Transcript"),
		"• PgUp/PgDn     Scroll a page",
		"• Ctrl+U/D      Scroll half a page",
		"• Alt+H         Toggle this help",
		"• Alt+Q         Quit",
	)

	tips := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Tips"),
		"• Failed questions stay in the transcript",
		"• Capability calls show as → lines",
		"• Only read-only queries are allowed",
	)

	columnStyle := lipgloss.NewStyle().Width(42).PaddingLeft(4)

	twoColumns := lipgloss.JoinHorizontal(
		lipgloss.Top,
		columnStyle.Render(lipgloss.JoinVertical(lipgloss.Left, asking, "", tips)),
		"  ",
		columnStyle.Render(navigation),
	)

	footer := lipgloss.NewStyle().
		Foreground(dimColor).
		Render("Press Alt+H or Esc to close this help")

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		twoColumns,
		"",
		footer,
	)

	helpBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1, 2)

	return lipgloss.Place(
		width,
		height,
		lipgloss.Center,
		lipgloss.Center,
		helpBox.Render(content),
	)
}
