package ui

import (
	"fmt"
	"regexp"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mattn/go-runewidth"

	"nlsql/model"
)

const (
	codeBar = "┃"

	// Capability results longer than this are cut in the transcript.
	maxResultLines = 12
)

var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	urlRegex        = regexp.MustCompile(`(https?://[^\s]+)`)
)

func (a *AppView) updateViewportContent(gotoBottom bool) {
	if !a.ready {
		return
	}

	var content strings.Builder
	if len(a.turns) == 0 {
		content.WriteString(DimStyle.Render("Ask a question about " + a.info.Dataset + ", for example:"))
		content.WriteString("\n")
		content.WriteString(DimStyle.Render("  How many transactions were entered in March 2024?"))
		content.WriteString("\n")
	}

	for i, turn := range a.turns {
		content.WriteString(a.renderTurn(i, turn))
	}

	a.viewport.SetContent(content.String())
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

func (a *AppView) renderTurn(i int, turn model.Turn) string {
	timestamp := DimStyle.Render(turn.Timestamp.Format("15:04"))

	switch {
	case turn.Role == model.RoleUser:
		return formatBarMessage("\x1b[32;1m", timestamp, UserStyle.Render("You"), turn.Content)

	case turn.Role == model.RoleAssistant && turn.Call != nil:
		return StepStyle.Render("  → "+turn.Content) + "\n"

	case turn.Role == model.RoleCapabilityResult:
		style := DimStyle
		if turn.Failed {
			style = FailedStyle
		}
		var b strings.Builder
		for _, line := range truncateLines(turn.Content, a.width-6, maxResultLines) {
			b.WriteString(style.Render("    " + line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		return b.String()

	case turn.Failed:
		return formatBarMessage("\x1b[31;1m", timestamp, FailedStyle.Render("Error"), turn.Content)

	default:
		rendered, ok := a.rendered[i]
		if !ok {
			rendered = RenderMarkdown(turn.Content, a.width)
			a.rendered[i] = rendered
		}
		return fmt.Sprintf("%s %s\n%s\n\n", timestamp, AssistantStyle.Render("Assistant"), strings.TrimRight(rendered, "\n"))
	}
}

// formatBarMessage prefixes every line with a colored bar.
func formatBarMessage(color, timestamp, role, content string) string {
	reset := "\x1b[0m"
	bar := color + codeBar + reset

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s %s %s\n", bar, timestamp, role))
	for _, line := range strings.Split(content, "\n") {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, line))
	}
	result.WriteString("\n")
	return result.String()
}

// truncateLines cuts every line to width display cells and keeps at most
// limit lines, noting how many were dropped.
func truncateLines(s string, width, limit int) []string {
	if width < 10 {
		width = 10
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	dropped := 0
	if len(lines) > limit {
		dropped = len(lines) - limit
		lines = lines[:limit]
	}
	out := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		out = append(out, runewidth.Truncate(line, width, "…"))
	}
	if dropped > 0 {
		out = append(out, fmt.Sprintf("… %d more lines", dropped))
	}
	return out
}

// RenderMarkdown renders content for a terminal of the given width.
func RenderMarkdown(content string, width int) string {
	if width < 20 {
		width = 20
	}

	// [text](url) becomes a plain url so every link is colored the same way.
	content = mdLinkRegex.ReplaceAllString(content, "$2")

	// Autolink off keeps urls as plain text for the terminal to detect.
	p := parser.NewWithExtensions(markdown.Extensions() &^ parser.Autolink)
	r := markdown.NewRenderer(width-4, 0)
	rendered := gomarkdown.Render(p.Parse([]byte(content)), r)

	return postProcessMarkdown(string(rendered), width)
}

func postProcessMarkdown(rendered string, width int) string {
	rendered = fixInlineCode(rendered)
	rendered = fixMarkdownLinks(rendered)
	return frameCodeBlocks(rendered, width)
}

// fixInlineCode turns blue-background italic inline code into red text.
func fixInlineCode(s string) string {
	return inlineCodeRegex.ReplaceAllString(s, "\x1b[31m$1\x1b[0m")
}

func fixMarkdownLinks(s string) string {
	red := "\x1b[31m"
	reset := "\x1b[0m"

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		// code block lines carry the bar
		if !strings.Contains(line, codeBar) {
			lines[i] = urlRegex.ReplaceAllString(line, red+"$1"+reset)
		}
	}
	return strings.Join(lines, "\n")
}

// frameCodeBlocks replaces the bar the renderer puts in front of code lines
// with a horizontal frame, so SQL can be copied with the mouse.
func frameCodeBlocks(s string, width int) string {
	darkGray := "\x1b[90m"
	reset := "\x1b[0m"
	lineLen := width - 4
	if lineLen < 8 {
		lineLen = 8
	}
	bottom := darkGray + strings.Repeat("━", lineLen) + reset

	var result, block []string
	inBlock := false

	closeBlock := func() {
		result = append(result, block...)
		result = append(result, "", bottom, "")
		block = nil
		inBlock = false
	}

	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, codeBar) {
			if !inBlock {
				inBlock = true
				label := "[code]"
				left := (lineLen - len(label)) / 2
				right := lineLen - len(label) - left
				top := darkGray + strings.Repeat("━", left) + reset + label + darkGray + strings.Repeat("━", right) + reset
				result = append(result, "", top, "")
			}
			block = append(block, stripCodeBlockPrefix(line))
			continue
		}
		if inBlock {
			closeBlock()
		}
		result = append(result, line)
	}
	if inBlock && len(block) > 0 {
		closeBlock()
	}

	return strings.Join(result, "\n")
}

func stripCodeBlockPrefix(line string) string {
	idx := strings.Index(line, codeBar)
	if idx < 0 {
		return line
	}
	after := idx + len(codeBar)
	if after < len(line) && line[after] == ' ' {
		after++
	}
	return line[after:]
}
