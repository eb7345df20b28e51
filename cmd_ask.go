package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"nlsql/model"
	"nlsql/session"
	"nlsql/ui"
)

var (
	askSteps bool
	askWidth int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and exit",
	Long: `Answer one question without the terminal UI.

The answer is printed to stdout. A failed question prints the error and its
trace to stderr and exits with status 1.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askSteps, "steps", false, "print capability calls and results to stderr")
	askCmd.Flags().IntVar(&askWidth, "width", 100, "line width of the rendered answer")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var hook func(model.Turn)
	cfg.Session.ShowSteps = askSteps
	if askSteps {
		hook = printStep
	}

	shell, _, err := newShell(hook)
	if err != nil {
		return err
	}
	defer shell.Close(context.Background())

	turn, err := shell.Submit(ctx, strings.Join(args, " "))
	if errors.Is(err, session.ErrEmptyQuestion) {
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, turn.Content)
		return errReported
	}

	fmt.Println(strings.TrimRight(ui.RenderMarkdown(turn.Content, askWidth), "\n"))
	return nil
}

func printStep(turn model.Turn) {
	switch {
	case turn.Role == model.RoleAssistant && turn.Call != nil:
		fmt.Fprintf(os.Stderr, "→ %s\n", turn.Content)
	case turn.Role == model.RoleCapabilityResult:
		prefix := "  "
		if turn.Failed {
			prefix = "  ! "
		}
		for _, line := range strings.Split(strings.TrimRight(turn.Content, "\n"), "\n") {
			fmt.Fprintln(os.Stderr, prefix+line)
		}
	}
}
