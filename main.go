package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"nlsql/agent"
	"nlsql/capability"
	"nlsql/config"
	"nlsql/mcp"
	"nlsql/model"
	"nlsql/provider"
	"nlsql/rewriter"
	"nlsql/session"
	"nlsql/storage"
	"nlsql/ui"
)

const Version = "v0.1.0"

var (
	configPath string
	debugFlag  bool

	// cfg is loaded before any command runs.
	cfg *config.Config
)

// errReported means the command already printed its failure.
var errReported = errors.New("reported")

var rootCmd = &cobra.Command{
	Use:   "nlsql",
	Short: "Ask questions about a SQLite dataset in plain language",
	Long: `nlsql answers natural-language questions about a SQLite table.

A language model plans the work and reaches the data only through two
capabilities, get_schema and query_data, served by a subprocess over MCP.
Run without arguments for the interactive terminal UI.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	RunE:              runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/nlsql/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "write a debug log to <data_directory>/debug.log")

	capability.Version = Version
}

func main() {
	err := rootCmd.Execute()
	config.SyncDebugLog()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.InitDebugLog(c.DataDir(), debugFlag)
	cfg = c
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	feed := ui.NewFeed()
	defer feed.Stop()

	shell, engine, err := newShell(feed.Hook)
	if err != nil {
		return showStartupError(err)
	}
	defer shell.Close(context.Background())

	info := ui.Info{
		Model:         engine.GetModel(),
		Dataset:       cfg.DatasetPath(),
		Warnings:      startupWarnings(cmd.Context(), engine),
		PastQuestions: pastQuestions(),
	}

	p := tea.NewProgram(ui.NewAppView(shell, feed, info), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run UI: %w", err)
	}
	return nil
}

func showStartupError(err error) error {
	p := tea.NewProgram(ui.NewErrorModal("nlsql could not start", err.Error()), tea.WithAltScreen())
	if _, runErr := p.Run(); runErr != nil {
		return err
	}
	return errReported
}

// newShell assembles the engine, the channel opener and the session shell
// from the loaded config.
func newShell(hook func(model.Turn)) (*session.Shell, model.Provider, error) {
	engine, err := provider.FromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	chCfg, err := channelConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := []session.Option{
		session.WithLoopOptions(
			agent.WithMaxSteps(cfg.Agent.MaxSteps),
			agent.WithDecisionTimeout(cfg.Agent.DecisionTimeout.Duration),
		),
		session.WithSteps(cfg.Session.ShowSteps),
	}
	if cfg.Agent.Rewrite {
		opts = append(opts, session.WithRewriter(rewriter.New(engine)))
	}
	if cfg.Agent.TableHint {
		opts = append(opts, session.WithTableHint(cfg.Dataset.Table))
	}
	if cfg.Session.SaveHistory {
		store, err := storage.NewHistoryStore(cfg.HistoryDir())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session history: %w", err)
		}
		opts = append(opts, session.WithHistory(store, cfg.DatasetPath()))
	}
	if hook != nil {
		opts = append(opts, session.WithTurnHook(hook))
	}

	return session.New(engine, session.StdioOpener(chCfg), opts...), engine, nil
}

// channelConfig describes the capability server subprocess. Unless the
// config names another command, it is this binary's serve command.
func channelConfig() (mcp.ChannelConfig, error) {
	cc := mcp.ChannelConfig{InvokeTimeout: cfg.Agent.InvokeTimeout.Duration}

	if cfg.Capabilities.Command != "" {
		cc.Command = config.ExpandPath(cfg.Capabilities.Command)
		cc.Args = cfg.Capabilities.Args
		return cc, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return cc, fmt.Errorf("failed to locate executable: %w", err)
	}
	cc.Command = exe
	cc.Args = []string{
		"serve",
		"--db", cfg.DatasetPath(),
		"--table", cfg.Dataset.Table,
		"--policy", cfg.Dataset.ReadOnlyPolicy,
	}
	if configPath != "" {
		cc.Args = append(cc.Args, "--config", configPath)
	}
	if config.Debug {
		cc.Env = map[string]string{"NLSQL_DEBUG": "1"}
	}
	return cc, nil
}

// startupWarnings collects problems worth showing before the first
// question. None of them stop the UI.
func startupWarnings(ctx context.Context, engine model.Provider) []string {
	var warnings []string

	if !config.FileExists(cfg.DatasetPath()) {
		warnings = append(warnings, fmt.Sprintf("dataset %s not found; run: nlsql seed", cfg.DatasetPath()))
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := engine.Ping(ctx); err != nil {
		return append(warnings, fmt.Sprintf("reasoning engine unreachable: %v", err))
	}
	if checker, ok := engine.(interface {
		CheckModel(ctx context.Context) []string
	}); ok {
		warnings = append(warnings, checker.CheckModel(ctx)...)
	}
	return warnings
}

// pastQuestions reads questions from the most recent saved sessions.
func pastQuestions() []string {
	const maxSessions = 20

	store, err := storage.NewHistoryStore(cfg.HistoryDir())
	if err != nil {
		return nil
	}
	metas, err := store.List()
	if err != nil {
		return nil
	}

	var questions []string
	for i, meta := range metas {
		if i == maxSessions {
			break
		}
		rec, err := store.Load(meta.ID)
		if err != nil {
			continue
		}
		for j := len(rec.Turns) - 1; j >= 0; j-- {
			if rec.Turns[j].Role == string(model.RoleUser) {
				questions = append(questions, rec.Turns[j].Content)
			}
		}
	}
	return questions
}
