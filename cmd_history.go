package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nlsql/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved sessions",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewHistoryStore(cfg.HistoryDir())
		if err != nil {
			return err
		}
		return store.Delete(args[0])
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd, historyRmCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := storage.NewHistoryStore(cfg.HistoryDir())
	if err != nil {
		return err
	}
	metas, err := store.List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No saved sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTURNS\tFAILED\tNAME")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", m.ID, m.UpdatedAt.Format("2006-01-02 15:04"), m.TurnCount, m.Failures, m.Name)
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := storage.NewHistoryStore(cfg.HistoryDir())
	if err != nil {
		return err
	}
	rec, err := store.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s\nmodel %s, dataset %s\n\n", rec.Name, rec.Model, rec.Dataset)
	for _, t := range rec.Turns {
		marker := ""
		if t.Failed {
			marker = " (failed)"
		}
		fmt.Printf("[%s] %s%s\n%s\n\n", t.Timestamp.Format("15:04:05"), t.Role, marker, t.Content)
	}
	return nil
}
