package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nlsql/capability"
	"nlsql/config"
	"nlsql/mcp"
	"nlsql/storage"
)

var seedDB string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a demo transaction dataset",
	Long: `Create (or replace) a demo dataset with a deterministic set of
transactions, so questions can be tried without real data.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ExpandPath(firstNonEmpty(seedDB, cfg.DatasetPath()))
		n, err := storage.Seed(cmd.Context(), path, cfg.Dataset.Table)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d rows into %s (table %s)\n", n, path, cfg.Dataset.Table)
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the dataset schema through the capability channel",
	Long: `Start the capability server, complete the handshake and call get_schema.
Useful to check the channel works before asking questions.`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	seedCmd.Flags().StringVar(&seedDB, "db", "", "dataset to create (default from config)")
	rootCmd.AddCommand(seedCmd, schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	chCfg, err := channelConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	ch, err := mcp.Open(ctx, chCfg)
	if err != nil {
		return err
	}
	defer ch.Close(context.Background())

	req, err := ch.Catalogue().Request(capability.GetSchema, nil)
	if err != nil {
		return err
	}
	result, err := ch.Invoke(ctx, req)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("get_schema failed: %s", result.Error)
	}

	fmt.Printf("Capabilities: %v\n\n%s\n", ch.Catalogue().Names(), result.Payload)
	return nil
}
