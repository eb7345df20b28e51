package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nlsql/config"
)

var configSave bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and environment overrides.
With --save the result replaces the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !configSave {
			return config.EncodeConfig(os.Stdout, cfg)
		}
		path := firstNonEmpty(configPath, config.GetSettingsFilePath())
		if err := config.SaveConfig(cfg, path); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", path)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configSave, "save", false, "write the effective configuration back to the config file")
	rootCmd.AddCommand(configCmd)
}
