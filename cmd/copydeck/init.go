package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <project-id> <api-key> <project-secret>",
	Short: "Store project credentials",
	Long:  "Save the project credentials to ~/.copydeck/config.toml.\nThe secret is confirmed by the server on the first sync.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Project.ProjectID = args[0]
		cfg.Project.APIKey = args[1]
		cfg.Project.ProjectSecret = args[2]
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("Saved credentials for project %s\n", args[0])
		return nil
	},
}
