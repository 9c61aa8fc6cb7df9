package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdeck-dev/taskdeck/internal/config"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "taskdeck",
	Short: "Taskdeck - Task manager client",
	Long: `Taskdeck CLI - Manage your tasks from the terminal.

Starts an interactive session. Tokens live in memory only; after a restart
your identity is remembered but you must log in again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		app, err := NewApp(cfg)
		if err != nil {
			return err
		}
		return app.Run(cmd.Context())
	},
}

func init() {
	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskdeck version %s\n", version)
		},
	})
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
