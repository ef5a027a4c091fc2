package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/watson-creative/tracking-injector/internal/core"
)

var rootCmd = &cobra.Command{
	Use:           "injectorctl",
	Short:         "Manage the tracking code injector and its GitHub updater",
	Long:          `injectorctl checks for and installs plugin updates and edits the tracking snippet settings without going through the admin API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// withApp builds the application for the duration of one command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *core.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := core.New(ctx, version)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Version: %s\n", version)
	},
}
