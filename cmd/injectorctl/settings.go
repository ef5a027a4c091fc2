package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/watson-creative/tracking-injector/internal/core"
	"github.com/watson-creative/tracking-injector/internal/tracking"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the tracking snippet settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the tracking settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *core.App) error {
			settings, err := tracking.LoadSettings(ctx, app.Store())
			if err != nil {
				return err
			}
			return printJSON(settings)
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set name=value [name=value...]",
	Short: "Change tracking options",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := make(map[string]string, len(args))
		for _, arg := range args {
			name, value, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected name=value, got %q", arg)
			}
			if !tracking.IsOption(name) {
				return fmt.Errorf("unknown tracking option %q (known: %s)", name, strings.Join(tracking.OptionNames, ", "))
			}
			values[name] = value
		}
		return withApp(cmd, func(ctx context.Context, app *core.App) error {
			settings, err := tracking.SaveSettings(ctx, app.Store(), values)
			if err != nil {
				return err
			}
			return printJSON(settings)
		})
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
