package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watson-creative/tracking-injector/internal/core"
	"github.com/watson-creative/tracking-injector/internal/jobs"
	"github.com/watson-creative/tracking-injector/internal/updater"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run an update check and print the pending update state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *core.App) error {
			state, err := jobs.RunUpdateCheck(ctx, app, false)
			if err != nil {
				return err
			}
			return printJSON(state)
		})
	},
}

var forceCheckCmd = &cobra.Command{
	Use:   "force-check",
	Short: "Clear the update caches and check again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *core.App) error {
			state, err := jobs.ForceCheck(ctx, app)
			if err != nil {
				return err
			}
			return printJSON(state)
		})
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Download and install the available update",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *core.App) error {
			result, err := jobs.RunUpgrade(ctx, app)
			if err != nil {
				return fmt.Errorf("upgrade failed: %w", err)
			}
			return printJSON(result)
		})
	},
}

var infoAction string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the plugin information of the managed plugin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *core.App) error {
			checker := app.Checker()
			if checker == nil {
				return jobs.ErrNoChecker
			}
			info, ok := checker.PluginInfo(ctx, infoAction, updater.InfoRequest{Slug: checker.Slug()})
			if !ok {
				return fmt.Errorf("no plugin information for %s", checker.Slug())
			}
			return printJSON(info)
		})
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent upgrade attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *core.App) error {
			slug := ""
			if app.Checker() != nil {
				slug = app.Checker().Slug()
			}
			records, err := app.Store().GetInstallHistory(ctx, slug, historyLimit)
			if err != nil {
				return err
			}
			return printJSON(records)
		})
	},
}

func init() {
	infoCmd.Flags().StringVar(&infoAction, "action", "plugin_information", "information action name")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of records to show")
	rootCmd.AddCommand(checkCmd, forceCheckCmd, upgradeCmd, infoCmd, historyCmd)
}
