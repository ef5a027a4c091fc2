package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/watson-creative/tracking-injector/internal/api"
	"github.com/watson-creative/tracking-injector/internal/core"
	"github.com/watson-creative/tracking-injector/internal/jobs"
	"github.com/watson-creative/tracking-injector/internal/plugins"
	"github.com/watson-creative/tracking-injector/internal/tracking"
	"github.com/watson-creative/tracking-injector/internal/websocket"
)

var version = "dev"

// legacyPluginSlug is the test build of the updater that earlier releases
// shipped alongside the injector.
const legacyPluginSlug = "wp-github-plugin-updater-test/wp-github-plugin-updater-test.php"

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	ctx := context.Background()

	// Initialize the core application components
	app, err := core.New(ctx, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error during application setup: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	log := app.Logger()

	// --- First-run setup ---
	written, err := tracking.EnsureDefaults(ctx, app.Store())
	if err != nil {
		log.Fatalf("Could not create default tracking options: %v", err)
	}
	if len(written) > 0 {
		log.Infof("Created default tracking options: %s", strings.Join(written, ", "))
	}
	if removed, err := app.Registry().RemoveLegacy(ctx, legacyPluginSlug); err != nil {
		log.Warnf("Failed to remove legacy updater plugin: %v", err)
	} else if removed {
		log.Info("Removed legacy updater plugin")
	}
	if app.Config().Admin.TokenHash == "" {
		log.Warn("admin.token_hash is empty, the admin API is disabled. Run `injectorctl hash-token` to create one.")
	}

	found, err := app.Registry().Discover()
	if err != nil {
		log.Warnf("Failed to discover plugins: %v", err)
	}
	log.Infof("Discovered %d plugins in %s", len(found), app.Registry().Dir())

	watcher := plugins.NewWatcher(app.Registry(), func(folders []string) {
		app.WsHub().BroadcastEvent(websocket.Event{
			Type:    "plugins-changed",
			Message: strings.Join(folders, ", "),
		})
	})
	if err := watcher.Start(); err != nil {
		log.Warnf("Plugin watcher not started: %v", err)
	}
	defer watcher.Stop()

	// Start the background jobs
	scheduler := jobs.StartJobs(app)
	defer scheduler.Stop()

	// Setup the API server
	server := api.NewServer(app)
	addr := fmt.Sprintf(":%d", app.Config().Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Infof("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Create a context with a timeout to allow existing connections to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Attempt a graceful shutdown.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exiting.")
}
