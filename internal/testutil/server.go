// Shared setup for tests that need a fully wired application.

package testutil

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/watson-creative/tracking-injector/internal/config"
	"github.com/watson-creative/tracking-injector/internal/core"
)

// TestConfig returns the default configuration with every path pointing
// into a temporary directory.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		t.Fatalf("Failed to build test config: %v", err)
	}

	root := t.TempDir()
	cfg.Database.Path = ":memory:"
	cfg.Plugins.Path = filepath.Join(root, "plugins")
	cfg.Site.Path = filepath.Join(root, "public")
	cfg.Updater.CheckInterval = 0
	return cfg
}

// SetupTestApp wires a core.App around an in-memory database. mutate may
// adjust the configuration before the components are built.
func SetupTestApp(t *testing.T, mutate func(*config.Config)) *core.App {
	t.Helper()

	cfg := TestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	return core.NewWithDB(cfg, SetupTestDB(t), "test")
}
