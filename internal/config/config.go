// This file defines the configuration structure for the application.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvironmentLive is the deployment environment in which tracking snippets are printed.
const EnvironmentLive = "live"

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port        int    `mapstructure:"port"`
	Debug       bool   `mapstructure:"debug"`
	Environment string `mapstructure:"environment"`
	HostVersion string `mapstructure:"host_version"`
	Database    struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Plugins struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"plugins"`
	Site struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"site"`
	Log       LogConfig       `mapstructure:"log"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Updater   UpdaterConfig   `mapstructure:"updater"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type AdminConfig struct {
	// TokenHash is the bcrypt hash of the bearer token accepted by the admin API.
	TokenHash string `mapstructure:"token_hash"`
}

type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// UpdaterConfig carries both the repository coordinates of the managed plugin
// and the cache/rate-limit policy of the update checker.
type UpdaterConfig struct {
	ForceUpdate     bool          `mapstructure:"force_update"`
	CheckInterval   int           `mapstructure:"check_interval"`
	DataTTL         time.Duration `mapstructure:"data_ttl"`
	VersionTTL      time.Duration `mapstructure:"version_ttl"`
	RateLimit       bool          `mapstructure:"rate_limit"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	APITimeout      time.Duration `mapstructure:"api_timeout"`
	Backup          bool          `mapstructure:"backup"`

	MainFile    string `mapstructure:"main_file"`
	APIURL      string `mapstructure:"api_url"`
	RawURL      string `mapstructure:"raw_url"`
	GitHubURL   string `mapstructure:"github_url"`
	ZipURL      string `mapstructure:"zip_url"`
	Requires    string `mapstructure:"requires"`
	Tested      string `mapstructure:"tested"`
	Readme      string `mapstructure:"readme"`
	AccessToken string `mapstructure:"access_token"`
	SSLVerify   bool   `mapstructure:"sslverify"`
}

// IsLive reports whether tracking snippets should be printed.
func (c *Config) IsLive() bool {
	return c.Environment == EnvironmentLive
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// INJECTOR_UPDATER_ACCESS_TOKEN overrides `updater.access_token`.
	v.SetEnvPrefix("INJECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PANTHEON_ENVIRONMENT is honoured for compatibility with existing deployments.
	_ = v.BindEnv("environment", "INJECTOR_ENVIRONMENT", "PANTHEON_ENVIRONMENT")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("debug", false)
	v.SetDefault("environment", "dev")
	v.SetDefault("host_version", "6.5")
	v.SetDefault("database.path", "./injector.db")
	v.SetDefault("plugins.path", "./plugins")
	v.SetDefault("site.path", "./public")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)

	v.SetDefault("admin.token_hash", "")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", true)

	v.SetDefault("updater.force_update", false)
	v.SetDefault("updater.check_interval", 720)
	v.SetDefault("updater.data_ttl", time.Hour)
	v.SetDefault("updater.version_ttl", 6*time.Hour)
	v.SetDefault("updater.rate_limit", true)
	v.SetDefault("updater.rate_limit_window", 5*time.Minute)
	v.SetDefault("updater.http_timeout", 2*time.Second)
	v.SetDefault("updater.api_timeout", 15*time.Second)
	v.SetDefault("updater.backup", true)

	v.SetDefault("updater.main_file", "wc-tracking-code-injector/wc-tracking-code-injector.php")
	v.SetDefault("updater.api_url", "https://api.github.com/repos/Watson-Creative/wc-tracking-code-injector")
	v.SetDefault("updater.raw_url", "https://raw.githubusercontent.com/Watson-Creative/wc-tracking-code-injector/main")
	v.SetDefault("updater.github_url", "https://github.com/Watson-Creative/wc-tracking-code-injector")
	v.SetDefault("updater.zip_url", "https://github.com/Watson-Creative/wc-tracking-code-injector/archive/refs/heads/main.zip")
	v.SetDefault("updater.requires", "6.0")
	v.SetDefault("updater.tested", "6.5")
	v.SetDefault("updater.readme", "README.md")
	v.SetDefault("updater.access_token", "")
	v.SetDefault("updater.sslverify", true)
}
