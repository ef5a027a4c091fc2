// Package updater keeps a plugin in sync with its GitHub repository: it
// resolves the checker configuration, fetches repository metadata with
// caching and rate limiting, derives a candidate version from the push time
// and installs downloaded packages with backup and rollback.
package updater

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/watson-creative/tracking-injector/internal/cache"
	"github.com/watson-creative/tracking-injector/internal/logger"
	"github.com/watson-creative/tracking-injector/internal/plugins"
	"github.com/watson-creative/tracking-injector/internal/telemetry"
)

// PluginHost is the plugin registry the checker reads and activates through.
type PluginHost interface {
	Basenamer
	MetadataSource
	Activator
}

// Options carries the host-wide flags and policies of a Checker.
type Options struct {
	Cache cache.Store
	// ForceUpdate bypasses every cache on every check.
	ForceUpdate bool
	// Debug enables logging; without it the checker is silent.
	Debug       bool
	Policy      FetchPolicy
	VersionTTL  time.Duration
	HTTPTimeout time.Duration
	HostVersion string

	PluginsDir string
	Backup     bool
	Filesystem FilesystemProvider

	// APIClient performs repository API calls; ProbeClient checks the package URL.
	APIClient   *http.Client
	ProbeClient *http.Client
	Log         *logrus.Entry
	Now         func() time.Time
}

// UpdateOffer is the entry added to the update state for an available update.
type UpdateOffer struct {
	Slug       string `json:"slug"`
	NewVersion string `json:"new_version"`
	Package    string `json:"package"`
}

// UpdateState is the host's pending update record.
type UpdateState struct {
	LastChecked time.Time              `json:"last_checked"`
	Checked     map[string]string      `json:"checked"`
	Response    map[string]UpdateOffer `json:"response"`
}

// InfoRequest is the argument of a plugin information request.
type InfoRequest struct {
	Slug string `json:"slug"`
}

// PluginInfo describes the plugin for the host's details screen.
type PluginInfo struct {
	Slug          string                 `json:"slug"`
	PluginName    string                 `json:"plugin_name"`
	Version       string                 `json:"version"`
	Author        string                 `json:"author"`
	Homepage      string                 `json:"homepage"`
	Requires      string                 `json:"requires"`
	Tested        string                 `json:"tested"`
	Downloaded    int                    `json:"downloaded"`
	LastUpdated   string                 `json:"last_updated"`
	Sections      map[string]string      `json:"sections"`
	DownloadLink  string                 `json:"download_link"`
	Compatibility *plugins.Compatibility `json:"compatibility,omitempty"`
}

// RequestArgs are per-request HTTP settings a caller may adjust.
type RequestArgs struct {
	Timeout   time.Duration `json:"timeout"`
	SSLVerify bool          `json:"sslverify"`
}

// Checker is the update checker of one plugin.
type Checker struct {
	config    *UpdateConfig
	opts      Options
	host      PluginHost
	fetcher   *Fetcher
	installer *Installer
	probe     *http.Client
	log       *logrus.Entry
}

// New resolves settings and builds a checker. A *MissingFieldsError means
// the plugin has no update checker.
func New(settings Settings, host PluginHost, opts Options) (*Checker, error) {
	cfg, err := Resolve(settings, host, host)
	if err != nil {
		return nil, err
	}

	if opts.Policy == (FetchPolicy{}) {
		opts.Policy = DefaultFetchPolicy()
	}
	if opts.VersionTTL == 0 {
		opts.VersionTTL = 6 * time.Hour
	}
	if opts.HTTPTimeout == 0 {
		opts.HTTPTimeout = 2 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := logger.Discard()
	if opts.Debug && opts.Log != nil {
		log = opts.Log
	}
	log = log.WithField("plugin", cfg.Slug)

	c := &Checker{
		config: cfg,
		opts:   opts,
		host:   host,
		log:    log,
		probe:  opts.ProbeClient,
	}
	if c.probe == nil {
		c.probe = NewHTTPClient(opts.Policy.Timeout, cfg.SSLVerify)
	}
	c.fetcher = NewFetcher(cfg, opts.Cache, opts.APIClient, opts.Policy, log)
	c.fetcher.withClock(opts.Now)
	c.installer = NewInstaller(cfg, InstallerOptions{
		PluginsDir: opts.PluginsDir,
		Backup:     opts.Backup,
		Filesystem: opts.Filesystem,
		Activator:  host,
		Log:        log,
		Now:        opts.Now,
	})
	return c, nil
}

// Config returns a copy of the resolved configuration.
func (c *Checker) Config() UpdateConfig {
	return *c.config
}

// Slug identifies the plugin.
func (c *Checker) Slug() string {
	return c.config.Slug
}

// Fetcher exposes the repository fetcher.
func (c *Checker) Fetcher() *Fetcher {
	return c.fetcher
}

// Installer exposes the install executor.
func (c *Checker) Installer() *Installer {
	return c.installer
}

// IsForced reports whether a check bypasses caches.
func (c *Checker) IsForced(manual bool) bool {
	return manual || c.opts.ForceUpdate
}

// InstalledVersion is the explicitly configured version, or the version
// declared in the plugin's header as it is on disk now.
func (c *Checker) InstalledVersion() string {
	if c.config.versionSupplied {
		return c.config.Version
	}
	if c.host != nil {
		if meta, err := c.host.Metadata(c.config.Slug); err == nil && meta.Version != "" {
			return meta.Version
		}
	}
	return c.config.Version
}

// ComputeNewVersion returns the candidate version. The boolean is false when
// no verdict is possible, which callers must not read as "up to date".
func (c *Checker) ComputeNewVersion(ctx context.Context, force bool) (string, bool) {
	if c.config.NewVersion != "" {
		return c.config.NewVersion, true
	}

	ctx, span := telemetry.StartSpan(ctx, "updater.ComputeNewVersion")
	defer span.End()

	key := cache.Key(c.config.Slug, cache.PurposeNewVersion)
	if force {
		if err := c.opts.Cache.Delete(ctx, key); err != nil {
			c.log.Warnf("Failed to clear cached version: %v", err)
		}
	} else if raw, ok, err := c.opts.Cache.Get(ctx, key); err == nil && ok && len(raw) > 0 {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return string(raw), true
	}

	data, err := c.fetcher.FetchRepositoryData(ctx, force)
	if err != nil {
		c.log.Errorf("Failed to get GitHub data: %v", err)
		return "", false
	}
	pushedAt, ok := data.Time("pushed_at")
	if !ok {
		c.log.Error("Failed to retrieve pushed_at from GitHub data")
		c.log.Debugf("GitHub data received: %v", map[string]any(data))
		return "", false
	}

	version := FormatVersion(c.InstalledVersion(), pushedAt)
	if !force {
		if err := c.opts.Cache.Set(ctx, key, []byte(version), c.opts.VersionTTL); err != nil {
			c.log.Warnf("Failed to cache computed version: %v", err)
		}
	}
	span.SetAttributes(attribute.String("new_version", version))
	return version, true
}

// NewVersion is the candidate version under the configured force flag.
func (c *Checker) NewVersion(ctx context.Context) (string, bool) {
	return c.ComputeNewVersion(ctx, c.opts.ForceUpdate)
}

// LastUpdated is the repository's updated_at date as YYYY-MM-DD.
func (c *Checker) LastUpdated(ctx context.Context) string {
	if c.config.LastUpdated != "" {
		return c.config.LastUpdated
	}
	return c.lastUpdatedFrom(c.repositoryData(ctx, c.opts.ForceUpdate))
}

// Description is the repository description.
func (c *Checker) Description(ctx context.Context) string {
	if c.config.Description != "" {
		return c.config.Description
	}
	return c.descriptionFrom(c.repositoryData(ctx, c.opts.ForceUpdate))
}

func (c *Checker) lastUpdatedFrom(data RepositoryData) string {
	if c.config.LastUpdated != "" {
		return c.config.LastUpdated
	}
	if t, ok := data.Time("updated_at"); ok {
		return t.UTC().Format("2006-01-02")
	}
	return ""
}

func (c *Checker) descriptionFrom(data RepositoryData) string {
	if c.config.Description != "" {
		return c.config.Description
	}
	return data.String("description")
}

// repositoryData fetches the repository data, or nil on failure.
func (c *Checker) repositoryData(ctx context.Context, force bool) RepositoryData {
	data, err := c.fetcher.FetchRepositoryData(ctx, force)
	if err != nil {
		return nil
	}
	return data
}

// CheckUpdates adds an update offer to state when a newer version exists.
// Non-manual checks are spaced by the rate-limit window; a skipped check
// returns state untouched.
func (c *Checker) CheckUpdates(ctx context.Context, state *UpdateState, manual bool) *UpdateState {
	ctx, span := telemetry.StartSpan(ctx, "updater.CheckUpdates")
	defer span.End()

	force := c.IsForced(manual)
	now := c.opts.Now()
	lastKey := cache.Key(c.config.Slug, cache.PurposeLastCheck)

	if !force && c.opts.Policy.RateLimit {
		if raw, ok, err := c.opts.Cache.Get(ctx, lastKey); err == nil && ok {
			if last, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				if since := now.Sub(time.Unix(last, 0)); since < c.opts.Policy.RateLimitWindow {
					c.log.Debugf("Skipping update check, last check %s ago", since.Round(time.Second))
					return state
				}
			}
		}
	}
	if c.opts.Policy.RateLimit {
		if err := c.opts.Cache.Set(ctx, lastKey, []byte(strconv.FormatInt(now.Unix(), 10)), c.opts.Policy.RateLimitWindow); err != nil {
			c.log.Warnf("Failed to record update check time: %v", err)
		}
	}

	c.log.Infof("Starting plugin update check (manual=%t)", force)
	if force {
		for _, key := range []string{
			cache.Key(c.config.Slug, cache.PurposeNewVersion),
			cache.Key(c.config.Slug, cache.PurposeGitHubData),
		} {
			if err := c.opts.Cache.Delete(ctx, key); err != nil {
				c.log.Warnf("Failed to clear cached update data %s: %v", key, err)
			}
		}
	}

	if state == nil || len(state.Checked) == 0 {
		c.log.Info("No plugins to check for updates")
		return state
	}
	state.LastChecked = now

	version, ok := c.ComputeNewVersion(ctx, force)
	installed := c.InstalledVersion()
	c.log.Infof("Current version: %s, latest version: %s", installed, version)
	if !ok || !IsUpdateAvailable(installed, version) {
		c.log.Info("No update needed")
		return state
	}

	offer := UpdateOffer{
		Slug:       c.config.ProperFolderName,
		NewVersion: version,
		Package:    c.config.ZipURL,
	}
	c.probePackage(ctx, offer.Package)

	if state.Response == nil {
		state.Response = make(map[string]UpdateOffer)
	}
	state.Response[c.config.Slug] = offer
	span.SetAttributes(attribute.String("new_version", version))
	return state
}

// probePackage checks that the package URL answers. The outcome is only logged.
func (c *Checker) probePackage(ctx context.Context, pkg string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pkg, nil)
	if err != nil {
		c.log.Errorf("Invalid package URL: %v", err)
		return
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		c.log.Error("Package URL is not accessible")
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Errorf("Package URL returned non-200 status code: %d", resp.StatusCode)
		return
	}
	c.log.Debugf("Package URL response code: %d", resp.StatusCode)
}

// PluginInfo answers a plugin information request for this plugin. The
// boolean is false when the request is for another plugin.
func (c *Checker) PluginInfo(ctx context.Context, action string, req InfoRequest) (*PluginInfo, bool) {
	if req.Slug == "" || req.Slug != c.config.Slug {
		return nil, false
	}
	c.log.Debugf("Plugin info requested (%s)", action)

	force := c.opts.ForceUpdate
	version, _ := c.ComputeNewVersion(ctx, force)

	// A forced version computation has just refreshed the in-process copy;
	// reuse it rather than fetching again for the remaining fields.
	var data RepositoryData
	if force && c.config.NewVersion == "" {
		data = c.fetcher.Cached()
	}
	if data == nil && (c.config.LastUpdated == "" || c.config.Description == "") {
		data = c.repositoryData(ctx, force)
	}

	meta := c.config
	info := &PluginInfo{
		Slug:         meta.Slug,
		PluginName:   meta.PluginName,
		Version:      version,
		Author:       meta.Author,
		Homepage:     meta.Homepage,
		Requires:     meta.Requires,
		Tested:       meta.Tested,
		LastUpdated:  c.lastUpdatedFrom(data),
		Sections:     map[string]string{"description": c.descriptionFrom(data)},
		DownloadLink: meta.ZipURL,
	}
	if c.opts.HostVersion != "" {
		compat, err := plugins.CheckCompatibility(meta.Requires, meta.Tested, c.opts.HostVersion)
		if err != nil {
			c.log.Warnf("Cannot evaluate compatibility: %v", err)
		} else {
			info.Compatibility = compat
		}
	}
	return info, true
}

// PostInstall moves an extracted package into place and activates it.
func (c *Checker) PostInstall(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	return c.installer.Install(ctx, req)
}

// HTTPTimeout is the timeout for generic host HTTP requests.
func (c *Checker) HTTPTimeout() time.Duration {
	return c.opts.HTTPTimeout
}

// HTTPRequestArgs applies the TLS verification setting to requests for the
// package URL and leaves others unchanged.
func (c *Checker) HTTPRequestArgs(args RequestArgs, target string) RequestArgs {
	if target == c.config.ZipURL {
		args.SSLVerify = c.config.SSLVerify
	}
	return args
}
