package updater

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watson-creative/tracking-injector/internal/cache"
)

func newState() *UpdateState {
	return &UpdateState{Checked: map[string]string{testSlug: "2.4.4"}}
}

func TestNewWithMissingConfig(t *testing.T) {
	c, err := New(Settings{APIURL: "https://api.github.com/repos/org/repo"}, newFakeHost("1.0.0"), Options{})
	assert.Nil(t, c)
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.NotContains(t, missing.Fields, "api_url")
	assert.Len(t, missing.Fields, 6)
}

func TestCheckUpdatesOffersNewVersion(t *testing.T) {
	fx := newCheckerFixture(t, nil)

	state := fx.checker.CheckUpdates(context.Background(), newState(), false)
	require.Contains(t, state.Response, testSlug)

	offer := state.Response[testSlug]
	assert.Equal(t, "2.4.4.20250124.232528", offer.NewVersion)
	assert.Equal(t, "wc-tracking-code-injector", offer.Slug)
	assert.Equal(t, fx.github.URL+"/archive/main.zip", offer.Package)
	assert.Equal(t, int32(1), fx.github.headCalls.Load(), "package URL is probed")
	assert.Equal(t, fx.clock.Now(), state.LastChecked)

	v, ok, _ := fx.cache.Get(context.Background(), cache.Key(testSlug, cache.PurposeNewVersion))
	assert.True(t, ok)
	assert.Equal(t, "2.4.4.20250124.232528", string(v))
}

func TestCheckUpdatesRateLimited(t *testing.T) {
	fx := newCheckerFixture(t, nil)
	ctx := context.Background()

	fx.checker.CheckUpdates(ctx, newState(), false)
	fx.clock.Advance(time.Minute)

	state := fx.checker.CheckUpdates(ctx, newState(), false)
	assert.Empty(t, state.Response, "second check inside the window is skipped")

	state = fx.checker.CheckUpdates(ctx, newState(), true)
	assert.Contains(t, state.Response, testSlug, "manual checks ignore the window")
	assert.Equal(t, int32(2), fx.github.calls.Load())
}

func TestCheckUpdatesEmptyChecked(t *testing.T) {
	fx := newCheckerFixture(t, nil)

	state := fx.checker.CheckUpdates(context.Background(), &UpdateState{}, false)
	assert.Empty(t, state.Response)
	assert.Equal(t, int32(0), fx.github.calls.Load())

	assert.Nil(t, fx.checker.CheckUpdates(context.Background(), nil, true))
}

func TestCheckUpdatesIndeterminate(t *testing.T) {
	t.Run("network failure", func(t *testing.T) {
		fx := newCheckerFixture(t, nil)
		fx.github.status.Store(http.StatusInternalServerError)

		state := fx.checker.CheckUpdates(context.Background(), newState(), false)
		assert.Empty(t, state.Response)

		_, ok := fx.checker.ComputeNewVersion(context.Background(), true)
		assert.False(t, ok)
	})

	t.Run("missing pushed_at", func(t *testing.T) {
		fx := newCheckerFixture(t, nil)
		fx.github.body.Store(`{"id": 1, "description": "x"}`)

		v, ok := fx.checker.ComputeNewVersion(context.Background(), false)
		assert.False(t, ok)
		assert.Empty(t, v)
	})
}

func TestComputeNewVersionCaching(t *testing.T) {
	fx := newCheckerFixture(t, func(_ *Settings, o *Options) {
		o.Policy.RateLimit = false
	})
	ctx := context.Background()

	v, ok := fx.checker.ComputeNewVersion(ctx, false)
	require.True(t, ok)
	assert.Equal(t, "2.4.4.20250124.232528", v)

	fx.github.body.Store(`{"pushed_at": "2025-03-01T08:00:00Z"}`)
	v, _ = fx.checker.ComputeNewVersion(ctx, false)
	assert.Equal(t, "2.4.4.20250124.232528", v, "cached candidate is reused")

	v, _ = fx.checker.ComputeNewVersion(ctx, true)
	assert.Equal(t, "2.4.4.20250301.080000", v, "forced check bypasses the cache")
}

func TestForceUpdateFlag(t *testing.T) {
	fx := newCheckerFixture(t, func(_ *Settings, o *Options) {
		o.ForceUpdate = true
	})
	ctx := context.Background()

	fx.checker.CheckUpdates(ctx, newState(), false)
	fx.checker.CheckUpdates(ctx, newState(), false)
	assert.Equal(t, int32(2), fx.github.calls.Load(), "force-update bypasses caches and rate limits")
	assert.True(t, fx.checker.IsForced(false))
}

func TestInstalledVersionFollowsDisk(t *testing.T) {
	fx := newCheckerFixture(t, nil)
	assert.Equal(t, "2.4.4", fx.checker.InstalledVersion())

	fx.host.setVersion("2.5.0")
	assert.Equal(t, "2.5.0", fx.checker.InstalledVersion())

	pinned := newCheckerFixture(t, func(s *Settings, _ *Options) { s.Version = "1.0.0" })
	pinned.host.setVersion("3.0.0")
	assert.Equal(t, "1.0.0", pinned.checker.InstalledVersion())
}

func TestPluginInfo(t *testing.T) {
	fx := newCheckerFixture(t, nil)
	ctx := context.Background()

	info, ok := fx.checker.PluginInfo(ctx, "plugin_information", InfoRequest{Slug: "other/other.php"})
	assert.False(t, ok)
	assert.Nil(t, info)

	info, ok = fx.checker.PluginInfo(ctx, "plugin_information", InfoRequest{Slug: testSlug})
	require.True(t, ok)
	assert.Equal(t, testSlug, info.Slug)
	assert.Equal(t, "WC Tracking Code Injector", info.PluginName)
	assert.Equal(t, "2.4.4.20250124.232528", info.Version)
	assert.Equal(t, "Watson Creative", info.Author)
	assert.Equal(t, "6.0", info.Requires)
	assert.Equal(t, "6.5", info.Tested)
	assert.Equal(t, 0, info.Downloaded)
	assert.Equal(t, "2025-01-20", info.LastUpdated)
	assert.Equal(t, "Tracking code injector", info.Sections["description"])
	assert.Equal(t, fx.github.URL+"/archive/main.zip", info.DownloadLink)
	require.NotNil(t, info.Compatibility)
	assert.True(t, info.Compatibility.Supported)
	assert.Equal(t, int32(1), fx.github.calls.Load(), "one fetch serves every field")
}

func TestPluginInfoForceUpdateFetchesOnce(t *testing.T) {
	fx := newCheckerFixture(t, func(_ *Settings, o *Options) {
		o.ForceUpdate = true
	})

	info, ok := fx.checker.PluginInfo(context.Background(), "plugin_information", InfoRequest{Slug: testSlug})
	require.True(t, ok)
	assert.Equal(t, "2.4.4.20250124.232528", info.Version)
	assert.Equal(t, "2025-01-20", info.LastUpdated)
	assert.Equal(t, "Tracking code injector", info.Sections["description"])
	assert.Equal(t, int32(1), fx.github.calls.Load())
}

func TestScheduledCheckSeesNewPushAfterTTLs(t *testing.T) {
	fx := newCheckerFixture(t, nil)
	ctx := context.Background()

	v, ok := fx.checker.ComputeNewVersion(ctx, false)
	require.True(t, ok)
	assert.Equal(t, "2.4.4.20250124.232528", v)
	require.Equal(t, int32(1), fx.github.calls.Load())

	fx.github.body.Store(`{"pushed_at": "2025-03-01T10:00:00Z", "updated_at": "2025-03-01T10:00:00Z"}`)

	// Inside the data TTL the same checker keeps serving what it has.
	fx.clock.Advance(30 * time.Minute)
	state := fx.checker.CheckUpdates(ctx, newState(), false)
	assert.Equal(t, "2.4.4.20250124.232528", state.Response[testSlug].NewVersion)
	assert.Equal(t, int32(1), fx.github.calls.Load())

	// Past both the data and the version TTL it goes back to the API.
	fx.clock.Advance(7 * time.Hour)
	state = fx.checker.CheckUpdates(ctx, newState(), false)
	require.Contains(t, state.Response, testSlug)
	assert.Equal(t, "2.4.4.20250301.100000", state.Response[testSlug].NewVersion)
	assert.Equal(t, int32(2), fx.github.calls.Load())
	assert.Equal(t, "2025-03-01", fx.checker.LastUpdated(ctx))
}

// failingCache accepts reads but rejects every write.
type failingCache struct {
	*cache.MemoryStore
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("transients table is locked")
}

func (failingCache) Delete(context.Context, string) error {
	return errors.New("transients table is locked")
}

func TestCheckUpdatesLogsCacheFailures(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	fx := newCheckerFixture(t, func(_ *Settings, o *Options) {
		o.Cache = failingCache{MemoryStore: cache.NewMemoryStore()}
		o.Log = logrus.NewEntry(log)
	})

	state := fx.checker.CheckUpdates(context.Background(), newState(), true)
	assert.Contains(t, state.Response, testSlug, "the check still completes")

	var warnings []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings = append(warnings, e.Message)
		}
	}
	assert.Contains(t, strings.Join(warnings, "\n"), "Failed to record update check time")
	assert.Contains(t, strings.Join(warnings, "\n"), "Failed to clear cached update data")
}

func TestHTTPHooks(t *testing.T) {
	fx := newCheckerFixture(t, func(s *Settings, _ *Options) {
		off := false
		s.SSLVerify = &off
	})

	assert.Equal(t, 2*time.Second, fx.checker.HTTPTimeout())

	args := RequestArgs{Timeout: 15 * time.Second, SSLVerify: true}
	got := fx.checker.HTTPRequestArgs(args, fx.checker.Config().ZipURL)
	assert.False(t, got.SSLVerify)
	assert.Equal(t, 15*time.Second, got.Timeout)

	got = fx.checker.HTTPRequestArgs(args, "https://example.com/other.zip")
	assert.True(t, got.SSLVerify)
}

func TestPostInstallDelegates(t *testing.T) {
	fx := newCheckerFixture(t, nil)
	_, err := fx.checker.PostInstall(context.Background(), InstallRequest{})
	assert.True(t, errors.Is(err, ErrDestinationMissing))
}
