package updater

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watson-creative/tracking-injector/internal/cache"
	"github.com/watson-creative/tracking-injector/internal/logger"
	"github.com/watson-creative/tracking-injector/internal/plugins"
)

const testSlug = "wc-tracking-code-injector/wc-tracking-code-injector.php"

const repoJSON = `{
	"id": 1,
	"name": "wc-tracking-code-injector",
	"description": "Tracking code injector",
	"pushed_at": "2025-01-24T23:25:28Z",
	"updated_at": "2025-01-20T10:00:00Z"
}`

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeHost struct {
	mu          sync.Mutex
	meta        map[string]*plugins.Metadata
	activated   []string
	activateErr error
}

func newFakeHost(version string) *fakeHost {
	return &fakeHost{meta: map[string]*plugins.Metadata{
		testSlug: {
			Name:      "WC Tracking Code Injector",
			Version:   version,
			Author:    "Watson Creative",
			PluginURI: "https://github.com/Watson-Creative/wc-tracking-code-injector",
		},
	}}
}

func (h *fakeHost) Basename(mainFile string) string { return mainFile }

func (h *fakeHost) Metadata(slug string) (*plugins.Metadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.meta[slug]
	if !ok {
		return nil, plugins.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (h *fakeHost) Activate(_ context.Context, slug string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activateErr != nil {
		return h.activateErr
	}
	h.activated = append(h.activated, slug)
	return nil
}

func (h *fakeHost) setVersion(v string) {
	h.mu.Lock()
	h.meta[testSlug].Version = v
	h.mu.Unlock()
}

type fakeGitHub struct {
	*httptest.Server
	calls     atomic.Int32
	headCalls atomic.Int32
	status    atomic.Int32
	body      atomic.Value
	lastQuery atomic.Value
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	gh := &fakeGitHub{}
	gh.status.Store(http.StatusOK)
	gh.body.Store(repoJSON)
	gh.lastQuery.Store("")
	gh.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			gh.headCalls.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		gh.calls.Add(1)
		gh.lastQuery.Store(r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(gh.status.Load()))
		_, _ = w.Write([]byte(gh.body.Load().(string)))
	}))
	t.Cleanup(gh.Close)
	return gh
}

func validSettings(apiURL string) Settings {
	return Settings{
		APIURL:    apiURL,
		RawURL:    "https://raw.githubusercontent.com/Watson-Creative/wc-tracking-code-injector/main",
		GitHubURL: "https://github.com/Watson-Creative/wc-tracking-code-injector",
		ZipURL:    apiURL + "/archive/refs/heads/main.zip",
		Requires:  "6.0",
		Tested:    "6.5",
		Readme:    "README.md",
		MainFile:  testSlug,
	}
}

type checkerFixture struct {
	checker *Checker
	github  *fakeGitHub
	host    *fakeHost
	cache   *cache.MemoryStore
	clock   *testClock
}

func newCheckerFixture(t *testing.T, mutate func(*Settings, *Options)) *checkerFixture {
	t.Helper()
	gh := newFakeGitHub(t)
	host := newFakeHost("2.4.4")
	clock := newTestClock()
	store := cache.NewMemoryStore().WithClock(clock.Now)

	settings := validSettings(gh.URL)
	opts := Options{
		Cache:       store,
		Debug:       true,
		Policy:      DefaultFetchPolicy(),
		VersionTTL:  6 * time.Hour,
		HostVersion: "6.5",
		PluginsDir:  t.TempDir(),
		Backup:      true,
		Log:         logger.Discard(),
		Now:         clock.Now,
	}
	if mutate != nil {
		mutate(&settings, &opts)
	}

	c, err := New(settings, host, opts)
	if err != nil {
		t.Fatalf("failed to create checker: %v", err)
	}
	return &checkerFixture{checker: c, github: gh, host: host, cache: store, clock: clock}
}
