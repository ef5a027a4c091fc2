package updater

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watson-creative/tracking-injector/internal/cache"
	"github.com/watson-creative/tracking-injector/internal/logger"
)

func newTestFetcher(t *testing.T, gh *fakeGitHub, policy FetchPolicy, token string) (*Fetcher, *cache.MemoryStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := cache.NewMemoryStore().WithClock(clock.Now)
	s := validSettings(gh.URL)
	s.AccessToken = token
	cfg, err := Resolve(s, nil, nil)
	require.NoError(t, err)
	f := NewFetcher(cfg, store, nil, policy, logger.Discard())
	f.withClock(clock.Now)
	return f, store, clock
}

func TestFetchRepositoryDataCaches(t *testing.T) {
	gh := newFakeGitHub(t)
	f, store, _ := newTestFetcher(t, gh, DefaultFetchPolicy(), "")
	ctx := context.Background()

	data, err := f.FetchRepositoryData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "Tracking code injector", data.String("description"))
	pushed, ok := data.Time("pushed_at")
	require.True(t, ok)
	assert.Equal(t, 2025, pushed.Year())

	_, err = f.FetchRepositoryData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), gh.calls.Load(), "second call is served from cache")

	var cached RepositoryData
	ok, err = cache.GetJSON(ctx, store, cache.Key(testSlug, cache.PurposeGitHubData), &cached)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "wc-tracking-code-injector", cached.String("name"))

	_, ok, _ = store.Get(ctx, cache.Key(testSlug, cache.PurposeAPICall))
	assert.True(t, ok, "api call timestamp is recorded")
}

func TestFetchRepositoryDataSharedCacheAcrossInstances(t *testing.T) {
	gh := newFakeGitHub(t)
	policy := DefaultFetchPolicy()
	policy.RateLimit = false
	f, store, clock := newTestFetcher(t, gh, policy, "")
	ctx := context.Background()

	_, err := f.FetchRepositoryData(ctx, false)
	require.NoError(t, err)

	cfg := f.config
	other := NewFetcher(cfg, store, nil, policy, logger.Discard())
	other.withClock(clock.Now)
	data, err := other.FetchRepositoryData(ctx, false)
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Equal(t, int32(1), gh.calls.Load())

	clock.Advance(2 * time.Hour)
	third := NewFetcher(cfg, store, nil, policy, logger.Discard())
	third.withClock(clock.Now)
	_, err = third.FetchRepositoryData(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), gh.calls.Load(), "expired entry triggers a fetch")
}

func TestFetchRepositoryDataForce(t *testing.T) {
	gh := newFakeGitHub(t)
	f, store, _ := newTestFetcher(t, gh, DefaultFetchPolicy(), "")
	ctx := context.Background()

	_, err := f.FetchRepositoryData(ctx, false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.FetchRepositoryData(ctx, true)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), gh.calls.Load(), "forced fetches always go out")

	_, ok, _ := store.Get(ctx, cache.Key(testSlug, cache.PurposeGitHubData))
	assert.False(t, ok, "forced results are not cached")
}

func TestFetchRepositoryDataRateLimit(t *testing.T) {
	gh := newFakeGitHub(t)
	f, store, clock := newTestFetcher(t, gh, DefaultFetchPolicy(), "")
	ctx := context.Background()

	// A recent call recorded by another process, no local data.
	require.NoError(t, store.Set(ctx, cache.Key(testSlug, cache.PurposeAPICall),
		[]byte("1738411140"), 5*time.Minute)) // one minute before the test clock

	data, err := f.FetchRepositoryData(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, data, "rate limited fetch returns the empty in-process data")
	assert.Equal(t, int32(0), gh.calls.Load())

	clock.Advance(5 * time.Minute)
	data, err = f.FetchRepositoryData(ctx, false)
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Equal(t, int32(1), gh.calls.Load())
}

func TestFetchRepositoryDataErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("non-success status", func(t *testing.T) {
		gh := newFakeGitHub(t)
		gh.status.Store(http.StatusForbidden)
		f, _, _ := newTestFetcher(t, gh, DefaultFetchPolicy(), "")

		data, err := f.FetchRepositoryData(ctx, false)
		assert.Nil(t, data)
		var nerr *NetworkError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, http.StatusForbidden, nerr.StatusCode)
	})

	t.Run("transport failure", func(t *testing.T) {
		gh := newFakeGitHub(t)
		f, _, _ := newTestFetcher(t, gh, DefaultFetchPolicy(), "")
		gh.Close()

		_, err := f.FetchRepositoryData(ctx, false)
		var nerr *NetworkError
		assert.ErrorAs(t, err, &nerr)
	})

	t.Run("not an object", func(t *testing.T) {
		for _, body := range []string{`[1,2,3]`, `null`, `not json`} {
			gh := newFakeGitHub(t)
			gh.body.Store(body)
			f, store, _ := newTestFetcher(t, gh, DefaultFetchPolicy(), "")

			_, err := f.FetchRepositoryData(ctx, false)
			var ierr *InvalidResponseError
			assert.ErrorAs(t, err, &ierr, body)
			assert.Equal(t, 0, store.Len(), "nothing cached for %s", body)
		}
	})
}

func TestFetchRepositoryDataAccessToken(t *testing.T) {
	gh := newFakeGitHub(t)
	f, _, _ := newTestFetcher(t, gh, DefaultFetchPolicy(), "s3cret")

	_, err := f.FetchRepositoryData(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "access_token=s3cret", gh.lastQuery.Load())

	gh.status.Store(http.StatusNotFound)
	_, err = f.FetchRepositoryData(context.Background(), true)
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "s3cret"), "token is not leaked in errors")
}
