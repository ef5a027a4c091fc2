package cache_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/watson-creative/tracking-injector/internal/cache"
)

func TestKey(t *testing.T) {
	slug := "wc-tracking-code-injector/wc-tracking-code-injector.php"

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, cache.Key(slug, cache.PurposeGitHubData), cache.Key(slug, cache.PurposeGitHubData))
	})

	t.Run("shapes", func(t *testing.T) {
		// md5("a_github_data") and md5("a") + suffix
		assert.Equal(t, md5Of(t, "a_github_data"), cache.Key("a", cache.PurposeGitHubData))
		assert.Equal(t, md5Of(t, "a")+"_new_version", cache.Key("a", cache.PurposeNewVersion))
		assert.Equal(t, md5Of(t, "a")+"_last_update_check", cache.Key("a", cache.PurposeLastCheck))
		assert.Equal(t, md5Of(t, "a_github_api_call"), cache.Key("a", cache.PurposeAPICall))
	})

	t.Run("distinct per purpose and slug", func(t *testing.T) {
		seen := map[string]bool{}
		for _, s := range []string{slug, "other/other.php"} {
			for _, p := range []cache.Purpose{cache.PurposeGitHubData, cache.PurposeAPICall, cache.PurposeNewVersion, cache.PurposeLastCheck} {
				k := cache.Key(s, p)
				assert.False(t, seen[k], "duplicate key %s", k)
				seen[k] = true
			}
		}
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 24, 12, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore().WithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "forever", []byte("2"), 0))

	v, ok, err := store.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	now = now.Add(time.Minute)
	_, ok, _ = store.Get(ctx, "short")
	assert.False(t, ok, "entry should expire once its ttl elapsed")

	now = now.Add(24 * time.Hour)
	v, ok, _ = store.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, "2", string(v))

	require.NoError(t, store.Delete(ctx, "forever"))
	_, ok, _ = store.Get(ctx, "forever")
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()

	var out map[string]string
	found, err := cache.GetJSON(ctx, store, "missing", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.SetJSON(ctx, store, "k", map[string]string{"a": "b"}, time.Hour))
	found, err = cache.GetJSON(ctx, store, "k", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", out["a"])

	require.NoError(t, store.Set(ctx, "bad", []byte("{"), time.Hour))
	_, err = cache.GetJSON(ctx, store, "bad", &out)
	assert.Error(t, err)
}

func md5Of(t *testing.T, s string) string {
	t.Helper()
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
