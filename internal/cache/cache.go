// Package cache defines the expiring key/value store the update checker keeps
// its repository data, computed versions and rate-limit timestamps in.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Store is an expiring key/value store shared across requests.
// A ttl of zero or less stores the value without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Purpose selects which entry of a plugin a key addresses.
type Purpose int

const (
	// PurposeGitHubData holds the decoded repository metadata.
	PurposeGitHubData Purpose = iota
	// PurposeAPICall holds the unix time of the last outbound API call.
	PurposeAPICall
	// PurposeNewVersion holds the computed candidate version string.
	PurposeNewVersion
	// PurposeLastCheck holds the unix time of the last update check.
	PurposeLastCheck
)

// UpdatePluginsKey is the host-wide update state entry.
const UpdatePluginsKey = "update_plugins"

// Key derives the cache key for a plugin entry. Repository data and API call
// keys hash slug and suffix together; version and last-check keys append the
// suffix to the hashed slug. Existing installs share these keys, so the two
// shapes must not be unified.
func Key(slug string, purpose Purpose) string {
	switch purpose {
	case PurposeGitHubData:
		return md5Hex(slug + "_github_data")
	case PurposeAPICall:
		return md5Hex(slug + "_github_api_call")
	case PurposeNewVersion:
		return md5Hex(slug) + "_new_version"
	case PurposeLastCheck:
		return md5Hex(slug) + "_last_update_check"
	default:
		panic(fmt.Sprintf("cache: unknown purpose %d", purpose))
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// GetJSON loads and decodes an entry. A missing or expired entry reports false.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}
