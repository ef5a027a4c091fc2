package updater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatVersion(t *testing.T) {
	pushedAt, err := time.Parse(time.RFC3339, "2025-01-24T23:25:28Z")
	assert.NoError(t, err)

	v := FormatVersion("2.4.4", pushedAt)
	assert.Equal(t, "2.4.4.20250124.232528", v)
	assert.True(t, IsUpdateAvailable("2.4.4", v))

	// Non-UTC input is normalised.
	local := pushedAt.In(time.FixedZone("EST", -5*3600))
	assert.Equal(t, v, FormatVersion("2.4.4", local))
}

func TestCandidateAlwaysNewer(t *testing.T) {
	installed := []string{"0", "1.0", "2.4.4", "2.4.13", "10.0.0.1"}
	stamps := []time.Time{
		time.Unix(0, 0),
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 24, 23, 25, 28, 0, time.UTC),
		time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC),
	}
	for _, v := range installed {
		for _, ts := range stamps {
			candidate := FormatVersion(v, ts)
			assert.True(t, IsUpdateAvailable(v, candidate), "%s vs %s", v, candidate)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	testCases := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"2.4.13", "2.4.4", 1},
		{"2.4.4", "2.4.13", -1},
		{"v1.2.0", "1.2.0", 0},
		{"2.4.4.20250124.232528", "2.4.4.20250101.000000", 1},
		{"2.4.4.20250124.232528", "2.4.5", -1},
		{"1.0.4-beta", "1.0.4", 0},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, CompareVersions(tc.v1, tc.v2), "%s vs %s", tc.v1, tc.v2)
	}
}

func TestIsUpdateAvailable(t *testing.T) {
	assert.True(t, IsUpdateAvailable("1.0.0", "1.0.1"))
	assert.False(t, IsUpdateAvailable("1.0.1", "1.0.1"))
	assert.False(t, IsUpdateAvailable("1.0.1", "1.0.0"))
	assert.False(t, IsUpdateAvailable("1.0.0", ""))
}
