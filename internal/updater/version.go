package updater

import (
	"strconv"
	"strings"
	"time"
)

// candidateLayout is the fixed-width suffix appended to the installed version.
const candidateLayout = "20060102.150405"

// FormatVersion appends the push timestamp to the installed version, e.g.
// "2.4.4" pushed at 2025-01-24T23:25:28Z becomes "2.4.4.20250124.232528".
func FormatVersion(installed string, pushedAt time.Time) string {
	return installed + "." + pushedAt.UTC().Format(candidateLayout)
}

// CompareVersions compares dotted version strings segment by segment as
// integers. Missing segments count as zero. It returns -1, 0 or 1.
func CompareVersions(v1, v2 string) int {
	parts1 := strings.Split(strings.TrimPrefix(v1, "v"), ".")
	parts2 := strings.Split(strings.TrimPrefix(v2, "v"), ".")

	maxLen := len(parts1)
	if len(parts2) > maxLen {
		maxLen = len(parts2)
	}

	for i := 0; i < maxLen; i++ {
		var n1, n2 int64
		if i < len(parts1) {
			n1 = segmentValue(parts1[i])
		}
		if i < len(parts2) {
			n2 = segmentValue(parts2[i])
		}

		if n1 > n2 {
			return 1
		}
		if n1 < n2 {
			return -1
		}
	}
	return 0
}

// segmentValue reads the leading digits of a segment, so "4-beta" is 4.
func segmentValue(s string) int64 {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.ParseInt(s[:end], 10, 64)
	return n
}

// IsUpdateAvailable reports whether candidate is strictly newer than installed.
func IsUpdateAvailable(installed, candidate string) bool {
	if candidate == "" {
		return false
	}
	return CompareVersions(candidate, installed) > 0
}
