package plugins

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions compares two version strings semantically.
// Returns:
// - -1 if v1 < v2
// - 0 if v1 == v2
// - 1 if v1 > v2
// - error if either version string is invalid
func CompareVersions(v1, v2 string) (int, error) {
	v1 = strings.TrimPrefix(v1, "v")
	v2 = strings.TrimPrefix(v2, "v")

	version1, err := semver.NewVersion(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v1, err)
	}

	version2, err := semver.NewVersion(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v2, err)
	}

	return version1.Compare(version2), nil
}

// IsValidVersion checks if a version string is valid semantic version.
func IsValidVersion(version string) bool {
	version = strings.TrimPrefix(version, "v")
	_, err := semver.NewVersion(version)
	return err == nil
}

// Compatibility describes how a plugin's declared host range relates to the
// running host version.
type Compatibility struct {
	HostVersion string `json:"host_version"`
	Requires    string `json:"requires"`
	Tested      string `json:"tested"`
	// Supported is false when the host is older than Requires.
	Supported bool `json:"supported"`
	// Untested is true when the host is newer than Tested.
	Untested bool `json:"untested"`
}

// CheckCompatibility evaluates requires/tested against the host version.
// Empty bounds are treated as unconstrained.
func CheckCompatibility(requires, tested, hostVersion string) (*Compatibility, error) {
	c := &Compatibility{HostVersion: hostVersion, Requires: requires, Tested: tested, Supported: true}

	host, err := semver.NewVersion(strings.TrimPrefix(hostVersion, "v"))
	if err != nil {
		return nil, fmt.Errorf("invalid host version %s: %w", hostVersion, err)
	}

	if requires != "" {
		constraint, err := semver.NewConstraint(">= " + requires)
		if err != nil {
			return nil, fmt.Errorf("invalid requires %s: %w", requires, err)
		}
		c.Supported = constraint.Check(host)
	}

	if tested != "" {
		// Patch releases of the tested line count as tested.
		constraint, err := semver.NewConstraint("<= " + tested + ".x")
		if strings.Count(tested, ".") >= 2 {
			constraint, err = semver.NewConstraint("<= " + tested)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid tested %s: %w", tested, err)
		}
		c.Untested = !constraint.Check(host)
	}

	return c, nil
}
