package versions

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// IsNewerVersion reports whether newVersion is strictly greater than
// oldVersion. Both must be valid semantic versions; development builds and
// other free-form strings never compare as newer.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)
	if errNew != nil || errOld != nil {
		return false
	}
	return newSemver.GreaterThan(oldSemver)
}

// IsRelease reports whether version is a semantic version without a
// prerelease suffix
func IsRelease(version string) bool {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	return err == nil && v.Prerelease() == ""
}
