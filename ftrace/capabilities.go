package ftrace

import (
	"regexp"
	"strconv"
)

// knownGKIBufferPercentReleases lists specific Android GKI kernel release
// strings known to have the buffer_percent watermark feature backported,
// per spec.md §9's Open Question on detection and SPEC_FULL §13.
var knownGKIBufferPercentReleases = map[string]bool{
	"5.10.198-gki":  true,
	"5.15.136-gki":  true,
	"6.1.75-gki":    true,
}

var releaseVersionRe = regexp.MustCompile(`^(\d+)\.(\d+)`)

// SupportsBufferPercent reports whether kernelRelease (as returned by
// uname -r) is known to support reliable buffer_percent watermark polling:
// mainline Linux >= 6.9, or one of the specific patched Android GKI
// releases. Callers must treat a false/unknown result as "fall back to
// periodic-tick-only polling", never as an error, per spec.md §9.
func SupportsBufferPercent(kernelRelease string) bool {
	if knownGKIBufferPercentReleases[kernelRelease] {
		return true
	}
	m := releaseVersionRe.FindStringSubmatch(kernelRelease)
	if m == nil {
		return false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return false
	}
	return major > 6 || (major == 6 && minor >= 9)
}
