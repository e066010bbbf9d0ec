package tracefs

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseOfflineCPUs parses the contents of /sys/devices/system/cpu/offline,
// a comma-separated list of "N" or "N-M" ranges, per spec.md §4.1
// (get_offline_cpus) and §8 ("Offline CPUs ... are parsed from both 'N' and
// 'N-M' ranges").
//
// Grounded on traceparser/path.go's regexp-matched-filename idiom, adapted
// here to a range-list grammar instead of a directory walk.
func ParseOfflineCPUs(content string) ([]int, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(content, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			startStr, endStr := part[:dash], part[dash+1:]
			start, err := strconv.Atoi(startStr)
			if err != nil {
				return nil, fmt.Errorf("malformed range string. Ranges must be of the form int-int, or just an int. Got: %s", part)
			}
			end, err := strconv.Atoi(endStr)
			if err != nil {
				return nil, fmt.Errorf("malformed range string. Ranges must be of the form int-int, or just an int. Got: %s", part)
			}
			if end < start {
				return nil, fmt.Errorf("malformed range string. End of range must be after start. Got %s", part)
			}
			for c := start; c <= end; c++ {
				cpus = append(cpus, c)
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("malformed range string. Ranges must be of the form int-int, or just an int. Got: %s", part)
			}
			cpus = append(cpus, n)
		}
	}
	return cpus, nil
}
