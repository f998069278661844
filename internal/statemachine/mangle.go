package statemachine

import (
	"fmt"
	"regexp"
	"strconv"
)

var suffixPattern = regexp.MustCompile(`-([0-9]+)$`)

const maxLabelLen = 63

// Mangle appends "-2" to a name with no "-N" suffix, or increments an
// existing "-N" suffix to "-(N+1)", per spec.md §4.3. The result is
// truncated to 63 bytes if the suffix pushed it over.
func Mangle(name string) string {
	if loc := suffixPattern.FindStringSubmatchIndex(name); loc != nil {
		n, err := strconv.Atoi(name[loc[2]:loc[3]])
		if err == nil {
			return truncateLabel(fmt.Sprintf("%s-%d", name[:loc[0]], n+1))
		}
	}
	return truncateLabel(name + "-2")
}

func truncateLabel(name string) string {
	if len(name) > maxLabelLen {
		return name[:maxLabelLen]
	}
	return name
}
