package memory

import (
	"cohortkit/models/constants"
	"regexp"
	"strings"
)

const (
	LowMem   constants.MemoryTier = "lowmem"
	Standard constants.MemoryTier = "standard"
	HighMem  constants.MemoryTier = "highmem"
)

var explicitSize = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(Ki|Mi|Gi|Ti|K|M|G|T)?$`)

// IsValid accepts the named tiers and explicit sizes such as "4G" or "512Mi"
func IsValid(text string) bool {
	switch constants.MemoryTier(strings.ToLower(text)) {
	case LowMem, Standard, HighMem:
		return true
	}
	return explicitSize.MatchString(text)
}
