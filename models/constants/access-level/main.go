package accessLevel

import (
	"cohortkit/models/constants"
)

const (
	Test     constants.AccessLevel = "test"
	Standard constants.AccessLevel = "standard"
	Main     constants.AccessLevel = "main"
	Full     constants.AccessLevel = "full"
)

func IsKnown(text string) bool {
	switch constants.AccessLevel(text) {
	case Test, Standard, Main, Full:
		return true
	}
	return false
}

// Namespace is the bucket suffix datasets use at the given level
func Namespace(level constants.AccessLevel) string {
	if level == Test {
		return "test"
	}
	return "main"
}
