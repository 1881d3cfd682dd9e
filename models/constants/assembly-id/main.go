package assemblyId

import (
	"cohortkit/models/constants"
	"strings"
)

const (
	Unknown constants.AssemblyId = "Unknown"

	GRCh38 constants.AssemblyId = "GRCh38"
	GRCh37 constants.AssemblyId = "GRCh37"
	NCBI36 constants.AssemblyId = "NCBI36"
	Other  constants.AssemblyId = "Other"
)

func CastToAssemblyId(text string) constants.AssemblyId {
	switch strings.ToLower(text) {
	case "grch38", "hg38":
		return GRCh38
	case "grch37", "hg19":
		return GRCh37
	case "ncbi36", "hg18":
		return NCBI36
	case "other":
		return Other
	default:
		return Unknown
	}
}

func IsKnownAssemblyId(text string) bool {
	// attempt to cast to assemblyId and
	// return if unknown assemblyId
	return CastToAssemblyId(text) != Unknown
}

// VepAssembly is the value handed to VEP's --assembly flag
func VepAssembly(assembly constants.AssemblyId) string {
	switch assembly {
	case GRCh37:
		return "GRCh37"
	default:
		return "GRCh38"
	}
}
