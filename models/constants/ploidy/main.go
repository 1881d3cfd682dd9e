package ploidy

import (
	"cohortkit/models/constants"
)

const (
	Unknown constants.Ploidy = iota

	Haploid
	Diploid
)

func IsKnown(value int) bool {
	return value > int(Unknown) && value <= int(Diploid)
}

// FromAlleleCount maps the number of alleles in a call to a ploidy;
// polyploid calls are reported as diploid
func FromAlleleCount(n int) constants.Ploidy {
	switch {
	case n <= 0:
		return Unknown
	case n == 1:
		return Haploid
	default:
		return Diploid
	}
}
