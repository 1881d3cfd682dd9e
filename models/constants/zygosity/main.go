package zygosity

import (
	"cohortkit/models/constants"
)

const (
	Unknown constants.Zygosity = iota
	// Diploid or higher
	Heterozygous
	HomozygousReference
	HomozygousAlternate

	// Haploid (deliberately below diploid for sequential id'ing purposes)
	Reference
	Alternate
)

func IsKnown(value int) bool {
	return value > int(Unknown) && value <= int(Alternate)
}

func ZygosityToString(zyg constants.Zygosity) string {
	switch zyg {
	// Haploid
	case Reference:
		return "REFERENCE"
	case Alternate:
		return "ALTERNATE"

	// Diploid or higher
	case Heterozygous:
		return "HETEROZYGOUS"
	case HomozygousReference:
		return "HOMOZYGOUS_REFERENCE"
	case HomozygousAlternate:
		return "HOMOZYGOUS_ALTERNATE"
	default:
		return "UNKNOWN"
	}
}

// FromAlleles derives the zygosity of a call from its allele
// indexes, where -1 marks a missing allele ('.')
func FromAlleles(alleles []int) constants.Zygosity {
	for _, a := range alleles {
		if a < 0 {
			return Unknown
		}
	}

	switch len(alleles) {
	case 0:
		return Unknown
	case 1:
		if alleles[0] == 0 {
			return Reference
		}
		return Alternate
	}

	allRef, allSame := true, true
	for _, a := range alleles {
		if a != 0 {
			allRef = false
		}
		if a != alleles[0] {
			allSame = false
		}
	}

	switch {
	case allRef:
		return HomozygousReference
	case allSame:
		return HomozygousAlternate
	default:
		return Heterozygous
	}
}
