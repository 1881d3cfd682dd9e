package chromosome

import (
	"fmt"
	"strconv"
	"strings"
)

func ValidListOfHumanChromosomes() []string {
	var humChroms []string
	for i := 1; i < 23; i++ {
		humChroms = append(humChroms, fmt.Sprint(i))
	}
	humChroms = append(humChroms, "X")
	humChroms = append(humChroms, "Y")
	humChroms = append(humChroms, "M")
	return humChroms
}

// Normalize strips a leading "chr" and maps "MT" to "M"
func Normalize(text string) string {
	trimmed := text
	if len(trimmed) > 3 && strings.EqualFold(trimmed[:3], "chr") {
		trimmed = trimmed[3:]
	}
	if strings.EqualFold(trimmed, "mt") {
		return "M"
	}
	return strings.ToUpper(trimmed)
}

func IsValidHumanChromosome(text string) bool {
	normalized := Normalize(text)

	// Check if number can be represented as an int as is non-zero
	chromNumber, err := strconv.Atoi(normalized)
	if err == nil {
		// It can..
		// Check if it in range 1-22
		return chromNumber > 0 && chromNumber < 23
	}

	// No it can't..
	// Check if it is an X, Y or M
	switch normalized {
	case "X", "Y", "M":
		return true
	}

	return false
}
