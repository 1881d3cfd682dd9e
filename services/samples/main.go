package samplesService

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// NotAllSamplesPresent is returned when requested samples are
// missing from a cohort; the details are logged, not carried
type NotAllSamplesPresent struct{}

func (e *NotAllSamplesPresent) Error() string {
	return "please check logging messages for details"
}

// ParseFamilies decodes a {"family": ["sample", ...]} lookup
func ParseFamilies(jsonStr string) (map[string][]string, error) {
	families := map[string][]string{}
	if err := json.Unmarshal([]byte(jsonStr), &families); err != nil {
		return nil, fmt.Errorf("invalid family lookup: %w", err)
	}
	return families, nil
}

// AllUniqueMembers pulls every individual out of the family lookup
func AllUniqueMembers(families map[string][]string) map[string]struct{} {
	members := map[string]struct{}{}
	for _, samples := range families {
		for _, s := range samples {
			members[s] = struct{}{}
		}
	}
	return members
}

// SortedMembers is AllUniqueMembers as a sorted slice
func SortedMembers(families map[string][]string) []string {
	members := AllUniqueMembers(families)
	sorted := make([]string, 0, len(members))
	for s := range members {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)
	return sorted
}

/*
	CheckSamplesInCohort checks every requested sample is present in the cohort:
	- all present: logs a summary and returns nil
	- some present: logs the missing members of each incomplete family
	- none present: logs a hint with one of the sample ids the cohort does hold
	Both failure cases return a *NotAllSamplesPresent
*/
func CheckSamplesInCohort(log logrus.FieldLogger, requested map[string]struct{}, families map[string][]string, present []string) error {
	inCohort := make(map[string]struct{}, len(present))
	for _, s := range present {
		inCohort[s] = struct{}{}
	}

	missing := 0
	overlap := 0
	for s := range requested {
		if _, ok := inCohort[s]; ok {
			overlap++
		} else {
			missing++
		}
	}

	if missing == 0 {
		log.Infof("All %d samples represented across %d families", len(requested), len(families))
		return nil
	}

	// partially good? some requested samples are present, but not all
	if overlap > 0 {
		familyNames := make([]string, 0, len(families))
		for family := range families {
			familyNames = append(familyNames, family)
		}
		sort.Strings(familyNames)

		for _, family := range familyNames {
			var familyMissing []string
			seen := map[string]struct{}{}
			for _, s := range families[family] {
				if _, ok := inCohort[s]; ok {
					continue
				}
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				familyMissing = append(familyMissing, s)
			}
			if len(familyMissing) > 0 {
				sort.Strings(familyMissing)
				log.Infof("Family %s is not fully represented in the data.  Samples missing: %v", family, familyMissing)
			}
		}
	} else {
		log.Errorf("No requested samples were present in the MT, please check format matches '%s'", formatHint(present))
	}

	return &NotAllSamplesPresent{}
}

// formatHint picks a stable example id from the cohort
func formatHint(present []string) string {
	hint := ""
	for i, s := range present {
		if i == 0 || s < hint {
			hint = s
		}
	}
	return hint
}
