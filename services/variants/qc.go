package variantsService

import (
	"strconv"
	"strings"
)

var qcMeta = []string{
	`##INFO=<ID=AC,Number=A,Type=Integer,Description="Allele count in genotypes, for each ALT allele">`,
	`##INFO=<ID=AN,Number=1,Type=Integer,Description="Total number of alleles in called genotypes">`,
	`##INFO=<ID=AF,Number=A,Type=Float,Description="Allele frequency, for each ALT allele">`,
}

// AlleleCounts tallies per-ALT allele counts and the number of
// called alleles over the genotypes of a record
func AlleleCounts(r *Record) ([]int, int) {
	counts := make([]int, len(r.Alt))
	an := 0
	gtIdx := r.FormatIndex("GT")
	if gtIdx < 0 {
		return counts, an
	}
	for _, call := range r.Calls {
		parts := strings.Split(call, ":")
		if gtIdx >= len(parts) {
			continue
		}
		for _, a := range ParseGenotype(parts[gtIdx]).Alleles {
			if a < 0 {
				continue
			}
			an++
			if a > 0 && a <= len(counts) {
				counts[a-1]++
			}
		}
	}
	return counts, an
}

// VariantQC fills AC, AN and AF from the genotypes. Existing
// values are kept unless overwrite is set, which is what a
// cohort subset needs to get counts for its own samples
func (m *Matrix) VariantQC(overwrite bool) *Matrix {
	return m.Annotate(qcMeta, func(r *Record) {
		_, hasAC := r.GetInfo("AC")
		_, hasAN := r.GetInfo("AN")
		_, hasAF := r.GetInfo("AF")
		if !overwrite && hasAC && hasAN && hasAF {
			return
		}

		counts, an := AlleleCounts(r)
		acValues := make([]string, len(counts))
		afValues := make([]string, len(counts))
		for i, c := range counts {
			acValues[i] = strconv.Itoa(c)
			if an > 0 {
				afValues[i] = strconv.FormatFloat(float64(c)/float64(an), 'g', 6, 64)
			} else {
				afValues[i] = "."
			}
		}
		if len(counts) == 0 {
			acValues, afValues = []string{"."}, []string{"."}
		}

		if overwrite || !hasAC {
			r.SetInfo("AC", strings.Join(acValues, ","))
		}
		if overwrite || !hasAN {
			r.SetInfo("AN", strconv.Itoa(an))
		}
		if overwrite || !hasAF {
			r.SetInfo("AF", strings.Join(afValues, ","))
		}
	})
}
