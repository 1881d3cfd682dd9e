package variantsService

import (
	"strings"

	"cohortkit/models/constants/chromosome"
)

// Predicate decides whether a record is kept; records whose
// deciding field is missing are dropped unless stated otherwise
type Predicate func(*Record) bool

// INFO key holding the gene ids a variant falls in
const DefaultGeneInfoKey = "geneIds"

// population frequency keys checked by the rare-variant filter
var DefaultPopulationAFKeys = []string{"gnomad_genomes_AF", "exac_AF"}

// PassOnly keeps records whose FILTER is PASS
func PassOnly() Predicate {
	return func(r *Record) bool {
		return r.Filter == "PASS"
	}
}

// maxAlleleCount is the largest per-allele AC value of a record
func maxAlleleCount(r *Record) (float64, bool) {
	counts, ok := r.InfoFloats("AC")
	if !ok {
		return 0, false
	}
	highest := counts[0]
	for _, c := range counts[1:] {
		if c > highest {
			highest = c
		}
	}
	return highest, true
}

// MaxAlleleFrequencyRatio keeps records with AC <= ratio * AN
func MaxAlleleFrequencyRatio(ratio float64) Predicate {
	return func(r *Record) bool {
		ac, ok := maxAlleleCount(r)
		if !ok {
			return false
		}
		an, ok := r.InfoFloats("AN")
		if !ok {
			return false
		}
		return ac <= ratio*an[0]
	}
}

// MaxAlleleCount keeps records with AC <= n
func MaxAlleleCount(n float64) Predicate {
	return func(r *Record) bool {
		ac, ok := maxAlleleCount(r)
		return ok && ac <= n
	}
}

// GeneIds splits the gene annotation of a record; VEP-style
// lists may use commas, pipes or ampersands
func GeneIds(r *Record, key string) []string {
	raw, ok := r.GetInfo(key)
	if !ok || raw == "" || raw == "." {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(c rune) bool {
		return c == ',' || c == '|' || c == '&'
	})
	ids := fields[:0]
	for _, f := range fields {
		if f != "" && f != "." {
			ids = append(ids, f)
		}
	}
	return ids
}

// InGenes keeps records annotated with at least one of the genes
func InGenes(key string, genes []string) Predicate {
	set := make(map[string]struct{}, len(genes))
	for _, g := range genes {
		set[g] = struct{}{}
	}
	return func(r *Record) bool {
		for _, id := range GeneIds(r, key) {
			if _, ok := set[id]; ok {
				return true
			}
		}
		return false
	}
}

// AnyGene keeps records annotated with any gene at all
func AnyGene(key string) Predicate {
	return func(r *Record) bool {
		return len(GeneIds(r, key)) > 0
	}
}

// PopulationAFAtMost keeps rare variants: a record passes when any
// of the keys is missing or at most threshold
func PopulationAFAtMost(keys []string, threshold float64) Predicate {
	return func(r *Record) bool {
		for _, k := range keys {
			values, ok := r.InfoFloats(k)
			if !ok {
				return true
			}
			if values[0] <= threshold {
				return true
			}
		}
		return false
	}
}

func Biallelic() Predicate {
	return func(r *Record) bool {
		return len(r.Alt) == 1
	}
}

// NoStarAllele drops records carrying the spanning-deletion allele
func NoStarAllele() Predicate {
	return func(r *Record) bool {
		for _, a := range r.Alt {
			if a == "*" {
				return false
			}
		}
		return true
	}
}

// Chromosomes keeps records on the listed contigs ("chr" prefix optional);
// an empty list keeps the standard human chromosomes
func Chromosomes(contigs ...string) Predicate {
	if len(contigs) == 0 {
		return func(r *Record) bool {
			return chromosome.IsValidHumanChromosome(r.Chrom)
		}
	}
	set := make(map[string]struct{}, len(contigs))
	for _, c := range contigs {
		set[chromosome.Normalize(c)] = struct{}{}
	}
	return func(r *Record) bool {
		_, ok := set[chromosome.Normalize(r.Chrom)]
		return ok
	}
}
