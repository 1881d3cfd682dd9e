package variantsService

import (
	"fmt"
	"strconv"
	"strings"
)

// VCF fixed columns, in file order
var VcfHeaders = []string{"chrom", "pos", "id", "ref", "alt", "qual", "filter", "info", "format"}

type InfoField struct {
	Key   string
	Value string
	Flag  bool
}

// Record is one VCF data line. Per-sample calls are kept as raw
// strings and only decoded by the operations that need them
type Record struct {
	Chrom  string
	Pos    int
	Id     string
	Ref    string
	Alt    []string
	Qual   string
	Filter string
	Info   []InfoField
	Format []string
	Calls  []string
}

func ParseRecord(line string) (*Record, error) {
	rowComponents := strings.Split(line, "\t")
	if len(rowComponents) < 8 {
		return nil, fmt.Errorf("expected at least 8 columns, found %d", len(rowComponents))
	}

	pos, err := strconv.Atoi(rowComponents[1])
	if err != nil {
		return nil, fmt.Errorf("invalid position %q: %w", rowComponents[1], err)
	}

	r := &Record{
		Chrom:  rowComponents[0],
		Pos:    pos,
		Id:     rowComponents[2],
		Ref:    rowComponents[3],
		Qual:   rowComponents[5],
		Filter: rowComponents[6],
		Info:   parseInfo(rowComponents[7]),
	}
	if rowComponents[4] != "." {
		r.Alt = strings.Split(rowComponents[4], ",")
	}
	if len(rowComponents) > 8 {
		r.Format = strings.Split(rowComponents[8], ":")
		r.Calls = rowComponents[9:]
	}
	return r, nil
}

func parseInfo(value string) []InfoField {
	if value == "." || value == "" {
		return nil
	}

	// Split all entries by semi-colon
	semiColonSeparations := strings.Split(value, ";")
	infos := make([]InfoField, 0, len(semiColonSeparations))
	for _, scSep := range semiColonSeparations {
		if scSep == "" {
			continue
		}
		key, val, hasValue := strings.Cut(scSep, "=")
		infos = append(infos, InfoField{Key: key, Value: val, Flag: !hasValue})
	}
	return infos
}

// GetInfo returns the raw INFO value for key
func (r *Record) GetInfo(key string) (string, bool) {
	for _, f := range r.Info {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (r *Record) SetInfo(key, value string) {
	for i, f := range r.Info {
		if f.Key == key {
			r.Info[i] = InfoField{Key: key, Value: value}
			return
		}
	}
	r.Info = append(r.Info, InfoField{Key: key, Value: value})
}

// InfoFloats parses a numeric, possibly per-allele, INFO value;
// missing entries ('.') are skipped
func (r *Record) InfoFloats(key string) ([]float64, bool) {
	raw, ok := r.GetInfo(key)
	if !ok || raw == "" || raw == "." {
		return nil, false
	}
	var values []float64
	for _, part := range strings.Split(raw, ",") {
		if part == "." {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, len(values) > 0
}

func (r *Record) FormatIndex(key string) int {
	for i, f := range r.Format {
		if f == key {
			return i
		}
	}
	return -1
}

// CallField returns the FORMAT value key of the given call
func (r *Record) CallField(call int, key string) string {
	idx := r.FormatIndex(key)
	if idx < 0 || call >= len(r.Calls) {
		return ""
	}
	parts := strings.Split(r.Calls[call], ":")
	if idx >= len(parts) {
		return ""
	}
	return parts[idx]
}

func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString(r.Chrom)
	sb.WriteByte('\t')
	sb.WriteString(strconv.Itoa(r.Pos))
	sb.WriteByte('\t')
	sb.WriteString(r.Id)
	sb.WriteByte('\t')
	sb.WriteString(r.Ref)
	sb.WriteByte('\t')
	if len(r.Alt) == 0 {
		sb.WriteByte('.')
	} else {
		sb.WriteString(strings.Join(r.Alt, ","))
	}
	sb.WriteByte('\t')
	sb.WriteString(r.Qual)
	sb.WriteByte('\t')
	sb.WriteString(r.Filter)
	sb.WriteByte('\t')
	if len(r.Info) == 0 {
		sb.WriteByte('.')
	} else {
		for i, f := range r.Info {
			if i > 0 {
				sb.WriteByte(';')
			}
			sb.WriteString(f.Key)
			if !f.Flag {
				sb.WriteByte('=')
				sb.WriteString(f.Value)
			}
		}
	}
	if len(r.Format) > 0 {
		sb.WriteByte('\t')
		sb.WriteString(strings.Join(r.Format, ":"))
		for _, c := range r.Calls {
			sb.WriteByte('\t')
			sb.WriteString(c)
		}
	}
	return sb.String()
}

func (r *Record) clone() *Record {
	c := *r
	c.Alt = append([]string(nil), r.Alt...)
	c.Info = append([]InfoField(nil), r.Info...)
	c.Format = append([]string(nil), r.Format...)
	c.Calls = append([]string(nil), r.Calls...)
	return &c
}

// Genotype is a decoded GT value; missing alleles ('.') are -1
type Genotype struct {
	Alleles []int
	Phased  bool
}

func ParseGenotype(gtString string) Genotype {
	gt := Genotype{}
	if gtString == "" {
		return gt
	}

	// -- phase
	gt.Phased = strings.Contains(gtString, "|")

	alleleStringSplits := strings.FieldsFunc(gtString, func(r rune) bool {
		return r == '|' || r == '/'
	})
	for _, a := range alleleStringSplits {
		// -- if error, probably an unknown character -- assign -1
		allele, err := strconv.Atoi(a)
		if err != nil {
			allele = -1
		}
		gt.Alleles = append(gt.Alleles, allele)
	}
	return gt
}

func (g Genotype) IsCalled() bool {
	if len(g.Alleles) == 0 {
		return false
	}
	for _, a := range g.Alleles {
		if a < 0 {
			return false
		}
	}
	return true
}

func (g Genotype) IsHomRef() bool {
	if !g.IsCalled() {
		return false
	}
	for _, a := range g.Alleles {
		if a != 0 {
			return false
		}
	}
	return true
}
