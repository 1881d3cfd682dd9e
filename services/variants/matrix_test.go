package variantsService

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cohortkit/services/storage"
	"cohortkit/tests/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T) (*Matrix, storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewLocalStore()
	vcf := common.WriteCohortVcf(t, dir, "cohort.vcf")

	m, err := ReadMatrix(context.Background(), store, vcf)
	require.NoError(t, err)
	return m, store, dir
}

func collect(t *testing.T, m *Matrix) []*Record {
	t.Helper()
	var records []*Record
	require.NoError(t, m.ForEach(context.Background(), func(r *Record) error {
		records = append(records, r)
		return nil
	}))
	return records
}

func positions(records []*Record) []int {
	var out []int
	for _, r := range records {
		out = append(out, r.Pos)
	}
	return out
}

func TestReadMatrixHeader(t *testing.T) {
	m, _, _ := readFixture(t)

	assert.Equal(t, common.CohortSamples, m.Samples())
	assert.Equal(t, []string{"AC", "AN", "geneIds", "gnomad_genomes_AF", "exac_AF"}, m.Header().InfoKeys())

	count, err := m.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(common.CohortRows), count)
}

func TestRecordRoundTripsThroughString(t *testing.T) {
	for _, row := range common.CohortRows {
		r, err := ParseRecord(row)
		require.NoError(t, err)
		assert.Equal(t, row, r.String())
	}
}

func TestParseRecordRejectsShortLines(t *testing.T) {
	_, err := ParseRecord("chr1\t100\trs1")
	assert.Error(t, err)

	_, err = ParseRecord("chr1\tabc\trs1\tA\tG\t50\tPASS\t.")
	assert.Error(t, err)
}

func TestSubsetSamplesKeepsCohortOrder(t *testing.T) {
	m, _, _ := readFixture(t)

	subset := m.SubsetSamples([]string{"HG00657", "HG00607", "not-there"})
	assert.Equal(t, []string{"HG00607", "HG00657"}, subset.Samples())

	records := collect(t, subset)
	require.Len(t, records, len(common.CohortRows))
	assert.Equal(t, []string{"0/1:10", "0/0:11"}, records[0].Calls)

	// the source matrix is untouched
	assert.Len(t, m.Samples(), 4)
	assert.Len(t, collect(t, m)[0].Calls, 4)
}

func TestSubsetToNoSamplesWritesSitesOnlyVcf(t *testing.T) {
	ctx := context.Background()
	m, store, dir := readFixture(t)

	out := filepath.Join(dir, "sites.vcf")
	require.NoError(t, m.SubsetSamples(nil).ExportVcf(ctx, store, out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	rows := 0
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.HasPrefix(line, "##") {
			continue
		}
		assert.Len(t, strings.Split(line, "\t"), 8, line)
		rows++
	}
	assert.Equal(t, len(common.CohortRows)+1, rows)

	reread, err := ReadMatrix(ctx, store, out)
	require.NoError(t, err)
	assert.Empty(t, reread.Samples())
	assert.Empty(t, collect(t, reread)[0].Format)
}

func TestFilterRows(t *testing.T) {
	m, _, _ := readFixture(t)

	testCases := []struct {
		name       string
		predicates []Predicate
		expected   []int
	}{
		{"pass only", []Predicate{PassOnly()}, []int{100, 300, 400, 500, 600}},
		{"allele frequency ratio", []Predicate{MaxAlleleFrequencyRatio(0.1)}, []int{100, 200, 400, 500, 600}},
		{"panel genes", []Predicate{InGenes(DefaultGeneInfoKey, []string{"ENSG01", "ENSG03"})}, []int{100, 200, 400, 500}},
		{"any gene", []Predicate{AnyGene(DefaultGeneInfoKey)}, []int{100, 200, 300, 400, 500}},
		{"rare in populations", []Predicate{PopulationAFAtMost(DefaultPopulationAFKeys, 0.06)}, []int{100, 200, 500, 600}},
		{"biallelic without star", []Predicate{Biallelic(), NoStarAllele()}, []int{100, 200, 300, 400, 600}},
		{"allele count", []Predicate{MaxAlleleCount(2)}, []int{100, 200, 400, 500, 600}},
		{"chromosomes", []Predicate{Chromosomes("1")}, []int{100, 200, 300}},
		{"human chromosomes", []Predicate{Chromosomes()}, []int{100, 200, 300, 400, 500, 600}},
		{
			"reduce chain",
			[]Predicate{
				PassOnly(),
				MaxAlleleFrequencyRatio(0.1),
				InGenes(DefaultGeneInfoKey, []string{"ENSG01", "ENSG03"}),
				PopulationAFAtMost(DefaultPopulationAFKeys, 0.06),
			},
			[]int{100, 500},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, positions(collect(t, m.FilterRows(tc.predicates...))))
		})
	}
}

func TestVariantQCRecomputesForSubset(t *testing.T) {
	m, _, _ := readFixture(t)

	records := collect(t, m.SubsetSamples([]string{"HG00607", "HG00657"}).VariantQC(true))

	ac, _ := records[0].GetInfo("AC")
	an, _ := records[0].GetInfo("AN")
	af, _ := records[0].GetInfo("AF")
	assert.Equal(t, "1", ac)
	assert.Equal(t, "4", an)
	assert.Equal(t, "0.25", af)

	// uncalled genotypes do not count towards AN
	an, _ = records[3].GetInfo("AN")
	assert.Equal(t, "2", an)

	// per-allele counts for the multi-allelic site
	ac, _ = records[4].GetInfo("AC")
	assert.Equal(t, "1,0", ac)
}

func TestVariantQCKeepsExistingValues(t *testing.T) {
	m, _, _ := readFixture(t)

	qc := m.VariantQC(false)
	records := collect(t, qc)
	an, _ := records[0].GetInfo("AN")
	assert.Equal(t, "20", an)
	af, ok := records[0].GetInfo("AF")
	assert.True(t, ok)
	assert.Equal(t, "0.125", af)

	// AC and AN are already declared, only AF is added to the header
	assert.Equal(t, []string{"AC", "AN", "geneIds", "gnomad_genomes_AF", "exac_AF", "AF"}, qc.Header().InfoKeys())
}

func TestDropFields(t *testing.T) {
	m, _, _ := readFixture(t)

	dropped := m.DropFields([]string{"AC", "AN"})
	assert.Equal(t, []string{"AC", "AN"}, dropped.Header().InfoKeys())

	records := collect(t, dropped)
	_, ok := records[0].GetInfo("geneIds")
	assert.False(t, ok)
	ac, ok := records[0].GetInfo("AC")
	assert.True(t, ok)
	assert.Equal(t, "1", ac)
}

func TestDescribe(t *testing.T) {
	m, _, _ := readFixture(t)

	d, err := m.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, d.Samples)
	assert.Equal(t, 6, d.Rows)
	assert.Equal(t, []string{"DP", "GT"}, d.FormatKeys)
	assert.Equal(t, map[string]int{"chr1": 3, "chr2": 2, "chrX": 1}, d.Contigs)
	assert.Contains(t, d.String(), "rows:    6")
}

func TestWriteAndReadBackMatrix(t *testing.T) {
	ctx := context.Background()
	m, store, dir := readFixture(t)

	out := filepath.Join(dir, "fam1.mt")
	subset := m.SubsetSamples([]string{"HG00607"}).FilterRows(PassOnly())
	require.NoError(t, subset.WriteMatrix(ctx, store, out, false))

	exists, err := store.Exists(ctx, out)
	require.NoError(t, err)
	assert.True(t, exists)

	// refuses to overwrite unless asked
	err = subset.WriteMatrix(ctx, store, out, false)
	assert.ErrorIs(t, err, ErrMatrixExists)
	require.NoError(t, subset.WriteMatrix(ctx, store, out, true))

	reread, err := ReadMatrix(ctx, store, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"HG00607"}, reread.Samples())
	assert.Equal(t, []int{100, 300, 400, 500, 600}, positions(collect(t, reread)))
}

func TestWriteMatrixRequiresMtSuffix(t *testing.T) {
	m, store, dir := readFixture(t)
	err := m.WriteMatrix(context.Background(), store, filepath.Join(dir, "out.vcf"), true)
	assert.Error(t, err)
}

func TestReadIncompleteMatrixFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "partial.mt"), 0o755))

	_, err := ReadMatrix(context.Background(), storage.NewLocalStore(), filepath.Join(dir, "partial.mt"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExportBgzippedVcf(t *testing.T) {
	ctx := context.Background()
	m, store, dir := readFixture(t)

	out := filepath.Join(dir, "export", "fam1.vcf.bgz")
	require.NoError(t, m.FilterRows(Chromosomes("X")).ExportVcf(ctx, store, out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2])

	reread, err := ReadMatrix(ctx, store, out)
	require.NoError(t, err)
	records := collect(t, reread)
	require.Len(t, records, 1)
	assert.Equal(t, "chrX", records[0].Chrom)
	assert.Equal(t, common.CohortSamples, reread.Samples())
}

func TestParseGenotype(t *testing.T) {
	gt := ParseGenotype("0|1")
	assert.True(t, gt.Phased)
	assert.Equal(t, []int{0, 1}, gt.Alleles)
	assert.True(t, gt.IsCalled())
	assert.False(t, gt.IsHomRef())

	gt = ParseGenotype("./.")
	assert.False(t, gt.IsCalled())
	assert.Equal(t, []int{-1, -1}, gt.Alleles)

	assert.True(t, ParseGenotype("0").IsHomRef())
}
