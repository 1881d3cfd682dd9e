package common

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"cohortkit/models"

	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"
)

// the samples of the minimised 1kg cohort
var CohortSamples = []string{"HG00607", "HG00619", "HG00623", "HG00657"}

var cohortHeader = []string{
	"##fileformat=VCFv4.2",
	`##FILTER=<ID=PASS,Description="All filters passed">`,
	`##INFO=<ID=AC,Number=A,Type=Integer,Description="Allele count">`,
	`##INFO=<ID=AN,Number=1,Type=Integer,Description="Allele number">`,
	`##INFO=<ID=geneIds,Number=.,Type=String,Description="Overlapping gene ids">`,
	`##INFO=<ID=gnomad_genomes_AF,Number=A,Type=Float,Description="gnomAD genomes allele frequency">`,
	`##INFO=<ID=exac_AF,Number=A,Type=Float,Description="ExAC allele frequency">`,
	`##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">`,
	`##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Read depth">`,
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tHG00607\tHG00619\tHG00623\tHG00657",
}

/*
	CohortRows are the fixture's data lines:
	1. rare, PASS, in ENSG01
	2. LowQual
	3. common within the cohort (AC > 0.1 AN)
	4. common in the population databases
	5. multi-allelic with a star allele, exac frequency missing
	6. intergenic, phased call on chrX
*/
var CohortRows = []string{
	"chr1\t100\trs1\tA\tG\t50\tPASS\tAC=1;AN=20;geneIds=ENSG01;gnomad_genomes_AF=0.01;exac_AF=0.02\tGT:DP\t0/1:10\t0/0:12\t0/0:9\t0/0:11",
	"chr1\t200\trs2\tC\tT\t40\tLowQual\tAC=1;AN=20;geneIds=ENSG01\tGT:DP\t0/0:8\t0/1:7\t0/0:9\t0/0:10",
	"chr1\t300\t.\tG\tA\t60\tPASS\tAC=10;AN=20;geneIds=ENSG02;gnomad_genomes_AF=0.3;exac_AF=0.4\tGT:DP\t1/1:20\t1/1:18\t0/1:15\t0/1:14",
	"chr2\t400\trs4\tT\tC\t70\tPASS\tAC=2;AN=20;geneIds=ENSG02|ENSG03;gnomad_genomes_AF=0.5;exac_AF=0.5\tGT:DP\t0/1:11\t0/0:13\t0/1:12\t./.:0",
	"chr2\t500\t.\tA\tT,*\t30\tPASS\tAC=1,1;AN=20;geneIds=ENSG03;gnomad_genomes_AF=0.5\tGT:DP\t0/1:9\t0/2:8\t0/0:10\t0/0:12",
	"chrX\t600\trs6\tG\tC\t80\tPASS\tAC=1;AN=20\tGT:DP\t0/0:10\t0/0:10\t0/0:10\t0|1:10",
}

func CohortVcf() string {
	return strings.Join(append(append([]string(nil), cohortHeader...), CohortRows...), "\n") + "\n"
}

// WriteCohortVcf writes the fixture as a plain VCF under dir
func WriteCohortVcf(t *testing.T, dir string, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(CohortVcf()), 0o644))
	return p
}

// WriteFile writes content to dir/name, creating parents
func WriteFile(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func InitConfig() *models.Config {
	var cfg models.Config

	// get this file's path
	_, filename, _, _ := runtime.Caller(0)
	folderpath := path.Dir(filename)

	// retrieve common's test.config
	f, err := os.Open(fmt.Sprintf("%s/test.config.yml", folderpath))
	if err != nil {
		processError(err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(&cfg)
	if err != nil {
		processError(err)
	}

	if cfg.Debug {
		http.DefaultTransport.(*http.Transport).TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &cfg
}

func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}
