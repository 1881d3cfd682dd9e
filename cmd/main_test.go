package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cohortkit/models"
	"cohortkit/services/storage"
	"cohortkit/tests/common"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args, resetting the persistent flags first
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg = models.Config{}
	runLocal, dryRun, wait = false, false, true
	workers = 2

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigureLogger(t *testing.T) {
	l := logrus.New()

	assert.Nil(t, configureLogger(l, "warn", "json", false))
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	assert.Nil(t, configureLogger(l, "info", "text", true))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)

	assert.NotNil(t, configureLogger(l, "loud", "text", false))
	assert.EqualError(t, configureLogger(l, "info", "xml", false), `unknown log format "xml"`)
}

func TestDefinitionEnv(t *testing.T) {
	env, err := definitionEnv([]string{"HOME=/root", "BROKEN", "WHO=env"}, []string{"WHO=flag", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"HOME": "/root", "WHO": "flag", "EMPTY": ""}, env)

	_, err = definitionEnv(nil, []string{"nope"})
	assert.EqualError(t, err, `--env "nope" is not NAME=value`)
}

func TestExamplesListing(t *testing.T) {
	out, err := execute(t, "examples")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "What example do you want to run?\n"))
	assert.Contains(t, out, "  1) hello_world\n")
	assert.Contains(t, out, " 12) checkpoints\n")
	assert.Contains(t, out, "Provide a number [1-12] as an argument to run\n")
}

func TestExamplesRunLocally(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "examples", "9", "--local", "--work-dir", dir)
	require.NoError(t, err)

	// input_file seeds hello.txt and cats it back
	assert.FileExists(t, filepath.Join(dir, "hello.txt"))
	assert.Contains(t, out, "hello world")
}

func TestExamplesRejectsUnknownNumber(t *testing.T) {
	_, err := execute(t, "examples", "42")
	assert.EqualError(t, err, "no example 42, choose between 1 and 12")

	_, err = execute(t, "examples", "one")
	assert.EqualError(t, err, `"one" is not a number`)
}

func TestBatchRunDefinition(t *testing.T) {
	definition := common.WriteFile(t, t.TempDir(), "greet.yaml", `
name: greet
jobs:
  - name: greet
    commands:
      - "echo hello ${env.WHO}"
`)

	out, err := execute(t, "batch", "run", definition, "--env", "WHO=cohort", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "hello cohort")

	out, err = execute(t, "batch", "run", definition, "--env", "WHO=plan", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, `Batch "greet": 1 jobs`)
	assert.Contains(t, out, "$ echo hello plan")
}

func TestRunBatchReportsFailures(t *testing.T) {
	definition := common.WriteFile(t, t.TempDir(), "broken.yaml", `
name: broken
jobs:
  - name: fail
    commands:
      - "exit 3"
`)

	_, err := execute(t, "batch", "run", definition, "--local")
	assert.ErrorContains(t, err, "execution failed for fail")
}

func TestTransferIsDryRunByDefault(t *testing.T) {
	t.Setenv("CPG_DATASET", "agha")
	t.Setenv("CPG_DRIVER_IMAGE", "driver:latest")
	urls := common.WriteFile(t, t.TempDir(), "urls.txt", "https://host/a.cram?sig=1\n\nhttps://host/b.cram?sig=2\n")

	out, err := execute(t, "transfer", "--presigned-url-file-path", urls, "--batch-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `Batch "transfer agha": 2 jobs`)
	assert.Contains(t, out, `$ curl -L https://host/a.cram\?sig=1 | gsutil cp - gs://cpg-agha-main-upload/a.cram`)
}

func TestTransferNeedsDataset(t *testing.T) {
	t.Setenv("CPG_DATASET", "")
	t.Setenv("CPG_DRIVER_IMAGE", "")
	_, err := execute(t, "transfer", "--presigned-url-file-path", "urls.txt")
	assert.EqualError(t, err, "CPG_DATASET and CPG_DRIVER_IMAGE must be set")
}

func TestTransferObjects(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	common.WriteFile(t, src, "a.txt", "a")
	common.WriteFile(t, src, "b.txt", "b")
	common.WriteFile(t, src, "c.log", "c")
	store := storage.NewLocalStore()
	ctx := context.Background()

	err := transferObjects(ctx, store, filepath.Join(src, "*.txt"), dst, false, []string{"gs://cpg-fewgenomes-test/"})
	assert.ErrorContains(t, err, "must start with one of")

	require.NoError(t, transferObjects(ctx, store, filepath.Join(src, "*.txt"), dst, true, nil))
	assert.FileExists(t, filepath.Join(dst, "a.txt"))
	assert.FileExists(t, filepath.Join(dst, "b.txt"))
	assert.NoFileExists(t, filepath.Join(src, "a.txt"))
	assert.FileExists(t, filepath.Join(src, "c.log"))

	require.NoError(t, transferObjects(ctx, store, filepath.Join(src, "c.log"), filepath.Join(dst, "c.log"), false, []string{dst}))
	assert.FileExists(t, filepath.Join(src, "c.log"))

	var listing bytes.Buffer
	require.NoError(t, listObjects(ctx, store, &listing, filepath.Join(dst, "*")))
	assert.Equal(t, strings.Join([]string{
		filepath.Join(dst, "a.txt"), filepath.Join(dst, "b.txt"), filepath.Join(dst, "c.log"),
	}, "\n")+"\n", listing.String())

	assert.ErrorIs(t, transferObjects(ctx, store, filepath.Join(src, "*.bam"), dst, false, nil), storage.ErrNotFound)
}

func TestSubmissionBatches(t *testing.T) {
	tabix := tabixBatch("gs://bucket/family.vcf.gz").Spec()
	require.Len(t, tabix.Jobs, 1)
	assert.Equal(t, "run tabix", tabix.Jobs[0].Name)
	assert.Equal(t, BcftoolsImage, tabix.Jobs[0].Image)
	assert.Equal(t, []string{"tabix gs://bucket/family.vcf.gz"}, tabix.Jobs[0].Commands)

	slivar := slivarBatch("slivar_wrapper.py", "gs://bucket/in.vcf.gz", "acute-care").Spec()
	require.Len(t, slivar.Jobs, 1)
	job := slivar.Jobs[0]
	assert.Equal(t, CpgPipesImage, job.Image)
	assert.Equal(t, 1.0, job.Cpu)
	assert.Equal(t, "standard", job.Memory)
	assert.Equal(t, "20G", job.Storage)
	assert.Equal(t, []string{"python3 slivar_wrapper.py --vcf gs://bucket/in.vcf.gz --project acute-care"}, job.Commands)

	script := scriptBatch("extract", "driver:1", []string{"python3", "extract.py", "--title", "hello world"}).Spec()
	assert.Equal(t, "driver:1", script.DefaultImage)
	assert.Equal(t, []string{"python3 extract.py --title 'hello world'"}, script.Jobs[0].Commands)

	reduce := driverBatch("reduce", "driver:1", "reduce", "--matrix-in", "gs://a/in.mt", "--matrix-out", "gs://a/out.mt").Spec()
	assert.Equal(t, []string{"cohortkit reduce --matrix-in gs://a/in.mt --matrix-out gs://a/out.mt"}, reduce.Jobs[0].Commands)
}

func TestVepBatchStagesFiles(t *testing.T) {
	spec := vepBatch("gs://bucket/in.vcf.bgz", "gs://bucket/out.vcf", "GRCh38").Spec()
	require.Len(t, spec.Jobs, 1)
	require.Len(t, spec.Inputs, 1)
	require.Len(t, spec.Outputs, 1)
	assert.Equal(t, "gs://bucket/in.vcf.bgz", spec.Inputs[0].Path)
	assert.Equal(t, "gs://bucket/out.vcf", spec.Outputs[0].Dest)
	assert.Contains(t, spec.Jobs[0].Commands[0], "--assembly GRCh38")
}

func TestEnsureHelloFileKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	common.WriteFile(t, dir, "hello.txt", "mine\n")
	require.NoError(t, ensureHelloFile(dir))

	content, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "mine\n", string(content))
}
