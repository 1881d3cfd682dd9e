package transfer

import (
	"context"
	"testing"

	"cohortkit/services/storage"
	"cohortkit/tests/common"

	"github.com/stretchr/testify/assert"
)

func urls(n int) []string {
	var out []string
	for i := 0; i < n; i++ {
		out = append(out, "https://example.org/data/file"+string(rune('a'+i))+".cram?X-Amz-Signature=abc&X-Amz-Date=1")
	}
	return out
}

func TestReadUrls(t *testing.T) {
	p := common.WriteFile(t, t.TempDir(), "urls.txt", "https://a.org/x.cram?sig=1\n\n  https://a.org/y.cram  \n")
	got, err := ReadUrls(context.Background(), storage.NewLocalStore(), p)
	assert.Nil(t, err)
	assert.Equal(t, []string{"https://a.org/x.cram?sig=1", "https://a.org/y.cram"}, got)
}

func TestValidateUrls(t *testing.T) {
	assert.Nil(t, ValidateUrls(urls(3)))

	err := ValidateUrls([]string{"https://ok.org/a", "http://insecure.org/b", "ftp://c"})
	assert.NotNil(t, err)
	assert.Equal(t, "incorrect URLs: [http://insecure.org/b ftp://c]", err.Error())
}

func TestFileNameAndOutput(t *testing.T) {
	assert.Equal(t, "filea.cram", FileName(urls(1)[0]))
	assert.Equal(t, "gs://cpg-agha-main-upload", OutputPath("agha", ""))
	assert.Equal(t, "gs://cpg-agha-main-upload/2022-01", OutputPath("agha", "2022-01"))
}

func TestBuildBatchKeepsRemainder(t *testing.T) {
	b, err := BuildBatch("agha", "driver:latest", urls(7), 3, "")
	assert.Nil(t, err)

	spec := b.Spec()
	assert.Equal(t, "transfer agha", spec.Name)
	assert.Equal(t, "driver:latest", spec.DefaultImage)
	assert.Len(t, spec.Jobs, 3)
	assert.Equal(t, "batch 0 (size=3)", spec.Jobs[0].Name)
	assert.Equal(t, "batch 2 (size=1)", spec.Jobs[2].Name)
	assert.Len(t, spec.Jobs[2].Commands, 1)

	assert.Equal(t,
		`curl -L https://example.org/data/filea.cram\?X-Amz-Signature=abc\&X-Amz-Date=1 | gsutil cp - gs://cpg-agha-main-upload/filea.cram`,
		spec.Jobs[0].Commands[0])
}

func TestBuildBatchRejects(t *testing.T) {
	_, err := BuildBatch("agha", "img", urls(2), 0, "")
	assert.NotNil(t, err)

	_, err = BuildBatch("agha", "img", []string{"http://nope"}, 5, "")
	assert.NotNil(t, err)
}
