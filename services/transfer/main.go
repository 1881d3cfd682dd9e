package transfer

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"strings"

	"cohortkit/services/batch"
	"cohortkit/services/storage"

	"github.com/kballard/go-shellquote"
)

const DefaultBatchSize = 5

// ReadUrls reads one presigned URL per line, ignoring blank lines
func ReadUrls(ctx context.Context, store storage.Store, p string) ([]string, error) {
	r, err := store.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

func ValidateUrls(urls []string) error {
	var incorrect []string
	for _, u := range urls {
		if !strings.HasPrefix(u, "https://") {
			incorrect = append(incorrect, u)
		}
	}
	if len(incorrect) > 0 {
		return fmt.Errorf("incorrect URLs: %v", incorrect)
	}
	return nil
}

// OutputPath is the dataset's main-upload bucket, optionally a subfolder of it
func OutputPath(dataset, subfolder string) string {
	out := fmt.Sprintf("gs://cpg-%s-main-upload", dataset)
	if subfolder != "" {
		out = storage.JoinPath(out, subfolder)
	}
	return out
}

// FileName is the URL's base name without its query string
func FileName(u string) string {
	return path.Base(strings.SplitN(u, "?", 2)[0])
}

// BuildBatch groups urls into jobs of at most batchSize downloads each,
// streaming every file into the upload bucket
func BuildBatch(dataset, image string, urls []string, batchSize int, subfolder string) (*batch.Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if err := ValidateUrls(urls); err != nil {
		return nil, err
	}

	b := batch.New(fmt.Sprintf("transfer %s", dataset), batch.WithDefaultImage(image))
	output := OutputPath(dataset, subfolder)

	for idx, start := 0, 0; start < len(urls); idx, start = idx+1, start+batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}
		batched := urls[start:end]

		j := b.NewJob(fmt.Sprintf("batch %d (size=%d)", idx, len(batched)))
		for _, u := range batched {
			dest := storage.JoinPath(output, FileName(u))
			j.Command(fmt.Sprintf("curl -L %s | gsutil cp - %s", shellquote.Join(u), shellquote.Join(dest)))
		}
	}
	return b, nil
}
