package transfer

import (
	"context"
	"encoding/csv"
	"fmt"
	"path"

	"cohortkit/services/batch"
	"cohortkit/services/storage"

	"github.com/kballard/go-shellquote"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ManifestRow is one file of a copy manifest
type ManifestRow struct {
	SampleName string `mapstructure:"sample_name"`
	FileType   string `mapstructure:"ftype"`
	FileName   string `mapstructure:"fname"`
}

// ReadManifest reads a CSV with sample_name, ftype and fname columns
func ReadManifest(ctx context.Context, store storage.Store, p string) ([]ManifestRow, error) {
	r, err := store.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	lines, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", p, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", p)
	}

	header := lines[0]
	rows := make([]ManifestRow, 0, len(lines)-1)
	for n, line := range lines[1:] {
		record := map[string]interface{}{}
		for i, key := range header {
			if i < len(line) {
				record[key] = line[i]
			}
		}
		var row ManifestRow
		if err := mapstructure.Decode(record, &row); err != nil {
			return nil, err
		}
		if row.FileName == "" {
			return nil, fmt.Errorf("manifest %s line %d: missing fname", p, n+2)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// BuildCopyBatch adds one gsutil copy job per manifest row
func BuildCopyBatch(rows []ManifestRow, output string, image string) *batch.Batch {
	b := batch.New("copy-files", batch.WithDefaultImage(image))
	for _, row := range rows {
		b.NewJob(fmt.Sprintf("copy-%s-%s", row.SampleName, row.FileType)).
			Command("gcloud -q auth activate-service-account --key-file=/gsa-key/key.json").
			Command(fmt.Sprintf("gsutil cp %s %s", shellquote.Join(row.FileName), shellquote.Join(output)))
	}
	return b
}

// CopyDirect copies the manifest files into output from this process,
// at most concurrency at a time
func CopyDirect(ctx context.Context, store storage.Store, rows []ManifestRow, output string, concurrency int, log logrus.FieldLogger) error {
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			dst := storage.JoinPath(output, path.Base(row.FileName))
			if err := store.Copy(gctx, row.FileName, dst); err != nil {
				return fmt.Errorf("copying %s for %s: %w", row.FileName, row.SampleName, err)
			}
			log.Infof("copied %s %s to %s", row.SampleName, row.FileType, dst)
			return nil
		})
	}
	return g.Wait()
}
