package combiner

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cohortkit/services/storage"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const (
	DefaultExecutionsBucket = "gs://playground-us-central1/cromwell/executions/WGSMultipleSamplesFromBam"
	UploadBucket            = "gs://cpg-fewgenomes-upload"
	GvcfSuffix              = "g.vcf.gz"
)

type PicardFile struct {
	Key    string
	Suffix string
}

// PicardFiles are the QC outputs collected next to each GVCF, in column order
var PicardFiles = []PicardFile{
	{"contamination", "selfSM"},
	{"alignment_summary_metrics", "alignment_summary_metrics"},
	{"duplicate_metrics", "duplicate_metrics"},
	{"insert_size_metrics", "insert_size_metrics"},
	{"wgs_metrics", "wgs_metrics"},
}

type Sample struct {
	Id         string `mapstructure:"Individual.ID"`
	Population string `mapstructure:"Population"`
}

// Row is one line of a combiner sample map
type Row struct {
	Sample     string
	Population string
	Gvcf       string
	Picard     map[string]string
}

func Header() []string {
	header := []string{"sample", "population", "gvcf"}
	for _, p := range PicardFiles {
		header = append(header, p.Key)
	}
	return header
}

func (r Row) record() []string {
	record := []string{r.Sample, r.Population, r.Gvcf}
	for _, p := range PicardFiles {
		record = append(record, r.Picard[p.Key])
	}
	return record
}

// ReadPed loads the Individual.ID and Population columns of a tab separated ped file
func ReadPed(p string) ([]Sample, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("could not read file %s: %w", p, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	lines, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s is empty", p)
	}

	header := lines[0]
	samples := make([]Sample, 0, len(lines)-1)
	for _, line := range lines[1:] {
		record := map[string]interface{}{}
		for i, key := range header {
			if i < len(line) {
				record[key] = line[i]
			}
		}
		var s Sample
		if err := mapstructure.Decode(record, &s); err != nil {
			return nil, err
		}
		if s.Id == "" {
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// FindFiles lists every *.<suffix> under bucket and maps sample names (the
// base name without the suffix) to paths. The listing is cached in
// <workDir>/found_<key>.txt and reused on later runs
func FindFiles(ctx context.Context, store storage.Store, bucket string, workDir string, suffix string, key string) (map[string]string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}
	cache := filepath.Join(workDir, fmt.Sprintf("found_%s.txt", key))

	var found []string
	if content, err := os.ReadFile(cache); err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(content)))
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				found = append(found, line)
			}
		}
	} else {
		found, err = store.List(ctx, storage.JoinPath(bucket, "**", "*."+suffix))
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(cache, []byte(strings.Join(found, "\n")+"\n"), 0o644); err != nil {
			return nil, err
		}
	}

	bySample := make(map[string]string, len(found))
	for _, p := range found {
		bySample[strings.TrimSuffix(path.Base(p), "."+suffix)] = p
	}
	return bySample, nil
}

// LabelledSamples keeps population labels for the first ⌊n/1.5⌋ samples of
// each population; the rest are left to ancestry inference
func LabelledSamples(samples []Sample) map[string]struct{} {
	byPopulation := map[string][]string{}
	var populations []string
	for _, s := range samples {
		if _, ok := byPopulation[s.Population]; !ok {
			populations = append(populations, s.Population)
		}
		byPopulation[s.Population] = append(byPopulation[s.Population], s.Id)
	}
	sort.Strings(populations)

	labelled := map[string]struct{}{}
	for _, pop := range populations {
		members := byPopulation[pop]
		keep := int(float64(len(members)) / 1.5)
		for _, id := range members[:keep] {
			labelled[id] = struct{}{}
		}
	}
	return labelled
}

// Collect builds the sample map rows, skipping samples without a GVCF.
// A nil labelled set keeps every population label
func Collect(log logrus.FieldLogger, samples []Sample, gvcfs map[string]string, picard map[string]map[string]string, labelled map[string]struct{}, bucket string) []Row {
	var rows []Row
	for _, s := range samples {
		gvcf, ok := gvcfs[s.Id]
		if !ok {
			log.Errorf("Could not find %s.%s in %s", s.Id, GvcfSuffix, bucket)
			continue
		}

		row := Row{Sample: s.Id, Population: s.Population, Gvcf: gvcf, Picard: map[string]string{}}
		if labelled != nil {
			if _, ok := labelled[s.Id]; !ok {
				row.Population = ""
			}
		}
		for _, p := range PicardFiles {
			if fp, ok := picard[p.Key][s.Id]; ok {
				row.Picard[p.Key] = fp
			} else {
				log.Errorf("Could not find %s.%s in %s", s.Id, p.Suffix, bucket)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// MoveLocally copies GVCFs (with their index) and QC files into the upload
// bucket, skipping objects already there, and points rows at the copies
func MoveLocally(ctx context.Context, store storage.Store, uploadBucket string, rows []Row) ([]Row, error) {
	copyOnce := func(src, dst string) error {
		exists, err := store.Exists(ctx, dst)
		if err != nil || exists {
			return err
		}
		return store.Copy(ctx, src, dst)
	}

	moved := make([]Row, 0, len(rows))
	for _, row := range rows {
		gvcf := storage.JoinPath(uploadBucket, row.Sample, "gvcf", path.Base(row.Gvcf))
		if err := copyOnce(row.Gvcf, gvcf); err != nil {
			return nil, err
		}
		if err := copyOnce(row.Gvcf+".tbi", gvcf+".tbi"); err != nil {
			return nil, err
		}

		next := Row{Sample: row.Sample, Population: row.Population, Gvcf: gvcf, Picard: map[string]string{}}
		for key, src := range row.Picard {
			dst := storage.JoinPath(uploadBucket, row.Sample, "picard_files", path.Base(src))
			if err := copyOnce(src, dst); err != nil {
				return nil, err
			}
			next.Picard[key] = dst
		}
		moved = append(moved, next)
	}
	return moved, nil
}

// WriteSampleMaps writes <prefix>-all.csv and, when split, <prefix>-round1.csv
// with the first ⌊n/1.5⌋ rows and <prefix>-round2.csv with the rest
func WriteSampleMaps(prefix string, rows []Row, split bool) ([]string, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no samples with a GVCF")
	}
	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return nil, err
	}

	written := []string{prefix + "-all.csv"}
	if err := writeCsv(written[0], rows); err != nil {
		return nil, err
	}
	if split {
		cut := int(float64(len(rows)) / 1.5)
		round1, round2 := prefix+"-round1.csv", prefix+"-round2.csv"
		if err := writeCsv(round1, rows[:cut]); err != nil {
			return nil, err
		}
		if err := writeCsv(round2, rows[cut:]); err != nil {
			return nil, err
		}
		written = append(written, round1, round2)
	}
	return written, nil
}

func writeCsv(p string, rows []Row) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header()); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row.record()); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
