package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"cohortkit/models/constants"
	"cohortkit/models/constants/chromosome"
	p "cohortkit/models/constants/ploidy"
	z "cohortkit/models/constants/zygosity"
	"cohortkit/models/indexes"
	esRepo "cohortkit/repositories/elasticsearch"
	variantsService "cohortkit/services/variants"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esutil"
	"github.com/sirupsen/logrus"
)

type (
	IndexingService struct {
		ElasticsearchClient *elasticsearch.Client
		NumWorkers          int
		FlushBytes          int
		Log                 logrus.FieldLogger
	}

	IndexOptions struct {
		Dataset             string
		Source              string
		AssemblyId          constants.AssemblyId
		FilterOutReferences bool
	}

	IndexStats struct {
		Rows              uint64
		Indexed           uint64
		Failed            uint64
		SkippedReferences uint64
		SkippedContigs    uint64
	}
)

func NewIndexingService(es *elasticsearch.Client, log logrus.FieldLogger) *IndexingService {
	return &IndexingService{
		ElasticsearchClient: es,
		NumWorkers:          4,
		Log:                 log,
	}
}

/*
	BuildDocuments turns one matrix row into a document per sample call.
	Rows on contigs outside the human chromosomes yield nothing; hom-ref
	calls are dropped when opts.FilterOutReferences is set and counted in
	the returned skip count
*/
func BuildDocuments(rec *variantsService.Record, samples []string, opts IndexOptions, created time.Time) ([]indexes.Variant, int) {
	if !chromosome.IsValidHumanChromosome(rec.Chrom) {
		return nil, 0
	}

	base := indexes.Variant{
		Chrom:       chromosome.Normalize(rec.Chrom),
		Pos:         rec.Pos,
		Id:          rec.Id,
		Ref:         []string{rec.Ref},
		Alt:         append([]string{}, rec.Alt...),
		Format:      append([]string{}, rec.Format...),
		Qual:        -1,
		Filter:      rec.Filter,
		Source:      opts.Source,
		Dataset:     opts.Dataset,
		AssemblyId:  string(opts.AssemblyId),
		CreatedTime: created,
	}
	// check for "empty" IDs (i.e, those with a period) and tokenize with "none"
	if base.Id == "." {
		base.Id = "none"
	}
	if qual, err := strconv.ParseFloat(rec.Qual, 64); err == nil {
		base.Qual = qual
	}
	for _, f := range rec.Info {
		base.Info = append(base.Info, indexes.Info{Id: f.Key, Value: f.Value})
	}

	var docs []indexes.Variant
	skipped := 0
	for i, sampleId := range samples {
		if i >= len(rec.Calls) {
			break
		}
		gt := variantsService.ParseGenotype(rec.CallField(i, "GT"))
		if opts.FilterOutReferences && gt.IsHomRef() {
			skipped++
			continue
		}

		doc := base
		doc.Sample = indexes.Sample{
			Id: sampleId,
			Variation: indexes.Variation{
				Genotype: indexes.Genotype{
					Phased:   gt.Phased,
					Ploidy:   p.FromAlleleCount(len(gt.Alleles)),
					Zygosity: z.FromAlleles(gt.Alleles),
				},
				Alleles: allelePair(rec, gt),
			},
		}
		docs = append(docs, doc)
	}
	return docs, skipped
}

// allelePair resolves the first two allele indexes of a call:
//
//	      0       1, 2, 3, ...
//	...  REF      ALT        ...
//	...  G        CT,CTT,CTTT
func allelePair(rec *variantsService.Record, gt variantsService.Genotype) indexes.AllelePair {
	resolve := func(allele int) string {
		switch {
		case allele < 0:
			return "."
		case allele == 0:
			return rec.Ref
		case allele <= len(rec.Alt):
			return rec.Alt[allele-1]
		default:
			return "."
		}
	}

	var pair indexes.AllelePair
	if len(gt.Alleles) > 0 {
		pair.Left = resolve(gt.Alleles[0])
	}
	if len(gt.Alleles) > 1 {
		pair.Right = resolve(gt.Alleles[1])
	}
	return pair
}

// IndexMatrix bulk-indexes every sample call of m into variants-<chrom>
func (s *IndexingService) IndexMatrix(ctx context.Context, m *variantsService.Matrix, opts IndexOptions) (*IndexStats, error) {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Source == "" {
		opts.Source = m.Path
	}

	stats := &IndexStats{}
	ensured := map[string]bool{}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     s.ElasticsearchClient,
		NumWorkers: s.NumWorkers,
		FlushBytes: s.FlushBytes,
		OnError: func(ctx context.Context, err error) {
			log.Errorf("bulk indexer: %s", err)
		},
	})
	if err != nil {
		return nil, err
	}

	created := time.Now().UTC()
	samples := m.Samples()
	scanErr := m.ForEach(ctx, func(rec *variantsService.Record) error {
		atomic.AddUint64(&stats.Rows, 1)
		if !chromosome.IsValidHumanChromosome(rec.Chrom) {
			atomic.AddUint64(&stats.SkippedContigs, 1)
			return nil
		}

		docs, skipped := BuildDocuments(rec, samples, opts, created)
		atomic.AddUint64(&stats.SkippedReferences, uint64(skipped))
		if len(docs) == 0 {
			return nil
		}

		index := esRepo.VariantsIndex(docs[0].Chrom)
		if !ensured[index] {
			if err := esRepo.EnsureVariantsIndex(ctx, s.ElasticsearchClient, index); err != nil {
				return err
			}
			ensured[index] = true
		}

		for _, doc := range docs {
			// Prepare the data payload: encode variant to JSON
			variantData, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("cannot encode variant %s:%d: %w", doc.Chrom, doc.Pos, err)
			}

			err = bi.Add(ctx, esutil.BulkIndexerItem{
				Action: "index",
				Index:  index,
				Body:   bytes.NewReader(variantData),

				OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
					atomic.AddUint64(&stats.Indexed, 1)
				},
				OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
					atomic.AddUint64(&stats.Failed, 1)
					if err != nil {
						log.Errorf("indexing failed: %s", err)
					} else {
						log.Errorf("indexing failed: %s: %s", res.Error.Type, res.Error.Reason)
					}
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if closeErr := bi.Close(context.Background()); closeErr != nil && scanErr == nil {
		scanErr = closeErr
	}
	if scanErr != nil {
		return stats, scanErr
	}

	log.Infof("indexed %d documents from %d rows (%d failed, %d hom-ref calls skipped, %d rows on other contigs)",
		stats.Indexed, stats.Rows, stats.Failed, stats.SkippedReferences, stats.SkippedContigs)
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d of %d documents failed to index", stats.Failed, stats.Failed+stats.Indexed)
	}
	return stats, nil
}

func (s IndexStats) String() string {
	return strings.Join([]string{
		fmt.Sprintf("rows: %d", s.Rows),
		fmt.Sprintf("indexed: %d", s.Indexed),
		fmt.Sprintf("failed: %d", s.Failed),
		fmt.Sprintf("skipped hom-ref calls: %d", s.SkippedReferences),
		fmt.Sprintf("skipped rows: %d", s.SkippedContigs),
	}, ", ")
}
