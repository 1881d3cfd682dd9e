package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	assemblyId "cohortkit/models/constants/assembly-id"
	esRepo "cohortkit/repositories/elasticsearch"
	"cohortkit/services"
	"cohortkit/services/combiner"
	"cohortkit/services/panelapp"
	"cohortkit/services/storage"
	variantsService "cohortkit/services/variants"
	"cohortkit/services/vep"
	"cohortkit/utils"

	"github.com/Jeffail/gabs"
	"github.com/spf13/cobra"
)

const DefaultGnomadSource = "gs://gcp-public-data--gnomad/release/3.1/mt/genomes/gnomad.genomes.v3.1.hgdp_1kg_subset_dense.mt"

// reduce thresholds
const (
	maxAlleleFrequencyRatio = 0.1
	maxPopulationAF         = 0.06
	maxJointAlleleCount     = 20
)

var MatrixIn string
var MatrixOut string
var MatrixReference string
var MatrixPanel int
var MatrixGeneKey string
var MatrixConf string

var GnomadSource string

var IndexDataset string
var IndexAssembly string
var IndexFilterOutReferences bool
var IndexDeleteExisting bool

func init() {
	rootCmd.AddCommand(reduceCmd)
	rootCmd.AddCommand(analyseCmd)
	rootCmd.AddCommand(vepFilterCmd)
	rootCmd.AddCommand(subsetGnomadCmd)
	rootCmd.AddCommand(indexVariantsCmd)

	reduceCmd.Flags().StringVar(&MatrixIn, "matrix-in", "", "Matrix to reduce")
	reduceCmd.Flags().StringVar(&MatrixOut, "matrix-out", "", "Matrix to write (.mt, overwritten)")
	reduceCmd.Flags().StringVar(&MatrixReference, "ref", "GRCh38", "Reference genome used for the PanelApp gene ids")
	reduceCmd.Flags().IntVar(&MatrixPanel, "panel", panelapp.DefaultPanel, "PanelApp panel whose green genes are kept")
	reduceCmd.Flags().StringVar(&MatrixGeneKey, "gene-key", variantsService.DefaultGeneInfoKey, "INFO key holding the gene ids")
	reduceCmd.MarkFlagRequired("matrix-in")
	reduceCmd.MarkFlagRequired("matrix-out")

	analyseCmd.Flags().StringVar(&MatrixIn, "matrix", "", "Matrix to interrogate")
	analyseCmd.Flags().StringVar(&MatrixConf, "conf", "", "JSON settings: {\"genes\": [...], \"geneKey\": \"...\"}")
	analyseCmd.Flags().StringVar(&MatrixReference, "ref", "GRCh38", "Reference genome of the matrix")
	analyseCmd.MarkFlagRequired("matrix")

	vepFilterCmd.Flags().StringVar(&MatrixIn, "matrix", "", "Matrix to annotate")
	vepFilterCmd.Flags().StringVar(&MatrixOut, "output", "", "Annotated output (.mt, .vcf or .vcf.bgz)")
	vepFilterCmd.Flags().StringVar(&MatrixReference, "ref", "GRCh38", "Reference genome handed to VEP")
	vepFilterCmd.MarkFlagRequired("matrix")
	vepFilterCmd.MarkFlagRequired("output")

	subsetGnomadCmd.Flags().StringVar(&GnomadSource, "source", DefaultGnomadSource, "gnomAD matrix to subset")

	indexVariantsCmd.Flags().StringVar(&MatrixIn, "matrix", "", "Matrix to index")
	indexVariantsCmd.Flags().StringVar(&IndexDataset, "dataset", "", "Dataset the documents belong to (defaults to CPG_DATASET)")
	indexVariantsCmd.Flags().StringVar(&IndexAssembly, "assembly", "GRCh38", "Assembly id recorded on the documents")
	indexVariantsCmd.Flags().BoolVar(&IndexFilterOutReferences, "filter-out-references", false, "Skip homozygous reference calls")
	indexVariantsCmd.Flags().BoolVar(&IndexDeleteExisting, "delete-existing", false, "Delete the dataset's documents before indexing")
	indexVariantsCmd.MarkFlagRequired("matrix")
}

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Coarse-filter a matrix to rare PASS variants in PanelApp green genes",
	Long: `Coarse-filter a matrix to rare PASS variants in PanelApp green genes

Filters, in order: PASS only, variant QC, AC <= 0.1 * AN, a gene id in
the green genes of the panel, gnomAD genomes / ExAC AF <= 0.06 (missing
values kept).
`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		genes, err := panelapp.NewClient(&cfg, log).GetPanelGreen(ctx, MatrixReference, MatrixPanel)
		if err != nil {
			return err
		}
		green := panelapp.UniqueGenes(genes)
		log.Infof("%d green genes in panel %d", len(green), MatrixPanel)

		return reduceMatrix(ctx, newStore(), MatrixIn, MatrixOut, MatrixGeneKey, green)
	},
}

func reduceMatrix(ctx context.Context, store storage.Store, input string, output string, geneKey string, green []string) error {
	m, err := variantsService.ReadMatrix(ctx, store, input)
	if err != nil {
		return err
	}
	before, err := m.CountRows(ctx)
	if err != nil {
		return err
	}
	log.Infof("# variants before filters: %d", before)

	reduced := m.
		FilterRows(variantsService.PassOnly()).
		VariantQC(false).
		FilterRows(
			variantsService.MaxAlleleFrequencyRatio(maxAlleleFrequencyRatio),
			variantsService.InGenes(geneKey, green),
			variantsService.PopulationAFAtMost(variantsService.DefaultPopulationAFKeys, maxPopulationAF),
		)

	if err := reduced.WriteMatrix(ctx, store, output, true); err != nil {
		return err
	}
	after, err := reduced.CountRows(ctx)
	if err != nil {
		return err
	}
	log.Infof("# variants after filters: %d, written to %s", after, output)
	return nil
}

type analysisConf struct {
	Genes   []string
	GeneKey string
}

func readAnalysisConf(ctx context.Context, store storage.Store, p string) (*analysisConf, error) {
	conf := &analysisConf{GeneKey: variantsService.DefaultGeneInfoKey}
	if p == "" {
		return conf, nil
	}

	r, err := store.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	if key, ok := parsed.Path("geneKey").Data().(string); ok && key != "" {
		conf.GeneKey = key
	}
	if parsed.Exists("genes") {
		children, err := parsed.Path("genes").Children()
		if err != nil {
			return nil, fmt.Errorf("%s: genes must be a list", p)
		}
		for _, child := range children {
			if gene, ok := child.Data().(string); ok {
				conf.Genes = append(conf.Genes, gene)
			}
		}
	}
	return conf, nil
}

var analyseCmd = &cobra.Command{
	Use:   "analyse",
	Short: "Report how many variants fall in genes and describe the matrix",

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store := newStore()
		log.Infof("config path: %s", MatrixConf)
		conf, err := readAnalysisConf(ctx, store, MatrixConf)
		if err != nil {
			return err
		}
		return analyseMatrix(ctx, store, cmd.OutOrStdout(), MatrixIn, conf)
	},
}

func analyseMatrix(ctx context.Context, store storage.Store, out io.Writer, input string, conf *analysisConf) error {
	m, err := variantsService.ReadMatrix(ctx, store, input)
	if err != nil {
		return err
	}

	before, err := m.CountRows(ctx)
	if err != nil {
		return err
	}
	log.Infof("number of variants prior to filtering: %d", before)

	genic := variantsService.AnyGene(conf.GeneKey)
	if len(conf.Genes) > 0 {
		genic = variantsService.InGenes(conf.GeneKey, conf.Genes)
	}
	after, err := m.FilterRows(genic).CountRows(ctx)
	if err != nil {
		return err
	}
	log.Infof("number of variants after filtering: %d", after)

	description, err := m.Describe(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, description.String())
	return nil
}

var vepFilterCmd = &cobra.Command{
	Use:   "vep-filter",
	Short: "Hard-filter a matrix to biallelic PASS sites and annotate it with VEP",

	RunE: func(cmd *cobra.Command, args []string) error {
		return vepFilter(cmd.Context(), newStore(), MatrixIn, MatrixOut, vep.Options{Assembly: assemblyId.CastToAssemblyId(MatrixReference)})
	},
}

func vepFilter(ctx context.Context, store storage.Store, input string, output string, opts vep.Options) error {
	m, err := variantsService.ReadMatrix(ctx, store, input)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "cohortkit-vep-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	filtered := m.FilterRows(
		variantsService.MaxAlleleCount(maxJointAlleleCount),
		variantsService.PassOnly(),
		variantsService.Biallelic(),
		variantsService.NoStarAllele(),
	)
	opts.Input = filepath.Join(tmp, "filtered.vcf.bgz")
	opts.Output = filepath.Join(tmp, "annotated.vcf")
	if err := filtered.ExportVcf(ctx, storage.NewLocalStore(), opts.Input); err != nil {
		return err
	}
	if err := vep.RunLocal(ctx, opts, log); err != nil {
		return err
	}

	if strings.HasSuffix(strings.TrimSuffix(output, "/"), ".mt") {
		annotated, err := variantsService.ReadMatrix(ctx, store, opts.Output)
		if err != nil {
			return err
		}
		return annotated.WriteMatrix(ctx, store, output, false)
	}
	return store.Copy(ctx, opts.Output, output)
}

var subsetGnomadCmd = &cobra.Command{
	Use:   "subset-gnomad <ped>",
	Short: "Subset the gnomAD HGDP/1KG matrix to the samples of a ped file",
	Long: `Subset the gnomAD HGDP/1KG matrix to the samples of a ped file

The samples are the Individual.ID column of the tab separated ped file.
INFO fields are dropped and the result is written to gnomad.subset.mt
next to the ped file.
`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := subsetGnomad(cmd.Context(), newStore(), GnomadSource, args[0])
		return err
	},
}

func subsetGnomad(ctx context.Context, store storage.Store, source string, ped string) (string, error) {
	samples, err := combiner.ReadPed(ped)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, s.Id)
	}

	m, err := variantsService.ReadMatrix(ctx, store, source)
	if err != nil {
		return "", err
	}
	dst := storage.JoinPath(filepath.Dir(ped), "gnomad.subset.mt")
	if err := m.SubsetSamples(ids).DropFields(nil).WriteMatrix(ctx, store, dst, true); err != nil {
		return "", err
	}
	log.Infof("subset %d samples of %s into %s", len(ids), source, dst)
	return dst, nil
}

var indexVariantsCmd = &cobra.Command{
	Use:   "index-variants",
	Short: "Bulk-index the sample calls of a matrix into Elasticsearch",

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dataset := IndexDataset
		if dataset == "" {
			dataset = cfg.Dataset.Name
		}
		if dataset == "" {
			return fmt.Errorf("--dataset or CPG_DATASET is required")
		}
		if !assemblyId.IsKnownAssemblyId(IndexAssembly) {
			return fmt.Errorf("unknown assembly %q", IndexAssembly)
		}

		es, err := utils.CreateEsConnection(cfg.Elasticsearch.Url, cfg.Elasticsearch.Username, cfg.Elasticsearch.Password, log)
		if err != nil {
			return err
		}

		if IndexDeleteExisting {
			deleted, err := esRepo.DeleteVariantsByDataset(ctx, es, dataset)
			if err != nil {
				return err
			}
			log.Infof("deleted %d documents of %s", deleted, dataset)
		} else if latest, err := esRepo.GetMostRecentVariantTimestamp(ctx, es, dataset); err == nil && !latest.IsZero() {
			log.Warnf("%s was last indexed at %s; documents are added, not replaced", dataset, latest.Format(time.RFC3339))
		}

		m, err := variantsService.ReadMatrix(ctx, newStore(), MatrixIn)
		if err != nil {
			return err
		}
		stats, err := services.NewIndexingService(es, log).IndexMatrix(ctx, m, services.IndexOptions{
			Dataset:             dataset,
			AssemblyId:          assemblyId.CastToAssemblyId(IndexAssembly),
			FilterOutReferences: IndexFilterOutReferences,
		})
		if err != nil {
			return err
		}
		log.Info(stats.String())

		count, err := esRepo.CountVariantsByDataset(ctx, es, dataset)
		if err != nil {
			return err
		}
		log.Infof("%s now holds %d documents", dataset, count)
		return nil
	},
}
