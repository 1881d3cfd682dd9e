package cmd

import (
	"context"
	"fmt"
	"sort"

	"cohortkit/models/constants"
	accessLevel "cohortkit/models/constants/access-level"
	"cohortkit/services/metadata"
	samplesService "cohortkit/services/samples"
	"cohortkit/services/storage"
	variantsService "cohortkit/services/variants"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var FamiliesJson string
var FamiliesDataset string
var FamiliesReference string
var FamiliesInput string
var FamiliesOutput string
var FamiliesMulti bool
var FamiliesSkipMt bool
var FamiliesSkipVcf bool
var FamiliesConcurrency int

var LookupProject string
var LookupFamilies string
var LookupExternal bool

func init() {
	rootCmd.AddCommand(extractFamiliesCmd)
	rootCmd.AddCommand(familiesToSamplesCmd)

	extractFamiliesCmd.Flags().StringVar(&FamiliesJson, "json-str", "", `Family lookup, e.g. {"fam1":["s1","s2"]}`)
	extractFamiliesCmd.Flags().StringVar(&FamiliesDataset, "dataset", "", "Dataset name, used for the bucket names (defaults to CPG_DATASET)")
	extractFamiliesCmd.Flags().StringVar(&FamiliesReference, "ref", "GRCh38", "Reference genome of the matrix")
	extractFamiliesCmd.Flags().StringVar(&FamiliesInput, "input", "", "Cohort matrix (default gs://cpg-<dataset>-main/mt/<dataset>.mt)")
	extractFamiliesCmd.Flags().StringVar(&FamiliesOutput, "output", "", "Output location (default gs://cpg-<dataset>-test)")
	extractFamiliesCmd.Flags().BoolVar(&FamiliesMulti, "multi-fam", false, "Also write every requested family into multiple_families.mt")
	extractFamiliesCmd.Flags().BoolVar(&FamiliesSkipMt, "skip-mt", false, "Skip writing the per-family matrices")
	extractFamiliesCmd.Flags().BoolVar(&FamiliesSkipVcf, "skip-vcf", false, "Skip writing the per-family VCFs")
	extractFamiliesCmd.Flags().IntVar(&FamiliesConcurrency, "concurrency", 4, "Families written at the same time")
	extractFamiliesCmd.Flags().SortFlags = false

	familiesToSamplesCmd.Flags().StringVar(&LookupProject, "project", "", "Sample metadata project")
	familiesToSamplesCmd.Flags().StringVar(&LookupFamilies, "families", "", "Comma separated family ids")
	familiesToSamplesCmd.Flags().BoolVar(&LookupExternal, "external", false, "Report external sample ids instead of internal ones")
	familiesToSamplesCmd.MarkFlagRequired("project")
	familiesToSamplesCmd.MarkFlagRequired("families")
}

var extractFamiliesCmd = &cobra.Command{
	Use:   "extract-families",
	Short: "Write a matrix and a VCF per family out of a cohort matrix",
	Long: `Write a matrix and a VCF per family out of a cohort matrix

Example usage:

	cohortkit extract-families --dataset acute-care --json-str '{"FAM1":["CPG1","CPG2"]}'

Every requested sample must be present in the cohort; the command fails
and logs what is missing otherwise.
`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if FamiliesJson == "" {
			return fmt.Errorf("--json-str is required")
		}
		families, err := samplesService.ParseFamilies(FamiliesJson)
		if err != nil {
			return err
		}

		dataset := FamiliesDataset
		if dataset == "" {
			dataset = cfg.Dataset.Name
		}
		input, output := FamiliesInput, FamiliesOutput
		if input == "" || output == "" {
			if dataset == "" {
				return fmt.Errorf("--dataset or CPG_DATASET is required without both --input and --output")
			}
		}
		if input == "" {
			input = fmt.Sprintf("gs://cpg-%s-main/mt/%s.mt", dataset, dataset)
		}
		if output == "" {
			output = fmt.Sprintf("gs://cpg-%s-%s", dataset, accessLevel.Namespace(constants.AccessLevel(cfg.Dataset.AccessLevel)))
		}

		log.Infof("reading %s (%s)", input, FamiliesReference)
		return extractFamilies(cmd.Context(), newStore(), input, output, families, FamiliesMulti, FamiliesSkipMt, FamiliesSkipVcf, FamiliesConcurrency)
	},
}

func extractFamilies(ctx context.Context, store storage.Store, input string, output string, families map[string][]string, multi bool, skipMt bool, skipVcf bool, concurrency int) error {
	m, err := variantsService.ReadMatrix(ctx, store, input)
	if err != nil {
		return err
	}

	all := samplesService.SortedMembers(families)
	if multi {
		dst := storage.JoinPath(output, "multiple_families.mt")
		if err := m.SubsetSamples(all).WriteMatrix(ctx, store, dst, true); err != nil {
			return err
		}
		log.Infof("wrote %s", dst)
	}

	if err := samplesService.CheckSamplesInCohort(log, samplesService.AllUniqueMembers(families), families, m.Samples()); err != nil {
		return err
	}

	names := make([]string, 0, len(families))
	for family := range families {
		names = append(names, family)
	}
	sort.Strings(names)

	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, family := range names {
		family := family
		g.Go(func() error {
			subset := m.SubsetSamples(families[family])
			if !skipMt {
				dst := storage.JoinPath(output, family+".mt")
				if err := subset.WriteMatrix(gctx, store, dst, false); err != nil {
					return fmt.Errorf("family %s: %w", family, err)
				}
				log.WithField("family", family).Infof("wrote %s", dst)
			}
			if !skipVcf {
				dst := storage.JoinPath(output, family+".vcf.bgz")
				if err := subset.ExportVcf(gctx, store, dst); err != nil {
					return fmt.Errorf("family %s: %w", family, err)
				}
				log.WithField("family", family).Infof("wrote %s", dst)
			}
			return nil
		})
	}
	return g.Wait()
}

var familiesToSamplesCmd = &cobra.Command{
	Use:   "families-to-samples",
	Short: "Print the sample ids of each family as compact JSON",
	Long: `Print the sample ids of each family as compact JSON

Example usage:

	cohortkit families-to-samples --project acute-care --families FAM1,FAM2 --external

The output feeds extract-families --json-str.
`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := metadata.NewClient(&cfg, log)

		rows, err := client.GetPedigree(ctx, LookupProject)
		if err != nil {
			return err
		}
		pidToSid, err := client.GetParticipantToSample(ctx, LookupProject)
		if err != nil {
			return err
		}
		var intToExt map[string]string
		if LookupExternal {
			if intToExt, err = client.GetInternalToExternal(ctx, LookupProject); err != nil {
				return err
			}
		}

		lookup := metadata.FamilyToSampleMap(log, rows, LookupFamilies, LookupExternal, pidToSid, intToExt)
		out, err := metadata.CompactJson(lookup)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}
