package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"cohortkit/services/combiner"
	"cohortkit/services/storage"

	"github.com/spf13/cobra"
)

var CombinerDataset string
var CombinerPed string
var CombinerExecutionsBucket string
var CombinerDatasetsDir string
var CombinerWorkDir string
var CombinerSplitRounds bool
var CombinerMaskPopulations bool
var CombinerMoveLocally bool

func init() {
	rootCmd.AddCommand(prepCombinerCmd)

	prepCombinerCmd.Flags().StringVar(&CombinerDataset, "dataset", "", "Dataset name, e.g. 50genomes")
	prepCombinerCmd.Flags().StringVar(&CombinerPed, "ped", "", "Ped file with the input samples (default <datasets-dir>/<dataset>/samples.ped)")
	prepCombinerCmd.Flags().StringVar(&CombinerExecutionsBucket, "warp-executions-bucket", combiner.DefaultExecutionsBucket, "Bucket with the WARP workflow outputs")
	prepCombinerCmd.Flags().StringVar(&CombinerDatasetsDir, "datasets-dir", "datasets", "Output folder")
	prepCombinerCmd.Flags().StringVar(&CombinerWorkDir, "work-dir", "", "Directory caching the bucket listings (default work/<dataset>/prep_inputs_for_combiner)")
	prepCombinerCmd.Flags().BoolVar(&CombinerSplitRounds, "split-rounds", false, "Also write the samples in two rounds")
	prepCombinerCmd.Flags().BoolVar(&CombinerMaskPopulations, "randomise-pop-labels", false, "Drop the population label of a third of each population")
	prepCombinerCmd.Flags().BoolVar(&CombinerMoveLocally, "move-locally", false, "Copy GVCFs and picard files to "+combiner.UploadBucket)
	prepCombinerCmd.MarkFlagRequired("dataset")
	prepCombinerCmd.Flags().SortFlags = false
}

var prepCombinerCmd = &cobra.Command{
	Use:   "prep-combiner",
	Short: "Write the GVCF combiner sample maps of a dataset",
	Long: `Write the GVCF combiner sample maps of a dataset

Rows are sample,population,gvcf followed by the picard QC files, and are
written to <datasets-dir>/<dataset>/sample-maps/<dataset>-all.csv.
`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ped := CombinerPed
		if ped == "" {
			ped = filepath.Join(CombinerDatasetsDir, CombinerDataset, "samples.ped")
		}
		workDir := CombinerWorkDir
		if workDir == "" {
			workDir = filepath.Join("work", CombinerDataset, "prep_inputs_for_combiner")
		}

		written, err := prepCombiner(cmd.Context(), newStore(), ped, CombinerExecutionsBucket, workDir,
			filepath.Join(CombinerDatasetsDir, CombinerDataset, "sample-maps", CombinerDataset))
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func prepCombiner(ctx context.Context, store storage.Store, ped string, bucket string, workDir string, prefix string) ([]string, error) {
	samples, err := combiner.ReadPed(ped)
	if err != nil {
		return nil, err
	}

	var labelled map[string]struct{}
	if CombinerMaskPopulations {
		labelled = combiner.LabelledSamples(samples)
	}

	gvcfs, err := combiner.FindFiles(ctx, store, bucket, workDir, combiner.GvcfSuffix, "gvcfs")
	if err != nil {
		return nil, err
	}
	picard := map[string]map[string]string{}
	for _, p := range combiner.PicardFiles {
		if picard[p.Key], err = combiner.FindFiles(ctx, store, bucket, workDir, p.Suffix, p.Key); err != nil {
			return nil, err
		}
	}

	rows := combiner.Collect(log, samples, gvcfs, picard, labelled, bucket)
	if CombinerMoveLocally {
		if rows, err = combiner.MoveLocally(ctx, store, combiner.UploadBucket, rows); err != nil {
			return nil, err
		}
	}
	return combiner.WriteSampleMaps(prefix, rows, CombinerSplitRounds)
}
