package cmd

import (
	"fmt"

	"cohortkit/services/transfer"

	"github.com/spf13/cobra"
)

var TransferUrlFile string
var TransferBatchSize int
var TransferSubfolder string
var TransferSubmit bool

func init() {
	rootCmd.AddCommand(transferCmd)

	transferCmd.Flags().StringVar(&TransferUrlFile, "presigned-url-file-path", "", "File with one presigned URL per line (local or gs://)")
	transferCmd.Flags().IntVar(&TransferBatchSize, "batch-size", transfer.DefaultBatchSize, "URLs downloaded per job")
	transferCmd.Flags().StringVar(&TransferSubfolder, "subfolder", "", "Folder of the main-upload bucket receiving the files")
	transferCmd.Flags().BoolVar(&TransferSubmit, "submit", false, "Submit the batch instead of printing its plan")
	transferCmd.MarkFlagRequired("presigned-url-file-path")
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Stream files behind presigned URLs into the dataset's main-upload bucket",
	Long: `Stream files behind presigned URLs into the dataset's main-upload bucket

CPG_DATASET and CPG_DRIVER_IMAGE must be set. Nothing is submitted
without --submit; the plan is printed instead.
`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Dataset.Name == "" || cfg.Dataset.DriverImage == "" {
			return fmt.Errorf("CPG_DATASET and CPG_DRIVER_IMAGE must be set")
		}

		ctx := cmd.Context()
		urls, err := transfer.ReadUrls(ctx, newStore(), TransferUrlFile)
		if err != nil {
			return err
		}
		b, err := transfer.BuildBatch(cfg.Dataset.Name, cfg.Dataset.DriverImage, urls, TransferBatchSize, TransferSubfolder)
		if err != nil {
			return err
		}
		log.Infof("%d urls in %d jobs to %s", len(urls), len(b.Jobs()), transfer.OutputPath(cfg.Dataset.Name, TransferSubfolder))

		_, err = runBatch(ctx, cmd.OutOrStdout(), b, !TransferSubmit)
		return err
	},
}
