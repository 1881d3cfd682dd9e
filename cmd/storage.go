package cmd

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cohortkit/services/storage"
	"cohortkit/services/transfer"

	"github.com/spf13/cobra"
)

const DefaultManifestPrefix = "gs://cpg-fewgenomes-main/"

var RequirePrefix []string

var ManifestPath string
var ManifestOutput string
var ManifestRequirePrefix []string
var ManifestImage string
var ManifestDirect bool
var ManifestConcurrency int

func init() {
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(copyManifestCmd)
	storageCmd.AddCommand(storageCopyCmd)
	storageCmd.AddCommand(storageMoveCmd)
	storageCmd.AddCommand(storageListCmd)

	storageCmd.PersistentFlags().StringSliceVar(&RequirePrefix, "require-prefix", nil, "Refuse destinations outside these prefixes")

	copyManifestCmd.Flags().StringVar(&ManifestPath, "manifest", "", "CSV with sample_name, ftype and fname columns")
	copyManifestCmd.Flags().StringVar(&ManifestOutput, "output", "", "Destination folder (defaults to OUTPUT)")
	copyManifestCmd.Flags().StringSliceVar(&ManifestRequirePrefix, "require-prefix", []string{DefaultManifestPrefix}, "Refuse destinations outside these prefixes")
	copyManifestCmd.Flags().StringVar(&ManifestImage, "image", "", "Image of the copy jobs (defaults to CPG_DRIVER_IMAGE)")
	copyManifestCmd.Flags().BoolVar(&ManifestDirect, "direct", false, "Copy from this process instead of submitting a batch")
	copyManifestCmd.Flags().IntVar(&ManifestConcurrency, "concurrency", 8, "Copies running at the same time with --direct")
	copyManifestCmd.MarkFlagRequired("manifest")
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Copy, move and list local or gs:// objects",
}

var storageCopyCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy an object, a folder or every match of a glob into dst",
	Args:  cobra.ExactArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		return transferObjects(cmd.Context(), newStore(), args[0], args[1], false, RequirePrefix)
	},
}

var storageMoveCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Move an object, a folder or every match of a glob into dst",
	Long: `Move an object, a folder or every match of a glob into dst

Example usage:

	cohortkit storage mv 'gs://cpg-fewgenomes-upload/kccg/*' "$OUTPUT" --require-prefix gs://cpg-fewgenomes-test/
`,
	Args: cobra.ExactArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		return transferObjects(cmd.Context(), newStore(), args[0], args[1], true, RequirePrefix)
	},
}

var storageListCmd = &cobra.Command{
	Use:   "ls <pattern>",
	Short: "List objects matching a pattern (* and ** supported)",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return listObjects(cmd.Context(), newStore(), cmd.OutOrStdout(), args[0])
	},
}

func hasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// transferObjects copies or moves src to dst; a glob source puts every
// match inside dst under its base name
func transferObjects(ctx context.Context, store storage.Store, src string, dst string, move bool, prefixes []string) error {
	if err := storage.AssertOutputPrefix(dst, prefixes...); err != nil {
		return err
	}

	op, verb := store.Copy, "copied"
	if move {
		op, verb = store.Move, "moved"
	}

	if !hasWildcard(src) {
		if err := op(ctx, src, dst); err != nil {
			return err
		}
		log.Infof("%s %s to %s", verb, src, dst)
		return nil
	}

	matches, err := store.List(ctx, src)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("%s: %w", src, storage.ErrNotFound)
	}
	for _, match := range matches {
		target := storage.JoinPath(dst, path.Base(match))
		if err := op(ctx, match, target); err != nil {
			return err
		}
		log.Debugf("%s %s to %s", verb, match, target)
	}
	log.Infof("%s %d objects to %s", verb, len(matches), dst)
	return nil
}

func listObjects(ctx context.Context, store storage.Store, out io.Writer, pattern string) error {
	matches, err := store.List(ctx, pattern)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Fprintln(out, m)
	}
	return nil
}

var copyManifestCmd = &cobra.Command{
	Use:   "copy-manifest",
	Short: "Copy the files listed in a manifest CSV, one batch job per file",

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		output := ManifestOutput
		if output == "" {
			output = cfg.Dataset.Output
		}
		if output == "" {
			return fmt.Errorf("--output or OUTPUT is required")
		}
		if err := storage.AssertOutputPrefix(output, ManifestRequirePrefix...); err != nil {
			return err
		}

		store := newStore()
		rows, err := transfer.ReadManifest(ctx, store, ManifestPath)
		if err != nil {
			return err
		}
		log.Infof("%d files listed in %s", len(rows), ManifestPath)

		if ManifestDirect {
			return transfer.CopyDirect(ctx, store, rows, output, ManifestConcurrency, log)
		}

		image := ManifestImage
		if image == "" {
			image = cfg.Dataset.DriverImage
		}
		_, err = runBatch(ctx, cmd.OutOrStdout(), transfer.BuildCopyBatch(rows, output, image), false)
		return err
	},
}
