package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"cohortkit/workflows"

	"github.com/spf13/cobra"
)

var ExamplesWorkDir string

func init() {
	rootCmd.AddCommand(examplesCmd)

	examplesCmd.Flags().StringVar(&ExamplesWorkDir, "work-dir", ".", "Directory holding hello.txt and receiving output/")
}

var examplesCmd = &cobra.Command{
	Use:   "examples [N]",
	Short: "List or run the tutorial batches",
	Long: `List or run the tutorial batches

Without an argument the numbered list is printed. With a number the
matching batch is built and run on the configured backend:

	cohortkit examples 3 --local
`,
	Args: cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		catalogue := workflows.Catalogue()
		if len(args) == 0 {
			workflows.WriteListing(cmd.OutOrStdout(), catalogue)
			return nil
		}

		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%q is not a number", args[0])
		}
		example, err := workflows.Lookup(catalogue, n)
		if err != nil {
			return err
		}

		if err := ensureHelloFile(ExamplesWorkDir); err != nil {
			return err
		}
		log.Infof("running example %s: %s", example.Name, example.Description)

		_, err = runBatch(cmd.Context(), cmd.OutOrStdout(), example.Build(workflows.Options{WorkDir: ExamplesWorkDir}), false)
		return err
	},
}

// ensureHelloFile seeds the input of the input_file example
func ensureHelloFile(workDir string) error {
	p := filepath.Join(workDir, "hello.txt")
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte("hello world\n"), 0o644)
}
