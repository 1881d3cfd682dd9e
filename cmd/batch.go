package cmd

import (
	"fmt"
	"os"
	"strings"

	"cohortkit/services/batch"

	"github.com/spf13/cobra"
)

var BatchEnv []string
var BatchImage string

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchRunCmd)

	batchRunCmd.Flags().StringArrayVar(&BatchEnv, "env", nil, "NAME=value available as ${env.NAME} in the definition (repeatable)")
	batchRunCmd.Flags().StringVar(&BatchImage, "image", "", "Default image for jobs without one (defaults to CPG_DRIVER_IMAGE)")
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run batch definitions or serve the batch API",
}

var batchRunCmd = &cobra.Command{
	Use:   "run <definition>",
	Short: "Run a YAML or HCL batch definition",
	Long: `Run a YAML or HCL batch definition

Example usage:

	cohortkit batch run pipeline.hcl --env SAMPLE=NA12878 --local

Process environment variables are visible as ${env.NAME}; --env
entries take precedence.
`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := definitionEnv(os.Environ(), BatchEnv)
		if err != nil {
			return err
		}

		image := BatchImage
		if image == "" {
			image = cfg.Dataset.DriverImage
		}
		opts := []batch.Option{batch.WithRequesterPays(requesterPaysProject)}
		if image != "" {
			opts = append(opts, batch.WithDefaultImage(image))
		}

		b, err := batch.LoadDefinition(args[0], env, opts...)
		if err != nil {
			return err
		}
		_, err = runBatch(cmd.Context(), cmd.OutOrStdout(), b, false)
		return err
	},
}

// definitionEnv merges NAME=value pairs; later entries win
func definitionEnv(sources ...[]string) (map[string]string, error) {
	env := map[string]string{}
	for i, pairs := range sources {
		for _, pair := range pairs {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				if i == 0 {
					continue
				}
				return nil, fmt.Errorf("--env %q is not NAME=value", pair)
			}
			env[key] = value
		}
	}
	return env, nil
}
