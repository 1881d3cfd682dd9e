package cmd

import (
	"fmt"
	"strings"

	"cohortkit/models/constants"
	assemblyId "cohortkit/models/constants/assembly-id"
	"cohortkit/services/batch"
	"cohortkit/services/vep"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

const (
	ImagesRepository = "australia-southeast1-docker.pkg.dev/cpg-common/images"
	BcftoolsImage    = ImagesRepository + "/bcftools:1.10.2--h4f4756c_2"
	CpgPipesImage    = ImagesRepository + "/cpg-pipes:0.2.8"
)

var TabixFile string

var SlivarScript string
var SlivarVcf string
var SlivarProject string

var VepInfile string
var VepOutfile string
var VepReference string

var JobImage string

func init() {
	rootCmd.AddCommand(tabixCmd)
	rootCmd.AddCommand(slivarCmd)
	rootCmd.AddCommand(submitScriptCmd)
	rootCmd.AddCommand(runVepCmd)
	rootCmd.AddCommand(reduceJobCmd)
	rootCmd.AddCommand(analyseJobCmd)

	tabixCmd.Flags().StringVar(&TabixFile, "file", "", "Block-gzipped VCF to index")
	tabixCmd.MarkFlagRequired("file")

	slivarCmd.Flags().StringVar(&SlivarScript, "script", "", "Script to run inside the cpg-pipes image")
	slivarCmd.Flags().StringVar(&SlivarVcf, "vcf", "", "VCF handed to the script")
	slivarCmd.Flags().StringVar(&SlivarProject, "project", "", "Project handed to the script")
	slivarCmd.MarkFlagRequired("script")

	submitScriptCmd.Flags().StringVar(&JobImage, "image", "", "Image of the job (defaults to CPG_DRIVER_IMAGE)")

	runVepCmd.Flags().StringVar(&VepInfile, "infile", "", "VCF to annotate")
	runVepCmd.Flags().StringVar(&VepOutfile, "outfile", "", "Annotated VCF to write")
	runVepCmd.Flags().StringVar(&VepReference, "ref", "GRCh38", "Assembly handed to VEP")
	runVepCmd.MarkFlagRequired("infile")
	runVepCmd.MarkFlagRequired("outfile")

	reduceJobCmd.Flags().StringVar(&MatrixIn, "matrix-in", "", "Matrix to reduce")
	reduceJobCmd.Flags().StringVar(&MatrixOut, "matrix-out", "", "Matrix to write")
	reduceJobCmd.Flags().StringVar(&MatrixReference, "ref", "GRCh38", "Reference genome")
	reduceJobCmd.MarkFlagRequired("matrix-in")
	reduceJobCmd.MarkFlagRequired("matrix-out")

	analyseJobCmd.Flags().StringVar(&MatrixIn, "matrix", "", "Matrix to interrogate")
	analyseJobCmd.Flags().StringVar(&MatrixConf, "conf", "", "JSON settings file")
	analyseJobCmd.Flags().StringVar(&MatrixReference, "ref", "GRCh38", "Reference genome")
	analyseJobCmd.MarkFlagRequired("matrix")
}

func tabixBatch(file string) *batch.Batch {
	b := batch.New("run_tabix")
	b.NewJob("run tabix").
		Command("tabix " + shellquote.Join(file)).
		Image(BcftoolsImage)
	return b
}

func slivarBatch(script, vcf, project string) *batch.Batch {
	b := batch.New("run_slivar_wrapper")
	b.NewJob("run slivar_wrapper").
		Cpu(1).
		Memory("standard").
		Storage("20G").
		Command(fmt.Sprintf("python3 %s --vcf %s --project %s", shellquote.Join(script), shellquote.Join(vcf), shellquote.Join(project))).
		Image(CpgPipesImage)
	return b
}

func scriptBatch(name string, image string, args []string) *batch.Batch {
	b := batch.New(name, batch.WithDefaultImage(image))
	b.NewJob(name).Command(shellquote.Join(args...))
	return b
}

func vepBatch(infile, outfile string, assembly constants.AssemblyId) *batch.Batch {
	b := batch.New("run_vep")
	vep.AddJob(b, infile, outfile, assembly)
	return b
}

// driverBatch runs this binary's own subcommand inside the driver image
func driverBatch(name string, image string, args ...string) *batch.Batch {
	b := batch.New(name, batch.WithDefaultImage(image))
	b.NewJob(name).
		Memory("standard").
		Command(shellquote.Join(append([]string{"cohortkit"}, args...)...))
	return b
}

func driverImage() (string, error) {
	image := JobImage
	if image == "" {
		image = cfg.Dataset.DriverImage
	}
	if image == "" {
		return "", fmt.Errorf("--image or CPG_DRIVER_IMAGE is required")
	}
	return image, nil
}

var tabixCmd = &cobra.Command{
	Use:   "tabix",
	Short: "Submit a tabix job for one file",

	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := runBatch(cmd.Context(), cmd.OutOrStdout(), tabixBatch(TabixFile), false)
		return err
	},
}

var slivarCmd = &cobra.Command{
	Use:   "slivar",
	Short: "Submit a script to the cpg-pipes image with a VCF and a project",

	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := runBatch(cmd.Context(), cmd.OutOrStdout(), slivarBatch(SlivarScript, SlivarVcf, SlivarProject), false)
		return err
	},
}

var submitScriptCmd = &cobra.Command{
	Use:   "submit-script -- <script> [args...]",
	Short: "Submit a command line as a single job in the driver image",
	Long: `Submit a command line as a single job in the driver image

Example usage:

	cohortkit submit-script -- python3 extract.py --json-str '{"FAM1":["P1"]}'

Arguments are shell quoted, so JSON and other values with spaces or
quotes reach the script unchanged.
`,
	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := driverImage()
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(args[0], ".py")
		_, err = runBatch(cmd.Context(), cmd.OutOrStdout(), scriptBatch(name, image, args), false)
		return err
	},
}

var runVepCmd = &cobra.Command{
	Use:   "run-vep",
	Short: "Submit a VEP annotation job",

	RunE: func(cmd *cobra.Command, args []string) error {
		if !assemblyId.IsKnownAssemblyId(VepReference) {
			return fmt.Errorf("unknown assembly %q", VepReference)
		}
		_, err := runBatch(cmd.Context(), cmd.OutOrStdout(), vepBatch(VepInfile, VepOutfile, assemblyId.CastToAssemblyId(VepReference)), false)
		return err
	},
}

var reduceJobCmd = &cobra.Command{
	Use:   "reduce-job",
	Short: "Submit `cohortkit reduce` as a batch job",

	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := driverImage()
		if err != nil {
			return err
		}
		b := driverBatch("reduce", image, "reduce", "--matrix-in", MatrixIn, "--matrix-out", MatrixOut, "--ref", MatrixReference)
		_, err = runBatch(cmd.Context(), cmd.OutOrStdout(), b, false)
		return err
	},
}

var analyseJobCmd = &cobra.Command{
	Use:   "analyse-job",
	Short: "Submit `cohortkit analyse` as a batch job",

	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := driverImage()
		if err != nil {
			return err
		}
		jobArgs := []string{"analyse", "--matrix", MatrixIn, "--ref", MatrixReference}
		if MatrixConf != "" {
			jobArgs = append(jobArgs, "--conf", MatrixConf)
		}
		_, err = runBatch(cmd.Context(), cmd.OutOrStdout(), driverBatch("analyse", image, jobArgs...), false)
		return err
	},
}
