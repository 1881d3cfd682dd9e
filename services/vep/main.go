package vep

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"cohortkit/models/constants"
	assemblyId "cohortkit/models/constants/assembly-id"
	"cohortkit/services/batch"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

const DefaultBinary = "/vep"

type Options struct {
	Binary   string
	Input    string
	Output   string
	Assembly constants.AssemblyId
	// Extra is appended after the standard arguments
	Extra []string
}

func (o Options) binary() string {
	if o.Binary == "" {
		return DefaultBinary
	}
	return o.Binary
}

// Args are the offline, cache-backed VEP arguments producing an annotated VCF
func (o Options) Args() []string {
	args := []string{
		"--format", "vcf",
		"-i", o.Input,
		"--everything",
		"--allele_number",
		"--no_stats",
		"--cache",
		"--offline",
		"--minimal",
		"--assembly", assemblyId.VepAssembly(o.Assembly),
		"--vcf",
		"-o", o.Output,
	}
	return append(args, o.Extra...)
}

// CommandLine renders the invocation as a single shell-safe line.
// Batch resource placeholders are left bare so backends can substitute them
func (o Options) CommandLine() string {
	words := append([]string{o.binary()}, o.Args()...)
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if batch.IsPlaceholder(w) {
			parts = append(parts, w)
			continue
		}
		parts = append(parts, shellquote.Join(w))
	}
	return strings.Join(parts, " ")
}

// RunLocal runs VEP as a subprocess
func RunLocal(ctx context.Context, opts Options, log logrus.FieldLogger) error {
	if opts.Input == "" || opts.Output == "" {
		return fmt.Errorf("vep needs both an input and an output")
	}
	log.Infof("running %s", opts.CommandLine())

	cmd := exec.CommandContext(ctx, opts.binary(), opts.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("vep failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// AddJob wires a VEP run into b: it stages input, annotates it and
// writes the result to output
func AddJob(b *batch.Batch, input, output string, assembly constants.AssemblyId) *batch.Job {
	in := b.ReadInput(input)
	j := b.NewJob("run vep").
		Cpu(2).
		Memory("standard").
		Storage("20G")

	opts := Options{
		Input:    in.String(),
		Output:   j.Ofile("ofile").String(),
		Assembly: assembly,
	}
	j.Command(opts.CommandLine())
	b.WriteOutput(j.Ofile("ofile"), output)
	return j
}
