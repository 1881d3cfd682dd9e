package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"cohortkit/models/jobs"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v2"
)

var envPattern = regexp.MustCompile(`\$\{env\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDefinition reads a batch definition file (.yaml, .yml or .hcl).
// env backs ${env.NAME} references in either format
func LoadDefinition(path string, env map[string]string, opts ...Option) (*Batch, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var spec jobs.BatchSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		spec, err = parseYamlDefinition(src, env)
	case ".hcl":
		spec, err = parseHclDefinition(path, src, env)
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if spec.Name == "" {
		spec.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return FromSpec(spec, opts...)
}

func parseYamlDefinition(src []byte, env map[string]string) (jobs.BatchSpec, error) {
	var spec jobs.BatchSpec

	var missing []string
	expanded := envPattern.ReplaceAllStringFunc(string(src), func(match string) string {
		key := envPattern.FindStringSubmatch(match)[1]
		value, ok := env[key]
		if !ok {
			missing = append(missing, key)
		}
		return value
	})
	if len(missing) > 0 {
		return spec, fmt.Errorf("undefined environment variables: %s", strings.Join(missing, ", "))
	}

	if err := yaml.UnmarshalStrict([]byte(expanded), &spec); err != nil {
		return spec, err
	}
	for i := range spec.Jobs {
		if spec.Jobs[i].Id == "" && identifierPattern.MatchString(spec.Jobs[i].Name) {
			spec.Jobs[i].Id = spec.Jobs[i].Name
		}
	}
	return spec, nil
}

// -- HCL
//
//	name          = "demo"
//	default_image = "ubuntu:22.04"
//
//	input "ref" {
//	  path = "gs://bucket/ref.fa"
//	}
//
//	job "hello" {
//	  commands = ["echo ${env.GREETING} > ${job.hello.ofile}", "wc -c ${input.ref}"]
//	}
//
//	output {
//	  source = job.hello.ofile
//	  dest   = "/tmp/hello.txt"
//	}
type hclDefinition struct {
	Name          hcl.Expression `hcl:"name,optional"`
	DefaultImage  hcl.Expression `hcl:"default_image,optional"`
	RequesterPays hcl.Expression `hcl:"requester_pays_project,optional"`
	Attributes    hcl.Expression `hcl:"attributes,optional"`
	Inputs        []*hclInput    `hcl:"input,block"`
	Jobs          []*hclJob      `hcl:"job,block"`
	Outputs       []*hclOutput   `hcl:"output,block"`
}

type hclInput struct {
	Id   string         `hcl:"id,label"`
	Path hcl.Expression `hcl:"path"`
}

type hclJob struct {
	Id        string         `hcl:"id,label"`
	Name      hcl.Expression `hcl:"name,optional"`
	Image     hcl.Expression `hcl:"image,optional"`
	Commands  hcl.Expression `hcl:"commands,optional"`
	Cpu       hcl.Expression `hcl:"cpu,optional"`
	Memory    hcl.Expression `hcl:"memory,optional"`
	Storage   hcl.Expression `hcl:"storage,optional"`
	Env       hcl.Expression `hcl:"env,optional"`
	DependsOn hcl.Expression `hcl:"depends_on,optional"`
	AlwaysRun hcl.Expression `hcl:"always_run,optional"`
}

type hclOutput struct {
	Source hcl.Expression `hcl:"source"`
	Dest   hcl.Expression `hcl:"dest"`
}

func (d *hclDefinition) expressions() []hcl.Expression {
	exprs := []hcl.Expression{d.Name, d.DefaultImage, d.RequesterPays, d.Attributes}
	for _, in := range d.Inputs {
		exprs = append(exprs, in.Path)
	}
	for _, j := range d.Jobs {
		exprs = append(exprs, j.Name, j.Image, j.Commands, j.Cpu, j.Memory, j.Storage, j.Env, j.DependsOn, j.AlwaysRun)
	}
	for _, out := range d.Outputs {
		exprs = append(exprs, out.Source, out.Dest)
	}
	return exprs
}

func parseHclDefinition(filename string, src []byte, env map[string]string) (jobs.BatchSpec, error) {
	var spec jobs.BatchSpec

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return spec, diags
	}

	// first pass: structure only, expressions stay unevaluated
	var def hclDefinition
	if diags := gohcl.DecodeBody(file.Body, nil, &def); diags.HasErrors() {
		return spec, diags
	}

	evalCtx, err := definitionContext(&def, env)
	if err != nil {
		return spec, err
	}

	// second pass: evaluate against job, input and env
	var all hcl.Diagnostics
	all = append(all, decodeOptional(def.Name, evalCtx, &spec.Name)...)
	all = append(all, decodeOptional(def.DefaultImage, evalCtx, &spec.DefaultImage)...)
	all = append(all, decodeOptional(def.RequesterPays, evalCtx, &spec.RequesterPaysProject)...)
	all = append(all, decodeOptional(def.Attributes, evalCtx, &spec.Attributes)...)

	for _, in := range def.Inputs {
		input := jobs.InputSpec{Id: in.Id}
		all = append(all, gohcl.DecodeExpression(in.Path, evalCtx, &input.Path)...)
		spec.Inputs = append(spec.Inputs, input)
	}

	for _, j := range def.Jobs {
		job := jobs.JobSpec{Id: j.Id, Name: j.Id}
		all = append(all, decodeOptional(j.Name, evalCtx, &job.Name)...)
		all = append(all, decodeOptional(j.Image, evalCtx, &job.Image)...)
		all = append(all, decodeOptional(j.Commands, evalCtx, &job.Commands)...)
		all = append(all, decodeOptional(j.Cpu, evalCtx, &job.Cpu)...)
		all = append(all, decodeOptional(j.Memory, evalCtx, &job.Memory)...)
		all = append(all, decodeOptional(j.Storage, evalCtx, &job.Storage)...)
		all = append(all, decodeOptional(j.Env, evalCtx, &job.Env)...)
		all = append(all, decodeOptional(j.DependsOn, evalCtx, &job.DependsOn)...)
		all = append(all, decodeOptional(j.AlwaysRun, evalCtx, &job.AlwaysRun)...)
		spec.Jobs = append(spec.Jobs, job)
	}

	for _, out := range def.Outputs {
		var output jobs.OutputSpec
		all = append(all, gohcl.DecodeExpression(out.Source, evalCtx, &output.Source)...)
		all = append(all, gohcl.DecodeExpression(out.Dest, evalCtx, &output.Dest)...)
		spec.Outputs = append(spec.Outputs, output)
	}

	if all.HasErrors() {
		return spec, all
	}
	return spec, nil
}

func decodeOptional(expr hcl.Expression, ctx *hcl.EvalContext, target interface{}) hcl.Diagnostics {
	value, diags := expr.Value(ctx)
	if diags.HasErrors() || value.IsNull() {
		return diags
	}
	return gohcl.DecodeExpression(expr, ctx, target)
}

// definitionContext exposes every job file and input referenced anywhere in
// the definition as its placeholder string, so "${job.a.ofile}" evaluates
// to itself and FromSpec can wire the dependency
func definitionContext(def *hclDefinition, env map[string]string) (*hcl.EvalContext, error) {
	jobFiles := map[string]map[string]struct{}{}
	for _, j := range def.Jobs {
		if _, exists := jobFiles[j.Id]; exists {
			return nil, fmt.Errorf("job '%s' is declared more than once", j.Id)
		}
		jobFiles[j.Id] = map[string]struct{}{}
	}

	for _, expr := range def.expressions() {
		for _, traversal := range expr.Variables() {
			if traversal.RootName() != kindJob || len(traversal) < 3 {
				continue
			}
			jobAttr, ok1 := traversal[1].(hcl.TraverseAttr)
			fileAttr, ok2 := traversal[2].(hcl.TraverseAttr)
			if !ok1 || !ok2 {
				continue
			}
			if files, ok := jobFiles[jobAttr.Name]; ok {
				files[fileAttr.Name] = struct{}{}
			}
		}
	}

	jobVals := map[string]cty.Value{}
	for id, files := range jobFiles {
		names := make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}
		sort.Strings(names)

		fileVals := map[string]cty.Value{}
		for _, name := range names {
			fileVals[name] = cty.StringVal(fmt.Sprintf("${%s.%s.%s}", kindJob, id, name))
		}
		jobVals[id] = objectOrEmpty(fileVals)
	}

	inputVals := map[string]cty.Value{}
	for _, in := range def.Inputs {
		inputVals[in.Id] = cty.StringVal(fmt.Sprintf("${%s.%s}", kindInput, in.Id))
	}

	envVals := map[string]cty.Value{}
	for k, v := range env {
		envVals[k] = cty.StringVal(v)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			kindJob:   objectOrEmpty(jobVals),
			kindInput: objectOrEmpty(inputVals),
			"env":     objectOrEmpty(envVals),
		},
	}, nil
}

func objectOrEmpty(attrs map[string]cty.Value) cty.Value {
	if len(attrs) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(attrs)
}
