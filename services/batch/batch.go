package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"cohortkit/models/constants"
	"cohortkit/models/jobs"
)

var (
	ErrCycle           = errors.New("dependency cycle")
	ErrUnknownJob      = errors.New("unknown job")
	ErrUnknownResource = errors.New("unknown resource")
	ErrNoBackend       = errors.New("batch has no backend")
)

// Backend executes a batch's job graph
type Backend interface {
	Run(ctx context.Context, b *Batch, opts RunOptions) (*Result, error)
}

type RunOptions struct {
	// Wait blocks until every job is terminal (service backend)
	Wait bool
	// DryRun prints the resolved plan and runs nothing
	DryRun bool
	// Out receives the plan and job output; defaults to stdout
	Out io.Writer
}

type JobResult struct {
	Id      string             `json:"id"`
	Name    string             `json:"name"`
	State   constants.JobState `json:"state"`
	Message string             `json:"message,omitempty"`
}

type Result struct {
	BatchId string             `json:"batchId"`
	State   constants.JobState `json:"state"`
	Jobs    []JobResult        `json:"jobs"`
}

type Option func(*Batch)

func WithBackend(backend Backend) Option {
	return func(b *Batch) { b.backend = backend }
}

func WithDefaultImage(image string) Option {
	return func(b *Batch) { b.defaultImage = image }
}

func WithRequesterPays(project string) Option {
	return func(b *Batch) { b.requesterPaysProject = project }
}

func WithAttribute(key, value string) Option {
	return func(b *Batch) { b.attributes[key] = value }
}

// Batch is a graph of jobs plus the files staged in and out of it
type Batch struct {
	name                 string
	backend              Backend
	defaultImage         string
	requesterPaysProject string
	attributes           map[string]string

	jobs     []*Job
	jobsById map[string]*Job
	inputs   []*InputResourceFile
	outputs  []Output
	errs     []error
}

func New(name string, opts ...Option) *Batch {
	b := &Batch{
		name:       name,
		attributes: map[string]string{},
		jobsById:   map[string]*Job{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Batch) Name() string {
	return b.name
}

func (b *Batch) DefaultImage() string {
	return b.defaultImage
}

func (b *Batch) Jobs() []*Job {
	return append([]*Job(nil), b.jobs...)
}

func (b *Batch) Inputs() []*InputResourceFile {
	return append([]*InputResourceFile(nil), b.inputs...)
}

func (b *Batch) Outputs() []Output {
	return append([]Output(nil), b.outputs...)
}

func (b *Batch) SetBackend(backend Backend) {
	b.backend = backend
}

func (b *Batch) addErr(err error) {
	b.errs = append(b.errs, err)
}

// NewJob adds a job; ids are assigned in creation order (j1, j2, ...)
func (b *Batch) NewJob(name string) *Job {
	return b.newJobWithId(fmt.Sprintf("j%d", len(b.jobs)+1), name)
}

func (b *Batch) newJobWithId(id, name string) *Job {
	if !identifierPattern.MatchString(id) {
		b.addErr(fmt.Errorf("invalid job id %q", id))
	}
	if _, dup := b.jobsById[id]; dup {
		b.addErr(fmt.Errorf("duplicate job id %q", id))
	}
	j := &Job{
		batch: b,
		index: len(b.jobs),
		id:    id,
		name:  name,
		files: map[string]*JobResourceFile{},
	}
	b.jobs = append(b.jobs, j)
	if _, dup := b.jobsById[id]; !dup {
		b.jobsById[id] = j
	}
	return j
}

func (b *Batch) Job(id string) (*Job, bool) {
	j, ok := b.jobsById[id]
	return j, ok
}

// ReadInput stages path into the batch; ids are i1, i2, ...
func (b *Batch) ReadInput(path string) *InputResourceFile {
	return b.readInputWithId(fmt.Sprintf("i%d", len(b.inputs)+1), path)
}

func (b *Batch) readInputWithId(id, path string) *InputResourceFile {
	if !identifierPattern.MatchString(id) {
		b.addErr(fmt.Errorf("invalid input id %q", id))
	}
	for _, in := range b.inputs {
		if in.id == id {
			b.addErr(fmt.Errorf("duplicate input id %q", id))
		}
	}
	in := &InputResourceFile{id: id, path: path}
	b.inputs = append(b.inputs, in)
	return in
}

// WriteOutput copies resource to dest once the batch has run
func (b *Batch) WriteOutput(resource Resource, dest string) {
	b.outputs = append(b.outputs, Output{Source: resource, Dest: dest})
}

// Run hands the batch to its backend
func (b *Batch) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if b.backend == nil {
		return nil, ErrNoBackend
	}
	return b.backend.Run(ctx, b, opts)
}

// Spec serialises the batch; commands keep their placeholders
func (b *Batch) Spec() jobs.BatchSpec {
	spec := jobs.BatchSpec{
		Name:                 b.name,
		DefaultImage:         b.defaultImage,
		RequesterPaysProject: b.requesterPaysProject,
		Jobs:                 make([]jobs.JobSpec, 0, len(b.jobs)),
	}
	if len(b.attributes) > 0 {
		spec.Attributes = map[string]string{}
		for k, v := range b.attributes {
			spec.Attributes[k] = v
		}
	}
	for _, in := range b.inputs {
		spec.Inputs = append(spec.Inputs, jobs.InputSpec{Id: in.id, Path: in.path})
	}
	for _, out := range b.outputs {
		spec.Outputs = append(spec.Outputs, jobs.OutputSpec{Source: out.Source.Placeholder(), Dest: out.Dest})
	}
	for _, j := range b.jobs {
		js := jobs.JobSpec{
			Id:        j.id,
			Name:      j.name,
			Image:     j.image,
			Commands:  j.Commands(),
			Cpu:       j.cpu,
			Memory:    j.memory,
			Storage:   j.storage,
			AlwaysRun: j.alwaysRun,
		}
		if len(j.env) > 0 {
			js.Env = map[string]string{}
			for k, v := range j.env {
				js.Env[k] = v
			}
		}
		for _, dep := range j.deps {
			js.DependsOn = append(js.DependsOn, dep.id)
		}
		spec.Jobs = append(spec.Jobs, js)
	}
	return spec
}

// FromSpec rebuilds a batch from its serialised form
func FromSpec(spec jobs.BatchSpec, opts ...Option) (*Batch, error) {
	b := New(spec.Name, opts...)
	if spec.DefaultImage != "" {
		b.defaultImage = spec.DefaultImage
	}
	if spec.RequesterPaysProject != "" {
		b.requesterPaysProject = spec.RequesterPaysProject
	}
	for k, v := range spec.Attributes {
		b.attributes[k] = v
	}

	for _, in := range spec.Inputs {
		b.readInputWithId(in.Id, in.Path)
	}

	for i, js := range spec.Jobs {
		id := js.Id
		if id == "" {
			if identifierPattern.MatchString(js.Name) {
				id = js.Name
			} else {
				id = fmt.Sprintf("j%d", i+1)
			}
		}
		name := js.Name
		if name == "" {
			name = id
		}
		j := b.newJobWithId(id, name).
			Image(js.Image).
			Cpu(js.Cpu).
			Memory(js.Memory).
			Storage(js.Storage).
			AlwaysRun(js.AlwaysRun)
		for _, cmd := range js.Commands {
			j.Command(cmd)
		}
		keys := make([]string, 0, len(js.Env))
		for k := range js.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			j.Env(k, js.Env[k])
		}
	}

	for i, js := range spec.Jobs {
		j := b.jobs[i]
		for _, depId := range js.DependsOn {
			dep, ok := b.jobsById[depId]
			if !ok {
				return nil, fmt.Errorf("job '%s' depends on '%s': %w", j.name, depId, ErrUnknownJob)
			}
			j.DependsOn(dep)
		}
	}

	for _, out := range spec.Outputs {
		resource, err := b.resolveResource(out.Source)
		if err != nil {
			return nil, err
		}
		b.WriteOutput(resource, out.Dest)
	}

	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return b, nil
}

// resolveResource turns a single placeholder back into its resource
func (b *Batch) resolveResource(placeholder string) (Resource, error) {
	refs := findReferences(placeholder)
	if len(refs) != 1 || refs[0].kindPlaceholder() != placeholder {
		return nil, fmt.Errorf("%q is not a resource placeholder: %w", placeholder, ErrUnknownResource)
	}
	ref := refs[0]
	switch ref.kind {
	case kindJob:
		j, ok := b.jobsById[ref.id]
		if !ok || ref.file == "" {
			return nil, fmt.Errorf("%s: %w", placeholder, ErrUnknownResource)
		}
		return j.Ofile(ref.file), nil
	default:
		for _, in := range b.inputs {
			if in.id == ref.id && ref.file == "" {
				return in, nil
			}
		}
		return nil, fmt.Errorf("%s: %w", placeholder, ErrUnknownResource)
	}
}

func (r reference) kindPlaceholder() string {
	if r.file == "" {
		return fmt.Sprintf("${%s.%s}", r.kind, r.id)
	}
	return fmt.Sprintf("${%s.%s.%s}", r.kind, r.id, r.file)
}
