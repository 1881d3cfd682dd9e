package batch

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cohortkit/models/constants/memory"
)

// Plan is a validated batch: every job with its predecessors
// resolved, in a deterministic topological order
type Plan struct {
	Batch      *Batch
	Order      []*Job
	deps       map[*Job][]*Job
	dependents map[*Job][]*Job
}

func (p *Plan) Dependencies(j *Job) []*Job {
	return p.deps[j]
}

func (p *Plan) Dependents(j *Job) []*Job {
	return p.dependents[j]
}

/*
	Plan resolves the job graph:
	- explicit dependencies from DependsOn
	- implicit dependencies from commands referencing another job's files
	and rejects unknown resources and cycles
*/
func (b *Batch) Plan() (*Plan, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	inputs := make(map[string]*InputResourceFile, len(b.inputs))
	for _, in := range b.inputs {
		inputs[in.id] = in
	}

	depSets := make(map[*Job]map[*Job]struct{}, len(b.jobs))
	for _, j := range b.jobs {
		if j.memory != "" && !memory.IsValid(j.memory) {
			return nil, fmt.Errorf("job '%s': invalid memory %q", j.name, j.memory)
		}
		if j.cpu < 0 {
			return nil, fmt.Errorf("job '%s': invalid cpu %v", j.name, j.cpu)
		}

		set := map[*Job]struct{}{}
		for _, dep := range j.deps {
			set[dep] = struct{}{}
		}

		for _, cmd := range j.commands {
			for _, ref := range findReferences(cmd) {
				switch ref.kind {
				case kindInput:
					if _, ok := inputs[ref.id]; !ok || ref.file != "" {
						return nil, fmt.Errorf("job '%s' references %s: %w", j.name, ref.kindPlaceholder(), ErrUnknownResource)
					}
				case kindJob:
					producer, ok := b.jobsById[ref.id]
					if !ok || ref.file == "" {
						return nil, fmt.Errorf("job '%s' references %s: %w", j.name, ref.kindPlaceholder(), ErrUnknownResource)
					}
					// declare files first referenced in a command
					producer.Ofile(ref.file)
					if producer != j {
						set[producer] = struct{}{}
					}
				}
			}
		}
		depSets[j] = set
	}

	for _, out := range b.outputs {
		switch src := out.Source.(type) {
		case *JobResourceFile:
			if src.job.batch != b {
				return nil, fmt.Errorf("output %s belongs to another batch: %w", src.Placeholder(), ErrUnknownResource)
			}
		case *InputResourceFile:
			if _, ok := inputs[src.id]; !ok {
				return nil, fmt.Errorf("output %s: %w", src.Placeholder(), ErrUnknownResource)
			}
		default:
			return nil, fmt.Errorf("output %s: %w", out.Source.Placeholder(), ErrUnknownResource)
		}
	}
	// Ofile may have recorded invalid names above
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	p := &Plan{
		Batch:      b,
		deps:       make(map[*Job][]*Job, len(b.jobs)),
		dependents: make(map[*Job][]*Job, len(b.jobs)),
	}
	for _, j := range b.jobs {
		for dep := range depSets[j] {
			p.deps[j] = append(p.deps[j], dep)
			p.dependents[dep] = append(p.dependents[dep], j)
		}
	}
	for _, j := range b.jobs {
		sortByIndex(p.deps[j])
		sortByIndex(p.dependents[j])
	}

	if err := p.detectCycles(); err != nil {
		return nil, err
	}
	p.Order = p.topologicalOrder()
	return p, nil
}

func sortByIndex(list []*Job) {
	sort.Slice(list, func(a, b int) bool { return list[a].index < list[b].index })
}

// detectCycles is a depth-first search over dependents with
// temporary (on the stack) and permanent (known safe) marks
func (p *Plan) detectCycles() error {
	permanent := make(map[*Job]bool)
	temporary := make(map[*Job]bool)

	var visit func(j *Job) error
	visit = func(j *Job) error {
		if permanent[j] {
			return nil
		}
		if temporary[j] {
			return fmt.Errorf("%w: cycle detected involving job '%s'", ErrCycle, j.name)
		}

		temporary[j] = true
		for _, dependent := range p.dependents[j] {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, j)
		permanent[j] = true
		return nil
	}

	for _, j := range p.Batch.jobs {
		if err := visit(j); err != nil {
			return err
		}
	}
	return nil
}

// topologicalOrder always releases the earliest-created ready job first
func (p *Plan) topologicalOrder() []*Job {
	remaining := make(map[*Job]int, len(p.Batch.jobs))
	var ready []*Job
	for _, j := range p.Batch.jobs {
		remaining[j] = len(p.deps[j])
		if remaining[j] == 0 {
			ready = append(ready, j)
		}
	}

	order := make([]*Job, 0, len(p.Batch.jobs))
	for len(ready) > 0 {
		sortByIndex(ready)
		j := ready[0]
		ready = ready[1:]
		order = append(order, j)
		for _, d := range p.dependents[j] {
			remaining[d]--
			if remaining[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}

// Write prints the plan, one job per block
func (p *Plan) Write(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Batch %q: %d jobs\n", p.Batch.name, len(p.Order))
	for _, in := range p.Batch.inputs {
		fmt.Fprintf(&sb, "  input %s <- %s\n", in.Placeholder(), in.path)
	}
	for _, j := range p.Order {
		fmt.Fprintf(&sb, "  [%s] %s", j.id, j.name)
		if image := j.EffectiveImage(); image != "" {
			fmt.Fprintf(&sb, " (image %s)", image)
		}
		sb.WriteString("\n")
		if deps := p.deps[j]; len(deps) > 0 {
			names := make([]string, 0, len(deps))
			for _, d := range deps {
				names = append(names, d.name)
			}
			fmt.Fprintf(&sb, "      after: %s\n", strings.Join(names, ", "))
		}
		for _, cmd := range j.commands {
			fmt.Fprintf(&sb, "      $ %s\n", cmd)
		}
	}
	for _, out := range p.Batch.outputs {
		fmt.Fprintf(&sb, "  output %s -> %s\n", out.Source.Placeholder(), out.Dest)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
