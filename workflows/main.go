package workflows

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"cohortkit/services/batch"
)

// Options parameterise the examples that touch files
type Options struct {
	// WorkDir holds hello.txt for input_file and receives output/
	WorkDir string
}

type Example struct {
	Name        string
	Description string
	Build       func(opts Options) *batch.Batch
}

var names = []string{"Alice", "Bob", "Dan"}
var chores = []string{"make-bed", "laundry", "grocery-shop"}

// Catalogue lists the tutorial batches in presentation order
func Catalogue() []Example {
	return []Example{
		{"hello_world", "Your first batch job", helloWorld},
		{"two_jobs", "Run two jobs, the second after the first", twoJobs},
		{"implicit_dependency", "A job reads a file written by another job", implicitDependency},
		{"scatter", "One job per name", scatter},
		{"scatter_gather", "One job per name, then a sink waiting for all of them", scatterGather},
		{"file_gather", "A sink concatenating the file each scattered job wrote", fileGather},
		{"nested_scatter", "One job per name and chore", nestedScatter},
		{"nested_scatter_functions", "Per-user chore groups between a head and a final sink", nestedScatterFunctions},
		{"input_file", "Stage a local file into a job", inputFile},
		{"output_file", "Copy a job's file out of the batch", outputFile},
		{"string_job", "Chain string transformations and write the result", stringJob},
		{"checkpoints", "Grouped tasks with a checkpoint sink per group", checkpoints},
	}
}

// WriteListing prints the numbered menu of examples
func WriteListing(w io.Writer, examples []Example) {
	fmt.Fprintln(w, "What example do you want to run?")
	for i, x := range examples {
		fmt.Fprintf(w, "%3d) %s\n", i+1, x.Name)
	}
	fmt.Fprintf(w, "Provide a number [1-%d] as an argument to run\n", len(examples))
}

// Lookup resolves a 1-based example number
func Lookup(examples []Example, n int) (Example, error) {
	if n < 1 || n > len(examples) {
		return Example{}, fmt.Errorf("no example %d, choose between 1 and %d", n, len(examples))
	}
	return examples[n-1], nil
}

func helloWorld(Options) *batch.Batch {
	b := batch.New("hello")
	b.NewJob("hello").Command(`echo "hello world"`)
	return b
}

func twoJobs(Options) *batch.Batch {
	b := batch.New("hello-parallel")
	s := b.NewJob("j1").Command(`echo "hello world 1"`)
	t := b.NewJob("j2").Command(`echo "hello world 2"`)
	t.DependsOn(s)
	return b
}

func implicitDependency(Options) *batch.Batch {
	b := batch.New("hello-serial")
	s := b.NewJob("j1")
	s.Command(`echo "hello world" > ` + s.Ofile("ofile").String())
	b.NewJob("j2").Command("cat " + s.Ofile("ofile").String())
	return b
}

func scatter(Options) *batch.Batch {
	b := batch.New("scatter")
	for _, name := range names {
		b.NewJob(name).Command(fmt.Sprintf(`echo "hello %s"`, name))
	}
	return b
}

func scatterGather(Options) *batch.Batch {
	b := batch.New("scatter-gather-1")
	var jobs []*batch.Job
	for _, name := range names {
		jobs = append(jobs, b.NewJob(name).Command(fmt.Sprintf(`echo "hello %s"`, name)))
	}
	b.NewJob("sink").Command(`echo "I wait for everyone"`).DependsOn(jobs...)
	return b
}

func fileGather(Options) *batch.Batch {
	b := batch.New("scatter-gather-2")
	var files []string
	for _, name := range names {
		j := b.NewJob(name)
		j.Command(fmt.Sprintf(`echo "hello %s" > %s`, name, j.Ofile("ofile")))
		files = append(files, j.Ofile("ofile").String())
	}
	b.NewJob("sink").Command("cat " + strings.Join(files, " "))
	return b
}

func nestedScatter(Options) *batch.Batch {
	b := batch.New("nested-scatter-1")
	for _, user := range names {
		for _, chore := range chores {
			b.NewJob(user + "-" + chore).Command(fmt.Sprintf(`echo "user %s is doing chore %s"`, user, chore))
		}
	}
	return b
}

func doChores(b *batch.Batch, head *batch.Job, user string) *batch.Job {
	var jobs []*batch.Job
	for _, chore := range chores {
		j := b.NewJob(user + "-" + chore).
			Command(fmt.Sprintf(`echo "user %s is doing chore %s"`, user, chore)).
			DependsOn(head)
		jobs = append(jobs, j)
	}
	return b.NewJob(user + "-sink").DependsOn(jobs...)
}

func nestedScatterFunctions(Options) *batch.Batch {
	b := batch.New("nested-scatter-3")
	head := b.NewJob("head")
	var sinks []*batch.Job
	for _, user := range names {
		sinks = append(sinks, doChores(b, head, user))
	}
	b.NewJob("final-sink").DependsOn(sinks...)
	return b
}

func inputFile(opts Options) *batch.Batch {
	b := batch.New("hello-input")
	in := b.ReadInput(filepath.Join(opts.WorkDir, "hello.txt"))
	b.NewJob("hello").Command("cat " + in.String())
	return b
}

func outputFile(opts Options) *batch.Batch {
	b := batch.New("hello-output")
	j := b.NewJob("hello")
	j.Command(`echo "hello" > ` + j.Ofile("ofile").String())
	b.WriteOutput(j.Ofile("ofile"), filepath.Join(opts.WorkDir, "output", "hello.txt"))
	return b
}

func stringJob(opts Options) *batch.Batch {
	b := batch.New("string-job")
	hello := b.NewJob("hello")
	hello.Command(`printf 'hello %s' alice > ` + hello.Ofile("ofile").String())
	upper := b.NewJob("upper")
	upper.Command(fmt.Sprintf("tr '[:lower:]' '[:upper:]' < %s > %s", hello.Ofile("ofile"), upper.Ofile("ofile")))
	b.WriteOutput(upper.Ofile("ofile"), filepath.Join(opts.WorkDir, "output", "alice.txt"))
	return b
}

// createGroup adds one task per entry of tasks after head, all feeding a
// sink for the group, and returns that sink
func createGroup(b *batch.Batch, name string, head *batch.Job, tasks ...string) *batch.Job {
	sink := b.NewJob("sink_" + name)
	for _, task := range tasks {
		j := b.NewJob(name + "-" + task).
			Command(fmt.Sprintf(`echo "%s-%s"`, name, task)).
			DependsOn(head)
		sink.DependsOn(j)
	}
	return sink
}

func checkpoints(Options) *batch.Batch {
	b := batch.New("top")
	head := b.NewJob("head")
	var sinks []*batch.Job
	for _, name := range []string{"a", "b", "c"} {
		sinks = append(sinks, createGroup(b, name, head, "clean", "aids"))
	}
	b.NewJob("final").DependsOn(sinks...)
	return b
}
