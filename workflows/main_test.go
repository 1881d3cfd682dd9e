package workflows

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cohortkit/services/batch"
	"cohortkit/services/storage"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func jobNames(jobs []*batch.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name())
	}
	return out
}

func TestListing(t *testing.T) {
	var out bytes.Buffer
	examples := Catalogue()
	WriteListing(&out, examples)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "What example do you want to run?", lines[0])
	assert.Equal(t, "  1) hello_world", lines[1])
	assert.Equal(t, " 11) string_job", lines[11])
	assert.Equal(t, "Provide a number [1-12] as an argument to run", lines[len(lines)-1])
}

func TestLookup(t *testing.T) {
	examples := Catalogue()

	x, err := Lookup(examples, 3)
	assert.Nil(t, err)
	assert.Equal(t, "implicit_dependency", x.Name)

	_, err = Lookup(examples, 0)
	assert.NotNil(t, err)
	_, err = Lookup(examples, len(examples)+1)
	assert.NotNil(t, err)
}

func TestEveryExamplePlans(t *testing.T) {
	for _, x := range Catalogue() {
		t.Run(x.Name, func(t *testing.T) {
			plan, err := x.Build(Options{WorkDir: t.TempDir()}).Plan()
			assert.Nil(t, err)
			assert.NotEmpty(t, plan.Order)
		})
	}
}

func TestFileGatherWiresImplicitDependencies(t *testing.T) {
	b := fileGather(Options{})
	plan, err := b.Plan()
	assert.Nil(t, err)

	sink, ok := b.Job("j4")
	assert.True(t, ok)
	assert.Equal(t, []string{"Alice", "Bob", "Dan"}, jobNames(plan.Dependencies(sink)))
}

func TestCheckpointsStructure(t *testing.T) {
	b := checkpoints(Options{})
	plan, err := b.Plan()
	assert.Nil(t, err)

	// head, three sinks with two tasks each, final
	assert.Len(t, plan.Order, 11)
	assert.Equal(t, "head", plan.Order[0].Name())
	assert.Equal(t, "final", plan.Order[len(plan.Order)-1].Name())

	final := plan.Order[len(plan.Order)-1]
	assert.Equal(t, []string{"sink_a", "sink_b", "sink_c"}, jobNames(plan.Dependencies(final)))

	head := plan.Order[0]
	assert.Equal(t, []string{"a-clean", "a-aids", "b-clean", "b-aids", "c-clean", "c-aids"}, jobNames(plan.Dependents(head)))
}

func TestNestedScatterFunctionsStructure(t *testing.T) {
	b := nestedScatterFunctions(Options{})
	plan, err := b.Plan()
	assert.Nil(t, err)
	assert.Len(t, plan.Order, 14)

	final := plan.Order[len(plan.Order)-1]
	assert.Equal(t, "final-sink", final.Name())
	assert.Equal(t, []string{"Alice-sink", "Bob-sink", "Dan-sink"}, jobNames(plan.Dependencies(final)))
}

func runLocally(t *testing.T, b *batch.Batch) string {
	logger, _ := test.NewNullLogger()
	backend := batch.NewLocalBackend(storage.NewLocalStore(), 2, logger)
	backend.ScratchDir = t.TempDir()
	b.SetBackend(backend)

	var out bytes.Buffer
	_, err := b.Run(context.Background(), batch.RunOptions{Out: &out})
	assert.Nil(t, err)
	return out.String()
}

func TestRunStringJob(t *testing.T) {
	dir := t.TempDir()
	runLocally(t, stringJob(Options{WorkDir: dir}))

	content, err := os.ReadFile(filepath.Join(dir, "output", "alice.txt"))
	assert.Nil(t, err)
	assert.Equal(t, "HELLO ALICE", string(content))
}

func TestRunInputFile(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello from a file\n"), 0o644))

	out := runLocally(t, inputFile(Options{WorkDir: dir}))
	assert.Contains(t, out, "--- hello ---\nhello from a file\n")
}

func TestRunImplicitDependency(t *testing.T) {
	out := runLocally(t, implicitDependency(Options{}))
	assert.Contains(t, out, "--- j2 ---\nhello world\n")
}
