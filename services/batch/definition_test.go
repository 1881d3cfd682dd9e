package batch

import (
	"testing"

	"cohortkit/tests/common"

	"github.com/stretchr/testify/assert"
)

const yamlDefinition = `
name: demo
default_image: ubuntu:22.04
inputs:
  - id: names
    path: "${env.DATA}/names.txt"
jobs:
  - name: hello
    commands:
      - "cat ${input.names} > ${job.hello.ofile}"
  - name: count
    memory: highmem
    depends_on: [hello]
    commands:
      - "wc -l ${job.hello.ofile}"
outputs:
  - source: "${job.hello.ofile}"
    dest: /tmp/hello.txt
`

const hclDefinitionText = `
name          = "demo"
default_image = "ubuntu:22.04"

input "names" {
  path = "${env.DATA}/names.txt"
}

job "hello" {
  commands = ["cat ${input.names} > ${job.hello.ofile}"]
  env      = { GREETING = env.GREETING }
}

job "count" {
  memory   = "highmem"
  cpu      = 2
  commands = ["wc -l ${job.hello.ofile}"]
}

output {
  source = job.hello.ofile
  dest   = "/tmp/hello.txt"
}
`

func assertDemoBatch(t *testing.T, b *Batch) {
	assert.Equal(t, "demo", b.Name())
	assert.Equal(t, "ubuntu:22.04", b.DefaultImage())

	inputs := b.Inputs()
	assert.Len(t, inputs, 1)
	assert.Equal(t, "names", inputs[0].Id())
	assert.Equal(t, "/data/names.txt", inputs[0].Path())

	plan, err := b.Plan()
	assert.Nil(t, err)
	assert.Equal(t, []string{"hello", "count"}, jobNames(plan.Order))

	count, ok := b.Job("count")
	assert.True(t, ok)
	assert.Equal(t, []string{"hello"}, jobNames(plan.Dependencies(count)))
	assert.Equal(t, "highmem", count.memory)

	outputs := b.Outputs()
	assert.Len(t, outputs, 1)
	assert.Equal(t, "${job.hello.ofile}", outputs[0].Source.Placeholder())
	assert.Equal(t, "/tmp/hello.txt", outputs[0].Dest)
}

func TestLoadYamlDefinition(t *testing.T) {
	dir := t.TempDir()
	path := common.WriteFile(t, dir, "demo.yaml", yamlDefinition)

	b, err := LoadDefinition(path, map[string]string{"DATA": "/data"})
	assert.Nil(t, err)
	assertDemoBatch(t, b)
}

func TestLoadHclDefinition(t *testing.T) {
	dir := t.TempDir()
	path := common.WriteFile(t, dir, "demo.hcl", hclDefinitionText)

	b, err := LoadDefinition(path, map[string]string{"DATA": "/data", "GREETING": "hi"})
	assert.Nil(t, err)
	assertDemoBatch(t, b)

	hello, _ := b.Job("hello")
	assert.Equal(t, []string{"cat ${input.names} > ${job.hello.ofile}"}, hello.Commands())
	assert.Equal(t, map[string]string{"GREETING": "hi"}, hello.env)
	count, _ := b.Job("count")
	assert.Equal(t, 2.0, count.cpu)
}

func TestLoadDefinitionMissingEnvironment(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDefinition(common.WriteFile(t, dir, "demo.yml", yamlDefinition), nil)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "undefined environment variables: DATA")

	_, err = LoadDefinition(common.WriteFile(t, dir, "demo.hcl", hclDefinitionText), map[string]string{"DATA": "/data"})
	assert.NotNil(t, err)
}

func TestLoadHclDefinitionUnknownJob(t *testing.T) {
	dir := t.TempDir()
	path := common.WriteFile(t, dir, "bad.hcl", `
job "a" {
  commands = ["cat ${job.nope.ofile}"]
}
`)
	_, err := LoadDefinition(path, nil)
	assert.NotNil(t, err)
}

func TestLoadDefinitionNameDefaultsToFile(t *testing.T) {
	dir := t.TempDir()
	path := common.WriteFile(t, dir, "unnamed.hcl", `
job "a" {
  commands = ["echo a"]
}
`)
	b, err := LoadDefinition(path, nil)
	assert.Nil(t, err)
	assert.Equal(t, "unnamed", b.Name())
}

func TestLoadDefinitionUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadDefinition(common.WriteFile(t, dir, "demo.json", "{}"), nil)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "unsupported definition format")
}
