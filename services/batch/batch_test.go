package batch

import (
	"encoding/json"
	"errors"
	"testing"

	"cohortkit/models/jobs"

	"github.com/stretchr/testify/assert"
)

func jobSpec(id string, commands ...string) jobs.JobSpec {
	return jobs.JobSpec{Id: id, Name: id, Commands: commands}
}

func TestSpecRoundTrip(t *testing.T) {
	b := New("round-trip", WithDefaultImage("ubuntu:22.04"), WithRequesterPays("my-project"), WithAttribute("owner", "me"))
	in := b.ReadInput("gs://bucket/in.txt")
	s := b.NewJob("first").Cpu(2).Memory("standard").Storage("20G").Env("GREETING", "hi")
	s.Command("cat " + in.String() + " > " + s.Ofile("ofile").String())
	t2 := b.NewJob("second").Image("python:3.10").AlwaysRun(true).DependsOn(s)
	t2.Command("wc -l " + s.Ofile("ofile").String())
	b.WriteOutput(s.Ofile("ofile"), "gs://bucket/out.txt")

	spec := b.Spec()
	payload, err := json.Marshal(spec)
	assert.Nil(t, err)

	var decoded jobs.BatchSpec
	assert.Nil(t, json.Unmarshal(payload, &decoded))

	rebuilt, err := FromSpec(decoded)
	assert.Nil(t, err)
	assert.Equal(t, spec, rebuilt.Spec())

	second, ok := rebuilt.Job("j2")
	assert.True(t, ok)
	assert.Equal(t, "python:3.10", second.EffectiveImage())
	first, _ := rebuilt.Job("j1")
	assert.Equal(t, "ubuntu:22.04", first.EffectiveImage())
	assert.Equal(t, map[string]string{"GREETING": "hi"}, first.env)
}

func TestFromSpecDefaultsIdToName(t *testing.T) {
	spec := jobs.BatchSpec{
		Name: "ids",
		Jobs: []jobs.JobSpec{
			{Name: "prepare", Commands: []string{"echo x > ${job.prepare.ofile}"}},
			{Name: "not an identifier", Commands: []string{"cat ${job.prepare.ofile}"}},
		},
	}
	b, err := FromSpec(spec)
	assert.Nil(t, err)

	_, ok := b.Job("prepare")
	assert.True(t, ok)
	j2, ok := b.Job("j2")
	assert.True(t, ok)
	assert.Equal(t, "not an identifier", j2.Name())
}

func TestFromSpecUnknownDependency(t *testing.T) {
	spec := jobs.BatchSpec{
		Name: "broken",
		Jobs: []jobs.JobSpec{{Id: "a", DependsOn: []string{"missing"}}},
	}
	_, err := FromSpec(spec)
	assert.True(t, errors.Is(err, ErrUnknownJob))
}

func TestFromSpecBadOutputSource(t *testing.T) {
	spec := jobs.BatchSpec{
		Name:    "outputs",
		Jobs:    []jobs.JobSpec{jobSpec("a", "echo")},
		Outputs: []jobs.OutputSpec{{Source: "a.ofile", Dest: "/tmp/x"}},
	}
	_, err := FromSpec(spec)
	assert.True(t, errors.Is(err, ErrUnknownResource))
}

func TestInvalidFileName(t *testing.T) {
	b := New("names")
	b.NewJob("a").Ofile("not valid")
	_, err := b.Plan()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "invalid file name")
}
