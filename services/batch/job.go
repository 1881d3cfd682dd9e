package batch

import (
	"fmt"
	"sort"
)

// Job is a named unit of work made of shell commands. Setters
// return the job so calls can be chained
type Job struct {
	batch     *Batch
	index     int
	id        string
	name      string
	commands  []string
	image     string
	cpu       float64
	memory    string
	storage   string
	env       map[string]string
	deps      []*Job
	files     map[string]*JobResourceFile
	alwaysRun bool
}

func (j *Job) Id() string {
	return j.id
}

func (j *Job) Name() string {
	return j.name
}

func (j *Job) Commands() []string {
	return append([]string(nil), j.commands...)
}

func (j *Job) Command(cmd string) *Job {
	j.commands = append(j.commands, cmd)
	return j
}

func (j *Job) Image(image string) *Job {
	j.image = image
	return j
}

// EffectiveImage falls back to the batch's default image
func (j *Job) EffectiveImage() string {
	if j.image != "" {
		return j.image
	}
	return j.batch.defaultImage
}

func (j *Job) Cpu(cpu float64) *Job {
	j.cpu = cpu
	return j
}

func (j *Job) Memory(memory string) *Job {
	j.memory = memory
	return j
}

func (j *Job) Storage(storage string) *Job {
	j.storage = storage
	return j
}

func (j *Job) Env(key, value string) *Job {
	if j.env == nil {
		j.env = map[string]string{}
	}
	j.env[key] = value
	return j
}

// AlwaysRun lets the job run even when a predecessor failed
func (j *Job) AlwaysRun(always bool) *Job {
	j.alwaysRun = always
	return j
}

func (j *Job) DependsOn(jobs ...*Job) *Job {
	for _, dep := range jobs {
		if dep == nil {
			continue
		}
		if dep.batch != j.batch {
			j.batch.addErr(fmt.Errorf("job '%s' cannot depend on '%s' from another batch", j.name, dep.name))
			continue
		}
		if dep == j {
			j.batch.addErr(fmt.Errorf("self-referential dependency not allowed: %s -> %s", j.name, j.name))
			continue
		}
		j.deps = append(j.deps, dep)
	}
	return j
}

// Ofile declares (or returns) the output file name of this job
func (j *Job) Ofile(name string) *JobResourceFile {
	if f, ok := j.files[name]; ok {
		return f
	}
	if !identifierPattern.MatchString(name) {
		j.batch.addErr(fmt.Errorf("job '%s': invalid file name %q", j.name, name))
	}
	f := &JobResourceFile{job: j, name: name}
	j.files[name] = f
	return f
}

// Files lists the declared output file names
func (j *Job) Files() []string {
	names := make([]string, 0, len(j.files))
	for n := range j.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
