package batch

import (
	"fmt"
	"regexp"
)

const (
	kindJob   = "job"
	kindInput = "input"
)

var (
	identifierPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	placeholderPattern = regexp.MustCompile(`\$\{(job|input)\.([A-Za-z0-9_-]+)(?:\.([A-Za-z0-9_-]+))?\}`)
)

// Resource is a file a job can read or produce. Its string form is a
// placeholder that backends substitute with a concrete path
type Resource interface {
	fmt.Stringer
	Placeholder() string
}

// JobResourceFile is a file written by a job, addressed as ${job.<id>.<name>}
type JobResourceFile struct {
	job  *Job
	name string
}

func (f *JobResourceFile) Job() *Job {
	return f.job
}

func (f *JobResourceFile) Name() string {
	return f.name
}

func (f *JobResourceFile) Placeholder() string {
	return fmt.Sprintf("${%s.%s.%s}", kindJob, f.job.id, f.name)
}

func (f *JobResourceFile) String() string {
	return f.Placeholder()
}

// InputResourceFile is a file staged into the batch before any job runs,
// addressed as ${input.<id>}
type InputResourceFile struct {
	id   string
	path string
}

func (f *InputResourceFile) Id() string {
	return f.id
}

func (f *InputResourceFile) Path() string {
	return f.path
}

func (f *InputResourceFile) Placeholder() string {
	return fmt.Sprintf("${%s.%s}", kindInput, f.id)
}

func (f *InputResourceFile) String() string {
	return f.Placeholder()
}

type reference struct {
	kind string
	id   string
	file string
}

func findReferences(text string) []reference {
	var refs []reference
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		refs = append(refs, reference{kind: m[1], id: m[2], file: m[3]})
	}
	return refs
}

// Render substitutes every placeholder in text with resolve's answer
func Render(text string, resolve func(kind, id, file string) string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		m := placeholderPattern.FindStringSubmatch(match)
		return resolve(m[1], m[2], m[3])
	})
}

type Output struct {
	Source Resource
	Dest   string
}

// IsPlaceholder reports whether text is exactly one resource placeholder
func IsPlaceholder(text string) bool {
	loc := placeholderPattern.FindStringIndex(text)
	return loc != nil && loc[0] == 0 && loc[1] == len(text)
}
