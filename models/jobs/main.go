package jobs

import (
	"cohortkit/models/constants"
	"time"
)

// -- Specs: the serialised form of a job graph, shared by
// definition files, the service backend and the batch server
type BatchSpec struct {
	Name                 string            `json:"name" yaml:"name"`
	DefaultImage         string            `json:"defaultImage,omitempty" yaml:"default_image"`
	BillingProject       string            `json:"billingProject,omitempty" yaml:"billing_project"`
	RequesterPaysProject string            `json:"requesterPaysProject,omitempty" yaml:"requester_pays_project"`
	Attributes           map[string]string `json:"attributes,omitempty" yaml:"attributes"`
	Inputs               []InputSpec       `json:"inputs,omitempty" yaml:"inputs"`
	Outputs              []OutputSpec      `json:"outputs,omitempty" yaml:"outputs"`
	Jobs                 []JobSpec         `json:"jobs" yaml:"jobs"`
}

type JobSpec struct {
	Id        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Image     string            `json:"image,omitempty" yaml:"image"`
	Commands  []string          `json:"commands" yaml:"commands"`
	Cpu       float64           `json:"cpu,omitempty" yaml:"cpu"`
	Memory    string            `json:"memory,omitempty" yaml:"memory"`
	Storage   string            `json:"storage,omitempty" yaml:"storage"`
	Env       map[string]string `json:"env,omitempty" yaml:"env"`
	DependsOn []string          `json:"dependsOn,omitempty" yaml:"depends_on"`
	AlwaysRun bool              `json:"alwaysRun,omitempty" yaml:"always_run"`
}

type InputSpec struct {
	Id   string `json:"id" yaml:"id"`
	Path string `json:"path" yaml:"path"`
}

// Source is a resource placeholder, e.g. ${job.align.ofile}
type OutputSpec struct {
	Source string `json:"source" yaml:"source"`
	Dest   string `json:"dest" yaml:"dest"`
}

// -- Records: what the batch server tracks per submission
type BatchRecord struct {
	Id        string             `json:"id"`
	Name      string             `json:"name"`
	State     constants.JobState `json:"state"`
	Message   string             `json:"message"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Spec      BatchSpec          `json:"spec"`
	Jobs      []JobRecord        `json:"jobs"`
}

type JobRecord struct {
	Id      string             `json:"id"`
	Name    string             `json:"name"`
	State   constants.JobState `json:"state"`
	Message string             `json:"message"`
}

func (r *BatchRecord) Clone() *BatchRecord {
	clone := *r
	clone.Jobs = append([]JobRecord(nil), r.Jobs...)
	return &clone
}
