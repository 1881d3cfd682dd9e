package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cohortkit/models/constants"
	jobState "cohortkit/models/constants/job-state"
	"cohortkit/services/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LocalBackend runs jobs as bash scripts on this machine. Images and
// resource requests are recorded but not enforced
type LocalBackend struct {
	Store       storage.Store
	Workers     int
	Shell       string
	ScratchDir  string
	KeepScratch bool
	Log         logrus.FieldLogger

	// OnJobState is called from the scheduling goroutine on every transition
	OnJobState func(jobId string, state constants.JobState, message string)
}

func NewLocalBackend(store storage.Store, workers int, log logrus.FieldLogger) *LocalBackend {
	return &LocalBackend{
		Store:   store,
		Workers: workers,
		Shell:   "bash",
		Log:     log,
	}
}

type jobRun struct {
	state          constants.JobState
	pending        int
	upstreamFailed string
	err            error
}

type outcome struct {
	job    *Job
	output []byte
	err    error
}

func (l *LocalBackend) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

func (l *LocalBackend) notify(j *Job, state constants.JobState, message string) {
	if l.OnJobState != nil {
		l.OnJobState(j.id, state, message)
	}
}

func (l *LocalBackend) Run(ctx context.Context, b *Batch, opts RunOptions) (*Result, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	plan, err := b.Plan()
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return &Result{State: jobState.Pending, Jobs: pendingResults(plan)}, plan.Write(out)
	}

	store := l.Store
	if store == nil {
		store = storage.NewRouter(b.requesterPaysProject)
	}

	scratch, err := os.MkdirTemp(l.ScratchDir, "cohortkit-batch-")
	if err != nil {
		return nil, err
	}
	if !l.KeepScratch {
		defer os.RemoveAll(scratch)
	}

	batchId := uuid.NewString()
	log := l.log().WithFields(logrus.Fields{"batch": b.name, "batchId": batchId})
	log.Infof("running %d jobs locally in %s", len(plan.Order), scratch)

	// stage inputs
	inputPaths := map[string]string{}
	for _, in := range b.inputs {
		dst := filepath.Join(scratch, "inputs", in.id, path.Base(in.path))
		if err := store.Copy(ctx, in.path, dst); err != nil {
			return nil, fmt.Errorf("staging input %s: %w", in.path, err)
		}
		inputPaths[in.id] = dst
	}

	for _, j := range plan.Order {
		if err := os.MkdirAll(filepath.Join(scratch, j.id), 0o755); err != nil {
			return nil, err
		}
	}

	resolve := func(kind, id, file string) string {
		if kind == kindInput {
			return inputPaths[id]
		}
		return filepath.Join(scratch, id, file)
	}

	runs := l.execute(ctx, plan, scratch, resolve, out, log)

	// copy outputs whose producers succeeded
	var outputErrs []error
	for _, o := range b.outputs {
		var src string
		switch res := o.Source.(type) {
		case *JobResourceFile:
			if runs[res.job].state != jobState.Succeeded {
				log.Warnf("not writing %s: job '%s' did not succeed", o.Dest, res.job.name)
				continue
			}
			src = resolve(kindJob, res.job.id, res.name)
		case *InputResourceFile:
			src = inputPaths[res.id]
		}
		if err := store.Copy(ctx, src, o.Dest); err != nil {
			outputErrs = append(outputErrs, fmt.Errorf("writing output %s: %w", o.Dest, err))
			continue
		}
		log.Debugf("wrote %s", o.Dest)
	}

	result := &Result{BatchId: batchId, State: jobState.Succeeded}
	var failedJobs []string
	var rootCauseError error
	for _, j := range plan.Order {
		r := runs[j]
		jr := JobResult{Id: j.id, Name: j.name, State: r.state}
		if r.err != nil {
			jr.Message = r.err.Error()
		}
		result.Jobs = append(result.Jobs, jr)

		switch r.state {
		case jobState.Failed:
			// a skipped job is a symptom, not a cause
			failedJobs = append(failedJobs, j.name)
			if rootCauseError == nil {
				rootCauseError = r.err
			}
			result.State = jobState.Failed
		case jobState.Cancelled:
			if result.State == jobState.Succeeded {
				result.State = jobState.Cancelled
			}
		}
	}

	if rootCauseError != nil {
		return result, errors.Join(append([]error{
			fmt.Errorf("execution failed for %s: %w", strings.Join(failedJobs, ", "), rootCauseError),
		}, outputErrs...)...)
	}
	if result.State == jobState.Cancelled {
		return result, ctx.Err()
	}
	if len(outputErrs) > 0 {
		result.State = jobState.Failed
		return result, errors.Join(outputErrs...)
	}
	log.Infof("batch finished: %d jobs succeeded", len(plan.Order))
	return result, nil
}

/*
	execute schedules jobs from a single goroutine: roots start
	first, each finished job releases its dependents, and a failure
	skips every descendant that is not marked always-run
*/
func (l *LocalBackend) execute(ctx context.Context, plan *Plan, scratch string, resolve func(kind, id, file string) string, out io.Writer, log logrus.FieldLogger) map[*Job]*jobRun {
	workers := l.Workers
	if workers <= 0 {
		workers = 4
	}

	runs := make(map[*Job]*jobRun, len(plan.Order))
	var ready []*Job
	for _, j := range plan.Order {
		runs[j] = &jobRun{state: jobState.Pending, pending: len(plan.Dependencies(j))}
		if runs[j].pending == 0 {
			ready = append(ready, j)
		}
	}

	var release func(j *Job, ok bool)
	release = func(j *Job, ok bool) {
		for _, d := range plan.Dependents(j) {
			r := runs[d]
			r.pending--
			if !ok && r.upstreamFailed == "" {
				r.upstreamFailed = j.name
			}
			if r.pending > 0 {
				continue
			}
			if r.upstreamFailed != "" && !d.alwaysRun {
				r.state = jobState.Skipped
				r.err = fmt.Errorf("skipped due to upstream failure of '%s'", r.upstreamFailed)
				l.notify(d, r.state, r.err.Error())
				release(d, false)
				continue
			}
			ready = append(ready, d)
		}
	}

	results := make(chan outcome)
	running := 0
	for {
		for len(ready) > 0 && running < workers && ctx.Err() == nil {
			j := ready[0]
			ready = ready[1:]
			runs[j].state = jobState.Running
			l.notify(j, jobState.Running, "")
			log.Infof("starting job '%s'", j.name)

			running++
			go func(j *Job) {
				output, err := l.runJob(ctx, j, filepath.Join(scratch, j.id), resolve)
				results <- outcome{job: j, output: output, err: err}
			}(j)
		}
		if running == 0 {
			break
		}

		o := <-results
		running--
		r := runs[o.job]
		if len(o.output) > 0 {
			fmt.Fprintf(out, "--- %s ---\n%s", o.job.name, o.output)
			if o.output[len(o.output)-1] != '\n' {
				fmt.Fprintln(out)
			}
		}

		switch {
		case o.err == nil:
			r.state = jobState.Succeeded
			log.Infof("job '%s' succeeded", o.job.name)
			l.notify(o.job, r.state, "")
			release(o.job, true)
		case ctx.Err() != nil:
			// dependents stay pending and are cancelled below
			r.state = jobState.Cancelled
			r.err = ctx.Err()
			l.notify(o.job, r.state, r.err.Error())
		default:
			r.state = jobState.Failed
			r.err = o.err
			log.Errorf("job '%s' failed: %s", o.job.name, o.err)
			l.notify(o.job, r.state, o.err.Error())
			release(o.job, false)
		}
	}

	// anything never started was cut short by cancellation
	for _, j := range plan.Order {
		r := runs[j]
		if !jobState.IsTerminal(r.state) {
			r.state = jobState.Cancelled
			message := ""
			if ctx.Err() != nil {
				r.err = ctx.Err()
				message = r.err.Error()
			}
			l.notify(j, r.state, message)
		}
	}
	return runs
}

func (l *LocalBackend) runJob(ctx context.Context, j *Job, dir string, resolve func(kind, id, file string) string) ([]byte, error) {
	if len(j.commands) == 0 {
		return nil, nil
	}
	if image := j.EffectiveImage(); image != "" {
		l.log().Debugf("job '%s' would run in %s", j.name, image)
	}

	rendered := make([]string, 0, len(j.commands)+1)
	rendered = append(rendered, "set -e")
	for _, cmd := range j.commands {
		rendered = append(rendered, Render(cmd, resolve))
	}

	shell := l.Shell
	if shell == "" {
		shell = "bash"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", strings.Join(rendered, "\n"))
	cmd.Dir = dir
	// children of a killed shell may hold the output pipe open
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(j.env))
	for k := range j.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, j.env[k]))
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return output.Bytes(), fmt.Errorf("%w: %s", err, lastLine(output.String()))
	}
	return output.Bytes(), nil
}

func lastLine(text string) string {
	trimmed := strings.TrimRight(text, "\n")
	if idx := strings.LastIndex(trimmed, "\n"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func pendingResults(plan *Plan) []JobResult {
	results := make([]JobResult, 0, len(plan.Order))
	for _, j := range plan.Order {
		results = append(results, JobResult{Id: j.id, Name: j.name, State: jobState.Pending})
	}
	return results
}
