package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jobState "cohortkit/models/constants/job-state"
	"cohortkit/models/jobs"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type fakeBatchService struct {
	submitted   jobs.BatchSpec
	submissions int32
	polls       int32
	failFirst   bool
	finalState  string
}

func (f *fakeBatchService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/batches", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		if atomic.AddInt32(&f.submissions, 1) == 1 && f.failFirst {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&f.submitted))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "b-123", "state": "Queued"}`))
	})
	mux.HandleFunc("/api/v1/batches/b-123", func(w http.ResponseWriter, r *http.Request) {
		state := "Running"
		if atomic.AddInt32(&f.polls, 1) >= 2 {
			state = f.finalState
		}
		w.Write([]byte(`{"id": "b-123", "name": "remote", "state": "` + state + `", "message": "",
			"jobs": [{"id": "j1", "name": "hello", "state": "` + state + `"}]}`))
	})
	return mux
}

func newTestServiceBackend(url string) *ServiceBackend {
	logger, _ := test.NewNullLogger()
	return &ServiceBackend{
		Url:            url,
		Token:          "secret",
		BillingProject: "billing",
		PollInterval:   10 * time.Millisecond,
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		},
		Log: logger,
	}
}

func remoteBatch(backend Backend) *Batch {
	b := New("remote", WithBackend(backend), WithDefaultImage("ubuntu:22.04"))
	j := b.NewJob("hello")
	j.Command("echo hello > " + j.Ofile("ofile").String())
	b.WriteOutput(j.Ofile("ofile"), "gs://bucket/hello.txt")
	return b
}

func TestServiceBackendSubmits(t *testing.T) {
	fake := &fakeBatchService{finalState: "Succeeded"}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	result, err := remoteBatch(newTestServiceBackend(server.URL)).Run(context.Background(), RunOptions{})
	assert.Nil(t, err)
	assert.Equal(t, "b-123", result.BatchId)
	assert.Equal(t, jobState.Queued, result.State)

	assert.Equal(t, "remote", fake.submitted.Name)
	assert.Equal(t, "billing", fake.submitted.BillingProject)
	assert.Equal(t, []string{"echo hello > ${job.j1.ofile}"}, fake.submitted.Jobs[0].Commands)
	assert.Equal(t, "${job.j1.ofile}", fake.submitted.Outputs[0].Source)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fake.polls))
}

func TestServiceBackendRetriesAndWaits(t *testing.T) {
	fake := &fakeBatchService{failFirst: true, finalState: "Succeeded"}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	result, err := remoteBatch(newTestServiceBackend(server.URL)).Run(context.Background(), RunOptions{Wait: true})
	assert.Nil(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.submissions))
	assert.Equal(t, jobState.Succeeded, result.State)
	assert.Equal(t, []JobResult{{Id: "j1", Name: "hello", State: jobState.Succeeded}}, result.Jobs)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fake.polls), int32(2))
}

func TestServiceBackendDoesNotResubmitAfterServerError(t *testing.T) {
	var submissions int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&submissions, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := remoteBatch(newTestServiceBackend(server.URL)).Run(context.Background(), RunOptions{})
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(1), atomic.LoadInt32(&submissions))
}

func TestServiceBackendReportsFailure(t *testing.T) {
	fake := &fakeBatchService{finalState: "Failed"}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	result, err := remoteBatch(newTestServiceBackend(server.URL)).Run(context.Background(), RunOptions{Wait: true})
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "finished as Failed")
	assert.Equal(t, jobState.Failed, result.State)
}

func TestServiceBackendDryRun(t *testing.T) {
	backend := newTestServiceBackend("http://127.0.0.1:1")

	var out bytes.Buffer
	result, err := remoteBatch(backend).Run(context.Background(), RunOptions{DryRun: true, Out: &out})
	assert.Nil(t, err)
	assert.Equal(t, jobState.Pending, result.State)
	assert.Contains(t, out.String(), "$ echo hello > ${job.j1.ofile}")
}

func TestServiceBackendRejectsClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "bad spec"}`))
	}))
	defer server.Close()

	_, err := remoteBatch(newTestServiceBackend(server.URL)).Run(context.Background(), RunOptions{})
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "bad spec")
}
