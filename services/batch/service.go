package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cohortkit/models"
	"cohortkit/models/dtos"
	jobState "cohortkit/models/constants/job-state"
	"cohortkit/utils"

	"github.com/Jeffail/gabs"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// ServiceBackend submits batches to a remote batch service
// (the server started by `cohortkit batch serve`)
type ServiceBackend struct {
	Url            string
	Token          string
	BillingProject string
	RemoteTmpDir   string
	PollInterval   time.Duration
	Client         *http.Client
	NewBackOff     func() backoff.BackOff
	Log            logrus.FieldLogger
}

func NewServiceBackend(cfg *models.Config, log logrus.FieldLogger) *ServiceBackend {
	return &ServiceBackend{
		Url:            strings.TrimSuffix(cfg.Batch.Url, "/"),
		Token:          cfg.Batch.Token,
		BillingProject: cfg.Hail.BillingProject,
		RemoteTmpDir:   cfg.Hail.RemoteTmpDir,
		PollInterval:   5 * time.Second,
		Log:            log,
	}
}

func (s *ServiceBackend) backOff() backoff.BackOff {
	if s.NewBackOff != nil {
		return s.NewBackOff()
	}
	return utils.DefaultBackOff()
}

func (s *ServiceBackend) log() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *ServiceBackend) headers(ctx context.Context) (http.Header, error) {
	token, err := utils.BearerToken(ctx, s.Token)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (s *ServiceBackend) Run(ctx context.Context, b *Batch, opts RunOptions) (*Result, error) {
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
	if s.Url == "" {
		return nil, fmt.Errorf("no batch service url configured")
	}

	spec := b.Spec()
	if spec.BillingProject == "" {
		spec.BillingProject = s.BillingProject
	}
	if s.RemoteTmpDir != "" {
		if spec.Attributes == nil {
			spec.Attributes = map[string]string{}
		}
		spec.Attributes["remote_tmpdir"] = s.RemoteTmpDir
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}

	headers, err := s.headers(ctx)
	if err != nil {
		return nil, err
	}

	submitUrl := s.Url + "/api/v1/batches"
	body, err := utils.DoWithRetry(ctx, s.Client, func() (*http.Request, error) {
		request, err := http.NewRequest(http.MethodPost, submitUrl, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		request.Header = headers.Clone()
		return request, nil
	}, s.backOff(), s.log())
	if err != nil {
		return nil, fmt.Errorf("submitting batch '%s': %w", b.name, err)
	}

	jsonParsed, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("parsing submission response: %w", err)
	}
	batchId, ok := jsonParsed.Path("id").Data().(string)
	if !ok || batchId == "" {
		return nil, fmt.Errorf("submission response carries no batch id: %s", string(body))
	}
	s.log().Infof("submitted batch '%s' as %s/api/v1/batches/%s", b.name, s.Url, batchId)

	if !opts.Wait {
		return &Result{BatchId: batchId, State: jobState.Queued, Jobs: pendingResults(plan)}, nil
	}
	return s.wait(ctx, batchId, headers)
}

// wait polls the batch until it reaches a terminal state
func (s *ServiceBackend) wait(ctx context.Context, batchId string, headers http.Header) (*Result, error) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	statusUrl := fmt.Sprintf("%s/api/v1/batches/%s", s.Url, batchId)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := utils.GetJson[dtos.BatchResponseDto](ctx, s.Client, statusUrl, headers, s.backOff(), s.log())
		if err != nil {
			return nil, err
		}

		if jobState.IsTerminal(status.State) {
			result := &Result{BatchId: batchId, State: status.State}
			for _, j := range status.Jobs {
				result.Jobs = append(result.Jobs, JobResult{Id: j.Id, Name: j.Name, State: j.State, Message: j.Message})
			}
			if status.State != jobState.Succeeded {
				return result, fmt.Errorf("batch %s finished as %s: %s", batchId, status.State, status.Message)
			}
			return result, nil
		}
		s.log().Debugf("batch %s is %s", batchId, status.State)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
