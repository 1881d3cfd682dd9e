package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cohortkit/models"
	"cohortkit/models/constants"
	jobState "cohortkit/models/constants/job-state"
	"cohortkit/models/jobs"
	"cohortkit/repositories/batches"
	"cohortkit/services/batch"
	"cohortkit/services/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidSpec     = errors.New("invalid batch spec")
	ErrBatchFinished   = errors.New("batch already finished")
	ErrServiceShutdown = errors.New("batch service is shutting down")
)

type (
	BatchService struct {
		Initialized          bool
		SubmitChan           chan string
		ConcurrentBatchQueue chan bool
		Store                batches.Store
		Storage              storage.Store
		Workers              int
		ScratchDir           string
		Log                  logrus.FieldLogger

		// guards record updates and the cancel funcs of running batches
		BatchesMux sync.RWMutex
		running    map[string]context.CancelFunc

		ctx    context.Context
		stop   context.CancelFunc
		wg     sync.WaitGroup
		initMu sync.Mutex
	}
)

func NewBatchService(cfg *models.Config, store batches.Store, objects storage.Store, log logrus.FieldLogger) *BatchService {
	concurrency := cfg.Server.ConcurrentBatches
	if concurrency <= 0 {
		concurrency = 1
	}
	ctx, stop := context.WithCancel(context.Background())

	return &BatchService{
		SubmitChan:           make(chan string, 100),
		ConcurrentBatchQueue: make(chan bool, concurrency),
		Store:                store,
		Storage:              objects,
		Workers:              cfg.Server.Workers,
		ScratchDir:           cfg.Server.ScratchDir,
		Log:                  log,
		running:              map[string]context.CancelFunc{},
		ctx:                  ctx,
		stop:                 stop,
	}
}

// Init starts the dispatcher; it is safe to call more than once
func (s *BatchService) Init() {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.Initialized {
		return
	}

	s.resume()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case id := <-s.SubmitChan:
				// wait for a free slot
				select {
				case s.ConcurrentBatchQueue <- true:
				case <-s.ctx.Done():
					return
				}

				s.wg.Add(1)
				go func(id string) {
					defer func() {
						<-s.ConcurrentBatchQueue
						s.wg.Done()
					}()
					s.execute(id)
				}(id)
			}
		}
	}()

	s.Initialized = true
	s.Log.Info("batch service initialized")
}

/*
	resume picks up where a previous service over the same store left
	off: queued batches are dispatched again, and batches recorded as
	running can no longer be, so they are marked failed
*/
func (s *BatchService) resume() {
	records, err := s.Store.List(s.ctx)
	if err != nil {
		s.Log.Errorf("cannot resume batches: %s", err)
		return
	}

	var queued []string
	for _, r := range records {
		switch r.State {
		case jobState.Queued:
			queued = append(queued, r.Id)
		case jobState.Running:
			markFinished(r, jobState.Failed, "interrupted by a batch service restart")
			s.BatchesMux.Lock()
			err := s.Store.Save(s.ctx, r)
			s.BatchesMux.Unlock()
			if err != nil {
				s.Log.WithField("batchId", r.Id).Errorf("cannot close out interrupted batch: %s", err)
				continue
			}
			s.Log.WithField("batchId", r.Id).Warn("batch was interrupted by a restart")
		}
	}
	if len(queued) == 0 {
		return
	}

	s.Log.Infof("resuming %d queued batches", len(queued))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, id := range queued {
			select {
			case s.SubmitChan <- id:
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Shutdown cancels running batches and waits for them to settle
func (s *BatchService) Shutdown() {
	s.stop()
	s.wg.Wait()
}

// Submit validates spec, records it as queued and hands it to the dispatcher
func (s *BatchService) Submit(ctx context.Context, spec jobs.BatchSpec) (*jobs.BatchRecord, error) {
	if s.ctx.Err() != nil {
		return nil, ErrServiceShutdown
	}

	b, err := batch.FromSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	plan, err := b.Plan()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	now := time.Now().UTC()
	record := &jobs.BatchRecord{
		Id:        uuid.NewString(),
		Name:      b.Name(),
		State:     jobState.Queued,
		CreatedAt: now,
		UpdatedAt: now,
		Spec:      spec,
		Jobs:      make([]jobs.JobRecord, 0, len(plan.Order)),
	}
	for _, j := range plan.Order {
		record.Jobs = append(record.Jobs, jobs.JobRecord{Id: j.Id(), Name: j.Name(), State: jobState.Pending})
	}

	if err := s.Store.Save(ctx, record); err != nil {
		return nil, err
	}

	select {
	case s.SubmitChan <- record.Id:
	case <-ctx.Done():
		s.finish(record.Id, jobState.Cancelled, "submission abandoned")
		return nil, ctx.Err()
	}

	s.Log.WithField("batchId", record.Id).Infof("queued batch '%s' with %d jobs", record.Name, len(record.Jobs))
	return record, nil
}

func (s *BatchService) Get(ctx context.Context, id string) (*jobs.BatchRecord, error) {
	s.BatchesMux.RLock()
	defer s.BatchesMux.RUnlock()
	return s.Store.Get(ctx, id)
}

func (s *BatchService) List(ctx context.Context) ([]*jobs.BatchRecord, error) {
	s.BatchesMux.RLock()
	defer s.BatchesMux.RUnlock()
	return s.Store.List(ctx)
}

/*
	Cancel stops a batch. A queued batch is marked cancelled straight
	away; a running one has its context cancelled and is marked once its
	jobs have wound down
*/
func (s *BatchService) Cancel(ctx context.Context, id string) (*jobs.BatchRecord, error) {
	s.BatchesMux.Lock()
	defer s.BatchesMux.Unlock()

	record, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if jobState.IsTerminal(record.State) {
		return record, ErrBatchFinished
	}

	if cancel, isRunning := s.running[id]; isRunning {
		cancel()
		s.Log.WithField("batchId", id).Info("cancellation requested")
		return record, nil
	}

	markFinished(record, jobState.Cancelled, "cancelled before start")
	if err := s.Store.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *BatchService) execute(id string) {
	log := s.Log.WithField("batchId", id)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// claim the batch unless it was cancelled while queued
	s.BatchesMux.Lock()
	record, err := s.Store.Get(ctx, id)
	if err != nil {
		s.BatchesMux.Unlock()
		log.Errorf("cannot load queued batch: %s", err)
		return
	}
	// a stopping service leaves queued batches for the next one
	if record.State != jobState.Queued || s.ctx.Err() != nil {
		s.BatchesMux.Unlock()
		return
	}
	record.State = jobState.Running
	record.UpdatedAt = time.Now().UTC()
	if err := s.Store.Save(ctx, record); err != nil {
		s.BatchesMux.Unlock()
		log.Errorf("cannot start batch: %s", err)
		return
	}
	s.running[id] = cancel
	s.BatchesMux.Unlock()

	defer func() {
		s.BatchesMux.Lock()
		delete(s.running, id)
		s.BatchesMux.Unlock()
	}()

	backend := batch.NewLocalBackend(s.Storage, s.Workers, log)
	backend.ScratchDir = s.ScratchDir
	backend.OnJobState = func(jobId string, state constants.JobState, message string) {
		s.update(id, func(r *jobs.BatchRecord) {
			for i := range r.Jobs {
				if r.Jobs[i].Id == jobId {
					r.Jobs[i].State = state
					r.Jobs[i].Message = message
				}
			}
		})
	}

	b, err := batch.FromSpec(record.Spec, batch.WithBackend(backend))
	if err != nil {
		s.finish(id, jobState.Failed, err.Error())
		return
	}

	out := jobOutput(log)
	defer out.Close()

	log.Infof("running batch '%s'", record.Name)
	result, runErr := b.Run(ctx, batch.RunOptions{Out: out})

	switch {
	case ctx.Err() != nil:
		s.finish(id, jobState.Cancelled, "cancelled")
	case runErr != nil:
		s.finish(id, jobState.Failed, runErr.Error())
	case result != nil:
		s.finish(id, result.State, "")
	default:
		s.finish(id, jobState.Succeeded, "")
	}
}

func jobOutput(log logrus.FieldLogger) io.WriteCloser {
	if entry, ok := log.(*logrus.Entry); ok {
		return entry.WriterLevel(logrus.DebugLevel)
	}
	return nopCloser{io.Discard}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (s *BatchService) update(id string, fn func(r *jobs.BatchRecord)) {
	s.BatchesMux.Lock()
	defer s.BatchesMux.Unlock()

	record, err := s.Store.Get(context.Background(), id)
	if err != nil {
		s.Log.WithField("batchId", id).Errorf("cannot update batch: %s", err)
		return
	}
	fn(record)
	record.UpdatedAt = time.Now().UTC()
	if err := s.Store.Save(context.Background(), record); err != nil {
		s.Log.WithField("batchId", id).Errorf("cannot update batch: %s", err)
	}
}

func (s *BatchService) finish(id string, state constants.JobState, message string) {
	s.update(id, func(r *jobs.BatchRecord) {
		markFinished(r, state, message)
	})
	s.Log.WithField("batchId", id).Infof("batch finished as %s", state)
}

// markFinished sets the batch state and closes out jobs that never reached one
func markFinished(r *jobs.BatchRecord, state constants.JobState, message string) {
	r.State = state
	r.Message = message
	r.UpdatedAt = time.Now().UTC()
	for i := range r.Jobs {
		if !jobState.IsTerminal(r.Jobs[i].State) {
			r.Jobs[i].State = jobState.Cancelled
		}
	}
}
