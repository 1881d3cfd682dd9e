package batches

import (
	"context"
	"sync"
	"time"

	jobState "cohortkit/models/constants/job-state"
	"cohortkit/models/jobs"
)

type MemoryStore struct {
	records map[string]*jobs.BatchRecord
	mux     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*jobs.BatchRecord{}}
}

func (s *MemoryStore) Save(ctx context.Context, r *jobs.BatchRecord) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.records[r.Id] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*jobs.BatchRecord, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*jobs.BatchRecord, error) {
	s.mux.RLock()
	out := make([]*jobs.BatchRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mux.RUnlock()

	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	deleted := 0
	for id, r := range s.records {
		if jobState.IsTerminal(r.State) && r.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
