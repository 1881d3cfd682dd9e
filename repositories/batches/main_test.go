package batches

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	jobState "cohortkit/models/constants/job-state"
	"cohortkit/models/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, created time.Time) *jobs.BatchRecord {
	return &jobs.BatchRecord{
		Id:        id,
		Name:      "batch " + id,
		State:     jobState.Queued,
		CreatedAt: created,
		UpdatedAt: created,
		Spec: jobs.BatchSpec{
			Name: "batch " + id,
			Jobs: []jobs.JobSpec{{Id: "hello", Name: "hello", Commands: []string{"echo hello"}}},
		},
		Jobs: []jobs.JobRecord{{Id: "hello", Name: "hello", State: jobState.Pending}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSqliteStore(filepath.Join(t.TempDir(), "batches.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestSaveAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)

		r := record("a", created)
		require.NoError(t, s.Save(ctx, r))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, r, got)

		// updates replace the stored record
		r.State = jobState.Succeeded
		r.Jobs[0].State = jobState.Succeeded
		r.UpdatedAt = created.Add(time.Minute)
		require.NoError(t, s.Save(ctx, r))

		got, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, jobState.Succeeded, got.State)
		assert.Equal(t, jobState.Succeeded, got.Jobs[0].State)
		assert.Equal(t, created.Add(time.Minute), got.UpdatedAt)
		assert.Equal(t, created, got.CreatedAt)
	})
}

func TestGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoredRecordsAreCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		r := record("a", time.Now().UTC())
		require.NoError(t, s.Save(ctx, r))

		r.Jobs[0].State = jobState.Failed
		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, jobState.Pending, got.Jobs[0].State)
	})
}

func TestListOrdersByCreation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.Save(ctx, record("c", base.Add(2*time.Hour))))
		require.NoError(t, s.Save(ctx, record("a", base)))
		require.NoError(t, s.Save(ctx, record("b", base.Add(time.Hour))))

		list, err := s.List(ctx)
		require.NoError(t, err)
		var ids []string
		for _, r := range list {
			ids = append(ids, r.Id)
		}
		assert.Equal(t, []string{"a", "b", "c"}, ids)
	})
}

func TestDeleteTerminalBefore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Date(2022, 3, 10, 0, 0, 0, 0, time.UTC)
		old := now.Add(-96 * time.Hour)

		finished := record("finished", old)
		finished.State = jobState.Succeeded
		cancelled := record("cancelled", old)
		cancelled.State = jobState.Cancelled
		running := record("running", old)
		running.State = jobState.Running
		recent := record("recent", now)
		recent.State = jobState.Failed

		for _, r := range []*jobs.BatchRecord{finished, cancelled, running, recent} {
			require.NoError(t, s.Save(ctx, r))
		}

		deleted, err := s.DeleteTerminalBefore(ctx, now.Add(-72*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		list, err := s.List(ctx)
		require.NoError(t, err)
		var ids []string
		for _, r := range list {
			ids = append(ids, r.Id)
		}
		assert.ElementsMatch(t, []string{"running", "recent"}, ids)
	})
}

func TestOpen(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(filepath.Join(t.TempDir(), "batches.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SqliteStore{}, s)
}
