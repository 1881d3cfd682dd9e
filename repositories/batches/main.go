package batches

import (
	"context"
	"errors"
	"sort"
	"time"

	"cohortkit/models/jobs"
)

var ErrNotFound = errors.New("batch not found")

// Store persists batch records submitted to the batch server
type Store interface {
	// Save inserts or replaces the record with the same id
	Save(ctx context.Context, r *jobs.BatchRecord) error
	Get(ctx context.Context, id string) (*jobs.BatchRecord, error)
	// List returns every record, oldest first
	List(ctx context.Context) ([]*jobs.BatchRecord, error)
	// DeleteTerminalBefore removes finished records last updated before cutoff
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open returns a SQLite store for a non-empty path, an in-memory one otherwise
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	return NewSqliteStore(path)
}

func sortByCreation(records []*jobs.BatchRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Id < records[j].Id
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
