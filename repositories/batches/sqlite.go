package batches

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cohortkit/models/constants"
	jobState "cohortkit/models/constants/job-state"
	"cohortkit/models/jobs"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	state      TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	spec       TEXT NOT NULL,
	jobs       TEXT NOT NULL
)`

// batchRow is a BatchRecord as stored; times are unix nanoseconds and
// the spec and job list are JSON documents
type batchRow struct {
	Id        string `db:"id"`
	Name      string `db:"name"`
	State     string `db:"state"`
	Message   string `db:"message"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Spec      string `db:"spec"`
	Jobs      string `db:"jobs"`
}

type SqliteStore struct {
	DB *sqlx.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	// URI filenames have to begin with 'file:'
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{DB: db}, nil
}

func toRow(r *jobs.BatchRecord) (*batchRow, error) {
	spec, err := json.Marshal(r.Spec)
	if err != nil {
		return nil, err
	}
	jobList := r.Jobs
	if jobList == nil {
		jobList = []jobs.JobRecord{}
	}
	jobsJson, err := json.Marshal(jobList)
	if err != nil {
		return nil, err
	}
	return &batchRow{
		Id:        r.Id,
		Name:      r.Name,
		State:     string(r.State),
		Message:   r.Message,
		CreatedAt: r.CreatedAt.UnixNano(),
		UpdatedAt: r.UpdatedAt.UnixNano(),
		Spec:      string(spec),
		Jobs:      string(jobsJson),
	}, nil
}

func (row *batchRow) record() (*jobs.BatchRecord, error) {
	r := &jobs.BatchRecord{
		Id:        row.Id,
		Name:      row.Name,
		State:     constants.JobState(row.State),
		Message:   row.Message,
		CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, row.UpdatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(row.Spec), &r.Spec); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.Jobs), &r.Jobs); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SqliteStore) Save(ctx context.Context, r *jobs.BatchRecord) error {
	row, err := toRow(r)
	if err != nil {
		return err
	}
	_, err = s.DB.NamedExecContext(ctx, `
		INSERT INTO batches (id, name, state, message, created_at, updated_at, spec, jobs)
		VALUES (:id, :name, :state, :message, :created_at, :updated_at, :spec, :jobs)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			message = excluded.message,
			updated_at = excluded.updated_at,
			spec = excluded.spec,
			jobs = excluded.jobs`, row)
	return err
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*jobs.BatchRecord, error) {
	var row batchRow
	err := s.DB.GetContext(ctx, &row, "SELECT * FROM batches WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record()
}

func (s *SqliteStore) List(ctx context.Context) ([]*jobs.BatchRecord, error) {
	var rows []batchRow
	if err := s.DB.SelectContext(ctx, &rows, "SELECT * FROM batches ORDER BY created_at, id"); err != nil {
		return nil, err
	}

	out := make([]*jobs.BatchRecord, 0, len(rows))
	for i := range rows {
		r, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SqliteStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	terminal := []string{}
	for _, state := range jobState.TerminalStates() {
		terminal = append(terminal, string(state))
	}

	query, args, err := sqlx.In("DELETE FROM batches WHERE updated_at < ? AND state IN (?)", cutoff.UnixNano(), terminal)
	if err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
