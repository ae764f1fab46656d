package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dbFile = "tikrec.db"

type Store struct {
	db *sql.DB
}

var (
	hookOnce sync.Once
	gooseMu  sync.Mutex
)

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA cache_size = -4000", // 4MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	db, err := sql.Open("sqlite", filepath.Join(dataDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// goose keeps its base FS and dialect in package state.
func migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveJobs replaces the stored table with jobs in one transaction.
func (s *Store) SaveJobs(ctx context.Context, jobs []domain.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO jobs (
			id, seq, source_url, duration, quality, state, progress,
			artifact_filename, artifact_size, error_message, attempts,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range jobs {
		j := &jobs[i]
		var filename sql.NullString
		var size sql.NullInt64
		if j.Artifact != nil {
			filename = sql.NullString{String: j.Artifact.Filename, Valid: true}
			size = sql.NullInt64{Int64: j.Artifact.SizeBytes, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			j.ID, j.Seq, j.SourceURL, j.Duration, string(j.Quality), string(j.State), j.Progress,
			filename, size, j.Error, j.Attempts,
			formatTime(j.CreatedAt), formatOptionalTime(j.StartedAt), formatOptionalTime(j.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", j.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, source_url, duration, quality, state, progress,
			artifact_filename, artifact_size, error_message, attempts,
			created_at, started_at, completed_at
		FROM jobs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(rows *sql.Rows) (domain.Job, error) {
	var (
		j                      domain.Job
		quality, state         string
		filename               sql.NullString
		size                   sql.NullInt64
		createdAt              string
		startedAt, completedAt sql.NullString
	)
	err := rows.Scan(
		&j.ID, &j.Seq, &j.SourceURL, &j.Duration, &quality, &state, &j.Progress,
		&filename, &size, &j.Error, &j.Attempts,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job: %w", err)
	}

	j.Quality = domain.Quality(quality)
	j.State = domain.JobState(state)
	if filename.Valid {
		j.Artifact = &domain.Artifact{Filename: filename.String, SizeBytes: size.Int64}
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return j, fmt.Errorf("job %s created_at: %w", j.ID, err)
	}
	if j.StartedAt, err = parseOptionalTime(startedAt); err != nil {
		return j, fmt.Errorf("job %s started_at: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseOptionalTime(completedAt); err != nil {
		return j, fmt.Errorf("job %s completed_at: %w", j.ID, err)
	}
	return j, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var _ port.JobCheckpoint = (*Store)(nil)
