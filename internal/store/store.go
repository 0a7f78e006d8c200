// Package store provides the PostgreSQL-backed persistence for the ETL
// pipeline: job state, source descriptors and the analytics metric
// warehouse.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/construction-hub/analytics-service/internal/etl/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// opTimeout bounds a single database operation.
const opTimeout = 10 * time.Second

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL connection pool and implements the
// orchestrator and quality reporter collaborator interfaces.
type Manager struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// Connect creates a store manager with a PostgreSQL connection pool using
// the provided configuration. The connection is validated with a ping.
func Connect(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}
	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{dbpool: dbpool}, nil
}

// Ping verifies that the database connection is alive.
func (s Manager) Ping(ctx context.Context) error {
	if s.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.dbpool.Ping(ctx)
}

// Job returns the job with the given id, or ErrNotFound.
func (s Manager) Job(ctx context.Context, id string) (models.Job, error) {
	if s.dbpool == nil {
		return models.Job{}, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var job models.Job
	err := s.dbpool.QueryRow(ctx, `
		SELECT id, source_id, job_name, status, records_processed, records_failed,
		       started_at, ended_at, error_message, result_metadata
		FROM etl_jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.SourceID, &job.Name, &job.Status, &job.RecordsProcessed, &job.RecordsFailed,
			&job.StartedAt, &job.EndedAt, &job.ErrorMessage, &job.ResultMetadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("failed to load job %q: %v", id, err)
	}

	return job, nil
}

// SaveJob inserts or updates a job.
func (s Manager) SaveJob(ctx context.Context, job models.Job) error {
	if s.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.dbpool.Exec(ctx, `
		INSERT INTO etl_jobs (
			id, source_id, job_name, status, records_processed, records_failed,
			started_at, ended_at, error_message, result_metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			records_processed = EXCLUDED.records_processed,
			records_failed = EXCLUDED.records_failed,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			error_message = EXCLUDED.error_message,
			result_metadata = EXCLUDED.result_metadata`,
		job.ID, job.SourceID, job.Name, job.Status, job.RecordsProcessed, job.RecordsFailed,
		job.StartedAt, job.EndedAt, job.ErrorMessage, job.ResultMetadata)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("job save canceled: %v", err)
		}
		return fmt.Errorf("failed to save job %q: %v", job.ID, err)
	}
	return nil
}

// PendingJobIDs returns the ids of all pending jobs.
func (s Manager) PendingJobIDs(ctx context.Context) ([]string, error) {
	if s.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.dbpool.Query(ctx, `SELECT id FROM etl_jobs WHERE status = $1 ORDER BY id`, models.JobPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending job id: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending jobs: %v", err)
	}
	return ids, nil
}

// JobsSince returns jobs that started at or after the given time.
func (s Manager) JobsSince(ctx context.Context, since time.Time) ([]models.Job, error) {
	if s.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.dbpool.Query(ctx, `
		SELECT id, source_id, job_name, status, records_processed, records_failed,
		       started_at, ended_at, error_message, result_metadata
		FROM etl_jobs WHERE started_at >= $1 ORDER BY started_at`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %v", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(&job.ID, &job.SourceID, &job.Name, &job.Status, &job.RecordsProcessed, &job.RecordsFailed,
			&job.StartedAt, &job.EndedAt, &job.ErrorMessage, &job.ResultMetadata); err != nil {
			return nil, fmt.Errorf("failed to scan job: %v", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent jobs: %v", err)
	}
	return jobs, nil
}

// Source returns the source descriptor with the given id, or ErrNotFound.
func (s Manager) Source(ctx context.Context, id string) (models.SourceDescriptor, error) {
	if s.dbpool == nil {
		return models.SourceDescriptor{}, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var source models.SourceDescriptor
	err := s.dbpool.QueryRow(ctx, `
		SELECT id, name, kind, connection_spec, active, last_sync
		FROM data_sources WHERE id = $1`, id).
		Scan(&source.ID, &source.Name, &source.Kind, &source.ConnectionSpec, &source.Active, &source.LastSync)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SourceDescriptor{}, fmt.Errorf("source %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.SourceDescriptor{}, fmt.Errorf("failed to load source %q: %v", id, err)
	}

	return source, nil
}

// Sources returns all configured source descriptors.
func (s Manager) Sources(ctx context.Context) ([]models.SourceDescriptor, error) {
	if s.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.dbpool.Query(ctx, `
		SELECT id, name, kind, connection_spec, active, last_sync FROM data_sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %v", err)
	}
	defer rows.Close()

	var sources []models.SourceDescriptor
	for rows.Next() {
		var source models.SourceDescriptor
		if err := rows.Scan(&source.ID, &source.Name, &source.Kind, &source.ConnectionSpec, &source.Active, &source.LastSync); err != nil {
			return nil, fmt.Errorf("failed to scan source: %v", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sources: %v", err)
	}
	return sources, nil
}

// UpdateLastSync records the last successful sync time of a source.
func (s Manager) UpdateLastSync(ctx context.Context, id string, t time.Time) error {
	if s.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.dbpool.Exec(ctx, `UPDATE data_sources SET last_sync = $2 WHERE id = $1`, id, t)
	if err != nil {
		return fmt.Errorf("failed to update last sync for source %q: %v", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %q: %w", id, ErrNotFound)
	}
	return nil
}

// WriteMetrics appends a batch of metrics to the analytics warehouse.
func (s Manager) WriteMetrics(ctx context.Context, metrics []models.Metric) error {
	if s.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for _, m := range metrics {
		_, err := s.dbpool.Exec(ctx, `
			INSERT INTO analytics_metrics (
				metric_name, metric_category, metric_value, metric_unit,
				dimension_1, dimension_2, dimension_3, timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.Name, m.Category, m.Value, m.Unit, m.Dim1, m.Dim2, m.Dim3, m.Timestamp)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("metric write canceled: %v", err)
			}
			return fmt.Errorf("failed to write metric %q: %v", m.Name, err)
		}
	}
	return nil
}

// MetricsSince counts warehouse metrics stamped at or after the given time.
func (s Manager) MetricsSince(ctx context.Context, since time.Time) (int, error) {
	if s.dbpool == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := s.dbpool.QueryRow(ctx, `SELECT COUNT(*) FROM analytics_metrics WHERE timestamp >= $1`, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent metrics: %v", err)
	}
	return count, nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (s *Manager) Close() error {
	if s.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.dbpool.Close()
	}()

	select {
	case <-done:
		s.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
