// Package orchestrator drives ETL job execution through its state machine.
//
// Submission transitions a pending job to running synchronously, then hands
// extraction to a background task keyed by the job id. Extraction fetches
// each configured endpoint, gates payloads through validation, transforms
// what passes and writes the derived metrics to the warehouse. Per-endpoint
// failures are data-quality signals folded into the job's result metadata;
// only orchestration-level errors fail the job.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/construction-hub/analytics-service/internal/etl/models"
	"github.com/construction-hub/analytics-service/internal/etl/transform"
	"github.com/construction-hub/analytics-service/internal/etl/validate"
	"github.com/construction-hub/analytics-service/internal/etl/warehouse"
)

// JobStore persists job state. The orchestrator is the sole writer of a
// job's fields once execution begins.
type JobStore interface {
	Job(ctx context.Context, id string) (models.Job, error)
	SaveJob(ctx context.Context, job models.Job) error
	PendingJobIDs(ctx context.Context) ([]string, error)
}

// SourceStore reads source descriptors and records sync completion.
type SourceStore interface {
	Source(ctx context.Context, id string) (models.SourceDescriptor, error)
	UpdateLastSync(ctx context.Context, id string, t time.Time) error
}

// Fetcher retrieves a raw payload from one endpoint of an upstream service.
type Fetcher interface {
	Fetch(ctx context.Context, baseURL, endpoint string) (int, []byte, error)
}

// ServiceRegistry resolves logical service names to base URLs.
type ServiceRegistry interface {
	BaseURL(service string) (string, bool)
}

// MetricWriter appends metric batches to the warehouse. Writes are
// best-effort: a failure skips the batch, never the job.
type MetricWriter interface {
	WriteMetrics(ctx context.Context, metrics []models.Metric) error
}

// SubmitResult is returned to the caller once a job has been handed to its
// extraction task.
type SubmitResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Orchestrator owns the job lifecycle.
type Orchestrator struct {
	jobs     JobStore
	sources  SourceStore
	registry ServiceRegistry
	fetch    Fetcher
	sink     MetricWriter
	engine   transform.Engine

	now func() time.Time

	mu    sync.Mutex
	tasks map[string]chan struct{}

	jobsRun          *prometheus.CounterVec
	recordsProcessed prometheus.Counter
	recordsFailed    prometheus.Counter
}

type options struct {
	now func() time.Time
}

// Options represents an optional function to override Orchestrator default values.
type Options func(*options)

// New creates a job orchestrator with the provided collaborators and
// registers its counters on the Prometheus registerer.
func New(jobs JobStore, sources SourceStore, registry ServiceRegistry, fetch Fetcher, sink MetricWriter, reg prometheus.Registerer, args ...Options) (*Orchestrator, error) {
	opts := options{
		now: time.Now,
	}
	for _, opt := range args {
		opt(&opts)
	}

	jobsRun := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_jobs_total",
		Help: "Number of ETL jobs run, by terminal status.",
	}, []string{"status"})
	recordsProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "etl_records_processed_total",
		Help: "Number of records processed across all ETL jobs.",
	})
	recordsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "etl_records_failed_total",
		Help: "Number of failed extraction units across all ETL jobs.",
	})
	for _, c := range []prometheus.Collector{jobsRun, recordsProcessed, recordsFailed} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register orchestrator metrics: %v", err)
		}
	}

	return &Orchestrator{
		jobs:     jobs,
		sources:  sources,
		registry: registry,
		fetch:    fetch,
		sink:     sink,
		engine:   transform.New(),
		now:      opts.now,

		tasks: make(map[string]chan struct{}),

		jobsRun:          jobsRun,
		recordsProcessed: recordsProcessed,
		recordsFailed:    recordsFailed,
	}, nil
}

// SubmitJob starts execution of a pending job.
//
// The transition to running is synchronous: once SubmitJob returns, the job
// is never observed as pending again. Extraction itself runs in a background
// task and does not block the caller; use Wait to await it.
func (o *Orchestrator) SubmitJob(ctx context.Context, jobID string) (SubmitResult, error) {
	job, err := o.jobs.Job(ctx, jobID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to load job %q: %v", jobID, err)
	}
	if job.Status != models.JobPending {
		return SubmitResult{}, fmt.Errorf("job %q is %s, not %s", jobID, job.Status, models.JobPending)
	}

	source, err := o.sources.Source(ctx, job.SourceID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to load source %q for job %q: %v", job.SourceID, jobID, err)
	}

	startedAt := o.now()
	job.Status = models.JobRunning
	job.StartedAt = &startedAt
	if err := o.jobs.SaveJob(ctx, job); err != nil {
		return SubmitResult{}, fmt.Errorf("failed to mark job %q as running: %v", jobID, err)
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.tasks[jobID] = done
	o.mu.Unlock()

	slog.Info("ETL job started", "job", jobID, "source", source.Name, "kind", source.Kind)
	go o.runJob(context.WithoutCancel(ctx), job, source, done)

	return SubmitResult{JobID: jobID, Status: "started"}, nil
}

// Wait blocks until the job's extraction task has finished. It returns
// immediately for jobs without an in-flight task.
func (o *Orchestrator) Wait(jobID string) {
	o.mu.Lock()
	done, ok := o.tasks[jobID]
	o.mu.Unlock()
	if ok {
		<-done
	}
}

// Run polls the job store for pending jobs and submits them until the
// context is canceled. This is the scheduler surface for the daemon.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ids, err := o.jobs.PendingJobIDs(ctx)
		if err != nil {
			slog.Error("Failed to list pending jobs", "err", err)
		}
		for _, id := range ids {
			if _, err := o.SubmitJob(ctx, id); err != nil {
				slog.Error("Failed to submit pending job", "job", id, "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) runJob(ctx context.Context, job models.Job, source models.SourceDescriptor, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		delete(o.tasks, job.ID)
		o.mu.Unlock()
		close(done)
	}()

	result, err := o.extract(ctx, source)

	endedAt := o.now()
	job.EndedAt = &endedAt

	if err != nil {
		job.Status = models.JobFailed
		job.ErrorMessage = err.Error()
		o.jobsRun.WithLabelValues(string(models.JobFailed)).Inc()
		slog.Error("ETL job failed", "job", job.ID, "source", source.Name, "err", err)

		if saveErr := o.jobs.SaveJob(ctx, job); saveErr != nil {
			slog.Error("Failed to persist failed job", "job", job.ID, "err", saveErr)
		}
		return
	}

	job.Status = models.JobCompleted
	job.RecordsProcessed = result.processed
	job.RecordsFailed = result.failed
	if err := job.SetMetadata(result.metadata); err != nil {
		slog.Warn("Failed to attach job metadata", "job", job.ID, "err", err)
	}

	if err := o.jobs.SaveJob(ctx, job); err != nil {
		slog.Error("Failed to persist completed job", "job", job.ID, "err", err)
	}
	if err := o.sources.UpdateLastSync(ctx, source.ID, endedAt); err != nil {
		slog.Warn("Failed to update source last sync", "source", source.ID, "err", err)
	}

	o.jobsRun.WithLabelValues(string(models.JobCompleted)).Inc()
	o.recordsProcessed.Add(float64(result.processed))
	o.recordsFailed.Add(float64(result.failed))
	slog.Info("ETL job completed", "job", job.ID, "source", source.Name,
		"processed", result.processed, "failed", result.failed)
}

type extractionResult struct {
	processed int
	failed    int
	metadata  map[string]any
}

// extract dispatches on the source kind. Kinds other than service are
// deliberate not-yet-wired markers that complete with zero records.
func (o *Orchestrator) extract(ctx context.Context, source models.SourceDescriptor) (extractionResult, error) {
	switch source.Kind {
	case models.SourceKindService:
		return o.extractFromService(ctx, source)
	case models.SourceKindDatabase, models.SourceKindAPI, models.SourceKindFile:
		slog.Info("Extraction not implemented for source kind", "source", source.Name, "kind", source.Kind)
		return extractionResult{
			metadata: map[string]any{"type": string(source.Kind), "status": "not_implemented"},
		}, nil
	default:
		return extractionResult{}, fmt.Errorf("unsupported source kind: %s", source.Kind)
	}
}

func (o *Orchestrator) extractFromService(ctx context.Context, source models.SourceDescriptor) (extractionResult, error) {
	conn, err := source.ServiceConnectionSpec()
	if err != nil {
		return extractionResult{}, err
	}

	baseURL, ok := o.registry.BaseURL(conn.ServiceName)
	if !ok {
		return extractionResult{}, fmt.Errorf("unknown service: %s", conn.ServiceName)
	}

	var result extractionResult
	details := make(map[string]any, len(conn.Endpoints))

	for _, endpoint := range conn.Endpoints {
		status, body, err := o.fetch.Fetch(ctx, baseURL, endpoint)
		if err != nil {
			result.failed++
			details[endpoint] = map[string]any{"status": "connection_error", "error": err.Error()}
			slog.Warn("Endpoint fetch failed", "service", conn.ServiceName, "endpoint", endpoint, "err", err)
			continue
		}
		if status < 200 || status > 299 {
			result.failed++
			details[endpoint] = map[string]any{"status": "http_error", "status_code": status}
			slog.Warn("Endpoint returned non-success status", "service", conn.ServiceName, "endpoint", endpoint, "status", status)
			continue
		}

		verdict := validate.Validate(conn.ServiceName, body)
		if !verdict.IsValid {
			result.failed++
			details[endpoint] = map[string]any{"status": "validation_failed", "errors": verdict.Errors}
			slog.Warn("Endpoint payload failed validation", "service", conn.ServiceName, "endpoint", endpoint,
				"records_failed", verdict.RecordsFailed, "records_validated", verdict.RecordsValidated)
			continue
		}

		records := o.engine.Transform(conn.ServiceName, body)
		metrics := warehouse.Metrics(conn.ServiceName, endpoint, records, o.now())
		if len(metrics) > 0 {
			if err := o.sink.WriteMetrics(ctx, metrics); err != nil {
				slog.Warn("Failed to write metric batch, skipping", "service", conn.ServiceName, "endpoint", endpoint, "err", err)
			}
		}

		details[endpoint] = map[string]any{"status": "success", "records": len(records)}
		result.processed += len(records)
	}

	result.metadata = map[string]any{
		"service_name":        conn.ServiceName,
		"endpoints_processed": len(conn.Endpoints),
		"extraction_details":  details,
	}
	return result, nil
}
