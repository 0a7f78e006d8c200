// Package quality generates data-quality reports over recent ETL activity.
package quality

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/construction-hub/analytics-service/internal/etl/models"
)

// reportWindow is the lookback period covered by a report.
const reportWindow = 7 * 24 * time.Hour

// JobHistory reads recent jobs from the job store.
type JobHistory interface {
	JobsSince(ctx context.Context, since time.Time) ([]models.Job, error)
}

// SourceLister reads the configured sources.
type SourceLister interface {
	Sources(ctx context.Context) ([]models.SourceDescriptor, error)
}

// MetricCounter counts warehouse metrics written since a point in time.
type MetricCounter interface {
	MetricsSince(ctx context.Context, since time.Time) (int, error)
}

// JobStats summarizes job outcomes over the report window.
type JobStats struct {
	TotalJobs      int     `json:"total_jobs"`
	SuccessfulJobs int     `json:"successful_jobs"`
	FailedJobs     int     `json:"failed_jobs"`
	SuccessRate    float64 `json:"success_rate"`
}

// DataStats summarizes record-level quality over the report window.
type DataStats struct {
	TotalRecordsProcessed int     `json:"total_records_processed"`
	FailedRecords         int     `json:"failed_records"`
	DataQualityRate       float64 `json:"data_quality_rate"`
}

// SourceStats summarizes source configuration state.
type SourceStats struct {
	TotalSources    int `json:"total_sources"`
	ActiveSources   int `json:"active_sources"`
	InactiveSources int `json:"inactive_sources"`
}

// Report is a full data-quality report.
type Report struct {
	ReportDate       string      `json:"report_date"`
	Period           string      `json:"period"`
	JobStats         JobStats    `json:"job_statistics"`
	DataStats        DataStats   `json:"data_statistics"`
	SourceStats      SourceStats `json:"source_statistics"`
	MetricsGenerated int         `json:"metrics_generated"`
	Recommendations  []string    `json:"recommendations"`
}

// Reporter builds data-quality reports from stored job and metric history.
type Reporter struct {
	jobs    JobHistory
	sources SourceLister
	metrics MetricCounter

	now func() time.Time
}

type options struct {
	now func() time.Time
}

// Options represents an optional function to override Reporter default values.
type Options func(*options)

// New creates a quality reporter.
func New(jobs JobHistory, sources SourceLister, metrics MetricCounter, args ...Options) Reporter {
	opts := options{
		now: time.Now,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return Reporter{
		jobs:    jobs,
		sources: sources,
		metrics: metrics,
		now:     opts.now,
	}
}

// Generate builds a report over the last seven days of ETL activity.
func (r Reporter) Generate(ctx context.Context) (Report, error) {
	now := r.now()
	since := now.Add(-reportWindow)

	jobs, err := r.jobs.JobsSince(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load recent jobs: %v", err)
	}
	sources, err := r.sources.Sources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load sources: %v", err)
	}
	metricCount, err := r.metrics.MetricsSince(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("failed to count recent metrics: %v", err)
	}

	report := Report{
		ReportDate:       now.UTC().Format(time.RFC3339),
		Period:           "7_days",
		MetricsGenerated: metricCount,
	}

	for _, job := range jobs {
		report.JobStats.TotalJobs++
		switch job.Status {
		case models.JobCompleted:
			report.JobStats.SuccessfulJobs++
		case models.JobFailed:
			report.JobStats.FailedJobs++
		}
		report.DataStats.TotalRecordsProcessed += job.RecordsProcessed
		report.DataStats.FailedRecords += job.RecordsFailed
	}

	if report.JobStats.TotalJobs > 0 {
		report.JobStats.SuccessRate = round2(float64(report.JobStats.SuccessfulJobs) / float64(report.JobStats.TotalJobs) * 100)
	}
	if report.DataStats.TotalRecordsProcessed > 0 {
		processed := report.DataStats.TotalRecordsProcessed
		report.DataStats.DataQualityRate = round2(float64(processed-report.DataStats.FailedRecords) / float64(processed) * 100)
	}

	report.SourceStats.TotalSources = len(sources)
	for _, source := range sources {
		if source.Active {
			report.SourceStats.ActiveSources++
		}
	}
	report.SourceStats.InactiveSources = report.SourceStats.TotalSources - report.SourceStats.ActiveSources

	report.Recommendations = recommendations(report.JobStats, report.DataStats)
	return report, nil
}

func recommendations(jobs JobStats, data DataStats) []string {
	var recs []string

	if jobs.TotalJobs > 0 && jobs.SuccessRate < 90 {
		recs = append(recs, "Job success rate is below 90%. Review failed jobs and improve error handling.")
	}
	if data.TotalRecordsProcessed > 0 && data.DataQualityRate < 95 {
		recs = append(recs, "Data quality rate is below 95%. Implement stricter validation rules.")
	}
	if jobs.FailedJobs > 5 {
		recs = append(recs, "High number of failed jobs detected. Check data source connectivity and configurations.")
	}

	if len(recs) == 0 {
		recs = append(recs, "Data quality metrics are within acceptable ranges. Continue monitoring.")
	}
	return recs
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
