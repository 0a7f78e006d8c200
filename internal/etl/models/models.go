// Package models defines the data types shared across the ETL pipeline:
// source descriptors, jobs, validation verdicts, normalized records and
// warehouse metrics.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SourceKind identifies the kind of upstream a data source represents.
type SourceKind string

// Supported source kinds.
const (
	SourceKindService  SourceKind = "service"
	SourceKindDatabase SourceKind = "database"
	SourceKindAPI      SourceKind = "api"
	SourceKindFile     SourceKind = "file"
)

// JobStatus is the lifecycle state of an ETL job.
type JobStatus string

// Job lifecycle states. Transitions are monotonic:
// pending -> running -> completed or failed.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// SourceDescriptor is the read-only configuration of an upstream data source.
type SourceDescriptor struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Kind           SourceKind `json:"kind"`
	ConnectionSpec string     `json:"connection_spec"`
	Active         bool       `json:"active"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
}

// ServiceConnection is the connection spec payload for service sources.
type ServiceConnection struct {
	ServiceName string   `json:"service_name"`
	Endpoints   []string `json:"endpoints"`
}

// ServiceConnectionSpec decodes the descriptor's connection spec as a
// service connection. It errors if the descriptor is not a service source
// or the spec is malformed.
func (s SourceDescriptor) ServiceConnectionSpec() (ServiceConnection, error) {
	if s.Kind != SourceKindService {
		return ServiceConnection{}, fmt.Errorf("source %q is of kind %q, not %q", s.Name, s.Kind, SourceKindService)
	}

	var conn ServiceConnection
	if err := json.Unmarshal([]byte(s.ConnectionSpec), &conn); err != nil {
		return ServiceConnection{}, fmt.Errorf("malformed connection spec for source %q: %v", s.Name, err)
	}
	if conn.ServiceName == "" {
		return ServiceConnection{}, fmt.Errorf("connection spec for source %q has no service name", s.Name)
	}
	return conn, nil
}

// Job is one extraction attempt against a source.
type Job struct {
	ID               string     `json:"id"`
	SourceID         string     `json:"source_id"`
	Name             string     `json:"name"`
	Status           JobStatus  `json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsFailed    int        `json:"records_failed"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ResultMetadata   string     `json:"result_metadata,omitempty"`
}

// SetMetadata serializes the provided value as the job's result metadata.
func (j *Job) SetMetadata(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize job metadata: %v", err)
	}
	j.ResultMetadata = string(data)
	return nil
}

// Metadata deserializes the job's result metadata. An unset metadata field
// yields an empty map.
func (j Job) Metadata() (map[string]any, error) {
	if j.ResultMetadata == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(j.ResultMetadata), &m); err != nil {
		return nil, fmt.Errorf("failed to deserialize job metadata: %v", err)
	}
	return m, nil
}

// Verdict is the outcome of validating a single payload.
type Verdict struct {
	IsValid          bool     `json:"is_valid"`
	Errors           []string `json:"errors"`
	Warnings         []string `json:"warnings"`
	RecordsValidated int      `json:"records_validated"`
	RecordsFailed    int      `json:"records_failed"`
}

// NormalizedRecord is a mapped and enriched record ready for warehousing.
type NormalizedRecord map[string]any

// MetricCategory classifies a warehouse metric.
type MetricCategory string

// Metric categories.
const (
	CategoryFinancial   MetricCategory = "financial"
	CategoryOperational MetricCategory = "operational"
	CategoryProject     MetricCategory = "project"
	CategoryRisk        MetricCategory = "risk"
)

// Metric is a single named, categorized, dimensioned numeric fact.
type Metric struct {
	Name      string         `json:"name"`
	Category  MetricCategory `json:"category"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit,omitempty"`
	Dim1      string         `json:"dim1,omitempty"`
	Dim2      string         `json:"dim2,omitempty"`
	Dim3      string         `json:"dim3,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

var (
	// ErrNoData is returned when a payload is empty or JSON null.
	ErrNoData = errors.New("no data received")

	// ErrInvalidFormat is returned when a payload is not a JSON object or
	// an array of objects.
	ErrInvalidFormat = errors.New("invalid data format")
)

// DecodePayload normalizes a raw payload into an ordered sequence of records.
//
// A bare object becomes a single-element sequence. An object carrying a
// "data" key is unwrapped first. Empty and null payloads return ErrNoData,
// anything that is not an object or an array of objects returns
// ErrInvalidFormat.
func DecodePayload(payload []byte) ([]map[string]any, error) {
	if len(payload) == 0 {
		return nil, ErrNoData
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, ErrInvalidFormat
	}

	switch v := decoded.(type) {
	case nil:
		return nil, ErrNoData
	case map[string]any:
		if inner, ok := v["data"]; ok {
			return decodeInner(inner)
		}
		return []map[string]any{v}, nil
	case []any:
		return objectSlice(v)
	default:
		return nil, ErrInvalidFormat
	}
}

func decodeInner(inner any) ([]map[string]any, error) {
	switch v := inner.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		return objectSlice(v)
	default:
		return nil, ErrInvalidFormat
	}
}

func objectSlice(items []any) ([]map[string]any, error) {
	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, ErrInvalidFormat
		}
		records = append(records, record)
	}
	return records, nil
}
