// Package transform implements the transformation engine: it maps raw
// records into the normalized analytic schema, enriches them with calculated
// fields and aggregates normalized batches.
//
// The engine is pure aside from reading a wall clock for timestamps, which
// is injectable for tests.
package transform

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/construction-hub/analytics-service/internal/etl/fields"
	"github.com/construction-hub/analytics-service/internal/etl/models"
	"github.com/construction-hub/analytics-service/internal/etl/rules"
)

// Engine transforms raw payloads into normalized records.
type Engine struct {
	now func() time.Time
}

type options struct {
	now func() time.Time
}

// Options represents an optional function to override Engine default values.
type Options func(*options)

// New creates a transformation engine.
func New(args ...Options) Engine {
	opts := options{
		now: time.Now,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return Engine{now: opts.now}
}

// Transform normalizes a raw payload for the source and returns the
// transformed records.
//
// Field mappings are applied first: mapped fields are renamed, mapped fields
// absent from the record become explicit nulls and unmapped fields are
// carried through unchanged. Calculated fields run against the original
// record; a calculation failure nulls that field only. Every record gains
// _source_service, _transformed_at and _record_hash system fields.
//
// Payloads that cannot be decoded, and sources without a rule set, yield
// their records untransformed (or none at all for undecodable payloads).
func (e Engine) Transform(sourceName string, payload []byte) []models.NormalizedRecord {
	records, err := models.DecodePayload(payload)
	if err != nil {
		slog.Warn("Skipping transformation of undecodable payload", "source", sourceName, "err", err)
		return []models.NormalizedRecord{}
	}

	ruleSet, known := rules.ForSource(sourceName)
	if !known {
		slog.Warn("No transformation rules defined for source", "source", sourceName)
		out := make([]models.NormalizedRecord, 0, len(records))
		for _, record := range records {
			out = append(out, models.NormalizedRecord(record))
		}
		return out
	}

	transformed := make([]models.NormalizedRecord, 0, len(records))
	for _, record := range records {
		transformed = append(transformed, e.transformRecord(record, ruleSet, sourceName))
	}
	return transformed
}

func (e Engine) transformRecord(record map[string]any, rs rules.RuleSet, sourceName string) models.NormalizedRecord {
	out := make(models.NormalizedRecord, len(record)+len(rs.Calculations)+3)

	for original, canonical := range rs.Mappings {
		if v, ok := record[original]; ok {
			out[canonical] = v
		} else {
			out[canonical] = nil
		}
	}

	for field, v := range record {
		if _, mapped := rs.Mappings[field]; !mapped {
			out[field] = v
		}
	}

	now := e.now()
	for _, name := range rs.Calculations {
		calc, ok := calculations[name]
		if !ok {
			slog.Warn("Unknown calculated field binding", "source", sourceName, "field", name)
			out[name] = nil
			continue
		}
		out[name] = calc(record, sourceName, now)
	}

	out["_source_service"] = sourceName
	out["_transformed_at"] = now.UTC().Format(time.RFC3339)
	out["_record_hash"] = recordHash(record)

	return out
}

// recordHash is a stable, non-cryptographic hash of the original record,
// used for change detection and idempotent re-ingestion. encoding/json
// serializes map keys in sorted order, which makes the serialization
// canonical regardless of input key order.
func recordHash(record map[string]any) string {
	data, err := json.Marshal(record)
	if err != nil {
		data = fmt.Append(nil, record)
	}

	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Aggregate applies the source's aggregation table over named fields of a
// normalized batch. Unknown sources, empty batches and missing fields yield
// an empty map.
func (e Engine) Aggregate(records []models.NormalizedRecord, sourceName string) map[string]float64 {
	result := map[string]float64{}
	if len(records) == 0 {
		return result
	}

	ruleSet, known := rules.ForSource(sourceName)
	if !known {
		return result
	}

	for _, agg := range ruleSet.Aggregations {
		values := make([]float64, 0, len(records))
		for _, record := range records {
			if v, ok := fields.Float(record[agg.Field]); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}

		switch agg.Func {
		case rules.AggSum:
			result[agg.Field+"_sum"] = sum(values)
		case rules.AggMean:
			result[agg.Field+"_avg"] = sum(values) / float64(len(values))
		case rules.AggCount:
			result[agg.Field+"_count"] = float64(len(values))
		case rules.AggMax:
			result[agg.Field+"_max"] = maxOf(values)
		case rules.AggMin:
			result[agg.Field+"_min"] = minOf(values)
		}
	}

	if len(result) > 0 {
		result["total_records"] = float64(len(records))
	}
	return result
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
