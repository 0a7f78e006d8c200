// Package warehouse derives analytic metrics from normalized records.
//
// A source's metric-mapping table declares which normalized fields are
// extractable; everything else, and any field that does not coerce to a
// number, is silently skipped rather than treated as an error.
package warehouse

import (
	"fmt"
	"sort"
	"time"

	"github.com/construction-hub/analytics-service/internal/etl/fields"
	"github.com/construction-hub/analytics-service/internal/etl/models"
	"github.com/construction-hub/analytics-service/internal/etl/rules"
)

// Metrics converts a normalized batch into warehouse metric rows.
//
// Metric names follow "<service>_<endpoint>_<field>". Dimensions come from
// the source's declared dimension fields. Unknown sources yield no metrics.
func Metrics(sourceName, endpoint string, records []models.NormalizedRecord, now time.Time) []models.Metric {
	ruleSet, known := rules.ForSource(sourceName)
	if !known || len(ruleSet.Metrics) == 0 {
		return nil
	}

	mappedFields := make([]string, 0, len(ruleSet.Metrics))
	for field := range ruleSet.Metrics {
		mappedFields = append(mappedFields, field)
	}
	sort.Strings(mappedFields)

	var metrics []models.Metric
	for _, record := range records {
		for _, field := range mappedFields {
			v, ok := record[field]
			if !ok || v == nil {
				continue
			}
			value, numeric := fields.Float(v)
			if !numeric {
				continue
			}

			mapping := ruleSet.Metrics[field]
			metrics = append(metrics, models.Metric{
				Name:      fmt.Sprintf("%s_%s_%s", sourceName, endpoint, field),
				Category:  mapping.Category,
				Value:     value,
				Unit:      mapping.Unit,
				Dim1:      dim(record, ruleSet.Dims[0]),
				Dim2:      dim(record, ruleSet.Dims[1]),
				Dim3:      dim(record, ruleSet.Dims[2]),
				Timestamp: now,
			})
		}
	}
	return metrics
}

func dim(record models.NormalizedRecord, field string) string {
	if field == "" {
		return ""
	}
	v, ok := record[field]
	if !ok || v == nil {
		return ""
	}
	return fields.String(v)
}
