// Package validate implements the data-quality gate for raw payloads.
//
// Validation is a pure function of (source name, payload): rule sets come
// from the rules tables, hold no state and are safe for concurrent use.
package validate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/construction-hub/analytics-service/internal/etl/fields"
	"github.com/construction-hub/analytics-service/internal/etl/models"
	"github.com/construction-hub/analytics-service/internal/etl/rules"
)

// maxFailureRate is the batch-level gate: payloads whose failed-record ratio
// exceeds this are invalid as a whole.
const maxFailureRate = 0.1

// nowFunc is overridable in tests.
var nowFunc = time.Now

// Validate checks a raw payload against the rule set declared for the source.
//
// Per-record checks run in a fixed order so error ordering is stable:
// required fields, declared types, numeric ranges, patterns, then the
// source's business rules. Pattern mismatches and soft business rules only
// produce warnings. Sources without a rule set pass with a warning.
func Validate(sourceName string, payload []byte) models.Verdict {
	verdict := models.Verdict{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
	}

	records, err := models.DecodePayload(payload)
	if err != nil {
		verdict.IsValid = false
		verdict.Errors = append(verdict.Errors, err.Error())
		return verdict
	}

	ruleSet, known := rules.ForSource(sourceName)
	if !known {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("no validation rules defined for source %q", sourceName))
		verdict.RecordsValidated = len(records)
		return verdict
	}

	for i, record := range records {
		errs, warns := validateRecord(ruleSet, sourceName, record, i)

		verdict.RecordsValidated++
		if len(errs) > 0 {
			verdict.RecordsFailed++
			verdict.Errors = append(verdict.Errors, errs...)
		}
		verdict.Warnings = append(verdict.Warnings, warns...)
	}

	if verdict.RecordsValidated > 0 {
		failureRate := float64(verdict.RecordsFailed) / float64(verdict.RecordsValidated)
		if failureRate > maxFailureRate {
			verdict.IsValid = false
		}
	}

	return verdict
}

func validateRecord(rs rules.RuleSet, sourceName string, record map[string]any, index int) (errs, warns []string) {
	for _, field := range rs.Required {
		if v, ok := record[field]; !ok || fields.Missing(v) {
			errs = append(errs, fmt.Sprintf("record %d: missing required field %q", index, field))
		}
	}

	for _, field := range sortedKeys(rs.Types) {
		v, ok := record[field]
		if !ok || v == nil {
			continue
		}
		if expected := rs.Types[field]; !conforms(v, expected) {
			errs = append(errs, fmt.Sprintf("record %d: field %q has invalid type, expected %s", index, field, expected))
		}
	}

	for _, field := range sortedKeys(rs.Ranges) {
		v, ok := record[field]
		if !ok || v == nil {
			continue
		}
		value, numeric := fields.Float(v)
		if !numeric {
			errs = append(errs, fmt.Sprintf("record %d: field %q is not numeric for range validation", index, field))
			continue
		}
		bounds := rs.Ranges[field]
		if bounds.Min != nil && value < *bounds.Min {
			errs = append(errs, fmt.Sprintf("record %d: field %q value %v is below minimum %v", index, field, value, *bounds.Min))
		}
		if bounds.Max != nil && value > *bounds.Max {
			errs = append(errs, fmt.Sprintf("record %d: field %q value %v exceeds maximum %v", index, field, value, *bounds.Max))
		}
	}

	for _, field := range sortedKeys(rs.Patterns) {
		v, ok := record[field]
		if !ok || v == nil {
			continue
		}
		if !rs.Patterns[field].MatchString(fields.String(v)) {
			warns = append(warns, fmt.Sprintf("record %d: field %q does not match required pattern", index, field))
		}
	}

	businessErrs, businessWarns := validateBusinessRules(sourceName, record, index)
	errs = append(errs, businessErrs...)
	warns = append(warns, businessWarns...)

	return errs, warns
}

func conforms(v any, expected rules.FieldType) bool {
	switch expected {
	case rules.TypeString:
		return true // Anything present is string-castable.
	case rules.TypeNumeric:
		_, ok := fields.Float(v)
		return ok
	case rules.TypeDate:
		_, ok := fields.Date(v)
		return ok
	case rules.TypeBoolean:
		_, ok := fields.Bool(v)
		return ok
	}
	return true
}

// validateBusinessRules applies the fixed per-source business checks. Hard
// rules return errors, soft rules return warnings.
func validateBusinessRules(sourceName string, record map[string]any, index int) (errs, warns []string) {
	now := nowFunc()

	switch sourceName {
	case "accounts-payable":
		if v, ok := record["amount"]; ok {
			if amount, numeric := fields.Float(v); numeric && amount <= 0 {
				errs = append(errs, fmt.Sprintf("record %d: payment amount must be positive", index))
			}
		}
		if fields.String(record["status"]) == "pending" {
			if due, ok := fields.Date(record["due_date"]); ok && due.Before(now) {
				warns = append(warns, fmt.Sprintf("record %d: due date is in the past for pending payment", index))
			}
		}

	case "project-management":
		start, startOK := fields.Date(record["start_date"])
		end, endOK := fields.Date(record["end_date"])
		if startOK && endOK && !end.After(start) {
			errs = append(errs, fmt.Sprintf("record %d: end date must be after start date", index))
		}

		budget, budgetOK := fields.Float(record["budget"])
		actual, actualOK := fields.Float(record["actual_cost"])
		if budgetOK && actualOK && actual > budget*1.5 {
			warns = append(warns, fmt.Sprintf("record %d: actual cost significantly exceeds budget", index))
		}

	case "cash-flow":
		if amount, ok := fields.Float(record["amount"]); ok && math.Abs(amount) > 1000000 {
			warns = append(warns, fmt.Sprintf("record %d: unusually large cash flow amount", index))
		}
	}

	return errs, warns
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
