// Package rules holds the closed per-source rule tables that drive the
// validation, transformation and aggregation engines.
//
// Rule sets are data, not code: each source declares its required fields,
// typed fields, range and pattern constraints, field mappings, calculated
// field bindings, aggregation table and warehouse metric mappings. Sources
// without an entry are passed through unchecked.
package rules

import (
	"regexp"
	"sort"

	"github.com/construction-hub/analytics-service/internal/etl/models"
)

// FieldType is a declared type constraint for a field.
type FieldType string

// Supported field type constraints.
const (
	TypeString  FieldType = "string"
	TypeNumeric FieldType = "numeric"
	TypeDate    FieldType = "date"
	TypeBoolean FieldType = "boolean"
)

// Range is an inclusive numeric bound for a field. Nil ends are unbounded.
type Range struct {
	Min *float64
	Max *float64
}

// AggFunc names an aggregation applied over a field of a normalized batch.
type AggFunc string

// Supported aggregation functions.
const (
	AggSum   AggFunc = "sum"
	AggMean  AggFunc = "mean"
	AggCount AggFunc = "count"
	AggMax   AggFunc = "max"
	AggMin   AggFunc = "min"
)

// Aggregation binds an aggregation function to a normalized field.
type Aggregation struct {
	Field string
	Func  AggFunc
}

// MetricMapping declares a normalized field as extractable into a warehouse
// metric with the given category and unit.
type MetricMapping struct {
	Category models.MetricCategory
	Unit     string
}

// RuleSet is the full declarative rule table for one source.
type RuleSet struct {
	// Required lists fields that must be present, non-null and non-empty.
	// Presence errors are reported in this declared order.
	Required []string

	Types    map[string]FieldType
	Ranges   map[string]Range
	Patterns map[string]*regexp.Regexp

	// Mappings renames original fields to canonical ones. Original fields
	// absent from the record map to explicit nulls; fields not listed here
	// are carried through unchanged.
	Mappings map[string]string

	// Calculations names the calculated fields bound to this source. The
	// transformation engine resolves them against its function table.
	Calculations []string

	// Aggregations is the per-batch aggregation table.
	Aggregations []Aggregation

	// Metrics maps normalized fields to warehouse metric descriptors.
	Metrics map[string]MetricMapping

	// Dims names the normalized fields used as metric dimensions, in order.
	Dims [3]string
}

func f(v float64) *float64 { return &v }

var ruleSets = map[string]RuleSet{
	"accounts-payable": {
		Required: []string{"id", "amount", "due_date", "supplier_id"},
		Types: map[string]FieldType{
			"id":          TypeString,
			"amount":      TypeNumeric,
			"due_date":    TypeDate,
			"supplier_id": TypeString,
			"status":      TypeString,
		},
		Ranges: map[string]Range{
			"amount": {Min: f(0), Max: f(10000000)},
		},
		Patterns: map[string]*regexp.Regexp{
			"status": regexp.MustCompile(`^(pending|approved|paid|overdue|cancelled)$`),
		},
		Mappings: map[string]string{
			"id":          "payable_id",
			"amount":      "payable_amount",
			"due_date":    "payable_due_date",
			"supplier_id": "supplier_id",
			"status":      "payable_status",
		},
		Calculations: []string{"days_until_due", "amount_cad", "risk_score"},
		Aggregations: []Aggregation{
			{Field: "payable_amount", Func: AggSum},
			{Field: "payable_amount", Func: AggMean},
			{Field: "payable_amount", Func: AggCount},
		},
		Metrics: map[string]MetricMapping{
			"payable_amount":   {Category: models.CategoryFinancial, Unit: "CAD"},
			"payable_due_date": {Category: models.CategoryOperational, Unit: "date"},
			"payable_status":   {Category: models.CategoryOperational, Unit: "status"},
			"risk_score":       {Category: models.CategoryRisk, Unit: "score"},
		},
		Dims: [3]string{"payable_id", "company_id", "project_id"},
	},
	"accounts-receivable": {
		Required: []string{"id", "amount", "customer_id"},
		Types: map[string]FieldType{
			"id":           TypeString,
			"amount":       TypeNumeric,
			"customer_id":  TypeString,
			"payment_date": TypeDate,
			"status":       TypeString,
		},
		Ranges: map[string]Range{
			"amount": {Min: f(0), Max: f(10000000)},
		},
		Patterns: map[string]*regexp.Regexp{
			"status": regexp.MustCompile(`^(pending|partial|paid|overdue)$`),
		},
		Mappings: map[string]string{
			"id":           "receivable_id",
			"amount":       "receivable_amount",
			"customer_id":  "customer_id",
			"payment_date": "expected_payment_date",
			"status":       "receivable_status",
		},
		Calculations: []string{"days_overdue", "amount_cad", "collection_probability"},
		Metrics: map[string]MetricMapping{
			"receivable_amount":     {Category: models.CategoryFinancial, Unit: "CAD"},
			"expected_payment_date": {Category: models.CategoryOperational, Unit: "date"},
			"receivable_status":     {Category: models.CategoryOperational, Unit: "status"},
		},
		Dims: [3]string{"receivable_id", "company_id", "project_id"},
	},
	"cash-flow": {
		Required: []string{"id", "date", "type"},
		Types: map[string]FieldType{
			"id":     TypeString,
			"date":   TypeDate,
			"type":   TypeString,
			"amount": TypeNumeric,
		},
		Patterns: map[string]*regexp.Regexp{
			"type": regexp.MustCompile(`^(inflow|outflow)$`),
		},
		Mappings: map[string]string{
			"id":     "cashflow_id",
			"date":   "transaction_date",
			"type":   "flow_type",
			"amount": "flow_amount",
		},
		Calculations: []string{"trend_indicator"},
		Metrics: map[string]MetricMapping{
			"flow_amount": {Category: models.CategoryFinancial, Unit: "CAD"},
			"inflow":      {Category: models.CategoryFinancial, Unit: "CAD"},
			"outflow":     {Category: models.CategoryFinancial, Unit: "CAD"},
			"balance":     {Category: models.CategoryFinancial, Unit: "CAD"},
		},
		Dims: [3]string{"cashflow_id", "company_id", "project_id"},
	},
	"project-management": {
		Required: []string{"id", "name", "start_date"},
		Types: map[string]FieldType{
			"id":          TypeString,
			"name":        TypeString,
			"start_date":  TypeDate,
			"end_date":    TypeDate,
			"budget":      TypeNumeric,
			"actual_cost": TypeNumeric,
		},
		Ranges: map[string]Range{
			"budget":      {Min: f(0), Max: f(100000000)},
			"actual_cost": {Min: f(0), Max: f(100000000)},
		},
		Mappings: map[string]string{
			"id":          "project_id",
			"name":        "project_name",
			"start_date":  "project_start_date",
			"end_date":    "project_end_date",
			"budget":      "project_budget",
			"actual_cost": "project_actual_cost",
		},
		Calculations: []string{"budget_variance", "project_duration", "completion_percentage", "cost_per_day"},
		Aggregations: []Aggregation{
			{Field: "project_budget", Func: AggSum},
			{Field: "project_actual_cost", Func: AggSum},
			{Field: "budget_variance", Func: AggMean},
		},
		Metrics: map[string]MetricMapping{
			"project_budget":      {Category: models.CategoryFinancial, Unit: "CAD"},
			"project_actual_cost": {Category: models.CategoryFinancial, Unit: "CAD"},
			"progress":            {Category: models.CategoryOperational, Unit: "percentage"},
			"budget_variance":     {Category: models.CategoryProject, Unit: "percentage"},
		},
		Dims: [3]string{"project_id", "company_id", "project_name"},
	},
}

// ForSource returns the rule set declared for a source name.
func ForSource(name string) (RuleSet, bool) {
	rs, ok := ruleSets[name]
	return rs, ok
}

// Sources returns the names of all sources with a declared rule set, sorted.
func Sources() []string {
	names := make([]string, 0, len(ruleSets))
	for name := range ruleSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
