package validate_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construction-hub/analytics-service/internal/etl/validate"
)

// fixedNow is the reference time used by time-dependent business rules.
var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		source  string
		payload any
		raw     string // Overrides payload when set.

		wantValid     bool
		wantValidated int
		wantFailed    int
		wantErrors    []string
		wantWarnings  []string
	}{
		"Valid payable record": {
			source: "accounts-payable",
			payload: []map[string]any{{
				"id": "p1", "amount": 1200.50, "due_date": "2025-07-01", "supplier_id": "s1", "status": "pending",
			}},
			wantValid:     true,
			wantValidated: 1,
		},
		"Single object payload is treated as one record": {
			source: "accounts-payable",
			payload: map[string]any{
				"id": "p1", "amount": 100.0, "due_date": "2025-07-01", "supplier_id": "s1",
			},
			wantValid:     true,
			wantValidated: 1,
		},
		"Payload wrapped in data envelope": {
			source:        "cash-flow",
			raw:           `{"data": [{"id": "c1", "date": "2025-06-01", "type": "inflow", "amount": 50}]}`,
			wantValid:     true,
			wantValidated: 1,
		},
		"Empty batch is valid": {
			source:        "accounts-payable",
			payload:       []map[string]any{},
			wantValid:     true,
			wantValidated: 0,
		},
		"Unknown source passes with a warning": {
			source:        "equipment-tracking",
			payload:       []map[string]any{{"anything": "goes"}},
			wantValid:     true,
			wantValidated: 1,
			wantWarnings:  []string{`no validation rules defined for source "equipment-tracking"`},
		},
		"Missing required fields are reported in declared order": {
			source:        "accounts-payable",
			payload:       []map[string]any{{"status": "pending"}},
			wantValid:     false,
			wantValidated: 1,
			wantFailed:    1,
			wantErrors: []string{
				`record 0: missing required field "id"`,
				`record 0: missing required field "amount"`,
				`record 0: missing required field "due_date"`,
				`record 0: missing required field "supplier_id"`,
			},
		},
		"Invalid type on declared field": {
			source: "accounts-payable",
			payload: []map[string]any{{
				"id": "p1", "amount": "not-a-number", "due_date": "2025-07-01", "supplier_id": "s1",
			}},
			wantValid:     false,
			wantValidated: 1,
			wantFailed:    1,
			wantErrors: []string{
				`record 0: field "amount" has invalid type, expected numeric`,
				`record 0: field "amount" is not numeric for range validation`,
			},
		},
		"Amount above range maximum": {
			source: "accounts-payable",
			payload: []map[string]any{{
				"id": "p1", "amount": 20000000.0, "due_date": "2025-07-01", "supplier_id": "s1",
			}},
			wantValid:     false,
			wantValidated: 1,
			wantFailed:    1,
			wantErrors: []string{
				`record 0: field "amount" value 2e+07 exceeds maximum 1e+07`,
			},
		},
		"Pattern mismatch is only a warning": {
			source: "accounts-payable",
			payload: []map[string]any{{
				"id": "p1", "amount": 10.0, "due_date": "2025-07-01", "supplier_id": "s1", "status": "unknown-state",
			}},
			wantValid:     true,
			wantValidated: 1,
			wantWarnings: []string{
				`record 0: field "status" does not match required pattern`,
			},
		},
		"Non-positive payment amount is a hard error": {
			source: "accounts-payable",
			payload: []map[string]any{{
				"id": "p1", "amount": -5.0, "due_date": "2025-07-01", "supplier_id": "s1",
			}},
			wantValid:     false,
			wantValidated: 1,
			wantFailed:    1,
			wantErrors: []string{
				`record 0: field "amount" value -5 is below minimum 0`,
				`record 0: payment amount must be positive`,
			},
		},
		"Pending payment past its due date warns": {
			source: "accounts-payable",
			payload: []map[string]any{{
				"id": "p1", "amount": 10.0, "due_date": "2025-06-01", "supplier_id": "s1", "status": "pending",
			}},
			wantValid:     true,
			wantValidated: 1,
			wantWarnings: []string{
				`record 0: due date is in the past for pending payment`,
			},
		},
		"Project ending on its start date is invalid": {
			source: "project-management",
			payload: []map[string]any{{
				"id": "pr1", "name": "HQ build", "start_date": "2025-01-01", "end_date": "2025-01-01",
			}},
			wantValid:     false,
			wantValidated: 1,
			wantFailed:    1,
			wantErrors: []string{
				`record 0: end date must be after start date`,
			},
		},
		"Cost overrun past 150 percent of budget warns": {
			source: "project-management",
			payload: []map[string]any{{
				"id": "pr1", "name": "HQ build", "start_date": "2025-01-01",
				"budget": 1000.0, "actual_cost": 1600.0,
			}},
			wantValid:     true,
			wantValidated: 1,
			wantWarnings: []string{
				`record 0: actual cost significantly exceeds budget`,
			},
		},
		"Large cash flow amount warns": {
			source: "cash-flow",
			payload: []map[string]any{{
				"id": "c1", "date": "2025-06-01", "type": "outflow", "amount": -2000000.0,
			}},
			wantValid:     true,
			wantValidated: 1,
			wantWarnings: []string{
				`record 0: unusually large cash flow amount`,
			},
		},
		"Failure rate at ten percent passes the batch": {
			source:        "accounts-receivable",
			payload:       receivableBatch(10, 1),
			wantValid:     true,
			wantValidated: 10,
			wantFailed:    1,
			wantErrors: []string{
				`record 9: missing required field "customer_id"`,
			},
		},
		"Failure rate above ten percent fails the batch": {
			source:        "accounts-receivable",
			payload:       receivableBatch(5, 1),
			wantValid:     false,
			wantValidated: 5,
			wantFailed:    1,
			wantErrors: []string{
				`record 4: missing required field "customer_id"`,
			},
		},

		// Error cases
		"Malformed JSON payload": {
			source:     "accounts-payable",
			raw:        `{"id": "p1"`,
			wantValid:  false,
			wantFailed: 0,
		},
		"Array of scalars payload": {
			source:     "accounts-payable",
			raw:        `[1, 2, 3]`,
			wantValid:  false,
			wantFailed: 0,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			payload := []byte(tc.raw)
			if tc.raw == "" {
				var err error
				payload, err = json.Marshal(tc.payload)
				require.NoError(t, err, "Setup: failed to marshal payload")
			}

			verdict := validate.Validate(tc.source, payload)

			assert.Equal(t, tc.wantValid, verdict.IsValid, "IsValid mismatch")
			assert.Equal(t, tc.wantValidated, verdict.RecordsValidated, "RecordsValidated mismatch")
			assert.Equal(t, tc.wantFailed, verdict.RecordsFailed, "RecordsFailed mismatch")
			if tc.wantErrors != nil {
				assert.Equal(t, tc.wantErrors, verdict.Errors, "Errors mismatch")
			}
			if tc.wantWarnings != nil {
				assert.Equal(t, tc.wantWarnings, verdict.Warnings, "Warnings mismatch")
			}
		})
	}
}

func TestValidateReportsStructuralError(t *testing.T) {
	t.Parallel()

	verdict := validate.Validate("accounts-payable", []byte(`"just a string"`))

	require.False(t, verdict.IsValid, "Expected structural error to invalidate the payload")
	require.Len(t, verdict.Errors, 1, "Expected a single structural error")
	assert.Zero(t, verdict.RecordsValidated, "No records should have been validated")
}

func TestMain(m *testing.M) {
	defer validate.SetNow(func() time.Time { return fixedNow })()
	m.Run()
}

// receivableBatch builds n valid receivable records with the last `broken`
// ones missing their customer id.
func receivableBatch(n, broken int) []map[string]any {
	records := make([]map[string]any, 0, n)
	for i := range n {
		record := map[string]any{
			"id": "r", "amount": 100.0, "customer_id": "c1", "status": "pending",
		}
		if i >= n-broken {
			delete(record, "customer_id")
		}
		records = append(records, record)
	}
	return records
}
