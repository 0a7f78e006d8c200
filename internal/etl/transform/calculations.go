package transform

import (
	"math"
	"strings"
	"time"

	"github.com/construction-hub/analytics-service/internal/etl/fields"
)

// calcFunc derives a calculated field from the original (pre-mapping) record.
// A nil return becomes an explicit null on the normalized record.
type calcFunc func(record map[string]any, sourceName string, now time.Time) any

// calculations is the closed table of named calculated fields. Rule sets
// bind a subset of these names per source.
var calculations = map[string]calcFunc{
	"days_until_due":         calcDaysUntilDue,
	"days_overdue":           calcDaysOverdue,
	"amount_cad":             calcAmountCAD,
	"risk_score":             calcPayableRiskScore,
	"collection_probability": calcCollectionProbability,
	"trend_indicator":        calcTrendIndicator,
	"budget_variance":        calcBudgetVariance,
	"project_duration":       calcProjectDuration,
	"completion_percentage":  calcCompletionPercentage,
	"cost_per_day":           calcCostPerDay,
}

// daysBetween is the signed whole-day difference from one time to another,
// floored so a partial day counts toward the earlier day.
func daysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}

func calcDaysUntilDue(record map[string]any, _ string, now time.Time) any {
	due, ok := fields.Date(record["due_date"])
	if !ok {
		return nil
	}
	return daysBetween(now, due)
}

func calcDaysOverdue(record map[string]any, _ string, now time.Time) any {
	payment, ok := fields.Date(record["payment_date"])
	if !ok {
		return nil
	}
	if payment.Before(now) {
		return daysBetween(payment, now)
	}
	return 0
}

// calcAmountCAD passes the amount through as CAD. Upstream services already
// report in CAD; this is where currency conversion would hook in.
func calcAmountCAD(record map[string]any, _ string, _ time.Time) any {
	amount, ok := fields.Float(record["amount"])
	if !ok {
		return nil
	}
	return amount
}

// calcPayableRiskScore scores a payable in [0, 1] from its amount tier, due
// date proximity and status. Tiers within a factor are mutually exclusive.
func calcPayableRiskScore(record map[string]any, _ string, now time.Time) any {
	score := 0.0

	if amount, ok := fields.Float(record["amount"]); ok {
		switch {
		case amount > 100000:
			score += 0.3
		case amount > 50000:
			score += 0.2
		case amount > 10000:
			score += 0.1
		}
	}

	if due, ok := fields.Date(record["due_date"]); ok {
		switch days := daysBetween(now, due); {
		case days < 0:
			score += 0.4
		case days < 7:
			score += 0.2
		case days < 30:
			score += 0.1
		}
	}

	switch strings.ToLower(fields.String(record["status"])) {
	case "overdue":
		score += 0.3
	case "pending":
		score += 0.1
	}

	return math.Min(score, 1.0)
}

// calcCollectionProbability estimates how likely a receivable is to be
// collected, in [0, 1]. Discounts apply in a fixed order: overdue age, then
// amount, then a status override.
func calcCollectionProbability(record map[string]any, _ string, now time.Time) any {
	probability := 1.0

	if payment, ok := fields.Date(record["payment_date"]); ok {
		switch days := daysBetween(payment, now); {
		case days > 90:
			probability *= 0.3
		case days > 60:
			probability *= 0.5
		case days > 30:
			probability *= 0.7
		case days > 0:
			probability *= 0.9
		}
	}

	if amount, ok := fields.Float(record["amount"]); ok {
		switch {
		case amount > 500000:
			probability *= 0.8
		case amount > 100000:
			probability *= 0.9
		}
	}

	switch strings.ToLower(fields.String(record["status"])) {
	case "paid":
		probability = 1.0
	case "overdue":
		probability *= 0.6
	case "partial":
		probability *= 0.8
	}

	return math.Max(probability, 0.0)
}

func calcTrendIndicator(record map[string]any, _ string, _ time.Time) any {
	amount, ok := fields.Float(record["amount"])
	if !ok {
		return nil
	}

	switch flowType := strings.ToLower(fields.String(record["type"])); {
	case flowType == "inflow" && amount > 0:
		return "positive"
	case flowType == "outflow" && amount > 0:
		return "negative"
	default:
		return "neutral"
	}
}

func calcBudgetVariance(record map[string]any, _ string, _ time.Time) any {
	budget, budgetOK := fields.Float(record["budget"])
	actual, actualOK := fields.Float(record["actual_cost"])
	if !budgetOK || !actualOK || budget <= 0 {
		return nil
	}
	return round2((actual - budget) / budget * 100)
}

func calcProjectDuration(record map[string]any, _ string, _ time.Time) any {
	start, startOK := fields.Date(record["start_date"])
	end, endOK := fields.Date(record["end_date"])
	if !startOK || !endOK {
		return nil
	}
	return max(daysBetween(start, end), 0)
}

func calcCompletionPercentage(record map[string]any, _ string, now time.Time) any {
	start, startOK := fields.Date(record["start_date"])
	end, endOK := fields.Date(record["end_date"])
	if !startOK || !endOK {
		return nil
	}

	switch {
	case now.Before(start):
		return 0.0
	case now.After(end):
		return 100.0
	}

	total := daysBetween(start, end)
	if total <= 0 {
		return nil
	}
	elapsed := daysBetween(start, now)
	return round2(math.Min(float64(elapsed)/float64(total)*100, 100.0))
}

func calcCostPerDay(record map[string]any, _ string, now time.Time) any {
	actual, ok := fields.Float(record["actual_cost"])
	if !ok {
		return nil
	}
	start, ok := fields.Date(record["start_date"])
	if !ok {
		return nil
	}

	elapsed := daysBetween(start, now)
	if elapsed <= 0 {
		return nil
	}
	return round2(actual / float64(elapsed))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
