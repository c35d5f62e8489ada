// Package scoring estimates interest rates, monthly payments, and
// approval probabilities for match results.
package scoring

import (
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// RateInputs are the application facts the rate scorer reads.
// Absent optional facts make conditions referencing them false.
type RateInputs struct {
	RequestedAmount decimal.Decimal
	TermMonths      int
	EquipmentAge    *int
	FICO            *int
}

// EstimateRate resolves the base rate for the requested amount and
// term from the program's rate tables, then applies every adjustment
// whose condition holds. Returns nil when no base-rate row matches.
// The final rate is clamped to >= 0 and quantized to two decimals.
func EstimateRate(meta *domain.RateMetadata, in RateInputs) *decimal.Decimal {
	if meta == nil {
		return nil
	}

	base := resolveBaseRate(meta.BaseRates, in)
	if base == nil {
		return nil
	}

	rate := *base
	for _, adj := range meta.Adjustments {
		if evalCondition(adj.Condition, in) {
			rate = rate.Add(adj.Delta)
		}
	}

	if rate.LessThan(decimal.Zero) {
		rate = decimal.Zero
	}
	rate = rate.Round(2)
	return &rate
}

// resolveBaseRate scans rows in order and returns the first whose
// amount band contains the requested amount, inclusive on both ends.
// Rows carrying term bounds are skipped when the term falls outside.
func resolveBaseRate(rows []domain.BaseRateRow, in RateInputs) *decimal.Decimal {
	for _, row := range rows {
		if in.RequestedAmount.LessThan(row.MinAmount) || in.RequestedAmount.GreaterThan(row.MaxAmount) {
			continue
		}
		if row.MinTerm != nil && in.TermMonths < *row.MinTerm {
			continue
		}
		if row.MaxTerm != nil && in.TermMonths > *row.MaxTerm {
			continue
		}
		rate := row.Rate
		return &rate
	}
	return nil
}

// evalCondition evaluates a single comparison of the form
// "<var> <op> <int>" where var is equipment_age or fico and op is one
// of <, <=, >, >=. Unparseable conditions and conditions referencing
// an absent variable are false, never errors.
func evalCondition(condition string, in RateInputs) bool {
	cond := strings.ToLower(strings.TrimSpace(condition))
	if cond == "" {
		return false
	}

	// Two-character operators first so "<=" is not split as "<".
	var op string
	var opIdx int
	for _, candidate := range []string{"<=", ">=", "<", ">"} {
		if idx := strings.Index(cond, candidate); idx >= 0 {
			op = candidate
			opIdx = idx
			break
		}
	}
	if op == "" {
		return false
	}

	varName := strings.TrimSpace(cond[:opIdx])
	threshold, err := decimal.NewFromString(strings.TrimSpace(cond[opIdx+len(op):]))
	if err != nil {
		return false
	}

	var actual *int
	switch varName {
	case "equipment_age":
		actual = in.EquipmentAge
	case "fico":
		actual = in.FICO
	default:
		return false
	}
	if actual == nil {
		return false
	}

	value := decimal.NewFromInt(int64(*actual))
	switch op {
	case "<":
		return value.LessThan(threshold)
	case "<=":
		return value.LessThanOrEqual(threshold)
	case ">":
		return value.GreaterThan(threshold)
	case ">=":
		return value.GreaterThanOrEqual(threshold)
	}
	return false
}
