package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EvaluateMinLoanAmount checks criteria {min_amount}.
func EvaluateMinLoanAmount(ec *Context) (*Result, error) {
	minAmount, err := criteriaDecimal(ec.Rule.Criteria, "min_amount")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	actual := ec.Application.RequestedAmount
	if actual.GreaterThanOrEqual(minAmount) {
		return pass(ec, fmt.Sprintf("Requested amount $%s meets minimum of $%s", actual, minAmount), map[string]any{
			"actual":   evidenceFloat(actual),
			"required": evidenceFloat(minAmount),
		}), nil
	}

	gap := minAmount.Sub(actual)
	return fail(ec, fmt.Sprintf("Requested amount $%s below minimum of $%s (gap: $%s)", actual, minAmount, gap), map[string]any{
		"actual":   evidenceFloat(actual),
		"required": evidenceFloat(minAmount),
		"gap":      evidenceFloat(gap),
	}), nil
}

// EvaluateMaxLoanAmount checks criteria {max_amount}.
func EvaluateMaxLoanAmount(ec *Context) (*Result, error) {
	maxAmount, err := criteriaDecimal(ec.Rule.Criteria, "max_amount")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	actual := ec.Application.RequestedAmount
	if actual.LessThanOrEqual(maxAmount) {
		return pass(ec, fmt.Sprintf("Requested amount $%s is within maximum of $%s", actual, maxAmount), map[string]any{
			"actual":   evidenceFloat(actual),
			"required": evidenceFloat(maxAmount),
		}), nil
	}

	excess := actual.Sub(maxAmount)
	return fail(ec, fmt.Sprintf("Requested amount $%s exceeds maximum of $%s (excess: $%s)", actual, maxAmount, excess), map[string]any{
		"actual":   evidenceFloat(actual),
		"required": evidenceFloat(maxAmount),
		"excess":   evidenceFloat(excess),
	}), nil
}

// EvaluateMinLoanTerm checks criteria {min_months}.
func EvaluateMinLoanTerm(ec *Context) (*Result, error) {
	minMonths, err := criteriaInt(ec.Rule.Criteria, "min_months")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	actual := ec.Application.TermMonths
	if actual >= minMonths {
		return pass(ec, fmt.Sprintf("Term %d months meets minimum of %d months", actual, minMonths), map[string]any{
			"actual":   actual,
			"required": minMonths,
		}), nil
	}
	return fail(ec, fmt.Sprintf("Term %d months below minimum of %d months", actual, minMonths), map[string]any{
		"actual":   actual,
		"required": minMonths,
		"gap":      minMonths - actual,
	}), nil
}

// EvaluateMaxLoanTerm checks criteria {max_months}.
func EvaluateMaxLoanTerm(ec *Context) (*Result, error) {
	maxMonths, err := criteriaInt(ec.Rule.Criteria, "max_months")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	actual := ec.Application.TermMonths
	if actual <= maxMonths {
		return pass(ec, fmt.Sprintf("Term %d months is within maximum of %d months", actual, maxMonths), map[string]any{
			"actual":   actual,
			"required": maxMonths,
		}), nil
	}
	return fail(ec, fmt.Sprintf("Term %d months exceeds maximum of %d months", actual, maxMonths), map[string]any{
		"actual":   actual,
		"required": maxMonths,
		"excess":   actual - maxMonths,
	}), nil
}

// EvaluateMinDownPayment checks criteria {min_percentage}. An absent
// down payment is treated as 0%.
func EvaluateMinDownPayment(ec *Context) (*Result, error) {
	minPct, err := criteriaDecimal(ec.Rule.Criteria, "min_percentage")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	actual := decimal.Zero
	switch {
	case ec.Application.DownPaymentPercentage != nil:
		actual = *ec.Application.DownPaymentPercentage
	case ec.Application.DownPaymentAmount != nil && ec.Application.RequestedAmount.IsPositive():
		actual = ec.Application.DownPaymentAmount.Mul(hundred).Div(ec.Application.RequestedAmount).Round(2)
	}

	if actual.GreaterThanOrEqual(minPct) {
		return pass(ec, fmt.Sprintf("Down payment %s%% meets minimum of %s%%", actual.Round(2), minPct.Round(2)), map[string]any{
			"actual":   evidenceFloat(actual),
			"required": evidenceFloat(minPct),
		}), nil
	}

	gap := minPct.Sub(actual)
	return fail(ec, fmt.Sprintf("Down payment %s%% below minimum of %s%% (gap: %s%%)", actual.Round(2), minPct.Round(2), gap.Round(2)), map[string]any{
		"actual":   evidenceFloat(actual),
		"required": evidenceFloat(minPct),
		"gap":      evidenceFloat(gap),
	}), nil
}

// EvaluateMaxLTV checks criteria {max_percentage} against
// requested_amount / equipment_cost x 100.
func EvaluateMaxLTV(ec *Context) (*Result, error) {
	maxPct, err := criteriaDecimal(ec.Rule.Criteria, "max_percentage")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Equipment == nil {
		return fail(ec, "Equipment information is required for LTV calculation", map[string]any{
			"required": evidenceFloat(maxPct),
		}), nil
	}
	if ec.Equipment.Cost.IsZero() {
		return fail(ec, "Equipment cost cannot be zero for LTV calculation", map[string]any{
			"required": evidenceFloat(maxPct),
		}), nil
	}

	actual := ec.Application.RequestedAmount.Mul(hundred).Div(ec.Equipment.Cost).Round(2)
	if actual.LessThanOrEqual(maxPct) {
		return pass(ec, fmt.Sprintf("LTV %s%% is within maximum of %s%%", actual, maxPct.Round(2)), map[string]any{
			"actual":   evidenceFloat(actual),
			"required": evidenceFloat(maxPct),
		}), nil
	}

	excess := actual.Sub(maxPct)
	return fail(ec, fmt.Sprintf("LTV %s%% exceeds maximum of %s%% (excess: %s%%)", actual, maxPct.Round(2), excess.Round(2)), map[string]any{
		"actual":   evidenceFloat(actual),
		"required": evidenceFloat(maxPct),
		"excess":   evidenceFloat(excess),
	}), nil
}
