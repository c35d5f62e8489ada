package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Partial-credit bands for the business family.
var (
	tibBandMonths    = decimal.NewFromInt(6)
	revenueBandRatio = decimal.NewFromFloat(0.2)
)

// EvaluateTimeInBusiness checks months in business against criteria
// {min_years} or {min_months} (exactly one), with partial credit over
// a 6-month gap.
func EvaluateTimeInBusiness(ec *Context) (*Result, error) {
	minYears, hasYears, err := optionalInt(ec.Rule.Criteria, "min_years")
	if err != nil {
		return badCriteria(ec, err), nil
	}
	minMonths, hasMonths, err := optionalInt(ec.Rule.Criteria, "min_months")
	if err != nil {
		return badCriteria(ec, err), nil
	}
	if hasYears == hasMonths {
		return badCriteria(ec, fmt.Errorf("exactly one of min_years or min_months is required")), nil
	}

	required := minMonths
	if hasYears {
		required = minYears * 12
	}

	if ec.Business == nil {
		return fail(ec, "Business information is required but not provided", map[string]any{
			"required": required,
		}), nil
	}

	actual := ec.Business.MonthsInBusiness(ec.AsOf)
	if actual >= required {
		return pass(ec, fmt.Sprintf("Time in business %d months meets minimum requirement of %d months", actual, required), map[string]any{
			"actual":   actual,
			"required": required,
		}), nil
	}

	gap := required - actual
	score := partialCredit(ec.Rule.Weight, decimal.NewFromInt(int64(gap)), tibBandMonths)
	return failPartial(ec, score,
		fmt.Sprintf("Time in business %d months is below minimum requirement of %d months (gap: %d)", actual, required, gap),
		map[string]any{
			"actual":   actual,
			"required": required,
			"gap":      gap,
		}), nil
}

// EvaluateMinRevenue checks annual revenue against criteria
// {min_amount}, with partial credit when the shortfall is within 20%
// of the requirement.
func EvaluateMinRevenue(ec *Context) (*Result, error) {
	minAmount, err := criteriaDecimal(ec.Rule.Criteria, "min_amount")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Business == nil || ec.Business.AnnualRevenue == nil {
		return fail(ec, "Annual revenue is required but not provided", map[string]any{
			"required": evidenceFloat(minAmount),
		}), nil
	}

	actual := *ec.Business.AnnualRevenue
	if actual.GreaterThanOrEqual(minAmount) {
		return pass(ec, fmt.Sprintf("Annual revenue $%s meets minimum requirement of $%s", actual.Round(2), minAmount.Round(2)), map[string]any{
			"actual":   evidenceFloat(actual),
			"required": evidenceFloat(minAmount),
		}), nil
	}

	shortfall := minAmount.Sub(actual)
	band := minAmount.Mul(revenueBandRatio)
	score := partialCredit(ec.Rule.Weight, shortfall, band)
	return failPartial(ec, score,
		fmt.Sprintf("Annual revenue $%s is below minimum requirement of $%s (gap: $%s)", actual.Round(2), minAmount.Round(2), shortfall.Round(2)),
		map[string]any{
			"actual":   evidenceFloat(actual),
			"required": evidenceFloat(minAmount),
			"gap":      evidenceFloat(shortfall),
		}), nil
}

// EvaluateLegalStructure checks criteria {allowed_structures}.
func EvaluateLegalStructure(ec *Context) (*Result, error) {
	allowed, err := criteriaStrings(ec.Rule.Criteria, "allowed_structures")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Business == nil {
		return fail(ec, "Business information is required but not provided", map[string]any{
			"required": allowed,
		}), nil
	}

	actual := string(ec.Business.LegalStructure)
	for _, s := range allowed {
		if strings.EqualFold(s, actual) {
			return pass(ec, fmt.Sprintf("Legal structure %s is accepted", actual), map[string]any{
				"actual":   actual,
				"required": allowed,
			}), nil
		}
	}

	return fail(ec, fmt.Sprintf("Legal structure %s is not in allowed structures", actual), map[string]any{
		"actual":   actual,
		"required": allowed,
	}), nil
}

// EvaluateHomeownerRequired requires the guarantor to be a homeowner.
func EvaluateHomeownerRequired(ec *Context) (*Result, error) {
	if ec.Guarantor != nil && ec.Guarantor.IsHomeowner {
		return pass(ec, "Guarantor is a homeowner", map[string]any{
			"is_homeowner": true,
		}), nil
	}
	return fail(ec, "Guarantor is not a homeowner", map[string]any{
		"is_homeowner": false,
	}), nil
}

// EvaluateUSCitizenRequired requires the guarantor to be a US citizen.
func EvaluateUSCitizenRequired(ec *Context) (*Result, error) {
	if ec.Guarantor != nil && ec.Guarantor.IsUSCitizen {
		return pass(ec, "Guarantor is a US citizen", map[string]any{
			"is_us_citizen": true,
		}), nil
	}
	return fail(ec, "Guarantor is not a US citizen", map[string]any{
		"is_us_citizen": false,
	}), nil
}
