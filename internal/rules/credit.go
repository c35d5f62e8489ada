package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Partial-credit band widths for the credit family.
var (
	ficoBand   = decimal.NewFromInt(50)
	paynetBand = decimal.NewFromInt(20)
)

// EvaluateMinFICO checks the guarantor FICO against criteria
// {min_score}, with linear partial credit over a 50-point gap.
func EvaluateMinFICO(ec *Context) (*Result, error) {
	minScore, err := criteriaInt(ec.Rule.Criteria, "min_score")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Guarantor == nil || ec.Guarantor.FICO == nil {
		return fail(ec, "FICO score is required but not provided", map[string]any{
			"required": minScore,
		}), nil
	}

	actual := *ec.Guarantor.FICO
	if actual >= minScore {
		return pass(ec, fmt.Sprintf("FICO score %d meets minimum requirement of %d", actual, minScore), map[string]any{
			"actual":   actual,
			"required": minScore,
		}), nil
	}

	gap := minScore - actual
	score := partialCredit(ec.Rule.Weight, decimal.NewFromInt(int64(gap)), ficoBand)
	return failPartial(ec, score,
		fmt.Sprintf("FICO score %d is below minimum requirement of %d (gap: %d)", actual, minScore, gap),
		map[string]any{
			"actual":   actual,
			"required": minScore,
			"gap":      gap,
		}), nil
}

// EvaluateMinPayNet checks the guarantor PayNet score against criteria
// {min_score}, with partial credit over a 20-point gap.
func EvaluateMinPayNet(ec *Context) (*Result, error) {
	minScore, err := criteriaInt(ec.Rule.Criteria, "min_score")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Guarantor == nil || ec.Guarantor.PayNet == nil {
		return fail(ec, "PayNet score is required but not provided", map[string]any{
			"required": minScore,
		}), nil
	}

	actual := *ec.Guarantor.PayNet
	if actual >= minScore {
		return pass(ec, fmt.Sprintf("PayNet score %d meets minimum requirement of %d", actual, minScore), map[string]any{
			"actual":   actual,
			"required": minScore,
		}), nil
	}

	gap := minScore - actual
	score := partialCredit(ec.Rule.Weight, decimal.NewFromInt(int64(gap)), paynetBand)
	return failPartial(ec, score,
		fmt.Sprintf("PayNet score %d is below minimum requirement of %d (gap: %d)", actual, minScore, gap),
		map[string]any{
			"actual":   actual,
			"required": minScore,
			"gap":      gap,
		}), nil
}

// EvaluateCreditTier checks every floor named in criteria
// {min_fico?, min_paynet?, tier_name?}. A missing score for a
// specified floor fails. No partial credit.
func EvaluateCreditTier(ec *Context) (*Result, error) {
	minFICO, hasFICO, err := optionalInt(ec.Rule.Criteria, "min_fico")
	if err != nil {
		return badCriteria(ec, err), nil
	}
	minPayNet, hasPayNet, err := optionalInt(ec.Rule.Criteria, "min_paynet")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	tierName := "credit tier"
	if name, nameErr := criteriaString(ec.Rule.Criteria, "tier_name"); nameErr == nil {
		tierName = name
	}

	evidence := map[string]any{}
	var failures []string

	if hasFICO {
		evidence["required_fico"] = minFICO
		if ec.Guarantor == nil || ec.Guarantor.FICO == nil {
			failures = append(failures, "FICO score is required but not provided")
		} else {
			evidence["actual_fico"] = *ec.Guarantor.FICO
			if *ec.Guarantor.FICO < minFICO {
				failures = append(failures, fmt.Sprintf("FICO score %d below tier requirement of %d", *ec.Guarantor.FICO, minFICO))
			}
		}
	}
	if hasPayNet {
		evidence["required_paynet"] = minPayNet
		if ec.Guarantor == nil || ec.Guarantor.PayNet == nil {
			failures = append(failures, "PayNet score is required but not provided")
		} else {
			evidence["actual_paynet"] = *ec.Guarantor.PayNet
			if *ec.Guarantor.PayNet < minPayNet {
				failures = append(failures, fmt.Sprintf("PayNet score %d below tier requirement of %d", *ec.Guarantor.PayNet, minPayNet))
			}
		}
	}

	if len(failures) > 0 {
		return fail(ec, fmt.Sprintf("Does not meet %s requirements: %s", tierName, strings.Join(failures, "; ")), evidence), nil
	}
	return pass(ec, fmt.Sprintf("Meets %s requirements", tierName), evidence), nil
}

// EvaluateMaxCreditUtilization checks criteria {max_percentage}.
// A missing utilization passes when the rule is advisory and fails
// when it is mandatory.
func EvaluateMaxCreditUtilization(ec *Context) (*Result, error) {
	maxPct, err := criteriaDecimal(ec.Rule.Criteria, "max_percentage")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Guarantor == nil || ec.Guarantor.CreditUtilization == nil {
		if ec.Rule.Mandatory {
			return fail(ec, "Credit utilization is required but not provided", map[string]any{
				"required": evidenceFloat(maxPct),
			}), nil
		}
		return pass(ec, "Credit utilization not provided; rule is advisory", map[string]any{
			"required": evidenceFloat(maxPct),
		}), nil
	}

	actual := *ec.Guarantor.CreditUtilization
	if actual.LessThanOrEqual(maxPct) {
		return pass(ec, fmt.Sprintf("Credit utilization %s%% is within maximum of %s%%", actual.Round(2), maxPct.Round(2)), map[string]any{
			"actual":   evidenceFloat(actual),
			"required": evidenceFloat(maxPct),
		}), nil
	}

	excess := actual.Sub(maxPct)
	return fail(ec, fmt.Sprintf("Credit utilization %s%% exceeds maximum of %s%% (excess: %s%%)", actual.Round(2), maxPct.Round(2), excess.Round(2)), map[string]any{
		"actual":   evidenceFloat(actual),
		"required": evidenceFloat(maxPct),
		"excess":   evidenceFloat(excess),
	}), nil
}

// EvaluateBankruptcyHistory checks criteria
// {allow_discharged?, min_years_since_discharge?}. Guarantors without
// bankruptcy history always pass; discharged bankruptcies pass only
// when the criteria allow them and enough time has elapsed.
func EvaluateBankruptcyHistory(ec *Context) (*Result, error) {
	if ec.Guarantor == nil || !ec.Guarantor.HasBankruptcy {
		return pass(ec, "No bankruptcy history", nil), nil
	}

	allowDischarged := false
	if _, ok := ec.Rule.Criteria["allow_discharged"]; ok {
		v, err := criteriaBool(ec.Rule.Criteria, "allow_discharged")
		if err != nil {
			return badCriteria(ec, err), nil
		}
		allowDischarged = v
	}

	if !allowDischarged {
		return fail(ec, "Bankruptcy history is not accepted", map[string]any{
			"has_bankruptcy": true,
		}), nil
	}

	if ec.Guarantor.BankruptcyDischargeDate == nil {
		return fail(ec, "Bankruptcy has not been discharged", map[string]any{
			"has_bankruptcy": true,
			"discharged":     false,
		}), nil
	}

	minYears, hasMin, err := optionalInt(ec.Rule.Criteria, "min_years_since_discharge")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	years := ec.AsOf.Year() - ec.Guarantor.BankruptcyDischargeDate.Year()
	if ec.AsOf.YearDay() < ec.Guarantor.BankruptcyDischargeDate.YearDay() {
		years--
	}
	if hasMin && years < minYears {
		return fail(ec, fmt.Sprintf("Bankruptcy discharged %d years ago, below minimum of %d years", years, minYears), map[string]any{
			"actual":   years,
			"required": minYears,
		}), nil
	}

	return pass(ec, fmt.Sprintf("Bankruptcy discharged %d years ago", years), map[string]any{
		"actual": years,
	}), nil
}
