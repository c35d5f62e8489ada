package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Partial-credit band for equipment over-age, in years.
var equipmentAgeBand = decimal.NewFromInt(2)

// EvaluateEquipmentType checks criteria {allowed_types?, excluded_types?}
// (at least one required). Comparison is case-insensitive; exclusion
// wins over allowance.
func EvaluateEquipmentType(ec *Context) (*Result, error) {
	_, hasAllowed := ec.Rule.Criteria["allowed_types"]
	_, hasExcluded := ec.Rule.Criteria["excluded_types"]
	if !hasAllowed && !hasExcluded {
		return badCriteria(ec, fmt.Errorf("at least one of allowed_types or excluded_types is required")), nil
	}

	if ec.Equipment == nil {
		return fail(ec, "Equipment information is required but not provided", nil), nil
	}
	actual := ec.Equipment.Type

	if hasExcluded {
		list, err := criteriaStrings(ec.Rule.Criteria, "excluded_types")
		if err != nil {
			return badCriteria(ec, err), nil
		}
		if containsFold(list, actual) {
			return fail(ec, fmt.Sprintf("Equipment type %s is excluded", actual), map[string]any{
				"actual":   actual,
				"excluded": list,
			}), nil
		}
	}

	if hasAllowed {
		list, err := criteriaStrings(ec.Rule.Criteria, "allowed_types")
		if err != nil {
			return badCriteria(ec, err), nil
		}
		if !containsFold(list, actual) {
			return fail(ec, fmt.Sprintf("Equipment type %s is not in allowed types", actual), map[string]any{
				"actual":   actual,
				"required": list,
			}), nil
		}
	}

	return pass(ec, fmt.Sprintf("Equipment type %s is accepted", actual), map[string]any{
		"actual": actual,
	}), nil
}

// EvaluateEquipmentAge checks criteria {max_age_years} against the
// derived equipment age, with partial credit over a 2-year over-age
// band. A missing manufacture year on non-new equipment fails.
func EvaluateEquipmentAge(ec *Context) (*Result, error) {
	maxAge, err := criteriaInt(ec.Rule.Criteria, "max_age_years")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Equipment == nil {
		return fail(ec, "Equipment information is required but not provided", map[string]any{
			"required": maxAge,
		}), nil
	}

	age := ec.Equipment.AgeYears(ec.AsOf)
	if age == nil {
		return fail(ec, "Equipment year manufactured is required for age verification", map[string]any{
			"required": maxAge,
		}), nil
	}

	if *age <= maxAge {
		return pass(ec, fmt.Sprintf("Equipment age %d years is within maximum of %d years", *age, maxAge), map[string]any{
			"actual":   *age,
			"required": maxAge,
		}), nil
	}

	excess := *age - maxAge
	score := partialCredit(ec.Rule.Weight, decimal.NewFromInt(int64(excess)), equipmentAgeBand)
	return failPartial(ec, score,
		fmt.Sprintf("Equipment age %d years exceeds maximum of %d years (excess: %d)", *age, maxAge, excess),
		map[string]any{
			"actual":   *age,
			"required": maxAge,
			"excess":   excess,
		}), nil
}

// EvaluateEquipmentCondition checks criteria
// {allowed_conditions?, excluded_conditions?} (at least one required).
func EvaluateEquipmentCondition(ec *Context) (*Result, error) {
	_, hasAllowed := ec.Rule.Criteria["allowed_conditions"]
	_, hasExcluded := ec.Rule.Criteria["excluded_conditions"]
	if !hasAllowed && !hasExcluded {
		return badCriteria(ec, fmt.Errorf("at least one of allowed_conditions or excluded_conditions is required")), nil
	}

	if ec.Equipment == nil {
		return fail(ec, "Equipment information is required but not provided", nil), nil
	}
	actual := string(ec.Equipment.Condition)

	if hasExcluded {
		list, err := criteriaStrings(ec.Rule.Criteria, "excluded_conditions")
		if err != nil {
			return badCriteria(ec, err), nil
		}
		if containsFold(list, actual) {
			return fail(ec, fmt.Sprintf("Equipment condition %s is excluded", actual), map[string]any{
				"actual":   actual,
				"excluded": list,
			}), nil
		}
	}

	if hasAllowed {
		list, err := criteriaStrings(ec.Rule.Criteria, "allowed_conditions")
		if err != nil {
			return badCriteria(ec, err), nil
		}
		if !containsFold(list, actual) {
			return fail(ec, fmt.Sprintf("Equipment condition %s is not in allowed conditions", actual), map[string]any{
				"actual":   actual,
				"required": list,
			}), nil
		}
	}

	return pass(ec, fmt.Sprintf("Equipment condition %s is accepted", actual), map[string]any{
		"actual": actual,
	}), nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
