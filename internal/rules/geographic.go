package rules

import (
	"fmt"
	"strings"
)

// EvaluateExcludedStates checks criteria {states}. The business state
// passes when it is not in the list. States are compared uppercase.
func EvaluateExcludedStates(ec *Context) (*Result, error) {
	states, err := criteriaStrings(ec.Rule.Criteria, "states")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Business == nil {
		return fail(ec, "Business information is required but not provided", nil), nil
	}

	actual := strings.ToUpper(ec.Business.State)
	for _, s := range states {
		if strings.ToUpper(s) == actual {
			return fail(ec, fmt.Sprintf("Business state %s is excluded", actual), map[string]any{
				"actual":   actual,
				"excluded": states,
			}), nil
		}
	}

	return pass(ec, fmt.Sprintf("Business state %s is not excluded", actual), map[string]any{
		"actual": actual,
	}), nil
}

// EvaluateAllowedStates checks criteria {states} with the membership
// test inverted: the business state must be in the list.
func EvaluateAllowedStates(ec *Context) (*Result, error) {
	states, err := criteriaStrings(ec.Rule.Criteria, "states")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Business == nil {
		return fail(ec, "Business information is required but not provided", nil), nil
	}

	actual := strings.ToUpper(ec.Business.State)
	for _, s := range states {
		if strings.ToUpper(s) == actual {
			return pass(ec, fmt.Sprintf("Business state %s is in allowed states", actual), map[string]any{
				"actual":   actual,
				"required": states,
			}), nil
		}
	}

	return fail(ec, fmt.Sprintf("Business state %s is not in allowed states", actual), map[string]any{
		"actual":   actual,
		"required": states,
	}), nil
}

// EvaluateExcludedIndustries checks criteria {industries} with
// case-insensitive membership.
func EvaluateExcludedIndustries(ec *Context) (*Result, error) {
	industries, err := criteriaStrings(ec.Rule.Criteria, "industries")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Business == nil {
		return fail(ec, "Business information is required but not provided", nil), nil
	}

	actual := ec.Business.Industry
	if containsFold(industries, actual) {
		return fail(ec, fmt.Sprintf("Business industry %s is excluded", actual), map[string]any{
			"actual":   actual,
			"excluded": industries,
		}), nil
	}

	return pass(ec, fmt.Sprintf("Business industry %s is not excluded", actual), map[string]any{
		"actual": actual,
	}), nil
}

// EvaluateAllowedIndustries checks criteria {industries}: the business
// industry must be in the list (case-insensitive).
func EvaluateAllowedIndustries(ec *Context) (*Result, error) {
	industries, err := criteriaStrings(ec.Rule.Criteria, "industries")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	if ec.Business == nil {
		return fail(ec, "Business information is required but not provided", nil), nil
	}

	actual := ec.Business.Industry
	if containsFold(industries, actual) {
		return pass(ec, fmt.Sprintf("Business industry %s is in allowed industries", actual), map[string]any{
			"actual":   actual,
			"required": industries,
		}), nil
	}

	return fail(ec, fmt.Sprintf("Business industry %s is not in allowed industries", actual), map[string]any{
		"actual":   actual,
		"required": industries,
	}), nil
}
