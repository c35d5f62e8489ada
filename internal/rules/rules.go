// Package rules provides the typed rule evaluators and the evaluation
// engine that aggregates them into a program fit score.
package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Context carries the read-only inputs for one rule evaluation.
type Context struct {
	Application *domain.Application
	Business    *domain.Business
	Guarantor   *domain.Guarantor
	Equipment   *domain.Equipment
	Program     *domain.Program
	Rule        *domain.Rule

	// AsOf is the clock for derived facts (time in business,
	// equipment age). Captured once per run.
	AsOf time.Time
}

// Result is one rule's verdict. Score is normalized to
// [0, 100 x weight]; a full pass yields 100 x weight.
type Result struct {
	Passed    bool
	Score     decimal.Decimal
	Reason    string
	Evidence  map[string]any
	Weight    decimal.Decimal
	Mandatory bool
}

// Evaluator decides one rule kind against one application.
// Evaluators are pure functions of the context and must not perform I/O.
type Evaluator func(ec *Context) (*Result, error)

func pass(ec *Context, reason string, evidence map[string]any) *Result {
	return &Result{
		Passed:    true,
		Score:     ec.Rule.Weight.Mul(hundred).Round(2),
		Reason:    reason,
		Evidence:  evidence,
		Weight:    ec.Rule.Weight,
		Mandatory: ec.Rule.Mandatory,
	}
}

func fail(ec *Context, reason string, evidence map[string]any) *Result {
	return &Result{
		Passed:    false,
		Score:     decimal.Zero,
		Reason:    reason,
		Evidence:  evidence,
		Weight:    ec.Rule.Weight,
		Mandatory: ec.Rule.Mandatory,
	}
}

func failPartial(ec *Context, score decimal.Decimal, reason string, evidence map[string]any) *Result {
	r := fail(ec, reason, evidence)
	r.Score = score
	return r
}

// partialCredit computes weight x 100 x max(0, 1 - deficit/band).
func partialCredit(weight, deficit, band decimal.Decimal) decimal.Decimal {
	if band.IsZero() || deficit.LessThanOrEqual(decimal.Zero) {
		return weight.Mul(hundred).Round(2)
	}
	frac := decimal.NewFromInt(1).Sub(deficit.Div(band))
	if frac.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return weight.Mul(hundred).Mul(frac).Round(2)
}

// badCriteria converts a criteria parse failure into a failed result
// carrying the parse error. The rule's weight and mandatory flag are
// preserved so the failure gates eligibility the same way a normal
// fail would.
func badCriteria(ec *Context, err error) *Result {
	return fail(ec, fmt.Sprintf("invalid rule criteria: %v", err), map[string]any{
		"error": err.Error(),
	})
}

// Criteria accessors. Criteria maps come from JSON documents, so
// numbers arrive as float64 and lists as []any.

func criteriaDecimal(criteria map[string]any, key string) (decimal.Decimal, error) {
	raw, ok := criteria[key]
	if !ok || raw == nil {
		return decimal.Zero, fmt.Errorf("missing required key %q", key)
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("key %q: %w", key, err)
		}
		return d, nil
	case decimal.Decimal:
		return v, nil
	default:
		return decimal.Zero, fmt.Errorf("key %q: expected number, got %T", key, raw)
	}
}

func criteriaInt(criteria map[string]any, key string) (int, error) {
	d, err := criteriaDecimal(criteria, key)
	if err != nil {
		return 0, err
	}
	return int(d.IntPart()), nil
}

func criteriaBool(criteria map[string]any, key string) (bool, error) {
	raw, ok := criteria[key]
	if !ok || raw == nil {
		return false, fmt.Errorf("missing required key %q", key)
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("key %q: expected bool, got %T", key, raw)
	}
	return b, nil
}

func criteriaString(criteria map[string]any, key string) (string, error) {
	raw, ok := criteria[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("missing required key %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("key %q: expected string, got %T", key, raw)
	}
	return s, nil
}

func criteriaStrings(criteria map[string]any, key string) ([]string, error) {
	raw, ok := criteria[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("missing required key %q", key)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("key %q: expected list of strings, got %T element", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("key %q: expected list of strings, got %T", key, raw)
	}
}

// optionalInt returns (0, false, nil) when the key is absent.
func optionalInt(criteria map[string]any, key string) (int, bool, error) {
	if _, ok := criteria[key]; !ok {
		return 0, false, nil
	}
	v, err := criteriaInt(criteria, key)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func evidenceFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
