package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// CustomEvaluator evaluates "custom" rules whose criteria carry a CEL
// boolean expression over application facts. Programs are compiled
// once per expression and cached; catalog snapshots are immutable for
// the duration of a run so the cache never needs invalidation.
type CustomEvaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewCustomEvaluator creates the evaluator with the application fact
// variables declared.
func NewCustomEvaluator() (*CustomEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("requested_amount", cel.DoubleType),
		cel.Variable("term_months", cel.IntType),
		cel.Variable("down_payment_percentage", cel.DoubleType),
		cel.Variable("fico", cel.IntType),
		cel.Variable("has_fico", cel.BoolType),
		cel.Variable("paynet", cel.IntType),
		cel.Variable("has_paynet", cel.BoolType),
		cel.Variable("annual_revenue", cel.DoubleType),
		cel.Variable("has_annual_revenue", cel.BoolType),
		cel.Variable("state", cel.StringType),
		cel.Variable("industry", cel.StringType),
		cel.Variable("legal_structure", cel.StringType),
		cel.Variable("time_in_business_months", cel.IntType),
		cel.Variable("equipment_type", cel.StringType),
		cel.Variable("equipment_condition", cel.StringType),
		cel.Variable("equipment_age", cel.IntType),
		cel.Variable("has_equipment_age", cel.BoolType),
		cel.Variable("equipment_cost", cel.DoubleType),
		cel.Variable("is_homeowner", cel.BoolType),
		cel.Variable("is_us_citizen", cel.BoolType),
		cel.Variable("has_bankruptcy", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate compiles (or reuses) the rule's expression and runs it
// against the application facts.
func (c *CustomEvaluator) Evaluate(ec *Context) (*Result, error) {
	expr, err := criteriaString(ec.Rule.Criteria, "expression")
	if err != nil {
		return badCriteria(ec, err), nil
	}

	program, err := c.compile(expr)
	if err != nil {
		return badCriteria(ec, err), nil
	}

	out, _, err := program.Eval(c.activation(ec))
	if err != nil {
		return nil, fmt.Errorf("custom expression evaluation: %w", err)
	}

	passed, ok := out.(types.Bool)
	if !ok {
		return badCriteria(ec, fmt.Errorf("expression must return bool, got %T", out)), nil
	}

	evidence := map[string]any{"expression": expr}
	if bool(passed) {
		return pass(ec, "Custom condition satisfied", evidence), nil
	}
	return fail(ec, "Custom condition not satisfied", evidence), nil
}

func (c *CustomEvaluator) compile(expr string) (cel.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	c.mu.Lock()
	c.programs[expr] = program
	c.mu.Unlock()

	return program, nil
}

func (c *CustomEvaluator) activation(ec *Context) map[string]any {
	amount, _ := ec.Application.RequestedAmount.Float64()
	activation := map[string]any{
		"requested_amount":        amount,
		"term_months":             ec.Application.TermMonths,
		"down_payment_percentage": 0.0,
		"fico":                    0,
		"has_fico":                false,
		"paynet":                  0,
		"has_paynet":              false,
		"annual_revenue":          0.0,
		"has_annual_revenue":      false,
		"state":                   "",
		"industry":                "",
		"legal_structure":         "",
		"time_in_business_months": 0,
		"equipment_type":          "",
		"equipment_condition":     "",
		"equipment_age":           0,
		"has_equipment_age":       false,
		"equipment_cost":          0.0,
		"is_homeowner":            false,
		"is_us_citizen":           false,
		"has_bankruptcy":          false,
	}

	if ec.Application.DownPaymentPercentage != nil {
		activation["down_payment_percentage"], _ = ec.Application.DownPaymentPercentage.Float64()
	}
	if g := ec.Guarantor; g != nil {
		if g.FICO != nil {
			activation["fico"] = *g.FICO
			activation["has_fico"] = true
		}
		if g.PayNet != nil {
			activation["paynet"] = *g.PayNet
			activation["has_paynet"] = true
		}
		activation["is_homeowner"] = g.IsHomeowner
		activation["is_us_citizen"] = g.IsUSCitizen
		activation["has_bankruptcy"] = g.HasBankruptcy
	}
	if b := ec.Business; b != nil {
		if b.AnnualRevenue != nil {
			activation["annual_revenue"], _ = b.AnnualRevenue.Float64()
			activation["has_annual_revenue"] = true
		}
		activation["state"] = b.State
		activation["industry"] = b.Industry
		activation["legal_structure"] = string(b.LegalStructure)
		activation["time_in_business_months"] = b.MonthsInBusiness(ec.AsOf)
	}
	if e := ec.Equipment; e != nil {
		activation["equipment_type"] = e.Type
		activation["equipment_condition"] = string(e.Condition)
		activation["equipment_cost"], _ = e.Cost.Float64()
		if age := e.AgeYears(ec.AsOf); age != nil {
			activation["equipment_age"] = *age
			activation["has_equipment_age"] = true
		}
	}

	return activation
}
