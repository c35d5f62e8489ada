package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Engine dispatches each of a program's active rules to the evaluator
// registered for its kind and aggregates the results into a weighted
// fit score.
type Engine struct {
	evaluators map[domain.RuleKind]Evaluator
}

// RuleOutcome pairs an evaluated rule with its result.
type RuleOutcome struct {
	Rule   *domain.Rule
	Result *Result
}

// ProgramResult is the aggregate verdict for one program.
type ProgramResult struct {
	Program            *domain.Program
	Eligible           bool
	FitScore           decimal.Decimal
	TotalRules         int
	RulesPassed        int
	RulesFailed        int
	MandatoryAllPassed bool
	RuleOutcomes       []RuleOutcome
}

// NewEngine creates an engine with every built-in evaluator registered.
func NewEngine() (*Engine, error) {
	custom, err := NewCustomEvaluator()
	if err != nil {
		return nil, err
	}

	e := &Engine{evaluators: make(map[domain.RuleKind]Evaluator)}

	e.Register(domain.RuleMinFICO, EvaluateMinFICO)
	e.Register(domain.RuleMinPayNet, EvaluateMinPayNet)
	e.Register(domain.RuleCreditTier, EvaluateCreditTier)
	e.Register(domain.RuleMaxCreditUtilization, EvaluateMaxCreditUtilization)
	e.Register(domain.RuleBankruptcyHistory, EvaluateBankruptcyHistory)

	e.Register(domain.RuleTimeInBusiness, EvaluateTimeInBusiness)
	e.Register(domain.RuleMinRevenue, EvaluateMinRevenue)
	e.Register(domain.RuleLegalStructure, EvaluateLegalStructure)
	e.Register(domain.RuleHomeownerRequired, EvaluateHomeownerRequired)
	e.Register(domain.RuleUSCitizenRequired, EvaluateUSCitizenRequired)

	e.Register(domain.RuleMinLoanAmount, EvaluateMinLoanAmount)
	e.Register(domain.RuleMaxLoanAmount, EvaluateMaxLoanAmount)
	e.Register(domain.RuleMinLoanTerm, EvaluateMinLoanTerm)
	e.Register(domain.RuleMaxLoanTerm, EvaluateMaxLoanTerm)
	e.Register(domain.RuleMinDownPayment, EvaluateMinDownPayment)
	e.Register(domain.RuleMaxLTV, EvaluateMaxLTV)

	e.Register(domain.RuleEquipmentType, EvaluateEquipmentType)
	e.Register(domain.RuleEquipmentAge, EvaluateEquipmentAge)
	e.Register(domain.RuleEquipmentCondition, EvaluateEquipmentCondition)

	e.Register(domain.RuleExcludedStates, EvaluateExcludedStates)
	e.Register(domain.RuleExcludedIndustries, EvaluateExcludedIndustries)
	e.Register(domain.RuleAllowedStates, EvaluateAllowedStates)
	e.Register(domain.RuleAllowedIndustries, EvaluateAllowedIndustries)

	e.Register(domain.RuleCustom, custom.Evaluate)

	return e, nil
}

// Register binds an evaluator to a rule kind, replacing any existing
// binding. Useful for test-time substitution.
func (e *Engine) Register(kind domain.RuleKind, ev Evaluator) {
	e.evaluators[kind] = ev
}

// KindCount returns the number of registered rule kinds.
func (e *Engine) KindCount() int {
	return len(e.evaluators)
}

// EvaluateProgram runs all active rules of a program against the
// application. Rules are evaluated in catalog order; rules whose kind
// has no registered evaluator are skipped and contribute no weight.
func (e *Engine) EvaluateProgram(app *domain.Application, program *domain.Program, asOf time.Time) *ProgramResult {
	pr := &ProgramResult{
		Program:            program,
		FitScore:           decimal.Zero,
		MandatoryAllPassed: true,
	}

	totalScore := decimal.Zero
	totalWeight := decimal.Zero

	for _, rule := range program.Rules {
		if !rule.Active {
			continue
		}
		evaluator, ok := e.evaluators[rule.Kind]
		if !ok {
			continue
		}

		ec := &Context{
			Application: app,
			Business:    app.Business,
			Guarantor:   app.Guarantor,
			Equipment:   app.Equipment,
			Program:     program,
			Rule:        rule,
			AsOf:        asOf,
		}

		result, err := safeEvaluate(evaluator, ec)
		if err != nil {
			result = &Result{
				Passed:    false,
				Score:     decimal.Zero,
				Reason:    fmt.Sprintf("evaluation error: %v", err),
				Evidence:  map[string]any{"error": err.Error()},
				Weight:    rule.Weight,
				Mandatory: rule.Mandatory,
			}
		}

		pr.TotalRules++
		if result.Passed {
			pr.RulesPassed++
		} else {
			pr.RulesFailed++
			if result.Mandatory {
				pr.MandatoryAllPassed = false
			}
		}

		totalScore = totalScore.Add(result.Score)
		totalWeight = totalWeight.Add(result.Weight)
		pr.RuleOutcomes = append(pr.RuleOutcomes, RuleOutcome{Rule: rule, Result: result})
	}

	if totalWeight.IsPositive() {
		fit := totalScore.Div(totalWeight).Round(2)
		if fit.LessThan(decimal.Zero) {
			fit = decimal.Zero
		}
		if fit.GreaterThan(hundred) {
			fit = hundred
		}
		pr.FitScore = fit
	}

	pr.Eligible = pr.MandatoryAllPassed && pr.FitScore.GreaterThanOrEqual(program.MinFitScore)
	return pr
}

// safeEvaluate runs an evaluator, converting panics into errors so a
// misbehaving evaluator cannot abort the program.
func safeEvaluate(ev Evaluator, ec *Context) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return ev(ec)
}
