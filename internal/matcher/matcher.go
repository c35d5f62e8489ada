// Package matcher implements the three-tier lender matching pipeline:
// lender fast-filter, program eligibility selection, and rule
// evaluation with best-program selection.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/shopspring/decimal"
)

// Matcher evaluates one application against a lender catalog.
type Matcher struct {
	engine     *rules.Engine
	maxWorkers int
}

// New creates a matcher. maxWorkers caps per-lender parallelism; the
// work per lender is small, so a small constant is enough.
func New(engine *rules.Engine, maxWorkers int) *Matcher {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Matcher{engine: engine, maxWorkers: maxWorkers}
}

// Result is the matcher's verdict for one lender before persistence.
type Result struct {
	Lender                  *domain.Lender
	Program                 *domain.Program
	Eligible                bool
	FitScore                decimal.Decimal
	RejectionReason         *string
	RejectionTier           *int
	EstimatedRate           *decimal.Decimal
	EstimatedMonthlyPayment *decimal.Decimal
	ApprovalProbability     *decimal.Decimal
	TotalRules              int
	RulesPassed             int
	RulesFailed             int
	MandatoryAllPassed      bool
	RuleOutcomes            []rules.RuleOutcome
	ProgramsEvaluated       int
}

// Match runs all three tiers for every lender. Lenders are evaluated
// under a bounded worker pool; the returned slice is sorted eligible
// first, fit score descending, with catalog order preserved on ties.
func (m *Matcher) Match(ctx context.Context, app *domain.Application, lenders []*domain.Lender, asOf time.Time) []*Result {
	results := make([]*Result, len(lenders))

	var wg sync.WaitGroup
	sem := make(chan struct{}, m.maxWorkers)

	for i, lender := range lenders {
		wg.Add(1)
		go func(idx int, l *domain.Lender) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = m.matchLender(app, l, asOf)
		}(i, lender)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Eligible != results[j].Eligible {
			return results[i].Eligible
		}
		return results[i].FitScore.GreaterThan(results[j].FitScore)
	})

	return results
}

// matchLender applies the three tiers to one lender.
func (m *Matcher) matchLender(app *domain.Application, lender *domain.Lender, asOf time.Time) *Result {
	// Tier 1: lender-level fast filtering.
	if reason := m.tierOneReject(app, lender); reason != "" {
		return rejected(lender, 1, reason)
	}

	// Tier 2: program eligibility conditions.
	var eligible []*domain.Program
	for _, program := range lender.Programs {
		if !program.Active {
			continue
		}
		if m.tierTwoEligible(app, program) {
			eligible = append(eligible, program)
		}
	}
	if len(eligible) == 0 {
		return rejected(lender, 2, "No eligible programs match application criteria")
	}

	// Tier 3: rule evaluation, retaining the best program by fit score.
	// Strict comparison keeps the first program on ties.
	var best *rules.ProgramResult
	for _, program := range eligible {
		pr := m.engine.EvaluateProgram(app, program, asOf)
		if best == nil || pr.FitScore.GreaterThan(best.FitScore) {
			best = pr
		}
	}

	result := &Result{
		Lender:             lender,
		Program:            best.Program,
		Eligible:           best.Eligible,
		FitScore:           best.FitScore,
		TotalRules:         best.TotalRules,
		RulesPassed:        best.RulesPassed,
		RulesFailed:        best.RulesFailed,
		MandatoryAllPassed: best.MandatoryAllPassed,
		RuleOutcomes:       best.RuleOutcomes,
		ProgramsEvaluated:  len(eligible),
	}

	if !best.Eligible {
		tier := 3
		reason := tierThreeReason(best)
		result.RejectionTier = &tier
		result.RejectionReason = &reason
	}

	m.enrich(app, result, asOf)
	return result
}

// tierOneReject returns the first failing lender-level check as a
// sentence, or "" when the lender survives Tier 1.
func (m *Matcher) tierOneReject(app *domain.Application, lender *domain.Lender) string {
	if !lender.Active {
		return fmt.Sprintf("Lender %s is not active", lender.Name)
	}

	if app.Business != nil {
		state := strings.ToUpper(app.Business.State)
		for _, s := range lender.ExcludedStates {
			if strings.ToUpper(s) == state {
				return fmt.Sprintf("Business state %s is excluded by lender", state)
			}
		}
		for _, ind := range lender.ExcludedIndustries {
			if strings.EqualFold(ind, app.Business.Industry) {
				return fmt.Sprintf("Business industry %s is excluded by lender", app.Business.Industry)
			}
		}
	}

	amount := app.RequestedAmount
	if lender.MinLoanAmount != nil && amount.LessThan(*lender.MinLoanAmount) {
		return fmt.Sprintf("Requested amount $%s below lender minimum $%s", amount, lender.MinLoanAmount)
	}
	if lender.MaxLoanAmount != nil && amount.GreaterThan(*lender.MaxLoanAmount) {
		return fmt.Sprintf("Requested amount $%s exceeds lender maximum $%s", amount, lender.MaxLoanAmount)
	}

	return ""
}

// tierTwoEligible tests a program's eligibility conditions. Unknown
// keys and malformed values are ignored for forward compatibility.
func (m *Matcher) tierTwoEligible(app *domain.Application, program *domain.Program) bool {
	conditions := program.EligibilityConditions
	if len(conditions) == 0 {
		return true
	}

	if required, ok := conditions["requires_paynet"].(bool); ok && required {
		if app.Guarantor == nil || app.Guarantor.PayNet == nil {
			return false
		}
	}

	if structures := anyStrings(conditions["legal_structure"]); structures != nil {
		if app.Business == nil || !containsFold(structures, string(app.Business.LegalStructure)) {
			return false
		}
	}

	if industries := anyStrings(conditions["industry"]); industries != nil {
		if app.Business == nil || !containsFold(industries, app.Business.Industry) {
			return false
		}
	}

	if minRevenue, ok := anyDecimal(conditions["min_revenue"]); ok {
		if app.Business == nil || app.Business.AnnualRevenue == nil || app.Business.AnnualRevenue.LessThan(minRevenue) {
			return false
		}
	}

	if required, ok := conditions["homeowner_required"].(bool); ok && required {
		if app.Guarantor == nil || !app.Guarantor.IsHomeowner {
			return false
		}
	}

	if required, ok := conditions["us_citizen_required"].(bool); ok && required {
		if app.Guarantor == nil || !app.Guarantor.IsUSCitizen {
			return false
		}
	}

	return true
}

// tierThreeReason builds the rejection sentence for an ineligible best
// program: failing mandatory rule reasons joined, or the fit-score
// shortfall, or a generic fallback.
func tierThreeReason(pr *rules.ProgramResult) string {
	if !pr.MandatoryAllPassed {
		var reasons []string
		for _, outcome := range pr.RuleOutcomes {
			if outcome.Result.Mandatory && !outcome.Result.Passed {
				reasons = append(reasons, outcome.Result.Reason)
			}
		}
		if len(reasons) > 0 {
			return strings.Join(reasons, "; ")
		}
	} else if pr.FitScore.LessThan(pr.Program.MinFitScore) {
		return fmt.Sprintf("Fit score %s below minimum %s", pr.FitScore, pr.Program.MinFitScore)
	}
	return "Failed to meet program requirements"
}

// enrich adds rate, monthly payment, and approval probability to a
// Tier-3 result.
func (m *Matcher) enrich(app *domain.Application, result *Result, asOf time.Time) {
	probability := scoring.ApprovalProbability(result.FitScore, result.MandatoryAllPassed)
	result.ApprovalProbability = &probability

	if result.Program == nil || result.Program.RateMetadata == nil {
		return
	}

	in := scoring.RateInputs{
		RequestedAmount: app.RequestedAmount,
		TermMonths:      app.TermMonths,
	}
	if app.Guarantor != nil {
		in.FICO = app.Guarantor.FICO
	}
	if app.Equipment != nil {
		in.EquipmentAge = app.Equipment.AgeYears(asOf)
	}

	rate := scoring.EstimateRate(result.Program.RateMetadata, in)
	if rate == nil {
		return
	}
	result.EstimatedRate = rate
	result.EstimatedMonthlyPayment = scoring.MonthlyPayment(app.FinancedAmount(), *rate, app.TermMonths)
}

// rejected builds a Tier-1/2 rejection. The approval probability is a
// persisted 0.00 rather than absent, matching Tier-3 rejections.
func rejected(lender *domain.Lender, tier int, reason string) *Result {
	probability := decimal.Zero.Round(2)
	return &Result{
		Lender:              lender,
		FitScore:            decimal.Zero,
		RejectionTier:       &tier,
		RejectionReason:     &reason,
		ApprovalProbability: &probability,
	}
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func anyStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

func anyDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case decimal.Decimal:
		return v, true
	default:
		return decimal.Zero, false
	}
}
