//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Harrier
// lender matching engine.
//
// These tests verify the COMPLETE underwriting pipeline:
//
//	Application → Tier 1 (lender filter) → Tier 2 (program selection)
//	→ Tier 3 (rule evaluation) → Scoring → Persistence
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. APPLICATION: A request to finance equipment for a business,
//    co-signed by a personal guarantor.
//
// 2. LENDER: A financing source with hard exclusions (states,
//    industries, amount bands) and one or more programs.
//
// 3. PROGRAM: A lender tier with eligibility conditions, a weighted
//    rule set, rate tables, and a minimum fit-score floor.
//
// 4. RULE: A typed predicate (min_fico, max_ltv, ...) with a weight.
//    Failed non-mandatory rules can earn partial credit near the
//    threshold; failed mandatory rules make the lender ineligible.
//
// 5. RUN: One underwriting execution. It owns match results and their
//    rule evaluation audit trail; completed runs are never mutated.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/matcher"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/underwriting"
	"github.com/shopspring/decimal"
)

// harness wires the full stack over a throwaway SQLite database.
type harness struct {
	repo *repository.SQLRepository
	svc  *underwriting.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-integration-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	svc := underwriting.New(underwriting.Config{
		Applications: repo,
		Catalog:      repo,
		Runs:         repo,
		Matcher:      matcher.New(engine, 4),
		CatalogTTL:   time.Nanosecond, // no caching between scenario mutations
	})

	return &harness{repo: repo, svc: svc}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(i int) *int { return &i }

// defaultApplication is the baseline applicant: healthy credit, four
// years in business, recent equipment. Scenarios override fields.
func defaultApplication() *domain.Application {
	return &domain.Application{
		Status:          domain.ApplicationSubmitted,
		RequestedAmount: dec("50000"),
		TermMonths:      60,
		Business: &domain.Business{
			LegalStructure:  domain.StructureLLC,
			Industry:        "Construction",
			EstablishedDate: time.Now().UTC().AddDate(-4, 0, 0),
			AnnualRevenue:   decPtr("750000"),
			State:           "TX",
		},
		Guarantor: &domain.Guarantor{
			FICO:        intPtr(700),
			IsHomeowner: true,
			IsUSCitizen: true,
		},
		Equipment: &domain.Equipment{
			Type:             "Excavator",
			Condition:        domain.ConditionUsed,
			Cost:             dec("60000"),
			YearManufactured: intPtr(time.Now().Year() - 3),
		},
	}
}

func (h *harness) saveApplication(t *testing.T, app *domain.Application) *domain.Application {
	t.Helper()
	if err := h.repo.SaveApplication(context.Background(), app); err != nil {
		t.Fatalf("SaveApplication failed: %v", err)
	}
	return app
}

func (h *harness) saveLender(t *testing.T, lender *domain.Lender) *domain.Lender {
	t.Helper()
	ctx := context.Background()
	programs := lender.Programs
	lender.Programs = nil
	if err := h.repo.SaveLender(ctx, lender); err != nil {
		t.Fatalf("SaveLender failed: %v", err)
	}
	for _, program := range programs {
		program.LenderID = lender.ID
		ruleSet := program.Rules
		program.Rules = nil
		if err := h.repo.SaveProgram(ctx, program); err != nil {
			t.Fatalf("SaveProgram failed: %v", err)
		}
		for _, rule := range ruleSet {
			rule.ProgramID = program.ID
			if err := h.repo.SaveRule(ctx, rule); err != nil {
				t.Fatalf("SaveRule failed: %v", err)
			}
		}
	}
	return lender
}

func (h *harness) run(t *testing.T, applicationID string) *domain.Run {
	t.Helper()
	run, err := h.svc.Run(context.Background(), applicationID, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected Completed run, got %s (%s)", run.Status, run.ErrorMessage)
	}
	return run
}

func (h *harness) results(t *testing.T, runID string) []*domain.MatchResult {
	t.Helper()
	run, err := h.svc.GetRunWithResults(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRunWithResults failed: %v", err)
	}
	return run.Matches
}

// ============================================================================
// Scenario 1: Tier-1 state exclusion
// ============================================================================

func TestTierOneStateExclusion(t *testing.T) {
	h := newHarness(t)

	h.saveLender(t, &domain.Lender{
		Name:           "Coastal Capital",
		Active:         true,
		ExcludedStates: []string{"CA"},
		Programs: []*domain.Program{
			{Name: "Standard", Active: true},
		},
	})

	app := defaultApplication()
	app.Business.State = "CA"
	h.saveApplication(t, app)

	run := h.run(t, app.ID)
	matches := h.results(t, run.ID)

	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.IsEligible {
		t.Error("expected ineligible match")
	}
	if m.RejectionTier == nil || *m.RejectionTier != 1 {
		t.Fatalf("expected rejection tier 1, got %v", m.RejectionTier)
	}
	if m.RejectionReason == nil || *m.RejectionReason != "Business state CA is excluded by lender" {
		t.Errorf("unexpected rejection reason: %v", m.RejectionReason)
	}
	if m.ProgramID != nil {
		t.Error("tier-1 rejection must not carry a program")
	}
	if len(m.Evaluations) != 0 {
		t.Errorf("tier-1 rejection must have no evaluations, got %d", len(m.Evaluations))
	}
}

// ============================================================================
// Scenario 2: Tier-1 amount band
// ============================================================================

func TestTierOneAmountBand(t *testing.T) {
	h := newHarness(t)

	h.saveLender(t, &domain.Lender{
		Name:          "Band Capital",
		Active:        true,
		MinLoanAmount: decPtr("10000"),
		MaxLoanAmount: decPtr("100000"),
		Programs: []*domain.Program{
			{Name: "Standard", Active: true},
		},
	})

	app := defaultApplication()
	app.RequestedAmount = dec("5000")
	h.saveApplication(t, app)

	run := h.run(t, app.ID)
	matches := h.results(t, run.ID)

	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.RejectionTier == nil || *m.RejectionTier != 1 {
		t.Fatalf("expected rejection tier 1, got %v", m.RejectionTier)
	}
	if m.RejectionReason == nil || *m.RejectionReason != "Requested amount $5000 below lender minimum $10000" {
		t.Errorf("unexpected rejection reason: %v", m.RejectionReason)
	}
}

// ============================================================================
// Scenario 3: Tier-2 program selection
// ============================================================================

func TestTierTwoProgramSelection(t *testing.T) {
	h := newHarness(t)

	h.saveLender(t, &domain.Lender{
		Name:   "Dual Program Finance",
		Active: true,
		Programs: []*domain.Program{
			{
				Name:                  "PayNet Preferred",
				Active:                true,
				EligibilityConditions: map[string]any{"requires_paynet": true},
			},
			{
				Name:   "Default",
				Active: true,
			},
		},
	})

	// Guarantor has a FICO but no PayNet score.
	app := defaultApplication()
	h.saveApplication(t, app)

	run := h.run(t, app.ID)
	matches := h.results(t, run.ID)

	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if !m.IsEligible {
		t.Fatalf("expected eligible match, got rejection %v", m.RejectionReason)
	}
	if m.ProgramName != "Default" {
		t.Errorf("expected Default program selected, got %q", m.ProgramName)
	}
}

// ============================================================================
// Scenario 4: Tier-3 partial credit on FICO
// ============================================================================

func TestTierThreeFICOPartialCredit(t *testing.T) {
	buildLender := func(name string, mandatory bool) *domain.Lender {
		return &domain.Lender{
			Name:   name,
			Active: true,
			Programs: []*domain.Program{
				{
					Name:   "Standard",
					Active: true,
					Rules: []*domain.Rule{
						{
							Kind:      domain.RuleMinFICO,
							Name:      "Minimum FICO",
							Criteria:  map[string]any{"min_score": 680},
							Weight:    dec("2.00"),
							Mandatory: mandatory,
							Active:    true,
						},
					},
				},
			},
		}
	}

	t.Run("AdvisoryEarnsPartialCredit", func(t *testing.T) {
		h := newHarness(t)
		h.saveLender(t, buildLender("Advisory Lender", false))

		app := defaultApplication()
		app.Guarantor.FICO = intPtr(660)
		h.saveApplication(t, app)

		run := h.run(t, app.ID)
		matches := h.results(t, run.ID)

		if len(matches) != 1 {
			t.Fatalf("expected 1 match, got %d", len(matches))
		}
		m := matches[0]
		if !m.IsEligible {
			t.Fatalf("expected eligible, got rejection %v", m.RejectionReason)
		}
		if len(m.Evaluations) != 1 {
			t.Fatalf("expected 1 evaluation, got %d", len(m.Evaluations))
		}
		ev := m.Evaluations[0]
		if ev.Passed {
			t.Error("expected rule to fail at FICO 660 vs 680")
		}
		// 20 points short of a 50-point band: 2.00 * 100 * (1 - 20/50)
		if !ev.Score.Equal(dec("120")) {
			t.Errorf("expected score 120, got %s", ev.Score)
		}
		// fit = 120 / 2.00
		if !m.FitScore.Equal(dec("60")) {
			t.Errorf("expected fit score 60, got %s", m.FitScore)
		}
	})

	t.Run("MandatoryFailureBlocks", func(t *testing.T) {
		h := newHarness(t)
		h.saveLender(t, buildLender("Mandatory Lender", true))

		app := defaultApplication()
		app.Guarantor.FICO = intPtr(660)
		h.saveApplication(t, app)

		run := h.run(t, app.ID)
		matches := h.results(t, run.ID)

		m := matches[0]
		if m.IsEligible {
			t.Error("expected ineligible match on mandatory failure")
		}
		if m.RejectionTier == nil || *m.RejectionTier != 3 {
			t.Fatalf("expected rejection tier 3, got %v", m.RejectionTier)
		}
		if m.ProgramID == nil {
			t.Error("tier-3 rejection must carry the evaluated program")
		}
		if len(m.Evaluations) == 0 {
			t.Error("tier-3 rejection must carry evaluations")
		}
	})
}

// ============================================================================
// Scenario 5: LTV computation
// ============================================================================

func TestLTVEvidence(t *testing.T) {
	h := newHarness(t)

	h.saveLender(t, &domain.Lender{
		Name:   "LTV Lender",
		Active: true,
		Programs: []*domain.Program{
			{
				Name:   "Standard",
				Active: true,
				Rules: []*domain.Rule{
					{
						Kind:     domain.RuleMaxLTV,
						Name:     "Maximum LTV",
						Criteria: map[string]any{"max_percentage": 90},
						Weight:   dec("1.00"),
						Active:   true,
					},
				},
			},
		},
	})

	app := defaultApplication()
	app.RequestedAmount = dec("38000")
	app.Equipment.Cost = dec("40000")
	h.saveApplication(t, app)

	run := h.run(t, app.ID)
	matches := h.results(t, run.ID)

	m := matches[0]
	if len(m.Evaluations) != 1 {
		t.Fatalf("expected 1 evaluation, got %d", len(m.Evaluations))
	}
	ev := m.Evaluations[0]
	if ev.Passed {
		t.Error("expected LTV rule to fail at 95% vs 90%")
	}

	// Evidence round-trips through JSON, so numbers come back float64.
	if got := ev.Evidence["actual"]; got != float64(95) {
		t.Errorf("expected actual 95.0, got %v", got)
	}
	if got := ev.Evidence["required"]; got != float64(90) {
		t.Errorf("expected required 90.0, got %v", got)
	}
	if got := ev.Evidence["excess"]; got != float64(5) {
		t.Errorf("expected excess 5.0, got %v", got)
	}
}

// ============================================================================
// Scenario 6: Rate adjustment
// ============================================================================

func TestRateAdjustment(t *testing.T) {
	h := newHarness(t)

	h.saveLender(t, &domain.Lender{
		Name:   "Rate Lender",
		Active: true,
		Programs: []*domain.Program{
			{
				Name:   "Standard",
				Active: true,
				RateMetadata: &domain.RateMetadata{
					BaseRates: []domain.BaseRateRow{
						{MinAmount: dec("10000"), MaxAmount: dec("100000"), Rate: dec("6.75")},
					},
					Adjustments: []domain.RateAdjustment{
						{Condition: "equipment_age > 15", Delta: dec("0.5")},
						{Condition: "fico < 680", Delta: dec("1.0")},
					},
				},
			},
		},
	})

	app := defaultApplication()
	app.Equipment.YearManufactured = intPtr(time.Now().Year() - 20)
	h.saveApplication(t, app)

	run := h.run(t, app.ID)
	matches := h.results(t, run.ID)

	m := matches[0]
	if !m.IsEligible {
		t.Fatalf("expected eligible match, got rejection %v", m.RejectionReason)
	}
	if m.EstimatedRate == nil || !m.EstimatedRate.Equal(dec("7.25")) {
		t.Errorf("expected estimated rate 7.25, got %v", m.EstimatedRate)
	}
	if m.ApprovalProbability == nil {
		t.Error("expected approval probability to be set")
	}
	if m.EstimatedMonthlyPayment == nil {
		t.Error("expected estimated monthly payment to be set")
	}
}

// ============================================================================
// Cross-cutting properties
// ============================================================================

func TestDeterministicReruns(t *testing.T) {
	h := newHarness(t)

	// A spread of lenders exercising all three tiers.
	h.saveLender(t, &domain.Lender{
		Name:           "Excluder",
		Active:         true,
		ExcludedStates: []string{"TX"},
		Programs:       []*domain.Program{{Name: "Standard", Active: true}},
	})
	h.saveLender(t, &domain.Lender{
		Name:   "Strict",
		Active: true,
		Programs: []*domain.Program{
			{
				Name:   "Prime",
				Active: true,
				Rules: []*domain.Rule{
					{
						Kind:      domain.RuleMinFICO,
						Name:      "Minimum FICO",
						Criteria:  map[string]any{"min_score": 760},
						Weight:    dec("1.00"),
						Mandatory: true,
						Active:    true,
					},
				},
			},
		},
	})
	h.saveLender(t, &domain.Lender{
		Name:   "Flexible",
		Active: true,
		Programs: []*domain.Program{
			{
				Name:   "Standard",
				Active: true,
				Rules: []*domain.Rule{
					{
						Kind:     domain.RuleMinFICO,
						Name:     "Minimum FICO",
						Criteria: map[string]any{"min_score": 660},
						Weight:   dec("1.00"),
						Active:   true,
					},
				},
			},
		},
	})

	app := defaultApplication()
	h.saveApplication(t, app)

	first := h.run(t, app.ID)
	second, err := h.svc.Rerun(context.Background(), app.ID, "determinism check")
	if err != nil {
		t.Fatalf("Rerun failed: %v", err)
	}

	firstMatches := h.results(t, first.ID)
	secondMatches := h.results(t, second.ID)

	if len(firstMatches) != len(secondMatches) {
		t.Fatalf("match count differs: %d vs %d", len(firstMatches), len(secondMatches))
	}
	for i := range firstMatches {
		a, b := firstMatches[i], secondMatches[i]
		if a.LenderID != b.LenderID || a.IsEligible != b.IsEligible || !a.FitScore.Equal(b.FitScore) {
			t.Errorf("position %d differs: (%s %v %s) vs (%s %v %s)",
				i, a.LenderID, a.IsEligible, a.FitScore, b.LenderID, b.IsEligible, b.FitScore)
		}
		// Score bounds hold for every persisted result.
		if a.FitScore.LessThan(decimal.Zero) || a.FitScore.GreaterThan(dec("100")) {
			t.Errorf("fit score out of bounds: %s", a.FitScore)
		}
	}

	// Ordering: eligible entries precede ineligible ones, fit descending
	// within the eligible group.
	seenIneligible := false
	var prevFit *decimal.Decimal
	for _, m := range firstMatches {
		if m.IsEligible {
			if seenIneligible {
				t.Error("eligible match listed after an ineligible one")
			}
			if prevFit != nil && m.FitScore.GreaterThan(*prevFit) {
				t.Error("eligible matches not sorted by fit score descending")
			}
			fit := m.FitScore
			prevFit = &fit
		} else {
			seenIneligible = true
		}
	}
}

func TestRunStateMachine(t *testing.T) {
	h := newHarness(t)

	h.saveLender(t, &domain.Lender{
		Name:     "Sole Lender",
		Active:   true,
		Programs: []*domain.Program{{Name: "Standard", Active: true}},
	})

	app := defaultApplication()
	h.saveApplication(t, app)

	run := h.run(t, app.ID)

	stored, err := h.svc.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored.Status != domain.RunCompleted {
		t.Errorf("expected Completed, got %s", stored.Status)
	}
	if stored.StartedAt == nil || stored.CompletedAt == nil {
		t.Error("expected both timestamps on a completed run")
	}
	if stored.CompletedAt.Before(*stored.StartedAt) {
		t.Error("completed_at precedes started_at")
	}

	// The application was promoted out of Submitted.
	promoted, err := h.repo.GetApplication(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if promoted.Status != domain.ApplicationInUnderwriting {
		t.Errorf("expected In Underwriting, got %s", promoted.Status)
	}
}
