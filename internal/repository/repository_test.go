package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
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

func strPtr(s string) *string { return &s }

func testApplication() *domain.Application {
	return &domain.Application{
		Status:          domain.ApplicationSubmitted,
		RequestedAmount: dec("50000"),
		TermMonths:      60,
		Business: &domain.Business{
			LegalStructure:  domain.StructureLLC,
			Industry:        "Construction",
			EstablishedDate: time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC),
			AnnualRevenue:   decPtr("750000"),
			State:           "TX",
			City:            "Austin",
		},
		Guarantor: &domain.Guarantor{
			FICO:        intPtr(700),
			PayNet:      intPtr(80),
			IsHomeowner: true,
			IsUSCitizen: true,
		},
		Equipment: &domain.Equipment{
			Type:             "Excavator",
			Condition:        domain.ConditionUsed,
			Cost:             dec("60000"),
			YearManufactured: intPtr(2022),
		},
	}
}

func TestApplicationStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		app := testApplication()
		if err := repo.SaveApplication(ctx, app); err != nil {
			t.Fatalf("SaveApplication failed: %v", err)
		}
		if app.ID == "" {
			t.Fatal("expected ID to be assigned")
		}

		got, err := repo.GetApplication(ctx, app.ID)
		if err != nil {
			t.Fatalf("GetApplication failed: %v", err)
		}
		if got.Status != domain.ApplicationSubmitted {
			t.Errorf("expected status Submitted, got %s", got.Status)
		}
		if !got.RequestedAmount.Equal(dec("50000")) {
			t.Errorf("expected amount 50000, got %s", got.RequestedAmount)
		}
		if got.Business == nil || got.Business.State != "TX" {
			t.Error("expected business to round-trip")
		}
		if got.Business.AnnualRevenue == nil || !got.Business.AnnualRevenue.Equal(dec("750000")) {
			t.Error("expected annual revenue to round-trip exactly")
		}
		if got.Guarantor == nil || got.Guarantor.FICO == nil || *got.Guarantor.FICO != 700 {
			t.Error("expected guarantor FICO to round-trip")
		}
		if !got.Guarantor.IsHomeowner {
			t.Error("expected homeowner flag to round-trip")
		}
		if got.Equipment == nil || !got.Equipment.Cost.Equal(dec("60000")) {
			t.Error("expected equipment cost to round-trip")
		}
		if got.Equipment.YearManufactured == nil || *got.Equipment.YearManufactured != 2022 {
			t.Error("expected year manufactured to round-trip")
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		app := testApplication()
		if err := repo.SaveApplication(ctx, app); err != nil {
			t.Fatalf("SaveApplication failed: %v", err)
		}

		if err := repo.UpdateApplicationStatus(ctx, app.ID, domain.ApplicationInUnderwriting); err != nil {
			t.Fatalf("UpdateApplicationStatus failed: %v", err)
		}

		got, err := repo.GetApplication(ctx, app.ID)
		if err != nil {
			t.Fatalf("GetApplication failed: %v", err)
		}
		if got.Status != domain.ApplicationInUnderwriting {
			t.Errorf("expected In Underwriting, got %s", got.Status)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetApplication(ctx, "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		err = repo.UpdateApplicationStatus(ctx, "nonexistent", domain.ApplicationApproved)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func seedLender(t *testing.T, repo *SQLRepository, name string, active bool, createdAt time.Time) *domain.Lender {
	t.Helper()
	lender := &domain.Lender{
		Name:               name,
		Active:             active,
		MinLoanAmount:      decPtr("10000"),
		MaxLoanAmount:      decPtr("500000"),
		ExcludedStates:     []string{"NV", "CA"},
		ExcludedIndustries: []string{"Cannabis"},
		CreatedAt:          createdAt,
	}
	if err := repo.SaveLender(context.Background(), lender); err != nil {
		t.Fatalf("SaveLender failed: %v", err)
	}
	return lender
}

func TestCatalogStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := seedLender(t, repo, "First Capital", true, base)
	second := seedLender(t, repo, "Second Funding", true, base.Add(time.Hour))
	seedLender(t, repo, "Dormant Lending", false, base.Add(2*time.Hour))

	program := &domain.Program{
		LenderID:   first.ID,
		Name:       "Prime",
		CreditTier: "A",
		EligibilityConditions: map[string]any{
			"requires_paynet": true,
			"min_revenue":     500000,
		},
		RateMetadata: &domain.RateMetadata{
			BaseRates: []domain.BaseRateRow{
				{MinAmount: dec("10000"), MaxAmount: dec("100000"), Rate: dec("6.75")},
			},
			Adjustments: []domain.RateAdjustment{
				{Condition: "fico < 680", Delta: dec("0.5")},
			},
		},
		MinFitScore: dec("70"),
		Active:      true,
		CreatedAt:   base,
	}
	if err := repo.SaveProgram(ctx, program); err != nil {
		t.Fatalf("SaveProgram failed: %v", err)
	}

	rule := &domain.Rule{
		ProgramID: program.ID,
		Kind:      domain.RuleMinFICO,
		Name:      "Minimum FICO",
		Criteria:  map[string]any{"min_score": 680},
		Weight:    dec("2"),
		Mandatory: true,
		Active:    true,
		CreatedAt: base,
	}
	if err := repo.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	lenders, err := repo.GetActiveLenders(ctx)
	if err != nil {
		t.Fatalf("GetActiveLenders failed: %v", err)
	}

	if len(lenders) != 2 {
		t.Fatalf("expected 2 active lenders, got %d", len(lenders))
	}
	if lenders[0].ID != first.ID || lenders[1].ID != second.ID {
		t.Error("expected lenders in creation order")
	}
	if len(lenders[0].ExcludedStates) != 2 || lenders[0].ExcludedStates[0] != "NV" {
		t.Errorf("expected excluded states to round-trip, got %v", lenders[0].ExcludedStates)
	}
	if lenders[0].MinLoanAmount == nil || !lenders[0].MinLoanAmount.Equal(dec("10000")) {
		t.Error("expected min loan amount to round-trip")
	}

	if len(lenders[0].Programs) != 1 {
		t.Fatalf("expected 1 program, got %d", len(lenders[0].Programs))
	}
	p := lenders[0].Programs[0]
	if p.Name != "Prime" {
		t.Errorf("expected program Prime, got %s", p.Name)
	}
	if !p.MinFitScore.Equal(dec("70")) {
		t.Errorf("expected min fit score 70, got %s", p.MinFitScore)
	}
	if v, ok := p.EligibilityConditions["requires_paynet"].(bool); !ok || !v {
		t.Errorf("expected requires_paynet condition to round-trip, got %v", p.EligibilityConditions)
	}
	if p.RateMetadata == nil || len(p.RateMetadata.BaseRates) != 1 {
		t.Fatal("expected rate metadata to round-trip")
	}
	if !p.RateMetadata.BaseRates[0].Rate.Equal(dec("6.75")) {
		t.Errorf("expected base rate 6.75, got %s", p.RateMetadata.BaseRates[0].Rate)
	}
	if len(p.RateMetadata.Adjustments) != 1 || p.RateMetadata.Adjustments[0].Condition != "fico < 680" {
		t.Error("expected rate adjustments to round-trip")
	}

	if len(p.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(p.Rules))
	}
	got := p.Rules[0]
	if got.Kind != domain.RuleMinFICO {
		t.Errorf("expected kind min_fico, got %s", got.Kind)
	}
	if !got.Weight.Equal(dec("2")) {
		t.Errorf("expected weight 2, got %s", got.Weight)
	}
	if !got.Mandatory {
		t.Error("expected mandatory flag to round-trip")
	}
}

func TestRunStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	app := testApplication()
	if err := repo.SaveApplication(ctx, app); err != nil {
		t.Fatalf("SaveApplication failed: %v", err)
	}

	lender := seedLender(t, repo, "Run Capital", true, time.Now().UTC())
	program := &domain.Program{LenderID: lender.ID, Name: "Standard", Active: true, MinFitScore: dec("0")}
	if err := repo.SaveProgram(ctx, program); err != nil {
		t.Fatalf("SaveProgram failed: %v", err)
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, app.ID, map[string]any{"rerun": true})
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if run.Status != domain.RunPending {
			t.Errorf("expected Pending, got %s", run.Status)
		}

		got, err := repo.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.ApplicationID != app.ID {
			t.Errorf("expected application %s, got %s", app.ID, got.ApplicationID)
		}
		if v, ok := got.Meta["rerun"].(bool); !ok || !v {
			t.Errorf("expected meta to round-trip, got %v", got.Meta)
		}
	})

	t.Run("StatusTransitions", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, app.ID, nil)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}

		started := time.Now().UTC()
		if err := repo.UpdateRunStatus(ctx, run.ID, domain.RunInProgress, &started, nil, ""); err != nil {
			t.Fatalf("UpdateRunStatus failed: %v", err)
		}

		completed := time.Now().UTC()
		if err := repo.UpdateRunStatus(ctx, run.ID, domain.RunFailed, nil, &completed, "catalog unavailable"); err != nil {
			t.Fatalf("UpdateRunStatus failed: %v", err)
		}

		got, err := repo.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != domain.RunFailed {
			t.Errorf("expected Failed, got %s", got.Status)
		}
		if got.StartedAt == nil {
			t.Error("expected started_at to survive later updates")
		}
		if got.CompletedAt == nil {
			t.Error("expected completed_at to be set")
		}
		if got.ErrorMessage != "catalog unavailable" {
			t.Errorf("expected error message, got %q", got.ErrorMessage)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, app.ID, nil)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if err := repo.UpdateRunSummary(ctx, run.ID, 5, 9, 2, 3); err != nil {
			t.Fatalf("UpdateRunSummary failed: %v", err)
		}

		got, err := repo.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.LendersEvaluated != 5 || got.ProgramsEvaluated != 9 || got.MatchedCount != 2 || got.RejectedCount != 3 {
			t.Errorf("unexpected summary: %+v", got)
		}
	})

	t.Run("BatchAndOrdering", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, app.ID, nil)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}

		results := []*domain.MatchResult{
			{
				RunID:                run.ID,
				LenderID:             lender.ID,
				ProgramID:            &program.ID,
				IsEligible:           true,
				FitScore:             dec("85.5"),
				EstimatedRate:        decPtr("7.25"),
				ApprovalProbability:  decPtr("80.45"),
				TotalRules:           4,
				RulesPassed:          4,
				MandatoryRulesPassed: true,
			},
			{
				RunID:                run.ID,
				LenderID:             lender.ID,
				ProgramID:            &program.ID,
				IsEligible:           true,
				FitScore:             dec("100"),
				TotalRules:           3,
				RulesPassed:          3,
				MandatoryRulesPassed: true,
			},
			{
				RunID:           run.ID,
				LenderID:        lender.ID,
				IsEligible:      false,
				RejectionReason: strPtr("No eligible programs match application criteria"),
				RejectionTier:   intPtr(2),
			},
			{
				RunID:           run.ID,
				LenderID:        lender.ID,
				IsEligible:      false,
				RejectionReason: strPtr("Lender Run Capital is not active"),
				RejectionTier:   intPtr(1),
			},
		}
		evals := [][]*domain.RuleEvaluation{
			{
				{
					RuleName: "Advisory Revenue",
					RuleKind: "min_revenue",
					Passed:   true,
					Score:    dec("100"),
					Weight:   dec("1"),
				},
				{
					RuleName:  "Minimum FICO",
					RuleKind:  "min_fico",
					Passed:    false,
					Score:     dec("50"),
					Weight:    dec("2"),
					Mandatory: true,
					Reason:    "FICO score 650 is below minimum requirement of 680 (gap: 30)",
					Evidence:  map[string]any{"actual": 650, "required": 680},
				},
				{
					RuleName: "Time In Business",
					RuleKind: "time_in_business",
					Passed:   true,
					Score:    dec("100"),
					Weight:   dec("3"),
				},
			},
		}
		if err := repo.SaveRunResults(ctx, run.ID, results, evals); err != nil {
			t.Fatalf("SaveRunResults failed: %v", err)
		}
		for i, m := range results {
			if m.ID == "" {
				t.Fatalf("expected ID assigned to result %d", i)
			}
		}
		for _, e := range evals[0] {
			if e.MatchResultID != results[0].ID {
				t.Fatal("expected evaluations stamped with their match identifier")
			}
		}

		matched, err := repo.GetMatched(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetMatched failed: %v", err)
		}
		if len(matched) != 2 {
			t.Fatalf("expected 2 matched, got %d", len(matched))
		}
		// Numeric ordering: 100 must sort above 85.5 even though the
		// scores are stored as text.
		if !matched[0].FitScore.Equal(dec("100")) {
			t.Errorf("expected matched ordered by fit descending, got %s first", matched[0].FitScore)
		}
		if matched[0].LenderName != "Run Capital" {
			t.Errorf("expected lender name joined, got %q", matched[0].LenderName)
		}
		if matched[0].ProgramName != "Standard" {
			t.Errorf("expected program name joined, got %q", matched[0].ProgramName)
		}
		if matched[1].EstimatedRate == nil || !matched[1].EstimatedRate.Equal(dec("7.25")) {
			t.Error("expected estimated rate to round-trip")
		}

		rejected, err := repo.GetRejected(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRejected failed: %v", err)
		}
		if len(rejected) != 2 {
			t.Fatalf("expected 2 rejected, got %d", len(rejected))
		}
		if rejected[0].RejectionTier == nil || *rejected[0].RejectionTier != 1 {
			t.Error("expected rejected ordered by tier ascending")
		}
		if rejected[1].RejectionReason == nil || *rejected[1].RejectionReason != "No eligible programs match application criteria" {
			t.Errorf("expected rejection reason to round-trip, got %v", rejected[1].RejectionReason)
		}

		got, err := repo.GetRuleEvaluations(ctx, results[0].ID)
		if err != nil {
			t.Fatalf("GetRuleEvaluations failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 evaluations, got %d", len(got))
		}
		// Mandatory first, then passed, then weight descending.
		if got[0].RuleKind != "min_fico" {
			t.Errorf("expected mandatory evaluation first, got %s", got[0].RuleKind)
		}
		if got[1].RuleKind != "time_in_business" {
			t.Errorf("expected heavier passing evaluation second, got %s", got[1].RuleKind)
		}
		if got[0].Evidence["actual"] != float64(650) {
			t.Errorf("expected evidence to round-trip, got %v", got[0].Evidence)
		}

		full, err := repo.GetRunWithResults(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRunWithResults failed: %v", err)
		}
		if len(full.Matches) != 4 {
			t.Fatalf("expected 4 matches, got %d", len(full.Matches))
		}
		if !full.Matches[0].FitScore.Equal(dec("100")) {
			t.Errorf("expected eligible results first by numeric fit, got %s", full.Matches[0].FitScore)
		}
		var withEvals *domain.MatchResult
		for _, m := range full.Matches {
			if m.ID == results[0].ID {
				withEvals = m
			}
		}
		if withEvals == nil || len(withEvals.Evaluations) != 3 {
			t.Error("expected evaluations eagerly loaded")
		}
	})

	t.Run("AtomicResultWrite", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, app.ID, nil)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}

		results := []*domain.MatchResult{
			{
				LenderID:             lender.ID,
				ProgramID:            &program.ID,
				IsEligible:           true,
				FitScore:             dec("90"),
				MandatoryRulesPassed: true,
			},
		}
		// Channel values cannot be JSON-encoded, so the evaluation
		// insert fails after the match rows are written.
		evals := [][]*domain.RuleEvaluation{
			{
				{
					RuleName: "Minimum FICO",
					RuleKind: "min_fico",
					Passed:   true,
					Score:    dec("100"),
					Weight:   dec("1"),
					Evidence: map[string]any{"actual": make(chan int)},
				},
			},
		}
		if err := repo.SaveRunResults(ctx, run.ID, results, evals); err == nil {
			t.Fatal("expected SaveRunResults to fail on unencodable evidence")
		}

		full, err := repo.GetRunWithResults(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRunWithResults failed: %v", err)
		}
		if len(full.Matches) != 0 {
			t.Errorf("expected no match rows after rollback, got %d", len(full.Matches))
		}
	})

	t.Run("RuleDeletionNullsEvaluations", func(t *testing.T) {
		rule := &domain.Rule{
			ProgramID: program.ID,
			Kind:      domain.RuleMinFICO,
			Name:      "Minimum FICO",
			Criteria:  map[string]any{"min_score": 680},
			Weight:    dec("1"),
			Active:    true,
		}
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		run, err := repo.CreateRun(ctx, app.ID, nil)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		results := []*domain.MatchResult{
			{
				LenderID:             lender.ID,
				ProgramID:            &program.ID,
				IsEligible:           true,
				FitScore:             dec("88"),
				MandatoryRulesPassed: true,
			},
		}
		evals := [][]*domain.RuleEvaluation{
			{
				{
					RuleID:   &rule.ID,
					RuleName: rule.Name,
					RuleKind: string(rule.Kind),
					Passed:   true,
					Score:    dec("100"),
					Weight:   dec("1"),
				},
			},
		}
		if err := repo.SaveRunResults(ctx, run.ID, results, evals); err != nil {
			t.Fatalf("SaveRunResults failed: %v", err)
		}

		if _, err := repo.db.ExecContext(ctx, repo.rebind(`DELETE FROM rules WHERE id = ?`), rule.ID); err != nil {
			t.Fatalf("rule delete failed: %v", err)
		}

		got, err := repo.GetRuleEvaluations(ctx, results[0].ID)
		if err != nil {
			t.Fatalf("GetRuleEvaluations failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 evaluation, got %d", len(got))
		}
		if got[0].RuleID != nil {
			t.Errorf("expected rule pointer nulled after rule deletion, got %v", *got[0].RuleID)
		}
	})

	t.Run("LatestAndList", func(t *testing.T) {
		other := testApplication()
		if err := repo.SaveApplication(ctx, other); err != nil {
			t.Fatalf("SaveApplication failed: %v", err)
		}

		first, err := repo.CreateRun(ctx, other.ID, nil)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		second, err := repo.CreateRun(ctx, other.ID, nil)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}

		latest, err := repo.GetLatestRun(ctx, other.ID)
		if err != nil {
			t.Fatalf("GetLatestRun failed: %v", err)
		}
		if latest.ID != second.ID {
			t.Errorf("expected latest run %s, got %s", second.ID, latest.ID)
		}

		runs, err := repo.ListRuns(ctx, other.ID)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].ID != second.ID || runs[1].ID != first.ID {
			t.Error("expected runs newest first")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetRun(ctx, "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetLatestRun(ctx, "no-such-application")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		err = repo.UpdateRunStatus(ctx, "nonexistent", domain.RunCompleted, nil, nil, "")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
