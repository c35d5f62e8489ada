// Benchmark tool for measuring matcher throughput against a synthetic
// lender catalog.
//
// Usage:
//   go run cmd/benchmark/main.go -lenders 200 -iterations 1000 -workers 8
//
// This tool:
//   1. Builds a synthetic catalog of lenders, programs, and rules
//   2. Runs the three-tier matcher repeatedly against one application
//   3. Reports latency percentiles and runs-per-second throughput
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/matcher"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/shopspring/decimal"
)

func main() {
	lenderCount := flag.Int("lenders", 200, "Number of synthetic lenders")
	programsPer := flag.Int("programs", 3, "Programs per lender")
	rulesPer := flag.Int("rules", 6, "Rules per program")
	iterations := flag.Int("iterations", 1000, "Number of matching runs")
	workers := flag.Int("workers", 8, "Matcher worker pool size")
	verbose := flag.Bool("verbose", false, "Print per-iteration timings")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          HARRIER BENCHMARK - Matcher Throughput               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nLenders:     %d\n", *lenderCount)
	fmt.Printf("Programs:    %d per lender\n", *programsPer)
	fmt.Printf("Rules:       %d per program\n", *rulesPer)
	fmt.Printf("Iterations:  %d\n", *iterations)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	engine, err := rules.NewEngine()
	if err != nil {
		fmt.Printf("ERROR: failed to build rule engine: %v\n", err)
		os.Exit(1)
	}
	m := matcher.New(engine, *workers)

	lenders := buildCatalog(*lenderCount, *programsPer, *rulesPer)
	app := buildApplication()

	totalPrograms := len(lenders) * (*programsPer)
	totalRules := totalPrograms * (*rulesPer)
	fmt.Printf("✓ Catalog built: %d lenders, %d programs, %d rules\n",
		len(lenders), totalPrograms, totalRules)

	// Warm up the CEL compile cache and scheduler.
	asOf := time.Now().UTC()
	for i := 0; i < 5; i++ {
		m.Match(context.Background(), app, lenders, asOf)
	}

	fmt.Printf("\nRunning %d iterations...\n", *iterations)
	latencies := make([]time.Duration, 0, *iterations)
	start := time.Now()

	var matched, rejected int
	for i := 0; i < *iterations; i++ {
		iterStart := time.Now()
		results := m.Match(context.Background(), app, lenders, asOf)
		elapsed := time.Since(iterStart)
		latencies = append(latencies, elapsed)

		if i == 0 {
			for _, r := range results {
				if r.Eligible {
					matched++
				} else {
					rejected++
				}
			}
		}

		if *verbose {
			fmt.Printf("  iteration %4d: %v\n", i+1, elapsed.Round(time.Microsecond))
		}
	}
	total := time.Since(start)

	printResults(latencies, total, matched, rejected)
}

// buildCatalog creates a synthetic catalog with a realistic spread of
// tier-1 exclusions, eligibility conditions, and rule mixes.
func buildCatalog(lenderCount, programsPer, rulesPer int) []*domain.Lender {
	states := []string{"CA", "NV", "VT", "ND", "AK"}
	industries := []string{"Cannabis", "Gambling", "Firearms", "Adult Entertainment"}

	lenders := make([]*domain.Lender, 0, lenderCount)
	for i := 0; i < lenderCount; i++ {
		lender := &domain.Lender{
			ID:     fmt.Sprintf("lender-%04d", i),
			Name:   fmt.Sprintf("Synthetic Capital %04d", i),
			Active: true,
		}

		// Every fifth lender carries amount bands and exclusions so the
		// benchmark exercises tier-1 rejection paths.
		if i%5 == 0 {
			min := decimal.NewFromInt(25000)
			max := decimal.NewFromInt(500000)
			lender.MinLoanAmount = &min
			lender.MaxLoanAmount = &max
			lender.ExcludedStates = []string{states[i%len(states)]}
			lender.ExcludedIndustries = []string{industries[i%len(industries)]}
		}

		for p := 0; p < programsPer; p++ {
			program := &domain.Program{
				ID:          fmt.Sprintf("program-%04d-%d", i, p),
				LenderID:    lender.ID,
				Name:        fmt.Sprintf("Tier %d", p+1),
				MinFitScore: decimal.NewFromInt(int64(50 + p*10)),
				Active:      true,
				EligibilityConditions: map[string]any{
					"min_revenue": 100000 * (p + 1),
				},
				RateMetadata: &domain.RateMetadata{
					BaseRates: []domain.BaseRateRow{
						{
							MinAmount: decimal.NewFromInt(1000),
							MaxAmount: decimal.NewFromInt(1000000),
							Rate:      decimal.NewFromFloat(6.5).Add(decimal.NewFromInt(int64(p))),
						},
					},
				},
			}

			kinds := []struct {
				kind     domain.RuleKind
				criteria map[string]any
			}{
				{domain.RuleMinFICO, map[string]any{"min_score": 620 + p*20}},
				{domain.RuleTimeInBusiness, map[string]any{"min_years": 2}},
				{domain.RuleMinRevenue, map[string]any{"min_amount": 100000 * (p + 1)}},
				{domain.RuleMaxLTV, map[string]any{"max_percentage": 90}},
				{domain.RuleEquipmentAge, map[string]any{"max_age_years": 15}},
				{domain.RuleExcludedStates, map[string]any{"states": []any{"PR", "GU"}}},
			}

			for r := 0; r < rulesPer && r < len(kinds); r++ {
				program.Rules = append(program.Rules, &domain.Rule{
					ID:        fmt.Sprintf("rule-%04d-%d-%d", i, p, r),
					ProgramID: program.ID,
					Kind:      kinds[r].kind,
					Name:      string(kinds[r].kind),
					Criteria:  kinds[r].criteria,
					Weight:    decimal.NewFromInt(1),
					Mandatory: r == 0,
					Active:    true,
				})
			}

			lender.Programs = append(lender.Programs, program)
		}

		lenders = append(lenders, lender)
	}

	return lenders
}

func buildApplication() *domain.Application {
	fico := 705
	year := 2021
	revenue := decimal.NewFromInt(850000)

	return &domain.Application{
		ID:              "bench-app-001",
		Status:          domain.ApplicationSubmitted,
		RequestedAmount: decimal.NewFromInt(120000),
		TermMonths:      60,
		Business: &domain.Business{
			LegalStructure:  domain.StructureLLC,
			Industry:        "Construction",
			State:           "TX",
			EstablishedDate: time.Date(2017, 3, 1, 0, 0, 0, 0, time.UTC),
			AnnualRevenue:   &revenue,
		},
		Guarantor: &domain.Guarantor{
			FICO:        &fico,
			IsHomeowner: true,
			IsUSCitizen: true,
		},
		Equipment: &domain.Equipment{
			Type:             "Excavator",
			Condition:        domain.ConditionUsed,
			Cost:             decimal.NewFromInt(150000),
			YearManufactured: &year,
		},
	}
}

func printResults(latencies []time.Duration, total time.Duration, matched, rejected int) {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	percentile := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(float64(len(latencies)-1) * p)
		return latencies[idx]
	}

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg := sum / time.Duration(len(latencies))

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 MATCH OUTCOME (first iteration)\n")
	fmt.Printf("   Matched:   %d\n", matched)
	fmt.Printf("   Rejected:  %d\n", rejected)

	fmt.Printf("\n⏱️  LATENCY\n")
	fmt.Printf("   Min:  %v\n", latencies[0].Round(time.Microsecond))
	fmt.Printf("   Avg:  %v\n", avg.Round(time.Microsecond))
	fmt.Printf("   P50:  %v\n", percentile(0.50).Round(time.Microsecond))
	fmt.Printf("   P95:  %v\n", percentile(0.95).Round(time.Microsecond))
	fmt.Printf("   P99:  %v\n", percentile(0.99).Round(time.Microsecond))
	fmt.Printf("   Max:  %v\n", latencies[len(latencies)-1].Round(time.Microsecond))

	fmt.Printf("\n🚀 THROUGHPUT\n")
	fmt.Printf("   Total Duration:  %v\n", total.Round(time.Millisecond))
	fmt.Printf("   Runs/sec:        %.2f\n", float64(len(latencies))/total.Seconds())
	fmt.Println()
}
