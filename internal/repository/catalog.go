package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveLender inserts a lender row. Programs and rules are saved
// separately so catalog seeding can build incrementally.
func (r *SQLRepository) SaveLender(ctx context.Context, lender *domain.Lender) error {
	if lender.ID == "" {
		lender.ID = uuid.New().String()
	}
	if lender.CreatedAt.IsZero() {
		lender.CreatedAt = time.Now().UTC()
	}

	states, err := marshalJSON(lender.ExcludedStates)
	if err != nil {
		return err
	}
	industries, err := marshalJSON(lender.ExcludedIndustries)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO lenders (id, name, active, min_loan_amount, max_loan_amount, excluded_states, excluded_industries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), lender.ID, lender.Name, boolInt(lender.Active),
		nullDecimal(lender.MinLoanAmount), nullDecimal(lender.MaxLoanAmount),
		states, industries, lender.CreatedAt)
	return err
}

// SaveProgram inserts a program row under its lender.
func (r *SQLRepository) SaveProgram(ctx context.Context, program *domain.Program) error {
	if program.ID == "" {
		program.ID = uuid.New().String()
	}
	if program.CreatedAt.IsZero() {
		program.CreatedAt = time.Now().UTC()
	}

	conditions, err := marshalJSON(program.EligibilityConditions)
	if err != nil {
		return err
	}
	rates, err := marshalJSON(program.RateMetadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO programs (id, lender_id, name, credit_tier, eligibility_conditions, rate_metadata, min_fit_score, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), program.ID, program.LenderID, program.Name, program.CreditTier,
		conditions, rates, program.MinFitScore.String(), boolInt(program.Active), program.CreatedAt)
	return err
}

// SaveRule inserts a rule row under its program.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	criteria, err := marshalJSON(rule.Criteria)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO rules (id, program_id, kind, name, criteria, weight, mandatory, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rule.ID, rule.ProgramID, string(rule.Kind), rule.Name,
		criteria, rule.Weight.String(), boolInt(rule.Mandatory), boolInt(rule.Active), rule.CreatedAt)
	return err
}

// GetActiveLenders loads the full active catalog in three bulk queries:
// lenders, all programs, all rules. Programs and rules for inactive
// lenders are assembled and discarded rather than filtered per-lender,
// which keeps the query count constant regardless of catalog size.
func (r *SQLRepository) GetActiveLenders(ctx context.Context) ([]*domain.Lender, error) {
	lenders, err := r.loadActiveLenders(ctx)
	if err != nil {
		return nil, err
	}
	if len(lenders) == 0 {
		return lenders, nil
	}

	byLender := make(map[string]*domain.Lender, len(lenders))
	for _, l := range lenders {
		byLender[l.ID] = l
	}

	programs, err := r.loadPrograms(ctx)
	if err != nil {
		return nil, err
	}

	byProgram := make(map[string]*domain.Program, len(programs))
	for _, p := range programs {
		byProgram[p.ID] = p
		if l, ok := byLender[p.LenderID]; ok {
			l.Programs = append(l.Programs, p)
		}
	}

	if err := r.loadRules(ctx, byProgram); err != nil {
		return nil, err
	}

	return lenders, nil
}

func (r *SQLRepository) loadActiveLenders(ctx context.Context) ([]*domain.Lender, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, name, active, min_loan_amount, max_loan_amount, excluded_states, excluded_industries, created_at
		FROM lenders
		WHERE active = 1
		ORDER BY created_at, id
	`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lenders []*domain.Lender
	for rows.Next() {
		var l domain.Lender
		var active int
		var minAmt, maxAmt, states, industries sql.NullString

		if err := rows.Scan(&l.ID, &l.Name, &active, &minAmt, &maxAmt, &states, &industries, &l.CreatedAt); err != nil {
			return nil, err
		}

		l.Active = active == 1
		if l.MinLoanAmount, err = decimalPtrFrom(minAmt); err != nil {
			return nil, err
		}
		if l.MaxLoanAmount, err = decimalPtrFrom(maxAmt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(states, &l.ExcludedStates); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(industries, &l.ExcludedIndustries); err != nil {
			return nil, err
		}

		lenders = append(lenders, &l)
	}
	return lenders, rows.Err()
}

func (r *SQLRepository) loadPrograms(ctx context.Context) ([]*domain.Program, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, lender_id, name, credit_tier, eligibility_conditions, rate_metadata, min_fit_score, active, created_at
		FROM programs
		ORDER BY created_at, id
	`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []*domain.Program
	for rows.Next() {
		var p domain.Program
		var tier, conditions, rates, fitScore sql.NullString
		var active int

		if err := rows.Scan(&p.ID, &p.LenderID, &p.Name, &tier, &conditions, &rates, &fitScore, &active, &p.CreatedAt); err != nil {
			return nil, err
		}

		p.CreditTier = tier.String
		p.Active = active == 1
		if p.MinFitScore, err = decimalFrom(fitScore); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(conditions, &p.EligibilityConditions); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(rates, &p.RateMetadata); err != nil {
			return nil, err
		}

		programs = append(programs, &p)
	}
	return programs, rows.Err()
}

func (r *SQLRepository) loadRules(ctx context.Context, byProgram map[string]*domain.Program) error {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, program_id, kind, name, criteria, weight, mandatory, active, created_at
		FROM rules
		ORDER BY created_at, id
	`))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rule domain.Rule
		var kind string
		var criteria, weight sql.NullString
		var mandatory, active int

		if err := rows.Scan(&rule.ID, &rule.ProgramID, &kind, &rule.Name, &criteria, &weight, &mandatory, &active, &rule.CreatedAt); err != nil {
			return err
		}

		rule.Kind = domain.RuleKind(kind)
		rule.Mandatory = mandatory == 1
		rule.Active = active == 1
		if rule.Weight, err = decimalFrom(weight); err != nil {
			return err
		}
		if err := unmarshalJSON(criteria, &rule.Criteria); err != nil {
			return err
		}

		if p, ok := byProgram[rule.ProgramID]; ok {
			p.Rules = append(p.Rules, &rule)
		}
	}
	return rows.Err()
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case []string:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case *domain.RateMetadata:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(ns sql.NullString, out any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), out); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}
