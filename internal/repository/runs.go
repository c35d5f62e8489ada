package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// CreateRun inserts a new run with status Pending.
func (r *SQLRepository) CreateRun(ctx context.Context, applicationID string, meta map[string]any) (*domain.Run, error) {
	run := &domain.Run{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		Status:        domain.RunPending,
		Meta:          meta,
		CreatedAt:     time.Now().UTC(),
	}

	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO underwriting_runs (id, application_id, status, meta, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), run.ID, run.ApplicationID, string(run.Status), metaJSON, run.CreatedAt)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// UpdateRunStatus transitions the run, stamping timestamps and an
// optional error message. Nil timestamps leave existing values intact.
func (r *SQLRepository) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, startedAt, completedAt *time.Time, errorMessage string) error {
	query := `UPDATE underwriting_runs SET status = ?`
	args := []any{string(status)}

	if startedAt != nil {
		query += `, started_at = ?`
		args = append(args, *startedAt)
	}
	if completedAt != nil {
		query += `, completed_at = ?`
		args = append(args, *completedAt)
	}
	if errorMessage != "" {
		query += `, error_message = ?`
		args = append(args, errorMessage)
	}
	query += ` WHERE id = ?`
	args = append(args, runID)

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateRunSummary records the run's evaluation totals.
func (r *SQLRepository) UpdateRunSummary(ctx context.Context, runID string, lenders, programs, matched, rejected int) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE underwriting_runs
		SET lenders_evaluated = ?, programs_evaluated = ?, matched_count = ?, rejected_count = ?
		WHERE id = ?
	`), lenders, programs, matched, rejected, runID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveRunResults persists a run's match results and their rule
// evaluations in a single transaction, assigning identifiers in input
// order. evals groups evaluations by match index; each group's
// MatchResultID is stamped after its match row gets an identifier.
// A failure anywhere rolls back the whole write, so a Failed run never
// leaves partial results behind.
func (r *SQLRepository) SaveRunResults(ctx context.Context, runID string, matches []*domain.MatchResult, evals [][]*domain.RuleEvaluation) error {
	if len(matches) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.insertMatchResults(ctx, tx, runID, matches); err != nil {
		return err
	}

	var flat []*domain.RuleEvaluation
	for i, m := range matches {
		if i >= len(evals) {
			break
		}
		for _, e := range evals[i] {
			e.MatchResultID = m.ID
			flat = append(flat, e)
		}
	}
	if err := r.insertRuleEvaluations(ctx, tx, flat); err != nil {
		return err
	}

	return tx.Commit()
}

// insertMatchResults inserts match rows inside tx. Each row's
// created_at is offset by one microsecond from the previous so creation
// order is strict under timestamp sorting on both drivers.
func (r *SQLRepository) insertMatchResults(ctx context.Context, tx *sql.Tx, runID string, results []*domain.MatchResult) error {
	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO match_results (
			id, run_id, lender_id, program_id, is_eligible, fit_score,
			rejection_reason, rejection_tier, estimated_rate, estimated_monthly_payment,
			approval_probability, total_rules, rules_passed, rules_failed,
			mandatory_rules_passed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	base := time.Now().UTC()
	for i, m := range results {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		m.RunID = runID
		m.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)

		_, err = stmt.ExecContext(ctx,
			m.ID, m.RunID, m.LenderID, nullString(m.ProgramID),
			boolInt(m.IsEligible), m.FitScore.String(),
			nullString(m.RejectionReason), nullInt(m.RejectionTier),
			nullDecimal(m.EstimatedRate), nullDecimal(m.EstimatedMonthlyPayment),
			nullDecimal(m.ApprovalProbability),
			m.TotalRules, m.RulesPassed, m.RulesFailed,
			boolInt(m.MandatoryRulesPassed), m.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// insertRuleEvaluations inserts evaluation rows inside tx, preserving
// input order per match.
func (r *SQLRepository) insertRuleEvaluations(ctx context.Context, tx *sql.Tx, evals []*domain.RuleEvaluation) error {
	if len(evals) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO rule_evaluations (
			id, match_result_id, rule_id, rule_name, rule_type,
			passed, score, weight, is_mandatory, reason, evidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	base := time.Now().UTC()
	for i, e := range evals {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)

		evidence, err := marshalJSON(e.Evidence)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			e.ID, e.MatchResultID, nullString(e.RuleID), e.RuleName, e.RuleKind,
			boolInt(e.Passed), e.Score.String(), e.Weight.String(),
			boolInt(e.Mandatory), e.Reason, evidence, e.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

const runColumns = `
	id, application_id, status, started_at, completed_at,
	lenders_evaluated, programs_evaluated, matched_count, rejected_count,
	error_message, meta, created_at
`

// GetRun returns the run row without results.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+runColumns+` FROM underwriting_runs WHERE id = ?
	`), runID)
	return scanRun(row)
}

// GetRunWithResults returns the run with match results and their rule
// evaluations eagerly loaded.
func (r *SQLRepository) GetRunWithResults(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	run.Matches, err = r.queryMatchResults(ctx, `
		WHERE m.run_id = ?
		ORDER BY m.is_eligible DESC, CAST(m.fit_score AS REAL) DESC, m.created_at ASC
	`, runID)
	if err != nil {
		return nil, err
	}

	for _, m := range run.Matches {
		m.Evaluations, err = r.GetRuleEvaluations(ctx, m.ID)
		if err != nil {
			return nil, err
		}
	}

	return run, nil
}

// GetLatestRun returns the most recent run for an application.
func (r *SQLRepository) GetLatestRun(ctx context.Context, applicationID string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+runColumns+` FROM underwriting_runs
		WHERE application_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), applicationID)
	return scanRun(row)
}

// ListRuns returns all runs for an application, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, applicationID string) ([]*domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+runColumns+` FROM underwriting_runs
		WHERE application_id = ?
		ORDER BY created_at DESC, id DESC
	`), applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetMatched returns eligible results ordered by fit score descending.
func (r *SQLRepository) GetMatched(ctx context.Context, runID string) ([]*domain.MatchResult, error) {
	return r.queryMatchResults(ctx, `
		WHERE m.run_id = ? AND m.is_eligible = 1
		ORDER BY CAST(m.fit_score AS REAL) DESC, m.created_at ASC
	`, runID)
}

// GetRejected returns ineligible results ordered by rejection tier
// ascending, then creation order.
func (r *SQLRepository) GetRejected(ctx context.Context, runID string) ([]*domain.MatchResult, error) {
	return r.queryMatchResults(ctx, `
		WHERE m.run_id = ? AND m.is_eligible = 0
		ORDER BY m.rejection_tier ASC, m.created_at ASC, m.id ASC
	`, runID)
}

// GetRuleEvaluations returns evaluations for a match ordered by
// (mandatory desc, passed desc, weight desc).
func (r *SQLRepository) GetRuleEvaluations(ctx context.Context, matchResultID string) ([]*domain.RuleEvaluation, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, match_result_id, rule_id, rule_name, rule_type,
			   passed, score, weight, is_mandatory, reason, evidence, created_at
		FROM rule_evaluations
		WHERE match_result_id = ?
		ORDER BY is_mandatory DESC, passed DESC, CAST(weight AS REAL) DESC, created_at ASC
	`), matchResultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.RuleEvaluation
	for rows.Next() {
		var e domain.RuleEvaluation
		var ruleID, reason, evidence, score, weight sql.NullString
		var passed, mandatory int

		if err := rows.Scan(&e.ID, &e.MatchResultID, &ruleID, &e.RuleName, &e.RuleKind,
			&passed, &score, &weight, &mandatory, &reason, &evidence, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.RuleID = stringPtrFrom(ruleID)
		e.Passed = passed == 1
		e.Mandatory = mandatory == 1
		e.Reason = reason.String
		if e.Score, err = decimalFrom(score); err != nil {
			return nil, err
		}
		if e.Weight, err = decimalFrom(weight); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(evidence, &e.Evidence); err != nil {
			return nil, err
		}

		evals = append(evals, &e)
	}
	return evals, rows.Err()
}

func (r *SQLRepository) queryMatchResults(ctx context.Context, tail string, args ...any) ([]*domain.MatchResult, error) {
	query := `
		SELECT m.id, m.run_id, m.lender_id, l.name, m.program_id, COALESCE(p.name, ''),
			   m.is_eligible, m.fit_score, m.rejection_reason, m.rejection_tier,
			   m.estimated_rate, m.estimated_monthly_payment, m.approval_probability,
			   m.total_rules, m.rules_passed, m.rules_failed, m.mandatory_rules_passed,
			   m.created_at
		FROM match_results m
		JOIN lenders l ON l.id = m.lender_id
		LEFT JOIN programs p ON p.id = m.program_id
	` + tail

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.MatchResult
	for rows.Next() {
		var m domain.MatchResult
		var programID, fitScore, reason sql.NullString
		var rate, payment, probability sql.NullString
		var tier sql.NullInt64
		var eligible, mandatoryPassed int

		if err := rows.Scan(&m.ID, &m.RunID, &m.LenderID, &m.LenderName, &programID, &m.ProgramName,
			&eligible, &fitScore, &reason, &tier,
			&rate, &payment, &probability,
			&m.TotalRules, &m.RulesPassed, &m.RulesFailed, &mandatoryPassed,
			&m.CreatedAt); err != nil {
			return nil, err
		}

		m.ProgramID = stringPtrFrom(programID)
		m.IsEligible = eligible == 1
		m.MandatoryRulesPassed = mandatoryPassed == 1
		m.RejectionReason = stringPtrFrom(reason)
		m.RejectionTier = intPtrFrom(tier)
		if m.FitScore, err = decimalFrom(fitScore); err != nil {
			return nil, err
		}
		if m.EstimatedRate, err = decimalPtrFrom(rate); err != nil {
			return nil, err
		}
		if m.EstimatedMonthlyPayment, err = decimalPtrFrom(payment); err != nil {
			return nil, err
		}
		if m.ApprovalProbability, err = decimalPtrFrom(probability); err != nil {
			return nil, err
		}

		results = append(results, &m)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var startedAt, completedAt sql.NullTime
	var errorMessage, meta sql.NullString

	err := row.Scan(&run.ID, &run.ApplicationID, &status, &startedAt, &completedAt,
		&run.LendersEvaluated, &run.ProgramsEvaluated, &run.MatchedCount, &run.RejectedCount,
		&errorMessage, &meta, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.ErrorMessage = errorMessage.String
	if err := unmarshalJSON(meta, &run.Meta); err != nil {
		return nil, err
	}
	return &run, nil
}
