package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL. Decimal columns are
// stored as TEXT so values round-trip without binary float drift.

const schemaApplications = `
CREATE TABLE IF NOT EXISTS businesses (
    id TEXT PRIMARY KEY,
    legal_structure TEXT NOT NULL,
    industry TEXT NOT NULL,
    established_date TIMESTAMP NOT NULL,
    annual_revenue TEXT,
    state TEXT NOT NULL,
    city TEXT,
    zip TEXT
);

CREATE TABLE IF NOT EXISTS guarantors (
    id TEXT PRIMARY KEY,
    fico INTEGER,
    paynet INTEGER,
    credit_utilization TEXT,
    has_bankruptcy INTEGER NOT NULL DEFAULT 0,
    bankruptcy_discharge_date TIMESTAMP,
    is_homeowner INTEGER NOT NULL DEFAULT 0,
    is_us_citizen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS equipment (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    condition TEXT NOT NULL,
    cost TEXT NOT NULL,
    year_manufactured INTEGER
);

CREATE TABLE IF NOT EXISTS applications (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    requested_amount TEXT NOT NULL,
    term_months INTEGER NOT NULL,
    down_payment_percentage TEXT,
    down_payment_amount TEXT,
    comparable_debt_payments TEXT,
    business_id TEXT REFERENCES businesses(id),
    guarantor_id TEXT REFERENCES guarantors(id),
    equipment_id TEXT REFERENCES equipment(id),
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
`

const schemaCatalog = `
CREATE TABLE IF NOT EXISTS lenders (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    active INTEGER NOT NULL DEFAULT 1,
    min_loan_amount TEXT,
    max_loan_amount TEXT,
    excluded_states TEXT,
    excluded_industries TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lenders_active ON lenders(active);

CREATE TABLE IF NOT EXISTS programs (
    id TEXT PRIMARY KEY,
    lender_id TEXT NOT NULL REFERENCES lenders(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    credit_tier TEXT,
    eligibility_conditions TEXT,
    rate_metadata TEXT,
    min_fit_score TEXT NOT NULL DEFAULT '0',
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_programs_lender ON programs(lender_id);

CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    criteria TEXT,
    weight TEXT NOT NULL DEFAULT '1',
    mandatory INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_program ON rules(program_id);
`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS underwriting_runs (
    id TEXT PRIMARY KEY,
    application_id TEXT NOT NULL REFERENCES applications(id),
    status TEXT NOT NULL,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    lenders_evaluated INTEGER NOT NULL DEFAULT 0,
    programs_evaluated INTEGER NOT NULL DEFAULT 0,
    matched_count INTEGER NOT NULL DEFAULT 0,
    rejected_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    meta TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_application ON underwriting_runs(application_id, created_at);

CREATE TABLE IF NOT EXISTS match_results (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES underwriting_runs(id) ON DELETE CASCADE,
    lender_id TEXT NOT NULL,
    program_id TEXT,
    is_eligible INTEGER NOT NULL DEFAULT 0,
    fit_score TEXT NOT NULL DEFAULT '0',
    rejection_reason TEXT,
    rejection_tier INTEGER,
    estimated_rate TEXT,
    estimated_monthly_payment TEXT,
    approval_probability TEXT,
    total_rules INTEGER NOT NULL DEFAULT 0,
    rules_passed INTEGER NOT NULL DEFAULT 0,
    rules_failed INTEGER NOT NULL DEFAULT 0,
    mandatory_rules_passed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_results_run ON match_results(run_id);

CREATE TABLE IF NOT EXISTS rule_evaluations (
    id TEXT PRIMARY KEY,
    match_result_id TEXT NOT NULL REFERENCES match_results(id) ON DELETE CASCADE,
    rule_id TEXT REFERENCES rules(id) ON DELETE SET NULL,
    rule_name TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    passed INTEGER NOT NULL DEFAULT 0,
    score TEXT NOT NULL DEFAULT '0',
    weight TEXT NOT NULL DEFAULT '1',
    is_mandatory INTEGER NOT NULL DEFAULT 0,
    reason TEXT,
    evidence TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_evaluations_match ON rule_evaluations(match_result_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApplications,
		schemaCatalog,
		schemaRuns,
	}
}
