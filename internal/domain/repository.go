package domain

import (
	"context"
	"time"
)

// ApplicationStore loads application aggregates and tracks their status.
type ApplicationStore interface {
	// GetApplication returns the application with business, guarantor,
	// and equipment pre-loaded. Returns ErrNotFound if absent.
	GetApplication(ctx context.Context, id string) (*Application, error)

	// UpdateApplicationStatus moves the application to a new status.
	UpdateApplicationStatus(ctx context.Context, id string, status ApplicationStatus) error
}

// CatalogStore loads the lender catalog.
type CatalogStore interface {
	// GetActiveLenders returns all active lenders with programs and
	// rules pre-loaded, in creation order.
	GetActiveLenders(ctx context.Context) ([]*Lender, error)
}

// RunStore persists underwriting runs and their results.
type RunStore interface {
	// CreateRun inserts a new run with status Pending.
	CreateRun(ctx context.Context, applicationID string, meta map[string]any) (*Run, error)

	// UpdateRunStatus transitions the run, stamping timestamps and an
	// optional error message.
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, startedAt, completedAt *time.Time, errorMessage string) error

	// UpdateRunSummary records the run's evaluation totals.
	UpdateRunSummary(ctx context.Context, runID string, lenders, programs, matched, rejected int) error

	// SaveRunResults persists a run's match results and their rule
	// evaluations in a single transaction, assigning identifiers in
	// input order. evals groups evaluations by match index; a failure
	// anywhere rolls back the whole write.
	SaveRunResults(ctx context.Context, runID string, matches []*MatchResult, evals [][]*RuleEvaluation) error

	// GetRun returns the run row without results.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// GetRunWithResults returns the run with match results and their
	// rule evaluations eagerly loaded.
	GetRunWithResults(ctx context.Context, runID string) (*Run, error)

	// GetLatestRun returns the most recent run for an application.
	GetLatestRun(ctx context.Context, applicationID string) (*Run, error)

	// ListRuns returns all runs for an application, newest first.
	ListRuns(ctx context.Context, applicationID string) ([]*Run, error)

	// GetMatched returns eligible results ordered by fit score descending.
	GetMatched(ctx context.Context, runID string) ([]*MatchResult, error)

	// GetRejected returns ineligible results ordered by rejection tier
	// ascending, then creation order.
	GetRejected(ctx context.Context, runID string) ([]*MatchResult, error)

	// GetRuleEvaluations returns evaluations for a match ordered by
	// (mandatory desc, passed desc, weight desc).
	GetRuleEvaluations(ctx context.Context, matchResultID string) ([]*RuleEvaluation, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
