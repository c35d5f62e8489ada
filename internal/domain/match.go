package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus tracks an underwriting run through its state machine.
type RunStatus string

const (
	RunPending    RunStatus = "Pending"
	RunInProgress RunStatus = "In Progress"
	RunCompleted  RunStatus = "Completed"
	RunFailed     RunStatus = "Failed"
	RunCancelled  RunStatus = "Cancelled"
)

// Run is one underwriting execution for one application. It owns the
// match results and evaluations it produced; none of them are mutated
// after the run completes.
type Run struct {
	ID                string         `json:"id"`
	ApplicationID     string         `json:"applicationId"`
	Status            RunStatus      `json:"status"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	LendersEvaluated  int            `json:"lendersEvaluated"`
	ProgramsEvaluated int            `json:"programsEvaluated"`
	MatchedCount      int            `json:"matchedCount"`
	RejectedCount     int            `json:"rejectedCount"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	Meta              map[string]any `json:"meta,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`

	Matches []*MatchResult `json:"matches,omitempty"`
}

// MatchResult is the outcome for one (run, lender) pair. ProgramID is
// set only when the lender reached Tier 3 rule evaluation.
type MatchResult struct {
	ID                      string           `json:"id"`
	RunID                   string           `json:"runId"`
	LenderID                string           `json:"lenderId"`
	LenderName              string           `json:"lenderName,omitempty"`
	ProgramID               *string          `json:"programId,omitempty"`
	ProgramName             string           `json:"programName,omitempty"`
	IsEligible              bool             `json:"isEligible"`
	FitScore                decimal.Decimal  `json:"fitScore"`
	RejectionReason         *string          `json:"rejectionReason,omitempty"`
	RejectionTier           *int             `json:"rejectionTier,omitempty"`
	EstimatedRate           *decimal.Decimal `json:"estimatedRate,omitempty"`
	EstimatedMonthlyPayment *decimal.Decimal `json:"estimatedMonthlyPayment,omitempty"`
	ApprovalProbability     *decimal.Decimal `json:"approvalProbability,omitempty"`
	TotalRules              int              `json:"totalRules"`
	RulesPassed             int              `json:"rulesPassed"`
	RulesFailed             int              `json:"rulesFailed"`
	MandatoryRulesPassed    bool             `json:"mandatoryRulesPassed"`
	CreatedAt               time.Time        `json:"createdAt"`

	Evaluations []*RuleEvaluation `json:"evaluations,omitempty"`
}

// RuleEvaluation records one rule's verdict inside a match result.
// Rule name and kind are denormalized so the audit trail survives
// deletion of the originating rule.
type RuleEvaluation struct {
	ID            string          `json:"id"`
	MatchResultID string          `json:"matchResultId"`
	RuleID        *string         `json:"ruleId,omitempty"`
	RuleName      string          `json:"ruleName"`
	RuleKind      string          `json:"ruleKind"`
	Passed        bool            `json:"passed"`
	Score         decimal.Decimal `json:"score"`
	Weight        decimal.Decimal `json:"weight"`
	Mandatory     bool            `json:"mandatory"`
	Reason        string          `json:"reason,omitempty"`
	Evidence      map[string]any  `json:"evidence,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}
