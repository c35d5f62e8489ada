package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind identifies the evaluator a rule dispatches to.
type RuleKind string

const (
	// Credit family
	RuleMinFICO              RuleKind = "min_fico"
	RuleMinPayNet            RuleKind = "min_paynet"
	RuleCreditTier           RuleKind = "credit_tier"
	RuleMaxCreditUtilization RuleKind = "max_credit_utilization"
	RuleBankruptcyHistory    RuleKind = "bankruptcy_history"

	// Business family
	RuleTimeInBusiness    RuleKind = "time_in_business"
	RuleMinRevenue        RuleKind = "min_revenue"
	RuleLegalStructure    RuleKind = "legal_structure"
	RuleHomeownerRequired RuleKind = "homeowner_required"
	RuleUSCitizenRequired RuleKind = "us_citizen_required"

	// Loan family
	RuleMinLoanAmount  RuleKind = "min_loan_amount"
	RuleMaxLoanAmount  RuleKind = "max_loan_amount"
	RuleMinLoanTerm    RuleKind = "min_loan_term"
	RuleMaxLoanTerm    RuleKind = "max_loan_term"
	RuleMinDownPayment RuleKind = "min_down_payment"
	RuleMaxLTV         RuleKind = "max_ltv"

	// Equipment family
	RuleEquipmentType      RuleKind = "equipment_type"
	RuleEquipmentAge       RuleKind = "equipment_age"
	RuleEquipmentCondition RuleKind = "equipment_condition"

	// Geographic/industry family
	RuleExcludedStates     RuleKind = "excluded_states"
	RuleExcludedIndustries RuleKind = "excluded_industries"
	RuleAllowedStates      RuleKind = "allowed_states"
	RuleAllowedIndustries  RuleKind = "allowed_industries"

	// CEL expression over application facts
	RuleCustom RuleKind = "custom"
)

// Lender is a financing source with lender-level exclusions and one or
// more policy programs.
type Lender struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Active             bool             `json:"active"`
	MinLoanAmount      *decimal.Decimal `json:"minLoanAmount,omitempty"`
	MaxLoanAmount      *decimal.Decimal `json:"maxLoanAmount,omitempty"`
	ExcludedStates     []string         `json:"excludedStates,omitempty"`
	ExcludedIndustries []string         `json:"excludedIndustries,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`

	Programs []*Program `json:"programs,omitempty"`
}

// Program is a lender tier carrying eligibility conditions, a rule set,
// rate tables, and a minimum fit-score floor.
type Program struct {
	ID                    string          `json:"id"`
	LenderID              string          `json:"lenderId"`
	Name                  string          `json:"name"`
	CreditTier            string          `json:"creditTier,omitempty"`
	EligibilityConditions map[string]any  `json:"eligibilityConditions,omitempty"`
	RateMetadata          *RateMetadata   `json:"rateMetadata,omitempty"`
	MinFitScore           decimal.Decimal `json:"minFitScore"`
	Active                bool            `json:"active"`
	CreatedAt             time.Time       `json:"createdAt"`

	Rules []*Rule `json:"rules,omitempty"`
}

// Rule is a typed, weighted predicate over the application.
type Rule struct {
	ID        string          `json:"id"`
	ProgramID string          `json:"programId"`
	Kind      RuleKind        `json:"kind"`
	Name      string          `json:"name"`
	Criteria  map[string]any  `json:"criteria,omitempty"`
	Weight    decimal.Decimal `json:"weight"`
	Mandatory bool            `json:"mandatory"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RateMetadata holds a program's rate tables.
type RateMetadata struct {
	BaseRates   []BaseRateRow    `json:"base_rates,omitempty"`
	Adjustments []RateAdjustment `json:"adjustments,omitempty"`
}

// BaseRateRow maps an inclusive amount band, optionally narrowed by a
// term band, to a base interest rate.
type BaseRateRow struct {
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	Rate      decimal.Decimal `json:"rate"`
	MinTerm   *int            `json:"min_term,omitempty"`
	MaxTerm   *int            `json:"max_term,omitempty"`
}

// RateAdjustment adds delta to the base rate when its condition holds.
// Conditions are single comparisons such as "fico < 680".
type RateAdjustment struct {
	Condition   string          `json:"condition"`
	Delta       decimal.Decimal `json:"delta"`
	Description string          `json:"description,omitempty"`
}
