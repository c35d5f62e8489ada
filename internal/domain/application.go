// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus tracks an application through its lifecycle.
type ApplicationStatus string

const (
	ApplicationDraft          ApplicationStatus = "Draft"
	ApplicationSubmitted      ApplicationStatus = "Submitted"
	ApplicationInUnderwriting ApplicationStatus = "In Underwriting"
	ApplicationApproved       ApplicationStatus = "Approved"
	ApplicationDeclined       ApplicationStatus = "Declined"
	ApplicationFunded         ApplicationStatus = "Funded"
	ApplicationCancelled      ApplicationStatus = "Cancelled"
)

// LegalStructure is the business entity type.
type LegalStructure string

const (
	StructureLLC         LegalStructure = "LLC"
	StructureCorporation LegalStructure = "Corporation"
	StructureSCorp       LegalStructure = "S-Corp"
	StructureCCorp       LegalStructure = "C-Corp"
	StructurePartnership LegalStructure = "Partnership"
	StructureSoleProp    LegalStructure = "Sole Proprietorship"
	StructureNonProfit   LegalStructure = "Non-Profit"
	StructureOther       LegalStructure = "Other"
)

// EquipmentCondition is the condition of the financed equipment.
type EquipmentCondition string

const (
	ConditionNew          EquipmentCondition = "New"
	ConditionUsed         EquipmentCondition = "Used"
	ConditionRefurbished  EquipmentCondition = "Refurbished"
	ConditionCertifiedPre EquipmentCondition = "Certified Pre-Owned"
)

// Application is a request to finance one piece of equipment for one
// business, co-signed by one guarantor.
type Application struct {
	ID                     string            `json:"id"`
	Status                 ApplicationStatus `json:"status"`
	RequestedAmount        decimal.Decimal   `json:"requestedAmount"`
	TermMonths             int               `json:"termMonths"`
	DownPaymentPercentage  *decimal.Decimal  `json:"downPaymentPercentage,omitempty"`
	DownPaymentAmount      *decimal.Decimal  `json:"downPaymentAmount,omitempty"`
	ComparableDebtPayments *decimal.Decimal  `json:"comparableDebtPayments,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`

	Business  *Business  `json:"business,omitempty"`
	Guarantor *Guarantor `json:"guarantor,omitempty"`
	Equipment *Equipment `json:"equipment,omitempty"`
}

// DownPayment returns the effective down payment amount. When only a
// percentage is present the amount is derived from the requested amount.
func (a *Application) DownPayment() decimal.Decimal {
	if a.DownPaymentAmount != nil {
		return *a.DownPaymentAmount
	}
	if a.DownPaymentPercentage != nil {
		return a.RequestedAmount.Mul(*a.DownPaymentPercentage).Div(decimal.NewFromInt(100)).Round(2)
	}
	return decimal.Zero
}

// FinancedAmount is the requested amount less the effective down payment.
func (a *Application) FinancedAmount() decimal.Decimal {
	return a.RequestedAmount.Sub(a.DownPayment())
}

// Business holds the applicant business facts used by eligibility checks.
type Business struct {
	ID              string           `json:"id"`
	LegalStructure  LegalStructure   `json:"legalStructure"`
	Industry        string           `json:"industry"`
	EstablishedDate time.Time        `json:"establishedDate"`
	AnnualRevenue   *decimal.Decimal `json:"annualRevenue,omitempty"`
	State           string           `json:"state"`
	City            string           `json:"city"`
	Zip             string           `json:"zip"`
}

// MonthsInBusiness returns whole months between the established date
// and asOf, floored at zero.
func (b *Business) MonthsInBusiness(asOf time.Time) int {
	months := (asOf.Year()-b.EstablishedDate.Year())*12 + int(asOf.Month()) - int(b.EstablishedDate.Month())
	if asOf.Day() < b.EstablishedDate.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// Guarantor holds the personal-credit facts of the co-signer.
type Guarantor struct {
	ID                      string           `json:"id"`
	FICO                    *int             `json:"fico,omitempty"`
	PayNet                  *int             `json:"paynet,omitempty"`
	CreditUtilization       *decimal.Decimal `json:"creditUtilization,omitempty"`
	HasBankruptcy           bool             `json:"hasBankruptcy"`
	BankruptcyDischargeDate *time.Time       `json:"bankruptcyDischargeDate,omitempty"`
	IsHomeowner             bool             `json:"isHomeowner"`
	IsUSCitizen             bool             `json:"isUsCitizen"`
}

// Equipment is the asset being financed.
type Equipment struct {
	ID               string             `json:"id"`
	Type             string             `json:"type"`
	Condition        EquipmentCondition `json:"condition"`
	Cost             decimal.Decimal    `json:"cost"`
	YearManufactured *int               `json:"yearManufactured,omitempty"`
}

// AgeYears derives the equipment age at asOf. New equipment without a
// manufacture year is age 0; otherwise a missing year leaves the age
// undefined and nil is returned.
func (e *Equipment) AgeYears(asOf time.Time) *int {
	if e.YearManufactured != nil {
		age := asOf.Year() - *e.YearManufactured
		if age < 0 {
			age = 0
		}
		return &age
	}
	if e.Condition == ConditionNew {
		zero := 0
		return &zero
	}
	return nil
}
