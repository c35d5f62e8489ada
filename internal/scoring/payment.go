package scoring

import (
	"math"

	"github.com/shopspring/decimal"
)

// MonthlyPayment computes the standard amortized payment for the
// financed principal at the given annual rate (percent) over the term.
// A zero rate degenerates to straight division. Returns nil for a
// non-positive term or principal.
func MonthlyPayment(principal decimal.Decimal, annualRatePct decimal.Decimal, termMonths int) *decimal.Decimal {
	if termMonths <= 0 || !principal.IsPositive() {
		return nil
	}

	p, _ := principal.Float64()
	rate, _ := annualRatePct.Float64()

	var payment float64
	if rate == 0 {
		payment = p / float64(termMonths)
	} else {
		monthly := rate / 100 / 12
		factor := math.Pow(1+monthly, float64(termMonths))
		payment = p * monthly * factor / (factor - 1)
	}

	result := decimal.NewFromFloat(payment).Round(2)
	return &result
}
