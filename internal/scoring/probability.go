package scoring

import "github.com/shopspring/decimal"

var (
	probFloor = decimal.NewFromInt(10)
	probCap   = decimal.NewFromInt(100)
	bandSlope = decimal.NewFromInt(19)
	bandWidth = decimal.NewFromInt(10)
)

// ApprovalProbability maps a fit score to a heuristic approval
// probability in [0,100]. A failed mandatory rule zeroes the estimate
// regardless of score. All arithmetic stays in decimal.
func ApprovalProbability(fitScore decimal.Decimal, mandatoryAllPassed bool) decimal.Decimal {
	if !mandatoryAllPassed {
		return decimal.Zero
	}

	f := fitScore
	var p decimal.Decimal
	switch {
	case f.GreaterThanOrEqual(decimal.NewFromInt(90)):
		p = f
		if p.GreaterThan(probCap) {
			p = probCap
		}
	case f.GreaterThanOrEqual(decimal.NewFromInt(80)):
		p = band(f, 80, 70)
	case f.GreaterThanOrEqual(decimal.NewFromInt(70)):
		p = band(f, 70, 50)
	case f.GreaterThanOrEqual(decimal.NewFromInt(60)):
		p = band(f, 60, 30)
	default:
		p = probFloor.Add(f.Mul(bandSlope).Div(decimal.NewFromInt(60)))
		if p.LessThan(probFloor) {
			p = probFloor
		}
	}

	return p.Round(2)
}

// band interpolates linearly from base at the band's lower edge,
// rising 19 points over the band's 10-point width.
func band(f decimal.Decimal, lower, base int64) decimal.Decimal {
	offset := f.Sub(decimal.NewFromInt(lower))
	return decimal.NewFromInt(base).Add(offset.Mul(bandSlope).Div(bandWidth))
}
