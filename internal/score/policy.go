package score

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy turns a judged answer into points.
type Policy interface {
	Points(budget int, elapsed, limit time.Duration, correct bool) int
}

// SpeedDecay awards floor(budget * (1 - MaxPenalty * elapsed/limit)) for a correct answer.
// With MaxPenalty 0.5 an instant answer earns the full budget and an answer on the
// deadline earns half of it.
type SpeedDecay struct {
	MaxPenalty decimal.Decimal
}

// DefaultPolicy is the speed decay the engine uses unless configured otherwise.
var DefaultPolicy = SpeedDecay{MaxPenalty: decimal.RequireFromString("0.5")}

func (p SpeedDecay) Points(budget int, elapsed, limit time.Duration, correct bool) int {
	if !correct || budget <= 0 {
		return 0
	}
	if limit <= 0 {
		return budget
	}

	ratio := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(limit)))
	switch {
	case ratio.IsNegative():
		ratio = decimal.Zero
	case ratio.GreaterThan(decimal.NewFromInt(1)):
		ratio = decimal.NewFromInt(1)
	}

	factor := decimal.NewFromInt(1).Sub(p.MaxPenalty.Mul(ratio))
	pts := decimal.NewFromInt(int64(budget)).Mul(factor).Floor()
	if pts.IsNegative() {
		return 0
	}
	return int(pts.IntPart())
}

// Flat awards the whole budget for any correct answer.
type Flat struct{}

func (Flat) Points(budget int, _, _ time.Duration, correct bool) int {
	if !correct || budget <= 0 {
		return 0
	}
	return budget
}
