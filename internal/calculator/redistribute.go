package calculator

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"PointsLedger/internal/model"
)

// Output precisions used by the read surfaces.
const (
	PrecisionInteger int32 = 0
	PrecisionMicro   int32 = 6
	PrecisionWei     int32 = 18
)

// ErrNegativeTotal is returned when a published total is below zero.
var ErrNegativeTotal = errors.New("real total cannot be negative")

// Redistribute scales localPoints into the external unit:
//
//	floor(localPoints * realTotal / totalPoints)
//
// evaluated at the given decimal precision. The multiplication happens before
// the division and the result is truncated, never rounded up. A zero
// totalPoints yields zero.
func Redistribute(localPoints, totalPoints *big.Int, realTotal decimal.Decimal, precision int32) decimal.Decimal {
	if totalPoints == nil || totalPoints.Sign() <= 0 || localPoints == nil || localPoints.Sign() <= 0 {
		return decimal.Zero
	}
	if realTotal.Sign() <= 0 {
		return decimal.Zero
	}
	// realTotal = coef * 10^exp, so the result in units of 10^-precision is
	// floor(local * coef * 10^(exp+precision) / total).
	num := new(big.Int).Mul(localPoints, realTotal.Coefficient())
	den := new(big.Int).Set(totalPoints)
	if shift := int64(realTotal.Exponent()) + int64(precision); shift >= 0 {
		num.Mul(num, pow10(shift))
	} else {
		den.Mul(den, pow10(-shift))
	}
	units := num.Quo(num, den)
	return decimal.NewFromBigInt(units, -precision)
}

// RedistributeEntries scales every entry of a single token against totalPoints
// and returns the redistributed entries with the token totals. Dust is the part
// of realTotal left unassigned by per-entry truncation.
func RedistributeEntries(token string, entries []model.LocalPointEntry, totalPoints *big.Int, realTotal decimal.Decimal, precision int32) ([]model.RedistributedPointEntry, model.TokenTotals, error) {
	if realTotal.IsNegative() {
		return nil, model.TokenTotals{}, ErrNegativeTotal
	}
	out := make([]model.RedistributedPointEntry, 0, len(entries))
	distributed := decimal.Zero
	for _, e := range entries {
		rp := Redistribute(e.LocalPoints, totalPoints, realTotal, precision)
		distributed = distributed.Add(rp)
		out = append(out, model.RedistributedPointEntry{
			Address:     e.Address,
			Token:       e.Token,
			LocalPoints: new(big.Int).Set(orZero(e.LocalPoints)),
			RealPoints:  rp,
			Balance:     new(big.Int).Set(orZero(e.Balance)),
			UpdatedAt:   e.UpdatedAt,
		})
	}
	dust := realTotal.Truncate(precision).Sub(distributed)
	if dust.IsNegative() {
		dust = decimal.Zero
	}
	totals := model.TokenTotals{
		Token:       token,
		LocalPoints: new(big.Int).Set(orZero(totalPoints)),
		RealTotal:   realTotal,
		Distributed: distributed,
		Dust:        dust,
		Entries:     len(out),
	}
	return out, totals, nil
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}
