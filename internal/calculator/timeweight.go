package calculator

import "math/big"

// TimeWeightedPoints returns the point-seconds accrued up to timestamp:
//
//	weightBalance*timestamp - (timeWeightIn - timeWeightOut)
//
// A negative result means the upstream checkpoints are corrupt; it is clamped
// to zero and clamped reports true so the caller can log it.
func TimeWeightedPoints(weightBalance, timeWeightIn, timeWeightOut, timestamp *big.Int) (points *big.Int, clamped bool) {
	points = new(big.Int).Mul(orZero(weightBalance), orZero(timestamp))
	correction := new(big.Int).Sub(orZero(timeWeightIn), orZero(timeWeightOut))
	points.Sub(points, correction)
	if points.Sign() < 0 {
		return new(big.Int), true
	}
	return points, false
}

// TimeWeightedPointsAt is TimeWeightedPoints for a unix timestamp in seconds.
func TimeWeightedPointsAt(weightBalance, timeWeightIn, timeWeightOut *big.Int, unix int64) (*big.Int, bool) {
	return TimeWeightedPoints(weightBalance, timeWeightIn, timeWeightOut, big.NewInt(unix))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
