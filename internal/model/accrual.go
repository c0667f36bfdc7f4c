package model

import "math/big"

// AccrualRecord is one address's checkpoint state for a project as reported by
// the ledger source. WeightBalance, TimeWeightIn and TimeWeightOut are
// checkpoint accumulators, not literal balances.
type AccrualRecord struct {
	Address       string
	Token         string
	Project       string
	Balance       *big.Int
	WeightBalance *big.Int
	TimeWeightIn  *big.Int
	TimeWeightOut *big.Int
}

// ProjectAggregate is the ledger source's per-project rollup.
type ProjectAggregate struct {
	Project            string
	TotalBalance       *big.Int
	TotalWeightBalance *big.Int
	TotalTimeWeightIn  *big.Int
	TotalTimeWeightOut *big.Int
}

// WithdrawalEvent is the checkpoint state captured when a position was
// withdrawn. ID is unique within a project.
type WithdrawalEvent struct {
	ID                string
	Address           string
	Token             string
	Project           string
	WithdrawTimestamp int64
	WeightBalance     *big.Int
	TimeWeightIn      *big.Int
	TimeWeightOut     *big.Int
}

// Key identifies the event across projects.
func (e WithdrawalEvent) Key() string {
	return e.Project + "/" + e.ID
}
