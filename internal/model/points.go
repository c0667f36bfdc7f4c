package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// LocalPointEntry is the per-(address, token) result of one aggregation pass,
// before scaling to the program's published total.
type LocalPointEntry struct {
	Address             string
	Token               string
	LocalPoints         *big.Int
	TotalPointsPerToken *big.Int
	Balance             *big.Int
	UpdatedAt           time.Time
}

// WithdrawalRecord accumulates the points a (token, address) keeps earning
// across one or more withdrawal windows.
type WithdrawalRecord struct {
	Token         string
	Address       string
	AccruedPoints *big.Int
}

// ProgramTotal is the externally published absolute total for a token or
// program.
type ProgramTotal struct {
	ID        string
	RealTotal decimal.Decimal
	FetchedAt time.Time
	Stale     bool
}
