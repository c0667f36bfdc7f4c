package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// RedistributedPointEntry is a LocalPointEntry scaled into the program's
// external unit.
type RedistributedPointEntry struct {
	Address     string          `json:"address"`
	Token       string          `json:"token"`
	LocalPoints *big.Int        `json:"local_points"`
	RealPoints  decimal.Decimal `json:"real_points"`
	Balance     *big.Int        `json:"balance"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TokenTotals holds the per-token denominators used for one snapshot.
type TokenTotals struct {
	Token       string          `json:"token"`
	LocalPoints *big.Int        `json:"local_points"`
	RealTotal   decimal.Decimal `json:"real_total"`
	Distributed decimal.Decimal `json:"distributed"`
	Dust        decimal.Decimal `json:"dust"`
	Entries     int             `json:"entries"`
	OracleStale bool            `json:"oracle_stale"`
}

// Snapshot is one fully computed result set. It must not be mutated after it
// has been published.
type Snapshot struct {
	ID               string                    `json:"id"`
	Program          string                    `json:"program"`
	LocalTotalPoints *big.Int                  `json:"local_total_points"`
	RealTotal        decimal.Decimal           `json:"real_total"`
	Tokens           map[string]TokenTotals    `json:"tokens"`
	Entries          []RedistributedPointEntry `json:"entries"`
	BuiltAt          time.Time                 `json:"built_at"`
}

// AddressPoints groups an address's real points by kind (token, or
// program/token across programs).
type AddressPoints struct {
	Address    string                     `json:"address"`
	RealPoints map[string]decimal.Decimal `json:"real_points"`
}
