package model

import "github.com/shopspring/decimal"

// UserPoints is one user's points inside a category.
type UserPoints struct {
	Address string
	Points  decimal.Decimal
}

// CategoryPoints is the allocator input for one category of a season.
type CategoryPoints struct {
	Category   string
	RewardPool decimal.Decimal
	Users      []UserPoints
}

// MilestoneReward is one user's share of a category reward pool.
type MilestoneReward struct {
	Season     string          `json:"season"`
	Category   string          `json:"category"`
	Address    string          `json:"address"`
	Points     decimal.Decimal `json:"points"`
	Percentage decimal.Decimal `json:"percentage"`
	Reward     decimal.Decimal `json:"reward"`
}
