package calculator

import (
	"github.com/shopspring/decimal"

	"PointsLedger/internal/model"
)

// percentagePrecision bounds the digits kept for a user's share of a category.
const percentagePrecision = 18

// AllocateCategory splits a fixed reward pool across users pro-rata to their
// points. Rewards are rounded half to nearest. A zero category total gives
// every user a zero reward.
func AllocateCategory(season string, category model.CategoryPoints) []model.MilestoneReward {
	total := decimal.Zero
	for _, u := range category.Users {
		if u.Points.IsPositive() {
			total = total.Add(u.Points)
		}
	}

	rewards := make([]model.MilestoneReward, 0, len(category.Users))
	for _, u := range category.Users {
		r := model.MilestoneReward{
			Season:     season,
			Category:   category.Category,
			Address:    u.Address,
			Points:     u.Points,
			Percentage: decimal.Zero,
			Reward:     decimal.Zero,
		}
		if total.IsPositive() && u.Points.IsPositive() {
			r.Percentage = u.Points.DivRound(total, percentagePrecision)
			r.Reward = r.Percentage.Mul(category.RewardPool).Round(0)
		}
		rewards = append(rewards, r)
	}
	return rewards
}
