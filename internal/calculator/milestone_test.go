package calculator

import (
	"testing"

	"github.com/shopspring/decimal"

	"PointsLedger/internal/model"
)

func TestAllocateCategory_RoundsHalfToNearest(t *testing.T) {
	cat := model.CategoryPoints{
		Category:   "restaking",
		RewardPool: decimal.NewFromInt(1000),
		Users: []model.UserPoints{
			{Address: "0xa", Points: decimal.NewFromInt(1)},
			{Address: "0xb", Points: decimal.NewFromInt(1)},
			{Address: "0xc", Points: decimal.NewFromInt(2)},
		},
	}
	rewards := AllocateCategory("s1", cat)
	if len(rewards) != 3 {
		t.Fatalf("expected 3 rewards, got %d", len(rewards))
	}
	want := []int64{250, 250, 500}
	for i, r := range rewards {
		if !r.Reward.Equal(decimal.NewFromInt(want[i])) {
			t.Errorf("%s: expected %d, got %s", r.Address, want[i], r.Reward)
		}
		if r.Season != "s1" || r.Category != "restaking" {
			t.Errorf("unexpected labels: %+v", r)
		}
	}
}

func TestAllocateCategory_RoundsUpAtHalf(t *testing.T) {
	// 1/8 of 12 = 1.5, which rounds to 2 rather than truncating to 1.
	cat := model.CategoryPoints{
		Category:   "lst",
		RewardPool: decimal.NewFromInt(12),
		Users: []model.UserPoints{
			{Address: "0xa", Points: decimal.NewFromInt(1)},
			{Address: "0xb", Points: decimal.NewFromInt(7)},
		},
	}
	rewards := AllocateCategory("s1", cat)
	if !rewards[0].Reward.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected 2, got %s", rewards[0].Reward)
	}
	if !rewards[1].Reward.Equal(decimal.NewFromInt(11)) {
		t.Errorf("expected 11, got %s", rewards[1].Reward)
	}
}

func TestAllocateCategory_ZeroTotal(t *testing.T) {
	cat := model.CategoryPoints{
		Category:   "empty",
		RewardPool: decimal.NewFromInt(1000),
		Users: []model.UserPoints{
			{Address: "0xa", Points: decimal.Zero},
			{Address: "0xb", Points: decimal.Zero},
		},
	}
	for _, r := range AllocateCategory("s1", cat) {
		if !r.Reward.IsZero() {
			t.Errorf("%s: expected 0, got %s", r.Address, r.Reward)
		}
	}
}
