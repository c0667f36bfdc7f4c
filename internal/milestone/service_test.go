package milestone

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"PointsLedger/internal/logger"
	"PointsLedger/internal/model"
)

type staticSnapshots map[string]*model.Snapshot

func (s staticSnapshots) Snapshots() map[string]*model.Snapshot { return s }

func snap(program string, points map[string]int64) *model.Snapshot {
	s := &model.Snapshot{Program: program}
	for addr, p := range points {
		s.Entries = append(s.Entries, model.RedistributedPointEntry{
			Address:    addr,
			Token:      "pufETH",
			RealPoints: decimal.NewFromInt(p),
		})
	}
	return s
}

func rewardOf(t *testing.T, rewards []model.MilestoneReward, category, address string) model.MilestoneReward {
	t.Helper()
	for _, r := range rewards {
		if r.Category == category && r.Address == address {
			return r
		}
	}
	t.Fatalf("no reward for %s/%s", category, address)
	return model.MilestoneReward{}
}

func TestService_AllocateSumsProgramsPerCategory(t *testing.T) {
	t.Parallel()
	source := staticSnapshots{
		"alpha": snap("alpha", map[string]int64{"0xa": 30, "0xB": 10}),
		"beta":  snap("beta", map[string]int64{"0xb": 60}),
	}
	svc := NewService(logger.NewQuiet(), source, nil, []Season{{
		Name: "s1",
		Categories: []Category{
			{Name: "restaking", RewardPool: decimal.NewFromInt(1000), Programs: []string{"alpha", "beta"}},
			{Name: "alpha-only", RewardPool: decimal.NewFromInt(100), Programs: []string{"alpha"}},
		},
	}})

	rewards, err := svc.Allocate("s1")
	require.NoError(t, err)
	require.Len(t, rewards, 4)

	b := rewardOf(t, rewards, "restaking", "0xb")
	require.True(t, b.Points.Equal(decimal.NewFromInt(70)))
	require.True(t, b.Reward.Equal(decimal.NewFromInt(700)))
	require.True(t, rewardOf(t, rewards, "restaking", "0xa").Reward.Equal(decimal.NewFromInt(300)))

	require.True(t, rewardOf(t, rewards, "alpha-only", "0xa").Reward.Equal(decimal.NewFromInt(75)))
	require.True(t, rewardOf(t, rewards, "alpha-only", "0xb").Reward.Equal(decimal.NewFromInt(25)))

	last, ok := svc.Last("s1")
	require.True(t, ok)
	require.Equal(t, rewards, last)
}

func TestService_MissingSnapshotContributesNothing(t *testing.T) {
	t.Parallel()
	svc := NewService(logger.NewQuiet(), staticSnapshots{}, nil, []Season{{
		Name:       "s1",
		Categories: []Category{{Name: "c", RewardPool: decimal.NewFromInt(10), Programs: []string{"alpha"}}},
	}})

	rewards, err := svc.Allocate("s1")
	require.NoError(t, err)
	require.Empty(t, rewards)
}

func TestService_UnknownSeason(t *testing.T) {
	t.Parallel()
	svc := NewService(logger.NewQuiet(), staticSnapshots{}, nil, nil)

	_, err := svc.Allocate("nope")
	require.ErrorIs(t, err, ErrUnknownSeason)
	_, ok := svc.Last("nope")
	require.False(t, ok)
}
