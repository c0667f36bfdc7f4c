package snapshot

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"PointsLedger/internal/model"
)

func build(id string, n int, realPoints int64) *model.Snapshot {
	s := &model.Snapshot{
		ID:               id,
		Program:          "puffer",
		LocalTotalPoints: big.NewInt(int64(n)),
		RealTotal:        decimal.NewFromInt(realPoints * int64(n)),
		Tokens:           map[string]model.TokenTotals{"pufETH": {Token: "pufETH", Entries: n}},
		BuiltAt:          time.Unix(1714000000, 0),
	}
	for i := 0; i < n; i++ {
		s.Entries = append(s.Entries, model.RedistributedPointEntry{
			Address:     fmt.Sprintf("0x%02d", i),
			Token:       "pufETH",
			LocalPoints: big.NewInt(1),
			RealPoints:  decimal.NewFromInt(realPoints),
		})
	}
	return s
}

func TestCache_EmptyUntilPublished(t *testing.T) {
	t.Parallel()
	c := NewCache()
	require.Nil(t, c.Get())
	require.Nil(t, c.Filter("0x01"))
	require.Nil(t, c.GroupedByAddress())
	require.False(t, c.Ready())

	c.Publish(build("a", 2, 1))
	require.True(t, c.Ready())
	require.NoError(t, c.WaitReady(context.Background()))
	require.Equal(t, "a", c.Get().ID)
}

func TestCache_WaitReadyCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewCache().WaitReady(ctx), context.Canceled)
}

func TestCache_FilterIsACopy(t *testing.T) {
	t.Parallel()
	c := NewCache()
	s := build("a", 3, 5)
	c.Publish(s)

	f := c.Filter("0X01")
	require.Len(t, f.Entries, 1)
	require.Equal(t, "0x01", f.Entries[0].Address)
	require.Len(t, c.Get().Entries, 3, "published snapshot untouched")

	f.Tokens["other"] = model.TokenTotals{}
	_, leaked := s.Tokens["other"]
	require.False(t, leaked)
}

func TestCache_ReadersSeeWholeSnapshots(t *testing.T) {
	t.Parallel()
	c := NewCache()
	c.Publish(build("old", 100, 1))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := c.Get()
				want := decimal.NewFromInt(1)
				if s.ID == "new" {
					want = decimal.NewFromInt(2)
				}
				for _, e := range s.Entries {
					if !e.RealPoints.Equal(want) {
						errs <- fmt.Errorf("snapshot %s mixes entries", s.ID)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			c.Publish(build("new", 100, 2))
		} else {
			c.Publish(build("old", 100, 1))
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestGroupByAddress(t *testing.T) {
	t.Parallel()
	a := build("a", 2, 3)
	b := build("b", 1, 4)
	b.Program = "renzo"
	b.Entries[0].Token = "ezETH"

	grouped := GroupByAddress([]*model.Snapshot{a, b, nil}, func(s *model.Snapshot, e model.RedistributedPointEntry) string {
		return s.Program + "/" + e.Token
	})
	require.Len(t, grouped, 2)
	require.Equal(t, "0x00", grouped[0].Address)
	require.True(t, grouped[0].RealPoints["puffer/pufETH"].Equal(decimal.NewFromInt(3)))
	require.True(t, grouped[0].RealPoints["renzo/ezETH"].Equal(decimal.NewFromInt(4)))
	require.Len(t, grouped[1].RealPoints, 1)
}
