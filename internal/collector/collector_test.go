package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PointsLedger/internal/logger"
	"PointsLedger/internal/model"
)

func testAggregate() *model.ProjectAggregate {
	return &model.ProjectAggregate{
		Project:            "puffer",
		TotalBalance:       big.NewInt(0),
		TotalWeightBalance: big.NewInt(0),
		TotalTimeWeightIn:  big.NewInt(0),
		TotalTimeWeightOut: big.NewInt(0),
	}
}

func record(address string, balance, wb, in int64) model.AccrualRecord {
	return model.AccrualRecord{
		Address:       address,
		Project:       "puffer",
		Balance:       big.NewInt(balance),
		WeightBalance: big.NewInt(wb),
		TimeWeightIn:  big.NewInt(in),
		TimeWeightOut: big.NewInt(0),
	}
}

type fixedAccrual map[string]*big.Int

func (f fixedAccrual) Points(_, address string) *big.Int {
	if v, ok := f[address]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func TestCollectAll_StopsOnShortPage(t *testing.T) {
	t.Parallel()
	src := &MockSource{PageSizes: []int{1000, 1000, 437}, Aggregate: testAggregate()}
	c := NewCollector(logger.NewQuiet(), src, 1000)

	h, err := c.CollectAll(context.Background(), "pufETH", "puffer")
	require.NoError(t, err)
	require.Equal(t, 3, src.Calls())
	require.Len(t, h.Records, 2437)
	require.Equal(t, 3, h.Pages)
	require.Equal(t, "pufETH", h.Records[2436].Token)
}

func TestCollectAll_ToleratesEmptyFinalPage(t *testing.T) {
	t.Parallel()
	src := &MockSource{PageSizes: []int{2, 2, 0}, Aggregate: testAggregate()}
	c := NewCollector(logger.NewQuiet(), src, 2)

	h, err := c.CollectAll(context.Background(), "pufETH", "puffer")
	require.NoError(t, err)
	require.Equal(t, 3, src.Calls())
	require.Len(t, h.Records, 4)
}

func TestCollectAll_MissingAggregate(t *testing.T) {
	t.Parallel()
	src := &MockSource{Records: []model.AccrualRecord{record("0xa", 1, 1, 0)}}
	c := NewCollector(logger.NewQuiet(), src, 10)

	_, err := c.CollectAll(context.Background(), "pufETH", "puffer")
	require.Error(t, err)
	require.True(t, IsMissingAggregate(err))
}

func TestCollectAll_PropagatesFetchError(t *testing.T) {
	t.Parallel()
	src := &MockSource{Err: &FetchError{Op: "query by project", Status: 502, Err: errors.New("bad gateway")}}
	c := NewCollector(logger.NewQuiet(), src, 10)

	_, err := c.CollectAll(context.Background(), "pufETH", "puffer")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 502, fe.StatusCode())
}

func TestCollectAll_PagesWithdrawals(t *testing.T) {
	t.Parallel()
	var events []model.WithdrawalEvent
	for i := 0; i < 5; i++ {
		events = append(events, model.WithdrawalEvent{ID: string(rune('a' + i)), Address: "0xw"})
	}
	src := &MockSource{Aggregate: testAggregate(), Withdrawals: events}
	c := NewCollector(logger.NewQuiet(), src, 2)

	h, err := c.CollectAll(context.Background(), "pufETH", "puffer")
	require.NoError(t, err)
	require.Len(t, h.Withdrawals, 5)
	require.Equal(t, "pufETH", h.Withdrawals[4].Token)
}

func TestCollectAll_MalformedWithdrawalKeepsPaging(t *testing.T) {
	t.Parallel()
	withdrawal := func(id string, withWeight bool) string {
		weight := ""
		if withWeight {
			weight = `"weightBalance":"5",`
		}
		return fmt.Sprintf(`{"id":%q,"address":"0x%s","project":"puffer","timestamp":"1713100000",%s"timeWeightIn":"0","timeWeightOut":"0"}`, id, id, weight)
	}
	pages := map[float64][]string{
		0: {withdrawal("a1", true), withdrawal("a2", false), withdrawal("a3", true)},
		3: {withdrawal("b1", true)},
	}
	var (
		mu    sync.Mutex
		skips []float64
	)
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.Query, "withdrawals(") {
			_, _ = w.Write([]byte(`{"data":{"userPoints":[],"projectPoints":[
				{"project":"puffer","totalBalance":"0","totalWeightBalance":"0","totalTimeWeightIn":"0","totalTimeWeightOut":"0"}]}}`))
			return
		}
		skip, _ := req.Variables["skip"].(float64)
		mu.Lock()
		skips = append(skips, skip)
		mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"data":{"withdrawals":[%s]}}`, strings.Join(pages[skip], ","))
	})
	c := NewCollector(logger.NewQuiet(), s, 3)

	h, err := c.CollectAll(context.Background(), "pufETH", "puffer")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []float64{0, 3}, skips, "a full page with a skipped record is not the last page")
	require.Len(t, h.Withdrawals, 3)
	require.Equal(t, "0xb1", h.Withdrawals[2].Address)
}

func TestNewDemoSource_YieldsPoints(t *testing.T) {
	t.Parallel()
	now := time.Unix(1716000000, 0)
	c := NewCollector(logger.NewQuiet(), NewDemoSource(5, now), 2)

	h, err := c.CollectAll(context.Background(), "pufETH", "puffer")
	require.NoError(t, err)
	require.Len(t, h.Records, 5)
	require.Len(t, h.Withdrawals, 1)
	require.Zero(t, h.Aggregate.TotalBalance.Cmp(big.NewInt(15_000)))

	entries, total := c.Merge(h, fixedAccrual{}, new(big.Int), now)
	require.Len(t, entries, 6, "the withdrawn address is listed too")
	// sum of (i*1000) * (i*86400) for i in 1..5
	require.Zero(t, total.Cmp(big.NewInt(55*1000*86_400)))
}

func TestCollectAddress_SingleQuery(t *testing.T) {
	t.Parallel()
	src := &MockSource{
		Aggregate: testAggregate(),
		Records:   []model.AccrualRecord{record("0xa", 1, 1, 0), record("0xb", 1, 1, 0)},
	}
	c := NewCollector(logger.NewQuiet(), src, 1)

	h, err := c.CollectAddress(context.Background(), "0xb", "pufETH", "puffer")
	require.NoError(t, err)
	require.Len(t, h.Records, 1)
	require.Equal(t, "0xb", h.Records[0].Address)
	require.Equal(t, 0, src.Calls(), "address lookups must not page")
}

func TestMerge_LiveAndWithdrawalPoints(t *testing.T) {
	t.Parallel()
	c := NewCollector(logger.NewQuiet(), &MockSource{}, 10)
	now := time.Unix(1000, 0)
	h := &Holdings{
		Token:   "pufETH",
		Project: "puffer",
		Records: []model.AccrualRecord{
			record("0xb", 100, 100, 500), // 99500
			record("0xa", 10, 10, 0),     // 10000
		},
		Withdrawals: []model.WithdrawalEvent{
			{ID: "1", Address: "0xa"},
			{ID: "2", Address: "0xgone"},
		},
	}
	accrual := fixedAccrual{"0xa": big.NewInt(5), "0xgone": big.NewInt(7)}

	entries, total := c.Merge(h, accrual, big.NewInt(12), now)
	require.Len(t, entries, 3)
	require.Zero(t, total.Cmp(big.NewInt(99500+10000+12)))

	require.Equal(t, "0xa", entries[0].Address)
	require.Zero(t, entries[0].LocalPoints.Cmp(big.NewInt(10005)))
	require.Equal(t, "0xb", entries[1].Address)
	require.Zero(t, entries[1].LocalPoints.Cmp(big.NewInt(99500)))

	gone := entries[2]
	require.Equal(t, "0xgone", gone.Address)
	require.Zero(t, gone.LocalPoints.Cmp(big.NewInt(7)))
	require.Zero(t, gone.Balance.Sign())

	for _, e := range entries {
		require.Zero(t, e.TotalPointsPerToken.Cmp(big.NewInt(99500+10000+12)))
		require.Equal(t, "pufETH", e.Token)
		require.Equal(t, now, e.UpdatedAt)
	}
}

func TestMerge_ClampsCorruptRecord(t *testing.T) {
	t.Parallel()
	c := NewCollector(logger.NewQuiet(), &MockSource{}, 10)
	h := &Holdings{Token: "t", Records: []model.AccrualRecord{record("0xa", 0, 0, 50)}}

	entries, total := c.Merge(h, nil, nil, time.Unix(10, 0))
	require.Len(t, entries, 1)
	require.Zero(t, total.Sign())
	require.Zero(t, entries[0].LocalPoints.Sign())
	require.Zero(t, entries[0].TotalPointsPerToken.Sign())
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }
