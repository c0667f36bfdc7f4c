package scheduler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"PointsLedger/internal/collector"
	"PointsLedger/internal/logger"
	"PointsLedger/internal/milestone"
	"PointsLedger/internal/model"
	"PointsLedger/internal/oracle"
	"PointsLedger/internal/program"
)

type staticOracle decimal.Decimal

func (o staticOracle) FetchRealTotal(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal(o), nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type fixture struct {
	sched    *Scheduler
	source   *collector.MockSource
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewQuiet()
	clock := clockwork.NewFakeClockAt(time.Unix(1716000000, 0))
	src := &collector.MockSource{
		Records: []model.AccrualRecord{{
			Address:       "0xa",
			Balance:       big.NewInt(1),
			WeightBalance: big.NewInt(1),
			TimeWeightIn:  big.NewInt(0),
			TimeWeightOut: big.NewInt(0),
		}},
		Aggregate: &model.ProjectAggregate{Project: "puffer"},
	}
	p, err := program.New(program.Config{
		Logger:    log,
		Clock:     clock,
		Name:      "alpha",
		Tokens:    []program.TokenSource{{Token: "pufETH", Project: "puffer", Oracle: "o"}},
		Collector: collector.NewCollector(log, src, 100),
		Oracle:    oracle.NewCached(log, clock, staticOracle(decimal.NewFromInt(500))),
	})
	require.NoError(t, err)
	reg, err := program.NewRegistry(p)
	require.NoError(t, err)

	ms := milestone.NewService(log, reg, nil, []milestone.Season{{
		Name:       "s1",
		Schedule:   "0 0 0 1 * *",
		Categories: []milestone.Category{{Name: "all", RewardPool: decimal.NewFromInt(100), Programs: []string{"alpha"}}},
	}})
	n := &recordingNotifier{}
	s := NewScheduler(context.Background(), log, clock, reg, ms, n, 2)
	return &fixture{sched: s, source: src, notifier: n}
}

func TestRegisterAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.Error(t, f.sched.RegisterAll(nil), "missing interval")
	require.NoError(t, f.sched.RegisterAll(map[string]time.Duration{"alpha": 5 * time.Minute}))
	require.Len(t, f.sched.Cron.Entries(), 3)
}

func TestTriggerRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	snap, err := f.sched.TriggerRefresh("alpha")
	require.NoError(t, err)
	require.True(t, snap.RealTotal.Equal(decimal.NewFromInt(500)))

	_, err = f.sched.TriggerRefresh("nope")
	require.ErrorIs(t, err, ErrUnknownProgram)
}

func TestFailureAlertAndRecovery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.source.Err = errors.New("unavailable")
	f.sched.RefreshAllNow()
	require.Empty(t, f.notifier.messages(), "one failure stays below the threshold")

	f.sched.RefreshAllNow()
	f.sched.RefreshAllNow()
	msgs := f.notifier.messages()
	require.Len(t, msgs, 1, "alert is sent once")
	require.Contains(t, msgs[0], "Refresh failing")

	status := f.sched.Status()
	require.Equal(t, 3, status[0].ConsecutiveFailures)
	require.Contains(t, status[0].LastError, "unavailable")

	f.source.Err = nil
	f.sched.RefreshAllNow()
	msgs = f.notifier.messages()
	require.Len(t, msgs, 2)
	require.Contains(t, msgs[1], "Refresh recovered")
	require.Zero(t, f.sched.Status()[0].ConsecutiveFailures)
}

func TestHandleCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.Contains(t, f.sched.HandleCommand("/status"), "no snapshot yet")
	require.Contains(t, f.sched.HandleCommand("/refresh alpha"), "alpha refreshed: 1 entries")
	require.Contains(t, f.sched.HandleCommand("/refresh nope"), "unknown program")
	require.Contains(t, f.sched.HandleCommand("/points 0xA"), "alpha/pufETH: 500")
	require.Contains(t, f.sched.HandleCommand("/milestone s1"), "all: 1 users, 100")
	require.Contains(t, f.sched.HandleCommand("/points"), "usage")
	require.Contains(t, f.sched.HandleCommand("hello"), "Available commands")
}
