package withdrawal

import (
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"PointsLedger/internal/model"
)

func newTestLedger(t *testing.T, now int64, store *Store) (*Ledger, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(now, 0))
	l, err := NewLedger(LedgerConfig{
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Clock:   clock,
		Windows: testWindows,
		Store:   store,
	})
	require.NoError(t, err)
	return l, clock
}

func requireBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Zero(t, want.Cmp(got), "expected %s, got %s", want, got)
}

func event(id, address string, ts int64, wb, in int64) model.WithdrawalEvent {
	return model.WithdrawalEvent{
		ID:                id,
		Address:           address,
		Token:             "pufETH",
		Project:           "puffer",
		WithdrawTimestamp: ts,
		WeightBalance:     big.NewInt(wb),
		TimeWeightIn:      big.NewInt(in),
		TimeWeightOut:     big.NewInt(0),
	}
}

func TestLedger_OpenWindowTracksNow(t *testing.T) {
	t.Parallel()
	store, err := OpenStore("")
	require.NoError(t, err)
	l, clock := newTestLedger(t, 1714000000, store)

	ev := event("1", "0xa", 1713100000, 2, 0)
	res := l.Accrue([]model.WithdrawalEvent{ev})
	requireBig(t, big.NewInt(2*1714000000), res.Points("pufETH", "0xa"))
	require.Equal(t, 0, store.Len(), "open window must not be memoized")

	clock.Advance(1000 * time.Second)
	res = l.Accrue([]model.WithdrawalEvent{ev})
	requireBig(t, big.NewInt(2*1714001000), res.Points("pufETH", "0xa"))
}

func TestLedger_ClosedWindowCappedAndMemoized(t *testing.T) {
	t.Parallel()
	store, err := OpenStore("")
	require.NoError(t, err)
	l, clock := newTestLedger(t, 1715000000, store)

	ev := event("1", "0xa", 1713100000, 2, 0)
	res := l.Accrue([]model.WithdrawalEvent{ev})
	requireBig(t, big.NewInt(2*1714309600), res.Points("pufETH", "0xa"))
	require.Equal(t, 1, res.Computed)
	require.Equal(t, 1, store.Len())

	clock.Advance(24 * time.Hour)
	res = l.Accrue([]model.WithdrawalEvent{ev})
	requireBig(t, big.NewInt(2*1714309600), res.Points("pufETH", "0xa"))
	require.Equal(t, 1, res.Memoized)
}

func TestLedger_AccumulatesPerAddressAndToken(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t, 1716000000, nil)

	events := []model.WithdrawalEvent{
		event("1", "0xa", 1713100000, 1, 0),
		event("2", "0xa", 1714400000, 1, 0),
		event("3", "0xb", 1700000000, 1, 0),
	}
	res := l.Accrue(events)

	// 0xa: first event capped at 1714309600, second at 1714400000+604800.
	wantA := big.NewInt(1714309600 + 1714400000 + 604800)
	requireBig(t, wantA, res.Points("pufETH", "0xa"))
	// 0xb withdrew outside every window: accrual stops at the withdrawal.
	requireBig(t, big.NewInt(1700000000), res.Points("pufETH", "0xb"))

	wantTotal := new(big.Int).Add(wantA, big.NewInt(1700000000))
	requireBig(t, wantTotal, res.TokenTotals["pufETH"])
	require.Len(t, res.Records, 2)
	require.Equal(t, "0xa", res.Records[0].Address)
	requireBig(t, big.NewInt(0), res.Points("pufETH", "0xmissing"))
}

func TestLedger_ClampsCorruptCheckpoint(t *testing.T) {
	t.Parallel()
	l, _ := newTestLedger(t, 1715000000, nil)

	res := l.Accrue([]model.WithdrawalEvent{event("1", "0xa", 1713100000, 0, 500)})
	require.Equal(t, 0, res.Points("pufETH", "0xa").Sign())
}

func TestStore_FlushAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state", "withdrawals.json")

	store, err := OpenStore(path)
	require.NoError(t, err)
	store.Put("puffer/1", big.NewInt(42))
	store.Put("puffer/1", big.NewInt(99))
	require.NoError(t, store.Flush())

	reloaded, err := OpenStore(path)
	require.NoError(t, err)
	v, ok := reloaded.Get("puffer/1")
	require.True(t, ok)
	requireBig(t, big.NewInt(42), v)
}

func TestLedger_NamespacesShareStore(t *testing.T) {
	t.Parallel()
	store, err := OpenStore("")
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := clockwork.NewFakeClockAt(time.Unix(1716000000, 0))

	granted, err := NewLedger(LedgerConfig{Logger: log, Clock: clock, Windows: testWindows, Store: store, Namespace: "alpha"})
	require.NoError(t, err)
	none, err := NewLedger(LedgerConfig{Logger: log, Clock: clock, Store: store, Namespace: "beta"})
	require.NoError(t, err)

	ev := event("1", "0xa", 1713100000, 1, 0)
	requireBig(t, big.NewInt(1714309600), granted.Accrue([]model.WithdrawalEvent{ev}).Points("pufETH", "0xa"))
	requireBig(t, big.NewInt(1713100000), none.Accrue([]model.WithdrawalEvent{ev}).Points("pufETH", "0xa"))
	require.Equal(t, 2, store.Len())
}
