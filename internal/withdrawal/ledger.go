package withdrawal

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/jonboulle/clockwork"

	"PointsLedger/internal/calculator"
	"PointsLedger/internal/model"
)

type LedgerConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Windows Windows
	Store   *Store

	// Namespace prefixes memo keys so ledgers with different windows can
	// share one Store.
	Namespace string
}

func (cfg *LedgerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if err := cfg.Windows.Validate(); err != nil {
		return fmt.Errorf("invalid withdrawal windows: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Store == nil {
		cfg.Store, _ = OpenStore("")
	}
	return nil
}

// Ledger computes the points withdrawn positions keep earning until their
// deadline.
type Ledger struct {
	log   *slog.Logger
	cfg   LedgerConfig
	store *Store
}

func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{log: cfg.Logger, cfg: cfg, store: cfg.Store}, nil
}

// Result is the outcome of one Accrue pass.
type Result struct {
	// Records is sorted by token then address.
	Records     []model.WithdrawalRecord
	TokenTotals map[string]*big.Int
	Memoized    int
	Computed    int
}

// Points returns the accrued points for (token, address), or zero.
func (r Result) Points(token, address string) *big.Int {
	i := sort.Search(len(r.Records), func(i int) bool {
		rec := r.Records[i]
		return rec.Token > token || (rec.Token == token && rec.Address >= address)
	})
	if i < len(r.Records) && r.Records[i].Token == token && r.Records[i].Address == address {
		return new(big.Int).Set(r.Records[i].AccruedPoints)
	}
	return new(big.Int)
}

// Accrue folds every withdrawal event into per-(token, address) records and
// per-token totals, evaluated at the ledger clock's current time.
func (l *Ledger) Accrue(events []model.WithdrawalEvent) Result {
	return l.AccrueAt(events, l.cfg.Clock.Now().Unix())
}

// AccrueAt is Accrue evaluated at the unix time now.
func (l *Ledger) AccrueAt(events []model.WithdrawalEvent, now int64) Result {
	type key struct{ token, address string }
	acc := make(map[key]*big.Int)
	res := Result{TokenTotals: make(map[string]*big.Int)}

	for _, ev := range events {
		points, memoized := l.accrueEvent(ev, now)
		if memoized {
			res.Memoized++
		} else {
			res.Computed++
		}

		k := key{ev.Token, ev.Address}
		if acc[k] == nil {
			acc[k] = new(big.Int)
		}
		acc[k].Add(acc[k], points)

		if res.TokenTotals[ev.Token] == nil {
			res.TokenTotals[ev.Token] = new(big.Int)
		}
		res.TokenTotals[ev.Token].Add(res.TokenTotals[ev.Token], points)
	}

	res.Records = make([]model.WithdrawalRecord, 0, len(acc))
	for k, v := range acc {
		res.Records = append(res.Records, model.WithdrawalRecord{Token: k.token, Address: k.address, AccruedPoints: v})
	}
	sort.Slice(res.Records, func(i, j int) bool {
		if res.Records[i].Token != res.Records[j].Token {
			return res.Records[i].Token < res.Records[j].Token
		}
		return res.Records[i].Address < res.Records[j].Address
	})
	return res
}

func (l *Ledger) accrueEvent(ev model.WithdrawalEvent, now int64) (*big.Int, bool) {
	key := ev.Key()
	if l.cfg.Namespace != "" {
		key = l.cfg.Namespace + "/" + key
	}
	if v, ok := l.store.Get(key); ok {
		return v, true
	}

	deadline := l.cfg.Windows.Deadline(ev.WithdrawTimestamp)
	end := EffectiveEnd(deadline, now)
	points, clamped := calculator.TimeWeightedPointsAt(ev.WeightBalance, ev.TimeWeightIn, ev.TimeWeightOut, end)
	if clamped {
		l.log.Warn("withdrawal: negative accrual clamped to zero",
			"project", ev.Project, "event", ev.ID, "address", ev.Address, "end", end)
	}

	if now >= deadline {
		l.store.Put(key, points)
	}
	return points, false
}

// Flush persists closed-window results accumulated so far.
func (l *Ledger) Flush() error {
	return l.store.Flush()
}
