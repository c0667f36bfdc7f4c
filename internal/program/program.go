package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"PointsLedger/internal/calculator"
	"PointsLedger/internal/collector"
	"PointsLedger/internal/metrics"
	"PointsLedger/internal/model"
	"PointsLedger/internal/oracle"
	"PointsLedger/internal/recorder"
	"PointsLedger/internal/snapshot"
	"PointsLedger/internal/withdrawal"
)

const defaultFetchTimeout = 2 * time.Minute

// ErrNotReady is returned by reads issued before the first snapshot exists.
var ErrNotReady = errors.New("program has no published snapshot yet")

// TokenSource binds one token of a program to its ledger project and oracle id.
type TokenSource struct {
	Token   string
	Project string
	Oracle  string
}

type Config struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	Name         string
	Tokens       []TokenSource
	Windows      withdrawal.Windows
	Precision    int32
	FetchTimeout time.Duration
	Collector    *collector.Collector
	Oracle       *oracle.Cached
	Store        *withdrawal.Store
	Recorder     recorder.Recorder
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Name == "" {
		return errors.New("name is required")
	}
	if len(cfg.Tokens) == 0 {
		return fmt.Errorf("program %s: at least one token is required", cfg.Name)
	}
	seen := make(map[string]bool, len(cfg.Tokens))
	for _, ts := range cfg.Tokens {
		if ts.Token == "" || ts.Project == "" || ts.Oracle == "" {
			return fmt.Errorf("program %s: token, project and oracle are required", cfg.Name)
		}
		if seen[ts.Token] {
			return fmt.Errorf("program %s: duplicate token %s", cfg.Name, ts.Token)
		}
		seen[ts.Token] = true
	}
	if cfg.Collector == nil {
		return errors.New("collector is required")
	}
	if cfg.Oracle == nil {
		return errors.New("oracle is required")
	}
	if cfg.Precision < 0 {
		return fmt.Errorf("program %s: precision must not be negative", cfg.Name)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Recorder == nil {
		cfg.Recorder = recorder.NewNoopRecorder()
	}
	return nil
}

// Program is one points program: a set of tokens whose local points are
// redistributed against externally published totals. Refresh cycles of a
// program are serial; reads go through the snapshot cache and never block.
type Program struct {
	log    *slog.Logger
	cfg    Config
	ledger *withdrawal.Ledger
	cache  *snapshot.Cache

	refreshMu sync.Mutex
}

func New(cfg Config) (*Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ledger, err := withdrawal.NewLedger(withdrawal.LedgerConfig{
		Logger:    cfg.Logger,
		Clock:     cfg.Clock,
		Windows:   cfg.Windows,
		Store:     cfg.Store,
		Namespace: cfg.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("program %s: %w", cfg.Name, err)
	}
	return &Program{
		log:    cfg.Logger.With("program", cfg.Name),
		cfg:    cfg,
		ledger: ledger,
		cache:  snapshot.NewCache(),
	}, nil
}

func (p *Program) Name() string { return p.cfg.Name }

func (p *Program) Tokens() []TokenSource { return p.cfg.Tokens }

func (p *Program) Cache() *snapshot.Cache { return p.cache }

// Snapshot returns the published snapshot, or nil before the first refresh.
func (p *Program) Snapshot() *model.Snapshot { return p.cache.Get() }

// Refresh runs one full cycle: fetch ledger data and oracle totals
// concurrently, aggregate, redistribute, then publish. On any fetch error the
// cycle is aborted and the previously published snapshot stays in place.
func (p *Program) Refresh(ctx context.Context) (*model.Snapshot, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	start := p.cfg.Clock.Now()
	cycleID := uuid.NewString()
	log := p.log.With("cycle", cycleID)
	log.Debug("program: refresh started")

	snap, err := p.refresh(ctx, cycleID, log)
	duration := p.cfg.Clock.Since(start)
	metrics.RefreshDuration.WithLabelValues(p.cfg.Name).Observe(duration.Seconds())

	evt := &recorder.RefreshEvent{Program: p.cfg.Name, CycleID: cycleID, Duration: duration}
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(p.cfg.Name, "error").Inc()
		evt.Status = "FAILED"
		evt.Error = err.Error()
		p.record(log, evt, nil)
		log.Error("program: refresh failed", "duration", duration, "error", err)
		return nil, err
	}

	p.cache.Publish(snap)
	metrics.RefreshTotal.WithLabelValues(p.cfg.Name, "success").Inc()
	metrics.SnapshotAge.WithLabelValues(p.cfg.Name).Set(float64(snap.BuiltAt.Unix()))
	for token, tt := range snap.Tokens {
		metrics.SnapshotEntries.WithLabelValues(p.cfg.Name, token).Set(float64(tt.Entries))
	}

	evt.Status = "SUCCESS"
	evt.Entries = len(snap.Entries)
	p.record(log, evt, snap)
	log.Info("program: refresh completed",
		"entries", len(snap.Entries), "real_total", snap.RealTotal.String(), "duration", duration)
	return snap, nil
}

func (p *Program) refresh(ctx context.Context, cycleID string, log *slog.Logger) (*model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	tokens := p.cfg.Tokens
	holdings := make([]*collector.Holdings, len(tokens))
	totals := make([]model.ProgramTotal, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	for i, ts := range tokens {
		i, ts := i, ts
		g.Go(func() error {
			h, err := p.cfg.Collector.CollectAll(gctx, ts.Token, ts.Project)
			if err != nil {
				if collector.IsMissingAggregate(err) {
					log.Warn("program: ledger aggregate missing, skipping token this cycle",
						"token", ts.Token, "project", ts.Project)
					return nil
				}
				return fmt.Errorf("ledger %s: %w", ts.Project, err)
			}
			holdings[i] = h
			return nil
		})
		g.Go(func() error {
			t, err := p.cfg.Oracle.Fetch(gctx, ts.Oracle)
			if err != nil {
				return fmt.Errorf("oracle %s: %w", ts.Oracle, err)
			}
			totals[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := p.cfg.Clock.Now()
	prev := p.cache.Get()
	snap := &model.Snapshot{
		ID:               cycleID,
		Program:          p.cfg.Name,
		LocalTotalPoints: new(big.Int),
		RealTotal:        decimal.Zero,
		Tokens:           make(map[string]model.TokenTotals, len(tokens)),
		BuiltAt:          now,
	}

	for i, ts := range tokens {
		h := holdings[i]
		if h == nil {
			carryForward(snap, prev, ts.Token)
			continue
		}

		acc := p.ledger.AccrueAt(h.Withdrawals, now.Unix())
		entries, total := p.cfg.Collector.Merge(h, acc, acc.TokenTotals[ts.Token], now)
		redistributed, tt, err := calculator.RedistributeEntries(ts.Token, entries, total, totals[i].RealTotal, p.cfg.Precision)
		if err != nil {
			return nil, fmt.Errorf("redistribute %s: %w", ts.Token, err)
		}
		tt.OracleStale = totals[i].Stale

		log.Debug("program: token redistributed",
			"token", ts.Token, "entries", tt.Entries, "withdrawals_memoized", acc.Memoized,
			"withdrawals_computed", acc.Computed, "dust", tt.Dust.String())

		snap.Tokens[ts.Token] = tt
		snap.Entries = append(snap.Entries, redistributed...)
		snap.LocalTotalPoints.Add(snap.LocalTotalPoints, total)
		snap.RealTotal = snap.RealTotal.Add(tt.RealTotal)
	}
	sortEntries(snap.Entries)

	// A state write failure does not abort the cycle.
	if err := p.ledger.Flush(); err != nil {
		log.Warn("program: failed to persist withdrawal state", "error", err)
	}
	return snap, nil
}

// carryForward copies token's entries and totals from the previous snapshot
// when this cycle had to skip the token.
func carryForward(snap, prev *model.Snapshot, token string) {
	if prev == nil {
		return
	}
	tt, ok := prev.Tokens[token]
	if !ok {
		return
	}
	snap.Tokens[token] = tt
	for _, e := range prev.Entries {
		if e.Token == token {
			snap.Entries = append(snap.Entries, e)
		}
	}
	if tt.LocalPoints != nil {
		snap.LocalTotalPoints.Add(snap.LocalTotalPoints, tt.LocalPoints)
	}
	snap.RealTotal = snap.RealTotal.Add(tt.RealTotal)
}

func (p *Program) record(log *slog.Logger, evt *recorder.RefreshEvent, snap *model.Snapshot) {
	if err := p.cfg.Recorder.RecordRefresh(evt); err != nil {
		log.Warn("program: failed to record refresh", "error", err)
	}
	if snap == nil {
		return
	}
	if err := p.cfg.Recorder.RecordSnapshot(snap); err != nil {
		log.Warn("program: failed to record snapshot", "error", err)
	}
}

// Lookup computes an address's current points with one by-address query per
// token, scaled against the token totals of the published snapshot.
func (p *Program) Lookup(ctx context.Context, address string) (*model.Snapshot, error) {
	published := p.cache.Get()
	if published == nil {
		return nil, ErrNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	now := p.cfg.Clock.Now()
	out := &model.Snapshot{
		ID:               published.ID,
		Program:          p.cfg.Name,
		LocalTotalPoints: published.LocalTotalPoints,
		RealTotal:        published.RealTotal,
		Tokens:           make(map[string]model.TokenTotals, len(published.Tokens)),
		BuiltAt:          now,
	}
	for _, ts := range p.cfg.Tokens {
		tt, ok := published.Tokens[ts.Token]
		if !ok {
			continue
		}
		out.Tokens[ts.Token] = tt

		h, err := p.cfg.Collector.CollectAddress(ctx, address, ts.Token, ts.Project)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", ts.Token, err)
		}
		acc := p.ledger.AccrueAt(h.Withdrawals, now.Unix())
		entries, _ := p.cfg.Collector.Merge(h, acc, nil, now)
		for _, e := range entries {
			out.Entries = append(out.Entries, model.RedistributedPointEntry{
				Address:     e.Address,
				Token:       e.Token,
				LocalPoints: e.LocalPoints,
				RealPoints:  calculator.Redistribute(e.LocalPoints, tt.LocalPoints, tt.RealTotal, p.cfg.Precision),
				Balance:     e.Balance,
				UpdatedAt:   now,
			})
		}
	}
	sortEntries(out.Entries)
	return out, nil
}

func sortEntries(entries []model.RedistributedPointEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Address != entries[j].Address {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].Token < entries[j].Token
	})
}
