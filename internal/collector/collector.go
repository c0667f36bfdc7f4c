package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"PointsLedger/internal/calculator"
	"PointsLedger/internal/metrics"
	"PointsLedger/internal/model"
)

// DefaultPageSize is the ledger source's maximum page size.
const DefaultPageSize = 1000

// Collector drives paginated retrieval from a LedgerSource.
type Collector struct {
	Source   LedgerSource
	PageSize int
	log      *slog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(log *slog.Logger, source LedgerSource, pageSize int) *Collector {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Collector{Source: source, PageSize: pageSize, log: log}
}

// Holdings is everything fetched for one token in one cycle.
type Holdings struct {
	Token       string
	Project     string
	Records     []model.AccrualRecord
	Aggregate   model.ProjectAggregate
	Withdrawals []model.WithdrawalEvent
	Pages       int
}

// CollectAll fetches every record and withdrawal of a project, page by page,
// until a page comes back shorter than the page size.
func (c *Collector) CollectAll(ctx context.Context, token, project string) (*Holdings, error) {
	h := &Holdings{Token: token, Project: project}
	var aggregate *model.ProjectAggregate

	for page := 1; ; page++ {
		p, err := c.Source.QueryByProject(ctx, project, page, c.PageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", project, page, err)
		}
		metrics.LedgerPagesFetched.WithLabelValues(project, "accrual").Inc()
		h.Pages++
		if aggregate == nil && p.Aggregate != nil {
			aggregate = p.Aggregate
		}
		h.Records = append(h.Records, withToken(p.Records, token)...)
		if p.Received < c.PageSize {
			break
		}
	}
	if aggregate == nil {
		return nil, fmt.Errorf("%s: %w", project, ErrMissingAggregate)
	}
	h.Aggregate = *aggregate

	for page := 1; ; page++ {
		wp, err := c.Source.QueryWithdrawals(ctx, project, page, c.PageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch %s withdrawals page %d: %w", project, page, err)
		}
		metrics.LedgerPagesFetched.WithLabelValues(project, "withdrawal").Inc()
		h.Withdrawals = append(h.Withdrawals, withdrawalsWithToken(wp.Events, token)...)
		if wp.Received < c.PageSize {
			break
		}
	}

	c.log.Debug("collector: collected project",
		"project", project, "records", len(h.Records), "withdrawals", len(h.Withdrawals), "pages", h.Pages)
	return h, nil
}

// CollectAddress fetches one address's records and withdrawals in a single
// query each.
func (c *Collector) CollectAddress(ctx context.Context, address, token, project string) (*Holdings, error) {
	p, err := c.Source.QueryByAddress(ctx, address, project)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for %s: %w", project, address, err)
	}
	events, err := c.Source.QueryWithdrawalsByAddress(ctx, address, project)
	if err != nil {
		return nil, fmt.Errorf("fetch %s withdrawals for %s: %w", project, address, err)
	}
	h := &Holdings{
		Token:       token,
		Project:     project,
		Records:     withToken(p.Records, token),
		Withdrawals: withdrawalsWithToken(events, token),
		Pages:       1,
	}
	if p.Aggregate != nil {
		h.Aggregate = *p.Aggregate
	}
	return h, nil
}

// IsMissingAggregate reports whether err means the project must be skipped.
func IsMissingAggregate(err error) bool {
	return errors.Is(err, ErrMissingAggregate)
}

// WithdrawalAccrual is the slice of the withdrawal ledger's result Merge needs.
type WithdrawalAccrual interface {
	Points(token, address string) *big.Int
}

// Merge computes local points for every address of a token at now:
// live time-weighted points plus preserved withdrawal points. Addresses known
// only through a withdrawal are emitted with a zero balance. withdrawalTotal
// is added to the token total, which is returned alongside the entries. The
// entries are sorted by address.
func (c *Collector) Merge(h *Holdings, withdrawals WithdrawalAccrual, withdrawalTotal *big.Int, now time.Time) ([]model.LocalPointEntry, *big.Int) {
	ts := now.Unix()
	total := new(big.Int)
	live := make(map[string]*model.LocalPointEntry, len(h.Records))

	for _, r := range h.Records {
		points, clamped := calculator.TimeWeightedPointsAt(r.WeightBalance, r.TimeWeightIn, r.TimeWeightOut, ts)
		if clamped {
			c.log.Warn("collector: negative accrual clamped to zero", "project", h.Project, "address", r.Address)
		}
		total.Add(total, points)

		if e, ok := live[r.Address]; ok {
			e.LocalPoints.Add(e.LocalPoints, points)
			e.Balance.Add(e.Balance, nonNil(r.Balance))
			continue
		}
		live[r.Address] = &model.LocalPointEntry{
			Address:     r.Address,
			Token:       h.Token,
			LocalPoints: points,
			Balance:     new(big.Int).Set(nonNil(r.Balance)),
			UpdatedAt:   now,
		}
	}

	for _, w := range h.Withdrawals {
		if _, ok := live[w.Address]; ok {
			continue
		}
		live[w.Address] = &model.LocalPointEntry{
			Address:     w.Address,
			Token:       h.Token,
			LocalPoints: new(big.Int),
			Balance:     new(big.Int),
			UpdatedAt:   now,
		}
	}

	if withdrawalTotal != nil {
		total.Add(total, withdrawalTotal)
	}

	entries := make([]model.LocalPointEntry, 0, len(live))
	for addr, e := range live {
		if withdrawals != nil {
			e.LocalPoints.Add(e.LocalPoints, withdrawals.Points(h.Token, addr))
		}
		e.TotalPointsPerToken = total
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Address < entries[j].Address })
	return entries, total
}

func withToken(records []model.AccrualRecord, token string) []model.AccrualRecord {
	out := make([]model.AccrualRecord, len(records))
	for i, r := range records {
		r.Token = token
		out[i] = r
	}
	return out
}

func withdrawalsWithToken(events []model.WithdrawalEvent, token string) []model.WithdrawalEvent {
	out := make([]model.WithdrawalEvent, len(events))
	for i, e := range events {
		e.Token = token
		out[i] = e
	}
	return out
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
