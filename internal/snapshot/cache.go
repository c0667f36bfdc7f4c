package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"PointsLedger/internal/model"
)

// Cache holds the currently published snapshot of one program. Readers never
// block and never observe a snapshot under construction.
type Cache struct {
	current atomic.Pointer[model.Snapshot]

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewCache() *Cache {
	return &Cache{readyCh: make(chan struct{})}
}

// Get returns the published snapshot, or nil before the first publish.
func (c *Cache) Get() *model.Snapshot {
	return c.current.Load()
}

// Publish replaces the published snapshot. s must not be modified afterwards.
func (c *Cache) Publish(s *model.Snapshot) {
	if s == nil {
		return
	}
	c.current.Store(s)
	c.readyOnce.Do(func() { close(c.readyCh) })
}

func (c *Cache) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

func (c *Cache) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for snapshot: %w", ctx.Err())
	}
}

// Filter returns a copy of the published snapshot restricted to address.
// An empty address returns the published snapshot itself.
func (c *Cache) Filter(address string) *model.Snapshot {
	s := c.Get()
	if s == nil || address == "" {
		return s
	}
	return FilterAddress(s, address)
}

// GroupedByAddress groups the published snapshot's real points by token.
func (c *Cache) GroupedByAddress() []model.AddressPoints {
	s := c.Get()
	if s == nil {
		return nil
	}
	return GroupByAddress([]*model.Snapshot{s}, func(_ *model.Snapshot, e model.RedistributedPointEntry) string {
		return e.Token
	})
}

// FilterAddress copies s keeping only entries of address (case-insensitive).
func FilterAddress(s *model.Snapshot, address string) *model.Snapshot {
	out := *s
	out.Entries = nil
	for _, e := range s.Entries {
		if strings.EqualFold(e.Address, address) {
			out.Entries = append(out.Entries, e)
		}
	}
	tokens := make(map[string]model.TokenTotals, len(s.Tokens))
	for k, v := range s.Tokens {
		tokens[k] = v
	}
	out.Tokens = tokens
	return &out
}

// GroupByAddress merges entries of several snapshots per address. kind names
// the bucket each entry's real points are added to. Output is sorted by
// address.
func GroupByAddress(snaps []*model.Snapshot, kind func(*model.Snapshot, model.RedistributedPointEntry) string) []model.AddressPoints {
	byAddr := make(map[string]map[string]decimal.Decimal)
	for _, s := range snaps {
		if s == nil {
			continue
		}
		for _, e := range s.Entries {
			addr := strings.ToLower(e.Address)
			m, ok := byAddr[addr]
			if !ok {
				m = make(map[string]decimal.Decimal)
				byAddr[addr] = m
			}
			k := kind(s, e)
			m[k] = m[k].Add(e.RealPoints)
		}
	}

	out := make([]model.AddressPoints, 0, len(byAddr))
	for addr, m := range byAddr {
		out = append(out, model.AddressPoints{Address: addr, RealPoints: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
