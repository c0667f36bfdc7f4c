package oracle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"PointsLedger/internal/model"
)

// Cached remembers the last good total per oracle id. When a fetch fails and
// a previous value exists, that value is returned marked stale; a failure is
// never turned into a zero total.
type Cached struct {
	client Client
	clock  clockwork.Clock
	log    *slog.Logger

	mu   sync.RWMutex
	last map[string]model.ProgramTotal
}

func NewCached(log *slog.Logger, clock clockwork.Clock, client Client) *Cached {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cached{client: client, clock: clock, log: log, last: make(map[string]model.ProgramTotal)}
}

// Fetch returns a fresh total, or the last good one if the fetch failed.
// The error is returned only when no previous value exists.
func (c *Cached) Fetch(ctx context.Context, id string) (model.ProgramTotal, error) {
	v, err := c.client.FetchRealTotal(ctx, id)
	if err != nil {
		c.mu.RLock()
		prev, ok := c.last[id]
		c.mu.RUnlock()
		if !ok {
			return model.ProgramTotal{}, err
		}
		c.log.Warn("oracle: fetch failed, using last good total",
			"oracle", id, "fetched_at", prev.FetchedAt, "error", err)
		prev.Stale = true
		return prev, nil
	}

	total := model.ProgramTotal{ID: id, RealTotal: v, FetchedAt: c.clock.Now()}
	c.mu.Lock()
	c.last[id] = total
	c.mu.Unlock()
	return total, nil
}

// Last returns the last good total for id.
func (c *Cached) Last(id string) (model.ProgramTotal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.last[id]
	return t, ok
}
