package withdrawal

import (
	"fmt"
	"sort"
)

// Window grants GrantedPeriod seconds of continued accrual to withdrawals
// made in [Start, End).
type Window struct {
	Start         int64 `yaml:"start" json:"start"`
	End           int64 `yaml:"end" json:"end"`
	GrantedPeriod int64 `yaml:"granted_period" json:"granted_period"`
}

// Windows is an ordered set of disjoint windows.
type Windows []Window

// Validate checks that every window is well formed and that windows are
// time-ordered and do not overlap.
func (ws Windows) Validate() error {
	for i, w := range ws {
		if w.End <= w.Start {
			return fmt.Errorf("window %d: end %d must be after start %d", i, w.End, w.Start)
		}
		if w.GrantedPeriod < 0 {
			return fmt.Errorf("window %d: granted period must not be negative", i)
		}
		if i > 0 && w.Start < ws[i-1].End {
			return fmt.Errorf("window %d: starts at %d before previous window ends at %d", i, w.Start, ws[i-1].End)
		}
	}
	return nil
}

// Lookup returns the window containing ts, if any.
func (ws Windows) Lookup(ts int64) (Window, bool) {
	i := sort.Search(len(ws), func(i int) bool { return ws[i].End > ts })
	if i < len(ws) && ws[i].Start <= ts {
		return ws[i], true
	}
	return Window{}, false
}

// Deadline is the last timestamp at which a withdrawal made at ts still
// accrues. Withdrawals outside every window stop accruing immediately.
func (ws Windows) Deadline(ts int64) int64 {
	w, ok := ws.Lookup(ts)
	if !ok {
		return ts
	}
	return ts + w.GrantedPeriod
}

// EffectiveEnd caps the accrual end at now until the deadline has passed.
func EffectiveEnd(deadline, now int64) int64 {
	if now < deadline {
		return now
	}
	return deadline
}
