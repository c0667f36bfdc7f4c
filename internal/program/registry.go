package program

import (
	"fmt"

	"PointsLedger/internal/model"
	"PointsLedger/internal/snapshot"
)

// Registry holds every configured program in configuration order.
type Registry struct {
	programs []*Program
	byName   map[string]*Program
}

func NewRegistry(programs ...*Program) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Program, len(programs))}
	for _, p := range programs {
		if _, ok := r.byName[p.Name()]; ok {
			return nil, fmt.Errorf("duplicate program %q", p.Name())
		}
		r.byName[p.Name()] = p
		r.programs = append(r.programs, p)
	}
	return r, nil
}

func (r *Registry) Get(name string) (*Program, bool) {
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) Programs() []*Program {
	return r.programs
}

// Ready reports whether every program has published a snapshot.
func (r *Registry) Ready() bool {
	for _, p := range r.programs {
		if !p.Cache().Ready() {
			return false
		}
	}
	return true
}

// Snapshots returns the published snapshot of every program that has one.
func (r *Registry) Snapshots() map[string]*model.Snapshot {
	out := make(map[string]*model.Snapshot, len(r.programs))
	for _, p := range r.programs {
		if s := p.Snapshot(); s != nil {
			out[p.Name()] = s
		}
	}
	return out
}

// GroupedByAddress merges the published snapshots of all programs per
// address, bucketed by "program/token".
func (r *Registry) GroupedByAddress() []model.AddressPoints {
	snaps := make([]*model.Snapshot, 0, len(r.programs))
	for _, p := range r.programs {
		snaps = append(snaps, p.Snapshot())
	}
	return snapshot.GroupByAddress(snaps, func(s *model.Snapshot, e model.RedistributedPointEntry) string {
		return s.Program + "/" + e.Token
	})
}
