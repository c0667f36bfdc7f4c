package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"PointsLedger/internal/model"
	"PointsLedger/internal/program"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type PaginationParams struct {
	Limit  int
	Offset int
}

func ParsePagination(r *http.Request, defaultLimit int) PaginationParams {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}

	limit := defaultLimit
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > MaxLimit {
				limit = MaxLimit
			}
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{Limit: limit, Offset: offset}
}

func page[T any](items []T, p PaginationParams) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

type ProgramSummary struct {
	Name             string                       `json:"name"`
	Ready            bool                         `json:"ready"`
	SnapshotID       string                       `json:"snapshot_id,omitempty"`
	BuiltAt          *time.Time                   `json:"built_at,omitempty"`
	LocalTotalPoints *big.Int                     `json:"local_total_points,omitempty"`
	RealTotal        decimal.Decimal              `json:"real_total"`
	Entries          int                          `json:"entries"`
	Tokens           map[string]model.TokenTotals `json:"tokens,omitempty"`
}

type PointsResponse struct {
	Program          string                          `json:"program"`
	SnapshotID       string                          `json:"snapshot_id"`
	BuiltAt          time.Time                       `json:"built_at"`
	LocalTotalPoints *big.Int                        `json:"local_total_points"`
	RealTotal        decimal.Decimal                 `json:"real_total"`
	Tokens           map[string]model.TokenTotals    `json:"tokens"`
	Items            []model.RedistributedPointEntry `json:"items"`
	Total            int                             `json:"total"`
	Limit            int                             `json:"limit"`
	Offset           int                             `json:"offset"`
}

type GroupedResponse struct {
	Items  []model.AddressPoints `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (s *Server) listPrograms(w http.ResponseWriter, r *http.Request) {
	programs := s.cfg.Registry.Programs()
	out := make([]ProgramSummary, 0, len(programs))
	for _, p := range programs {
		sum := ProgramSummary{Name: p.Name(), RealTotal: decimal.Zero}
		if snap := p.Snapshot(); snap != nil {
			builtAt := snap.BuiltAt
			sum.Ready = true
			sum.SnapshotID = snap.ID
			sum.BuiltAt = &builtAt
			sum.LocalTotalPoints = snap.LocalTotalPoints
			sum.RealTotal = snap.RealTotal
			sum.Entries = len(snap.Entries)
			sum.Tokens = snap.Tokens
		}
		out = append(out, sum)
	}
	s.writeJSON(w, out)
}

func (s *Server) getPoints(w http.ResponseWriter, r *http.Request) {
	p, ok := s.program(w, r)
	if !ok {
		return
	}
	snap := p.Cache().Filter(r.URL.Query().Get("address"))
	if snap == nil {
		http.Error(w, program.ErrNotReady.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writePoints(w, r, snap)
}

func (s *Server) getProgramGrouped(w http.ResponseWriter, r *http.Request) {
	p, ok := s.program(w, r)
	if !ok {
		return
	}
	if !p.Cache().Ready() {
		http.Error(w, program.ErrNotReady.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeGrouped(w, r, p.Cache().GroupedByAddress())
}

func (s *Server) getLive(w http.ResponseWriter, r *http.Request) {
	p, ok := s.program(w, r)
	if !ok {
		return
	}
	snap, err := p.Lookup(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		if errors.Is(err, program.ErrNotReady) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.log.Warn("api: live lookup failed", "program", p.Name(), "error", err)
		http.Error(w, "upstream lookup failed", http.StatusBadGateway)
		return
	}
	s.writePoints(w, r, snap)
}

func (s *Server) getGrouped(w http.ResponseWriter, r *http.Request) {
	s.writeGrouped(w, r, s.cfg.Registry.GroupedByAddress())
}

func (s *Server) getMilestone(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	if s.cfg.Milestones == nil {
		http.Error(w, "no seasons configured", http.StatusNotFound)
		return
	}
	rewards, ok := s.cfg.Milestones.Last(season)
	if !ok {
		http.Error(w, "no allocation for season", http.StatusNotFound)
		return
	}
	s.writeJSON(w, rewards)
}

func (s *Server) program(w http.ResponseWriter, r *http.Request) (*program.Program, bool) {
	name := chi.URLParam(r, "program")
	p, ok := s.cfg.Registry.Get(name)
	if !ok {
		http.Error(w, "unknown program", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

func (s *Server) writePoints(w http.ResponseWriter, r *http.Request, snap *model.Snapshot) {
	params := ParsePagination(r, DefaultLimit)
	s.writeJSON(w, PointsResponse{
		Program:          snap.Program,
		SnapshotID:       snap.ID,
		BuiltAt:          snap.BuiltAt,
		LocalTotalPoints: snap.LocalTotalPoints,
		RealTotal:        snap.RealTotal,
		Tokens:           snap.Tokens,
		Items:            page(snap.Entries, params),
		Total:            len(snap.Entries),
		Limit:            params.Limit,
		Offset:           params.Offset,
	})
}

func (s *Server) writeGrouped(w http.ResponseWriter, r *http.Request, grouped []model.AddressPoints) {
	params := ParsePagination(r, DefaultLimit)
	s.writeJSON(w, GroupedResponse{
		Items:  page(grouped, params),
		Total:  len(grouped),
		Limit:  params.Limit,
		Offset: params.Offset,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("api: failed to write response", "error", err)
	}
}
