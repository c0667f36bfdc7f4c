package milestone

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"PointsLedger/internal/calculator"
	"PointsLedger/internal/model"
	"PointsLedger/internal/recorder"
)

// ErrUnknownSeason is returned for a season that is not configured.
var ErrUnknownSeason = errors.New("unknown season")

// Category is one reward pool of a season, funded by the points users earned
// in Programs.
type Category struct {
	Name       string
	RewardPool decimal.Decimal
	Programs   []string
}

type Season struct {
	Name       string
	Schedule   string
	Categories []Category
}

// SnapshotSource returns the published snapshot of each program by name.
type SnapshotSource interface {
	Snapshots() map[string]*model.Snapshot
}

// Service allocates season reward pools from the published snapshots and
// keeps the last allocation of each season.
type Service struct {
	log      *slog.Logger
	seasons  map[string]Season
	source   SnapshotSource
	recorder recorder.Recorder

	mu   sync.RWMutex
	last map[string][]model.MilestoneReward
}

func NewService(log *slog.Logger, source SnapshotSource, rec recorder.Recorder, seasons []Season) *Service {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	byName := make(map[string]Season, len(seasons))
	for _, s := range seasons {
		byName[s.Name] = s
	}
	return &Service{
		log:      log,
		seasons:  byName,
		source:   source,
		recorder: rec,
		last:     make(map[string][]model.MilestoneReward),
	}
}

// Seasons returns the configured seasons sorted by name.
func (s *Service) Seasons() []Season {
	out := make([]Season, 0, len(s.seasons))
	for _, season := range s.seasons {
		out = append(out, season)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Allocate computes every category reward of season from the currently
// published snapshots. A program without a snapshot contributes nothing.
func (s *Service) Allocate(season string) ([]model.MilestoneReward, error) {
	cfg, ok := s.seasons[season]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSeason, season)
	}

	snaps := s.source.Snapshots()
	var rewards []model.MilestoneReward
	for _, cat := range cfg.Categories {
		users := categoryUsers(snaps, cat.Programs)
		allocated := calculator.AllocateCategory(season, model.CategoryPoints{
			Category:   cat.Name,
			RewardPool: cat.RewardPool,
			Users:      users,
		})
		s.log.Info("milestone: category allocated",
			"season", season, "category", cat.Name, "users", len(users), "pool", cat.RewardPool.String())
		rewards = append(rewards, allocated...)
	}

	s.mu.Lock()
	s.last[season] = rewards
	s.mu.Unlock()

	if err := s.recorder.RecordMilestone(season, rewards); err != nil {
		s.log.Warn("milestone: failed to record rewards", "season", season, "error", err)
	}
	return rewards, nil
}

// Last returns the most recent allocation of season.
func (s *Service) Last(season string) ([]model.MilestoneReward, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[season]
	return r, ok
}

// categoryUsers sums each address's real points over the given programs.
// Addresses are compared case-insensitively; output is sorted by address.
func categoryUsers(snaps map[string]*model.Snapshot, programs []string) []model.UserPoints {
	points := make(map[string]decimal.Decimal)
	for _, name := range programs {
		snap, ok := snaps[name]
		if !ok {
			continue
		}
		for _, e := range snap.Entries {
			addr := strings.ToLower(e.Address)
			points[addr] = points[addr].Add(e.RealPoints)
		}
	}

	users := make([]model.UserPoints, 0, len(points))
	for addr, p := range points {
		users = append(users, model.UserPoints{Address: addr, Points: p})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Address < users[j].Address })
	return users
}
