package recorder

import (
	"time"

	"PointsLedger/internal/model"
)

// RefreshEvent records the outcome of one refresh cycle.
type RefreshEvent struct {
	Program  string
	CycleID  string
	Status   string // "SUCCESS" or "FAILED"
	Duration time.Duration
	Entries  int
	Error    string
}

// Recorder persists historical data for analysis. Readers of the live service
// never depend on it.
type Recorder interface {
	RecordSnapshot(snap *model.Snapshot) error
	RecordRefresh(evt *RefreshEvent) error
	RecordMilestone(season string, rewards []model.MilestoneReward) error
	Close() error
}
