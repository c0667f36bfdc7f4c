package recorder

import "PointsLedger/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSnapshot(_ *model.Snapshot) error { return nil }
func (n *NoopRecorder) RecordRefresh(_ *RefreshEvent) error    { return nil }
func (n *NoopRecorder) RecordMilestone(_ string, _ []model.MilestoneReward) error {
	return nil
}
func (n *NoopRecorder) Close() error { return nil }
