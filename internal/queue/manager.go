package queue

import (
	"context"
	"time"
)

// Manager bundles the three lanes behind one startup/shutdown lifecycle and
// the operational introspection surface.
type Manager struct {
	Analysis      *Lane[AnalysisJob]
	Reports       *Lane[ReportJob]
	Notifications *Lane[NotificationJob]
}

// NewManager constructs a Manager over pre-built lanes.
func NewManager(analysis *Lane[AnalysisJob], reports *Lane[ReportJob], notifications *Lane[NotificationJob]) *Manager {
	return &Manager{Analysis: analysis, Reports: reports, Notifications: notifications}
}

// Start launches all lane workers.
func (m *Manager) Start(ctx context.Context) {
	m.Analysis.Start(ctx)
	m.Reports.Start(ctx)
	m.Notifications.Start(ctx)
}

// Stop drains all lanes.
func (m *Manager) Stop() {
	m.Analysis.Stop()
	m.Reports.Stop()
	m.Notifications.Stop()
}

// Stats snapshots the counters of every lane.
func (m *Manager) Stats() map[string]Counts {
	return map[string]Counts{
		LaneAnalysis:      m.Analysis.Stats(),
		LaneReports:       m.Reports.Stats(),
		LaneNotifications: m.Notifications.Stats(),
	}
}

// Cleanup purges terminal jobs older than the retention window from every
// lane and returns the total removed. A non-positive retention falls back to
// each lane's configured default.
func (m *Manager) Cleanup(retention time.Duration) int {
	removed := m.Analysis.Cleanup(retention)
	removed += m.Reports.Cleanup(retention)
	removed += m.Notifications.Cleanup(retention)
	return removed
}
