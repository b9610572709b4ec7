package engine

import (
	"context"
	"sort"
	"time"

	"vigil/internal/crisis"
)

// Status is a point-in-time snapshot of engine health for the control
// surfaces.
type Status struct {
	Running            bool
	StartedAt          time.Time
	Workers            int
	DispatchQueueDepth int
	CasesByStatus      map[crisis.CaseStatus]int
	OpenCases          int
	NeedsReview        int
	StaleRiskStates    int
	ConfiguredChannels []string
}

// Status assembles the snapshot. Store errors degrade individual fields
// rather than failing the whole status call.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	status := Status{
		Running:   m.running,
		StartedAt: m.started,
		Workers:   m.workers,
	}
	staleAfter := time.Duration(m.cfg.Risk.StaleAfterHours) * time.Hour
	m.mu.Unlock()

	status.DispatchQueueDepth = m.dispatcher.QueueDepth()

	channels := m.registry.Configured()
	sort.Strings(channels)
	status.ConfiguredChannels = channels

	if stats, err := m.store.CaseStats(ctx); err == nil {
		status.CasesByStatus = stats
		status.OpenCases = stats[crisis.CaseOpen]
	}
	if open, err := m.store.OpenCases(ctx); err == nil {
		for _, c := range open {
			if c.NeedsReview {
				status.NeedsReview++
			}
		}
	}
	staleCutoff := m.clk.Now().UTC().Add(-staleAfter)
	if stale, err := m.store.StaleRiskSnapshotCount(ctx, staleCutoff); err == nil {
		status.StaleRiskStates = stale
	}
	return status
}
