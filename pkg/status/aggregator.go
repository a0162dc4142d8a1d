// Package status builds and refreshes the unified pipeline status view
// served to external consumers.
//
// PipelineStatus is created fresh per orchestrator instance, populated
// progressively during setup under a single-writer convention, and
// discarded with the instance. The only cross-run artifact is the
// best-effort cache heartbeat key, which Refresh merges into Metrics.
package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/connections"
	"github.com/revlake/revlake/pkg/engine"
	"github.com/revlake/revlake/pkg/flow"
)

// Destination names used as keys in DestinationsActive.
const (
	DestinationRelational = "relational"
	DestinationCache      = "cache"
	DestinationWarehouse  = "warehouse"
	DestinationVector     = "vector"
)

// PipelineStatus is the unified status/health view for one orchestrator
// instance. Keys in SourcesActive are flow names; keys in
// DestinationsActive are destination names. Both key sets are unique per
// session.
type PipelineStatus struct {
	// Engine names the ingestion engine actually in use
	Engine string `json:"engine"`
	// SourcesActive maps flow name to whether the flow started
	SourcesActive map[string]bool `json:"sources_active"`
	// DestinationsActive maps destination name to availability
	DestinationsActive map[string]bool `json:"destinations_active"`
	// LastSync is the time of the most recent setup or refresh
	LastSync *time.Time `json:"last_sync,omitempty"`
	// Errors accumulates every recoverable failure observed this session
	Errors []string `json:"errors"`
	// Metrics carries free-form counters and gauges
	Metrics map[string]interface{} `json:"metrics"`
}

// New creates an empty status for a fresh orchestrator instance.
func New() *PipelineStatus {
	return &PipelineStatus{
		SourcesActive:      make(map[string]bool),
		DestinationsActive: make(map[string]bool),
		Errors:             []string{},
		Metrics:            make(map[string]interface{}),
	}
}

// Clone returns a deep copy, so callers can hand the status out without
// exposing the orchestrator's single-writer copy.
func (s *PipelineStatus) Clone() *PipelineStatus {
	out := &PipelineStatus{
		Engine:             s.Engine,
		SourcesActive:      make(map[string]bool, len(s.SourcesActive)),
		DestinationsActive: make(map[string]bool, len(s.DestinationsActive)),
		Errors:             append([]string{}, s.Errors...),
		Metrics:            make(map[string]interface{}, len(s.Metrics)),
	}
	for k, v := range s.SourcesActive {
		out.SourcesActive[k] = v
	}
	for k, v := range s.DestinationsActive {
		out.DestinationsActive[k] = v
	}
	for k, v := range s.Metrics {
		out.Metrics[k] = v
	}
	if s.LastSync != nil {
		t := *s.LastSync
		out.LastSync = &t
	}
	return out
}

// Aggregator builds and refreshes PipelineStatus values.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator creates a status aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{
		logger: logger.With(zap.String("component", "status_aggregator")),
	}
}

// Build aggregates a session's outcomes into a PipelineStatus. It maps
// flow setup outcomes into SourcesActive, destination outcomes into
// DestinationsActive, concatenates collected error strings, and stamps
// LastSync with the current time. Pure aggregation, no I/O.
func (a *Aggregator) Build(choice engine.Choice, flows *flow.SetupResult, destinations map[string]bool, errs []string) *PipelineStatus {
	st := New()
	st.Engine = choice.String()

	started := make(map[string]bool, len(flows.Started))
	for _, name := range flows.Started {
		started[name] = true
	}
	for _, name := range flows.Configured {
		st.SourcesActive[name] = started[name]
	}

	for dest, active := range destinations {
		st.DestinationsActive[dest] = active
	}

	st.Errors = append(st.Errors, errs...)
	for _, se := range flows.Errors {
		st.Errors = append(st.Errors, string(se.Source)+": "+se.Message)
	}

	now := time.Now().UTC()
	st.LastSync = &now

	st.Metrics["flows_configured"] = len(flows.Configured)
	st.Metrics["flows_started"] = len(flows.Started)
	st.Metrics["error_count"] = len(st.Errors)

	return st
}

// Refresh merges a best-effort read of the cache heartbeat key into the
// status metrics. A cache read failure is logged and alters nothing
// else. The input status is not mutated; a refreshed clone is returned.
func (a *Aggregator) Refresh(ctx context.Context, st *PipelineStatus, cache connections.Cache) *PipelineStatus {
	out := st.Clone()
	now := time.Now().UTC()
	out.LastSync = &now

	if cache == nil {
		return out
	}

	value, err := cache.Get(ctx, connections.HeartbeatKey)
	if err != nil {
		a.logger.Warn("heartbeat read failed", zap.Error(err))
		return out
	}

	out.Metrics["heartbeat"] = value
	return out
}
