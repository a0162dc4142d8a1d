// Package orchestrator drives one pipeline session: acquire every
// external connection, select the ingestion engine per policy and live
// health, provision destination schemas, configure and start per-source
// flows with partial-failure isolation, install transformation routines,
// and aggregate the unified status view.
//
// An Orchestrator is an explicit value constructed and owned by the
// caller; there are no hidden process-wide instances. Each Setup call is
// one scoped session: every resource acquired inside it is released on
// every exit path, including cancellation, before Setup returns.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/connections"
	"github.com/revlake/revlake/pkg/engine"
	"github.com/revlake/revlake/pkg/flow"
	"github.com/revlake/revlake/pkg/metrics"
	"github.com/revlake/revlake/pkg/provision"
	"github.com/revlake/revlake/pkg/rlerrors"
	"github.com/revlake/revlake/pkg/status"
)

// releaseTimeout bounds the resource-release path. Release runs on a
// detached context so that cancelling the session never skips it.
const releaseTimeout = 30 * time.Second

// SetupSummary describes exactly which pieces of a session succeeded.
type SetupSummary struct {
	EngineUsed             string   `json:"engine_used"`
	SourcesConfigured      []string `json:"sources_configured"`
	DestinationsConfigured []string `json:"destinations_configured"`
	FlowsCreated           []string `json:"flows_created"`
	Errors                 []string `json:"errors"`
}

// Orchestrator owns one pipeline configuration and its status view.
type Orchestrator struct {
	cfg       *config.PipelineConfig
	logger    *zap.Logger
	sessionID string

	manager     *connections.Manager
	provisioner *provision.Provisioner
	registrar   *provision.Registrar
	registry    *flow.Registry
	aggregator  *status.Aggregator

	mu         sync.RWMutex
	status     *status.PipelineStatus
	lastChoice engine.Choice
}

// New creates an orchestrator for a validated configuration. The status
// view is created fresh here and discarded with the instance.
func New(cfg *config.PipelineConfig, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, rlerrors.Wrap(err, rlerrors.ErrorTypeConfig, "invalid pipeline configuration")
	}

	sessionID := uuid.NewString()
	logger = logger.With(zap.String("session_id", sessionID))

	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		sessionID:   sessionID,
		manager:     connections.NewManager(cfg, logger),
		provisioner: provision.NewProvisioner(logger),
		registrar:   provision.NewRegistrar(logger),
		registry:    flow.NewRegistry(cfg.Retry, logger),
		aggregator:  status.NewAggregator(logger),
		status:      status.New(),
	}, nil
}

// SessionID returns the session identifier.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Setup runs one full session. It returns a summary describing exactly
// which pieces succeeded, even when some sources or destinations failed.
// An error return happens only in the fatal cases: an explicitly
// requested engine being unavailable, no engine available under the
// hybrid policy, or the staging store being unreachable. Resources are
// released on every path.
func (o *Orchestrator) Setup(ctx context.Context) (*SetupSummary, error) {
	o.logger.Info("session starting",
		zap.String("policy", string(o.cfg.Policy)),
		zap.Int("sources", len(o.cfg.Sources)))

	acquireTimer := o.timer("acquire")
	conns, err := o.manager.Acquire(ctx)
	o.stopTimer(acquireTimer)
	if err != nil {
		o.appendErrors(err.Error())
		o.recordSession("fatal")
		return nil, err
	}

	// Release is the scoped-acquisition guarantee: it runs on a detached
	// context so a cancelled session still closes every handle.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if failures := o.manager.Release(releaseCtx, conns); len(failures) > 0 {
			o.appendErrors(failures...)
		}
	}()

	softErrors := append([]string{}, conns.Errors...)

	choice, err := engine.Select(o.cfg.Policy, conns.PrimaryAvailable, conns.FallbackAvailable)
	if err != nil {
		o.appendErrors(softErrors...)
		o.appendErrors(err.Error())
		o.recordSession("fatal")
		return nil, err
	}
	o.setChoice(choice)
	if o.cfg.Monitoring {
		metrics.EngineSelections.WithLabelValues(choice.String()).Inc()
	}
	o.logger.Info("engine selected", zap.String("engine", choice.String()))

	provisionTimer := o.timer("provision")
	schemas, provErrs := o.provisioner.Provision(ctx, conns.Postgres)
	o.stopTimer(provisionTimer)
	for _, e := range provErrs {
		softErrors = append(softErrors, e.Error())
	}

	destinations := o.checkDestinations(ctx, conns, schemas, &softErrors)

	flowTimer := o.timer("flows")
	flows := o.registry.ConfigureAndStart(ctx, conns.Engine(choice), o.cfg.Sources)
	o.stopTimer(flowTimer)

	transformTimer := o.timer("transforms")
	for _, e := range o.registrar.Install(ctx, conns.Postgres) {
		softErrors = append(softErrors, e.Error())
	}
	o.stopTimer(transformTimer)

	st := o.aggregator.Build(choice, flows, destinations, softErrors)
	o.setStatus(st)
	o.recordOutcomes(flows, destinations)
	o.recordSession("completed")

	summary := o.buildSummary(choice, flows, destinations, st)
	o.logger.Info("session complete",
		zap.String("engine", summary.EngineUsed),
		zap.Strings("sources_configured", summary.SourcesConfigured),
		zap.Int("errors", len(summary.Errors)))

	return summary, nil
}

// checkDestinations computes per-destination availability. The warehouse
// check may fail; that is logged, recorded, and never fatal.
func (o *Orchestrator) checkDestinations(ctx context.Context, conns *connections.Set, schemas []string, softErrors *[]string) map[string]bool {
	provisioned := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		provisioned[s] = true
	}

	destinations := map[string]bool{
		status.DestinationRelational: len(schemas) > 0,
		status.DestinationCache:      conns.Cache != nil,
		status.DestinationVector:     provisioned[provision.ZoneVectors],
	}

	warehouseActive := false
	if conns.Warehouse != nil {
		if err := conns.Warehouse.PingContext(ctx); err != nil {
			o.logger.Warn("warehouse connection test failed", zap.Error(err))
			*softErrors = append(*softErrors, "warehouse: "+err.Error())
		} else {
			warehouseActive = true
		}
	}
	destinations[status.DestinationWarehouse] = warehouseActive

	return destinations
}

// buildSummary converts session outcomes into the caller-facing summary.
func (o *Orchestrator) buildSummary(choice engine.Choice, flows *flow.SetupResult, destinations map[string]bool, st *status.PipelineStatus) *SetupSummary {
	summary := &SetupSummary{
		EngineUsed:             choice.String(),
		SourcesConfigured:      []string{},
		DestinationsConfigured: []string{},
		FlowsCreated:           append([]string{}, flows.Configured...),
		Errors:                 append([]string{}, st.Errors...),
	}

	for _, source := range o.cfg.Sources {
		switch o.registry.State(source) {
		case flow.StateConfigured, flow.StateStarted, flow.StateStartFailed:
			summary.SourcesConfigured = append(summary.SourcesConfigured, string(source))
		}
	}

	for _, dest := range []string{
		status.DestinationRelational,
		status.DestinationCache,
		status.DestinationWarehouse,
		status.DestinationVector,
	} {
		if destinations[dest] {
			summary.DestinationsConfigured = append(summary.DestinationsConfigured, dest)
		}
	}

	return summary
}

// GetStatus returns a copy of the current status view.
func (o *Orchestrator) GetStatus() *status.PipelineStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.Clone()
}

// RefreshStatus merges a best-effort read of the cache heartbeat into
// the status view. The cache client is short-lived; its failure to open
// is logged and leaves everything but the refresh timestamp unchanged.
func (o *Orchestrator) RefreshStatus(ctx context.Context) *status.PipelineStatus {
	var cache connections.Cache
	if c, err := o.manager.OpenCache(ctx); err != nil {
		o.logger.Warn("cache unavailable for status refresh", zap.Error(err))
	} else {
		cache = c
		defer func() {
			if err := cache.Close(); err != nil {
				o.logger.Warn("cache close failed", zap.Error(err))
			}
		}()
	}

	refreshed := o.aggregator.Refresh(ctx, o.GetStatus(), cache)
	o.setStatus(refreshed)
	return refreshed.Clone()
}

// Resync explicitly retries a single failed source against the engine
// selected during setup. This is the only path by which a failed flow is
// retried.
func (o *Orchestrator) Resync(ctx context.Context, source config.SourceID) (string, error) {
	choice := o.getChoice()
	if choice == engine.ChoiceUnavailable {
		return "", rlerrors.New(rlerrors.ErrorTypeConfig, "no engine selected; run setup first")
	}

	eng, err := o.manager.OpenEngine(ctx, choice)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := eng.Close(ctx); cerr != nil {
			o.logger.Warn("engine close failed", zap.Error(cerr))
		}
	}()

	name, err := o.registry.Resync(ctx, eng, source)
	o.mu.Lock()
	if name != "" {
		o.status.SourcesActive[name] = err == nil
	}
	if err != nil {
		o.status.Errors = append(o.status.Errors, string(source)+": "+err.Error())
	}
	o.mu.Unlock()
	return name, err
}

func (o *Orchestrator) setStatus(st *status.PipelineStatus) {
	o.mu.Lock()
	// Keep errors appended outside the aggregation path (e.g. close
	// failures from an earlier release).
	seen := make(map[string]bool, len(st.Errors))
	for _, e := range st.Errors {
		seen[e] = true
	}
	for _, e := range o.status.Errors {
		if !seen[e] {
			st.Errors = append(st.Errors, e)
		}
	}
	o.status = st
	o.mu.Unlock()
}

func (o *Orchestrator) appendErrors(errs ...string) {
	if len(errs) == 0 {
		return
	}
	o.mu.Lock()
	o.status.Errors = append(o.status.Errors, errs...)
	o.mu.Unlock()
}

func (o *Orchestrator) setChoice(c engine.Choice) {
	o.mu.Lock()
	o.lastChoice = c
	o.mu.Unlock()
}

func (o *Orchestrator) getChoice() engine.Choice {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastChoice
}

func (o *Orchestrator) timer(phase string) *metrics.Timer {
	if !o.cfg.Monitoring {
		return nil
	}
	return metrics.NewTimer(phase)
}

func (o *Orchestrator) stopTimer(t *metrics.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (o *Orchestrator) recordSession(result string) {
	if o.cfg.Monitoring {
		metrics.SessionsTotal.WithLabelValues(result).Inc()
	}
}

func (o *Orchestrator) recordOutcomes(flows *flow.SetupResult, destinations map[string]bool) {
	if !o.cfg.Monitoring {
		return
	}
	for _, source := range o.cfg.Sources {
		var outcome string
		switch o.registry.State(source) {
		case flow.StateStarted:
			outcome = "started"
		case flow.StateConfigured:
			outcome = "configured"
		case flow.StateStartFailed:
			outcome = "start_failed"
		case flow.StateConfigureFailed:
			outcome = "configure_failed"
		default:
			continue
		}
		metrics.FlowOutcomes.WithLabelValues(string(source), outcome).Inc()
	}
	for dest, active := range destinations {
		metrics.SetDestinationActive(dest, active)
	}
}
