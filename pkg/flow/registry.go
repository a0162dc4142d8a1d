// Package flow creates, starts, and tracks per-source ingestion flows
// against the selected engine.
//
// Per-source isolation is the central failure-handling property of the
// orchestrator: every source is configured and started independently, a
// failure is recorded and the loop moves on, and no single source can
// abort the batch. Sources fan out to one goroutine each; outcomes drain
// through a single result channel into one aggregation loop, so the
// shared bookkeeping has a single writer.
package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/engine"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// State is the lifecycle state of one source's flow within a session.
// A flow never transitions back to Unconfigured; ConfigureFailed and
// StartFailed are terminal for the session and are only retried through
// an explicit Resync call.
type State string

const (
	StateUnconfigured    State = "unconfigured"
	StateConfigured      State = "configured"
	StateStarted         State = "started"
	StateConfigureFailed State = "configure_failed"
	StateStartFailed     State = "start_failed"
)

// SourceError records one source's failure.
type SourceError struct {
	Source  config.SourceID `json:"source"`
	Message string          `json:"message"`
}

// SetupResult aggregates the outcome of one configure-and-start pass.
type SetupResult struct {
	// Configured holds the flow names created, in source order
	Configured []string `json:"configured"`
	// Started holds the flow names successfully started, in source order
	Started []string `json:"started"`
	// Errors holds every per-source failure, in source order
	Errors []SourceError `json:"errors"`
}

// outcome is one source's result, drained by the aggregation loop.
type outcome struct {
	source   config.SourceID
	flowName string
	err      error
}

// Registry configures, starts, and tracks per-source flows.
type Registry struct {
	logger *zap.Logger
	retry  config.RetryConfig

	mu     sync.RWMutex
	states map[config.SourceID]State
	flows  map[config.SourceID]string
}

// NewRegistry creates a flow registry.
func NewRegistry(retry config.RetryConfig, logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.With(zap.String("component", "flow_registry")),
		retry:  retry,
		states: make(map[config.SourceID]State),
		flows:  make(map[config.SourceID]string),
	}
}

// State returns the lifecycle state of a source's flow.
func (r *Registry) State(source config.SourceID) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.states[source]; ok {
		return s
	}
	return StateUnconfigured
}

// FlowName returns the flow name recorded for a configured source.
func (r *Registry) FlowName(source config.SourceID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.flows[source]
	return name, ok
}

func (r *Registry) setState(source config.SourceID, state State) {
	r.mu.Lock()
	r.states[source] = state
	r.mu.Unlock()
}

func (r *Registry) setFlow(source config.SourceID, name string) {
	r.mu.Lock()
	r.flows[source] = name
	r.mu.Unlock()
}

// ConfigureAndStart asks the engine to create the canonical flow for
// every source, then starts every configured flow. Configuration of a
// source happens-before that source's start; there is no ordering
// between different sources. Failures are isolated per source.
func (r *Registry) ConfigureAndStart(ctx context.Context, eng engine.Engine, sources []config.SourceID) *SetupResult {
	result := &SetupResult{}

	configured := r.configureAll(ctx, eng, sources, result)
	r.startAll(ctx, eng, sources, configured, result)

	r.logger.Info("flow setup complete",
		zap.String("engine", eng.Name()),
		zap.Int("configured", len(result.Configured)),
		zap.Int("started", len(result.Started)),
		zap.Int("errors", len(result.Errors)))

	return result
}

// configureAll fans out one configuration attempt per source and drains
// the outcomes. It returns the set of configured sources and appends
// flow names and failures to the result in source order.
func (r *Registry) configureAll(ctx context.Context, eng engine.Engine, sources []config.SourceID, result *SetupResult) map[config.SourceID]bool {
	outcomes := make(chan outcome, len(sources))
	var wg sync.WaitGroup

	for _, source := range sources {
		wg.Add(1)
		go func(src config.SourceID) {
			defer wg.Done()
			name, err := r.configureOne(ctx, eng, src)
			outcomes <- outcome{source: src, flowName: name, err: err}
		}(source)
	}
	wg.Wait()
	close(outcomes)

	names := make(map[config.SourceID]string, len(sources))
	failures := make(map[config.SourceID]error, len(sources))
	for o := range outcomes {
		if o.err != nil {
			failures[o.source] = o.err
			continue
		}
		names[o.source] = o.flowName
	}

	configured := make(map[config.SourceID]bool, len(names))
	for _, source := range sources {
		if err, failed := failures[source]; failed {
			r.setState(source, StateConfigureFailed)
			result.Errors = append(result.Errors, SourceError{
				Source:  source,
				Message: errorMessage(err),
			})
			continue
		}
		name := names[source]
		r.setState(source, StateConfigured)
		r.setFlow(source, name)
		result.Configured = append(result.Configured, name)
		configured[source] = true
	}
	return configured
}

// startAll starts every configured flow. A start failure marks that flow
// inactive without stopping the others.
func (r *Registry) startAll(ctx context.Context, eng engine.Engine, sources []config.SourceID, configured map[config.SourceID]bool, result *SetupResult) {
	outcomes := make(chan outcome, len(configured))
	var wg sync.WaitGroup

	for _, source := range sources {
		if !configured[source] {
			continue
		}
		name, _ := r.FlowName(source)
		wg.Add(1)
		go func(src config.SourceID, flowName string) {
			defer wg.Done()
			err := eng.StartFlow(ctx, flowName)
			outcomes <- outcome{source: src, flowName: flowName, err: err}
		}(source, name)
	}
	wg.Wait()
	close(outcomes)

	failures := make(map[config.SourceID]error, len(configured))
	for o := range outcomes {
		if o.err != nil {
			failures[o.source] = o.err
		}
	}

	for _, source := range sources {
		if !configured[source] {
			continue
		}
		name, _ := r.FlowName(source)
		if err, failed := failures[source]; failed {
			r.setState(source, StateStartFailed)
			r.logger.Warn("flow start failed",
				zap.String("source", string(source)), zap.Error(err))
			result.Errors = append(result.Errors, SourceError{
				Source:  source,
				Message: errorMessage(err),
			})
			continue
		}
		r.setState(source, StateStarted)
		result.Started = append(result.Started, name)
	}
}

// configureOne asks the engine for one source's flow, retrying retryable
// failures when the retry policy allows.
func (r *Registry) configureOne(ctx context.Context, eng engine.Engine, source config.SourceID) (string, error) {
	attempts := 1
	if r.retry.AutoRetry && r.retry.MaxRetries > 0 {
		attempts += r.retry.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.retryDelay()):
			}
		}

		name, err := eng.ConfigureFlow(ctx, source)
		if err == nil {
			return name, nil
		}
		lastErr = err
		if !rlerrors.IsRetryable(err) {
			break
		}
		r.logger.Warn("flow configuration retrying",
			zap.String("source", string(source)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", lastErr
}

func (r *Registry) retryDelay() time.Duration {
	if r.retry.RetryDelay > 0 {
		return r.retry.RetryDelay
	}
	return time.Second
}

// Resync explicitly retries a single source: it re-configures the flow
// if the source never reached Configured, then starts it. This is the
// only path by which a failed flow is retried.
func (r *Registry) Resync(ctx context.Context, eng engine.Engine, source config.SourceID) (string, error) {
	name, ok := r.FlowName(source)
	if !ok {
		created, err := r.configureOne(ctx, eng, source)
		if err != nil {
			r.setState(source, StateConfigureFailed)
			return "", err
		}
		name = created
		r.setFlow(source, name)
		r.setState(source, StateConfigured)
	}

	if err := eng.StartFlow(ctx, name); err != nil {
		r.setState(source, StateStartFailed)
		return name, err
	}
	r.setState(source, StateStarted)
	r.logger.Info("flow resynced",
		zap.String("source", string(source)), zap.String("flow", name))
	return name, nil
}

// errorMessage prefers the plain message of a structured error without a
// cause so that per-source error entries stay readable in status output.
func errorMessage(err error) string {
	var rle *rlerrors.Error
	if errors.As(err, &rle) && rle.Cause == nil {
		return rle.Message
	}
	return err.Error()
}
