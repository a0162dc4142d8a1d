// Package revlake provides a go-to-market data pipeline orchestrator:
// it safely acquires and releases heterogeneous external connections,
// selects an ingestion engine per policy and live health, idempotently
// provisions destination schemas, drives per-source flow setup with
// partial-failure isolation, and aggregates a unified pipeline status.
//
// # Architecture
//
// One orchestrator session is a scoped unit of work:
//
//  1. Connection acquisition: the relational staging pool (mandatory),
//     the cache and warehouse clients (optional), and the engine clients
//     the policy may need. Every handle is released exactly once on
//     every exit path.
//
//  2. Engine selection: a pure decision over the configured policy
//     (PRIMARY, FALLBACK, HYBRID) and the live availability of each
//     engine. An explicitly requested engine being unavailable is fatal;
//     under HYBRID only the loss of both engines is.
//
//  3. Schema provisioning: raw landing zones per source plus shared
//     processed, analytics, and vector zones, all with if-not-exists
//     semantics so re-runs are safe.
//
//  4. Flow setup: one canonical flow per source, configured and started
//     concurrently with per-source failure isolation. No single source
//     can abort the batch.
//
//  5. Status aggregation: flow and destination outcomes, the collected
//     error log, and a best-effort cache heartbeat in one view.
//
// # Quick start
//
//	import (
//	    "context"
//
//	    "github.com/revlake/revlake/pkg/config"
//	    "github.com/revlake/revlake/pkg/logger"
//	    "github.com/revlake/revlake/pkg/orchestrator"
//	)
//
//	cfg := config.NewPipelineConfig()
//	cfg.Policy = config.PolicyHybrid
//	cfg.Sources = []config.SourceID{config.SourceHubSpot, config.SourceGong}
//
//	orch, err := orchestrator.New(cfg, logger.Get())
//	if err != nil {
//	    // invalid configuration
//	}
//
//	summary, err := orch.Setup(context.Background())
//	if err != nil {
//	    // fatal: no usable engine or staging store unreachable
//	}
//	_ = summary // engine used, sources configured, flows created, errors
//
// The same flow is available from the command line:
//
//	revlake setup --config pipeline.yaml --policy HYBRID
//
// # Packages
//
//   - pkg/config: unified PipelineConfig, YAML and environment loading
//   - pkg/connections: connection lifecycle, scoped acquire/release
//   - pkg/engine: engine capability interface, selection, HTTP clients
//   - pkg/provision: destination schemas and transformation routines
//   - pkg/flow: per-source flow registry and lifecycle states
//   - pkg/status: the aggregated PipelineStatus view
//   - pkg/orchestrator: the session tying the above together
package revlake
