// Package engine defines the ingestion engine contract and the clients
// for the primary and fallback engines.
//
// An engine is an ingestion backend capable of creating and starting
// flows. The orchestrator consumes engines as opaque clients: it never
// sees their internal sync protocols, only the capability surface below.
// Engine selection is expressed as a closed variant set (Choice) rather
// than nil-checks on client references, so selection logic is a total,
// exhaustive match.
package engine

import (
	"context"
	"fmt"

	"github.com/revlake/revlake/pkg/config"
)

// PrimaryDestination is the storage tier every canonical flow lands in.
const PrimaryDestination = "relational"

// Engine is the capability interface both ingestion engine clients
// implement. A client that fails initialization or its health probe is
// never handed to the orchestrator; availability is decided at
// connection-acquisition time.
type Engine interface {
	// Name returns the engine identifier ("primary" or "fallback")
	Name() string
	// ConfigureFlow asks the engine to create the canonical flow for a
	// source and returns the flow name
	ConfigureFlow(ctx context.Context, source config.SourceID) (string, error)
	// StartFlow starts a previously configured flow by name
	StartFlow(ctx context.Context, flowName string) error
	// HealthCheck probes the engine's health endpoint
	HealthCheck(ctx context.Context) error
	// Close releases the engine client's resources
	Close(ctx context.Context) error
}

// FlowName derives the canonical flow name for a source. Flow names are
// deterministic so that status keys never collide within a session.
func FlowName(source config.SourceID) string {
	return fmt.Sprintf("%s-to-%s", source, PrimaryDestination)
}

// Choice is the closed variant set of engine selection outcomes.
type Choice int

const (
	// ChoiceUnavailable means no engine was selected
	ChoiceUnavailable Choice = iota
	// ChoicePrimary selects the primary engine
	ChoicePrimary
	// ChoiceFallback selects the fallback engine
	ChoiceFallback
)

// String returns the engine name for the choice.
func (c Choice) String() string {
	switch c {
	case ChoicePrimary:
		return "primary"
	case ChoiceFallback:
		return "fallback"
	default:
		return "unavailable"
	}
}
