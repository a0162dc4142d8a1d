package engine

import (
	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// Select resolves the engine to use for a session from the configured
// policy and the live availability of both clients. It is a pure
// decision function with no side effects; availability is computed by
// the ConnectionManager attempting to open and health-check each client.
//
// Exactly one engine is selected or a fatal configuration error is
// returned; the result is never ChoiceUnavailable alongside a nil error.
func Select(policy config.EnginePolicy, primaryAvailable, fallbackAvailable bool) (Choice, error) {
	switch policy {
	case config.PolicyPrimary:
		if primaryAvailable {
			return ChoicePrimary, nil
		}
		return ChoiceUnavailable, rlerrors.New(rlerrors.ErrorTypeConfig,
			"primary requested but not available")

	case config.PolicyFallback:
		if fallbackAvailable {
			return ChoiceFallback, nil
		}
		return ChoiceUnavailable, rlerrors.New(rlerrors.ErrorTypeConfig,
			"fallback requested but not available")

	case config.PolicyHybrid:
		if primaryAvailable {
			return ChoicePrimary, nil
		}
		if fallbackAvailable {
			return ChoiceFallback, nil
		}
		return ChoiceUnavailable, rlerrors.New(rlerrors.ErrorTypeConfig,
			"no engine available")

	default:
		return ChoiceUnavailable, rlerrors.Newf(rlerrors.ErrorTypeConfig,
			"invalid engine policy %q", policy)
	}
}
