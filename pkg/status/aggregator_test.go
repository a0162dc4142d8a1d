package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/connections"
	"github.com/revlake/revlake/pkg/engine"
	"github.com/revlake/revlake/pkg/flow"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// fakeCache scripts heartbeat reads.
type fakeCache struct {
	value string
	err   error
}

func (f *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	return f.value, f.err
}
func (f *fakeCache) Close() error { return nil }

func TestBuild(t *testing.T) {
	agg := NewAggregator(zap.NewNop())

	t.Run("maps flow outcomes into sources active", func(t *testing.T) {
		st := agg.Build(engine.ChoicePrimary, &flow.SetupResult{
			Configured: []string{"hubspot-to-relational", "gong-to-relational"},
			Started:    []string{"hubspot-to-relational"},
			Errors: []flow.SourceError{
				{Source: "gong", Message: "start rejected"},
			},
		}, map[string]bool{
			DestinationRelational: true,
			DestinationCache:      true,
			DestinationWarehouse:  false,
			DestinationVector:     true,
		}, []string{"warehouse: ping timeout"})

		assert.Equal(t, "primary", st.Engine)
		assert.Equal(t, map[string]bool{
			"hubspot-to-relational": true,
			"gong-to-relational":    false,
		}, st.SourcesActive)
		assert.Equal(t, map[string]bool{
			DestinationRelational: true,
			DestinationCache:      true,
			DestinationWarehouse:  false,
			DestinationVector:     true,
		}, st.DestinationsActive)
		assert.Equal(t, []string{"warehouse: ping timeout", "gong: start rejected"}, st.Errors)
		require.NotNil(t, st.LastSync)
		assert.WithinDuration(t, time.Now().UTC(), *st.LastSync, time.Minute)
		assert.Equal(t, 2, st.Metrics["flows_configured"])
		assert.Equal(t, 1, st.Metrics["flows_started"])
		assert.Equal(t, 2, st.Metrics["error_count"])
	})

	t.Run("empty session", func(t *testing.T) {
		st := agg.Build(engine.ChoiceFallback, &flow.SetupResult{}, nil, nil)
		assert.Equal(t, "fallback", st.Engine)
		assert.Empty(t, st.SourcesActive)
		assert.Empty(t, st.Errors)
	})
}

func TestRefresh(t *testing.T) {
	agg := NewAggregator(zap.NewNop())

	base := New()
	base.Engine = "primary"
	base.SourcesActive["hubspot-to-relational"] = true

	t.Run("merges heartbeat into metrics", func(t *testing.T) {
		out := agg.Refresh(context.Background(), base, &fakeCache{value: "active"})
		assert.Equal(t, "active", out.Metrics["heartbeat"])
		assert.NotNil(t, out.LastSync)
		// input is not mutated
		assert.NotContains(t, base.Metrics, "heartbeat")
	})

	t.Run("cache read failure changes nothing but the timestamp", func(t *testing.T) {
		out := agg.Refresh(context.Background(), base, &fakeCache{
			err: rlerrors.New(rlerrors.ErrorTypeConnection, "refused"),
		})
		assert.NotContains(t, out.Metrics, "heartbeat")
		assert.Equal(t, "primary", out.Engine)
		assert.NotNil(t, out.LastSync)
	})

	t.Run("nil cache is tolerated", func(t *testing.T) {
		out := agg.Refresh(context.Background(), base, nil)
		assert.NotContains(t, out.Metrics, "heartbeat")
	})
}

func TestClone(t *testing.T) {
	now := time.Now().UTC()
	st := New()
	st.Engine = "primary"
	st.SourcesActive["hubspot-to-relational"] = true
	st.DestinationsActive[DestinationCache] = true
	st.Errors = append(st.Errors, "cache: refused")
	st.Metrics["flows_started"] = 1
	st.LastSync = &now

	clone := st.Clone()
	require.Equal(t, st, clone)

	// mutating the clone leaves the original untouched
	clone.SourcesActive["gong-to-relational"] = false
	clone.Errors = append(clone.Errors, "another")
	*clone.LastSync = clone.LastSync.Add(time.Hour)

	assert.NotContains(t, st.SourcesActive, "gong-to-relational")
	assert.Len(t, st.Errors, 1)
	assert.Equal(t, now, *st.LastSync)
}

// compile-time check that the fake matches the cache surface
var _ connections.Cache = (*fakeCache)(nil)
