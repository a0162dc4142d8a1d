package connections

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/engine"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// closeRecorder counts closes and records their order.
type closeRecorder struct {
	order *[]string
}

func (c *closeRecorder) closed(name string) {
	*c.order = append(*c.order, name)
}

type fakePostgres struct {
	rec        *closeRecorder
	closeCount int
}

func (f *fakePostgres) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (f *fakePostgres) Ping(ctx context.Context) error { return nil }
func (f *fakePostgres) Close() {
	f.closeCount++
	f.rec.closed("postgres")
}

type fakeSessionCache struct {
	rec        *closeRecorder
	closeCount int
	closeErr   error
	sets       map[string]string
	ttls       map[string]time.Duration
}

func (f *fakeSessionCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.sets == nil {
		f.sets = map[string]string{}
		f.ttls = map[string]time.Duration{}
	}
	f.sets[key] = value
	f.ttls[key] = ttl
	return nil
}
func (f *fakeSessionCache) Get(ctx context.Context, key string) (string, error) {
	return f.sets[key], nil
}
func (f *fakeSessionCache) Close() error {
	f.closeCount++
	f.rec.closed("cache")
	return f.closeErr
}

type fakeWarehouse struct {
	rec        *closeRecorder
	closeCount int
}

func (f *fakeWarehouse) PingContext(ctx context.Context) error { return nil }
func (f *fakeWarehouse) Close() error {
	f.closeCount++
	f.rec.closed("warehouse")
	return nil
}

type fakeEngineClient struct {
	name       string
	rec        *closeRecorder
	closeCount int
}

func (f *fakeEngineClient) Name() string { return f.name }
func (f *fakeEngineClient) ConfigureFlow(ctx context.Context, source config.SourceID) (string, error) {
	return engine.FlowName(source), nil
}
func (f *fakeEngineClient) StartFlow(ctx context.Context, flowName string) error { return nil }
func (f *fakeEngineClient) HealthCheck(ctx context.Context) error                { return nil }
func (f *fakeEngineClient) Close(ctx context.Context) error {
	f.closeCount++
	f.rec.closed(f.name)
	return nil
}

// testFixture wires a Manager whose openers return the fakes.
type testFixture struct {
	manager   *Manager
	order     []string
	postgres  *fakePostgres
	cache     *fakeSessionCache
	warehouse *fakeWarehouse
	primary   *fakeEngineClient
	fallback  *fakeEngineClient
}

func newFixture(policy config.EnginePolicy) *testFixture {
	cfg := config.NewPipelineConfig()
	cfg.Policy = policy

	f := &testFixture{manager: NewManager(cfg, zap.NewNop())}
	rec := &closeRecorder{order: &f.order}
	f.postgres = &fakePostgres{rec: rec}
	f.cache = &fakeSessionCache{rec: rec}
	f.warehouse = &fakeWarehouse{rec: rec}
	f.primary = &fakeEngineClient{name: "primary", rec: rec}
	f.fallback = &fakeEngineClient{name: "fallback", rec: rec}

	f.manager.PostgresOpener = func(ctx context.Context) (Relational, error) { return f.postgres, nil }
	f.manager.CacheOpener = func(ctx context.Context) (Cache, error) { return f.cache, nil }
	f.manager.WarehouseOpener = func(ctx context.Context) (Warehouse, error) { return f.warehouse, nil }
	f.manager.PrimaryOpener = func(ctx context.Context) (engine.Engine, error) { return f.primary, nil }
	f.manager.FallbackOpener = func(ctx context.Context) (engine.Engine, error) { return f.fallback, nil }
	return f
}

func TestAcquire(t *testing.T) {
	t.Run("opens everything under hybrid policy", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)

		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, set.Postgres)
		assert.NotNil(t, set.Cache)
		assert.NotNil(t, set.Warehouse)
		assert.True(t, set.PrimaryAvailable)
		assert.True(t, set.FallbackAvailable)
		assert.Empty(t, set.Errors)
	})

	t.Run("writes the session heartbeat", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)

		_, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, HeartbeatValue, f.cache.sets[HeartbeatKey])
		assert.Equal(t, HeartbeatTTL, f.cache.ttls[HeartbeatKey])
	})

	t.Run("postgres failure is fatal", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		f.manager.PostgresOpener = func(ctx context.Context) (Relational, error) {
			return nil, rlerrors.New(rlerrors.ErrorTypeConnection, "refused")
		}

		set, err := f.manager.Acquire(context.Background())
		require.Error(t, err)
		assert.Nil(t, set)
		assert.True(t, rlerrors.IsType(err, rlerrors.ErrorTypeConnection))
	})

	t.Run("cache and warehouse failures are soft", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		f.manager.CacheOpener = func(ctx context.Context) (Cache, error) {
			return nil, rlerrors.New(rlerrors.ErrorTypeConnection, "redis down")
		}
		f.manager.WarehouseOpener = func(ctx context.Context) (Warehouse, error) {
			return nil, rlerrors.New(rlerrors.ErrorTypeConnection, "snowflake down")
		}

		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)
		assert.Nil(t, set.Cache)
		assert.Nil(t, set.Warehouse)
		require.Len(t, set.Errors, 2)
		assert.Contains(t, set.Errors[0], "cache:")
		assert.Contains(t, set.Errors[1], "warehouse:")
	})

	t.Run("engine failure surfaces as unavailability", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		f.manager.PrimaryOpener = func(ctx context.Context) (engine.Engine, error) {
			return nil, rlerrors.New(rlerrors.ErrorTypeHealth, "probe failed")
		}

		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)
		assert.False(t, set.PrimaryAvailable)
		assert.True(t, set.FallbackAvailable)
		require.Len(t, set.Errors, 1)
		assert.Contains(t, set.Errors[0], "primary engine:")
	})

	t.Run("primary policy never opens the fallback", func(t *testing.T) {
		f := newFixture(config.PolicyPrimary)
		opened := false
		f.manager.FallbackOpener = func(ctx context.Context) (engine.Engine, error) {
			opened = true
			return f.fallback, nil
		}

		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)
		assert.True(t, set.PrimaryAvailable)
		assert.False(t, set.FallbackAvailable)
		assert.False(t, opened)
	})

	t.Run("fallback policy never opens the primary", func(t *testing.T) {
		f := newFixture(config.PolicyFallback)
		opened := false
		f.manager.PrimaryOpener = func(ctx context.Context) (engine.Engine, error) {
			opened = true
			return f.primary, nil
		}

		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)
		assert.True(t, set.FallbackAvailable)
		assert.False(t, opened)
	})
}

func TestRelease(t *testing.T) {
	t.Run("closes every handle exactly once in reverse order", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)

		failures := f.manager.Release(context.Background(), set)
		assert.Empty(t, failures)

		assert.Equal(t, 1, f.postgres.closeCount)
		assert.Equal(t, 1, f.cache.closeCount)
		assert.Equal(t, 1, f.warehouse.closeCount)
		assert.Equal(t, 1, f.primary.closeCount)
		assert.Equal(t, 1, f.fallback.closeCount)
		assert.Equal(t, []string{"fallback", "primary", "warehouse", "cache", "postgres"}, f.order)
	})

	t.Run("second release is a no-op", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)

		f.manager.Release(context.Background(), set)
		f.manager.Release(context.Background(), set)

		assert.Equal(t, 1, f.postgres.closeCount)
		assert.Equal(t, 1, f.cache.closeCount)
	})

	t.Run("a close failure does not skip the remaining handles", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		f.cache.closeErr = rlerrors.New(rlerrors.ErrorTypeConnection, "already gone")
		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)

		failures := f.manager.Release(context.Background(), set)
		require.Len(t, failures, 1)
		assert.Contains(t, failures[0], "cache close:")
		assert.Equal(t, 1, f.postgres.closeCount, "postgres closes after the cache failure")
	})

	t.Run("skips handles that never opened", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		f.manager.WarehouseOpener = func(ctx context.Context) (Warehouse, error) {
			return nil, rlerrors.New(rlerrors.ErrorTypeConnection, "down")
		}
		set, err := f.manager.Acquire(context.Background())
		require.NoError(t, err)

		f.manager.Release(context.Background(), set)
		assert.Equal(t, 0, f.warehouse.closeCount)
		assert.Equal(t, 1, f.postgres.closeCount)
	})

	t.Run("nil set is tolerated", func(t *testing.T) {
		f := newFixture(config.PolicyHybrid)
		assert.Nil(t, f.manager.Release(context.Background(), nil))
	})
}

func TestSetEngine(t *testing.T) {
	f := newFixture(config.PolicyHybrid)
	set, err := f.manager.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "primary", set.Engine(engine.ChoicePrimary).Name())
	assert.Equal(t, "fallback", set.Engine(engine.ChoiceFallback).Name())
	assert.Nil(t, set.Engine(engine.ChoiceUnavailable))
}

func TestOpenEngine(t *testing.T) {
	f := newFixture(config.PolicyHybrid)

	eng, err := f.manager.OpenEngine(context.Background(), engine.ChoicePrimary)
	require.NoError(t, err)
	assert.Equal(t, "primary", eng.Name())

	eng, err = f.manager.OpenEngine(context.Background(), engine.ChoiceFallback)
	require.NoError(t, err)
	assert.Equal(t, "fallback", eng.Name())

	_, err = f.manager.OpenEngine(context.Background(), engine.ChoiceUnavailable)
	require.Error(t, err)
	assert.True(t, rlerrors.IsFatal(err))
}
