// Package connections owns every external connection handle used by one
// orchestrator session: the relational staging pool, the cache client,
// the warehouse client, and the engine clients.
//
// Ownership is exclusive: handles are opened by Acquire, live in the
// returned Set, and are closed exactly once by Release. No other
// component opens or closes them. Release is idempotent and total — it
// attempts every opened handle even if an earlier close fails, collects
// close failures, and never propagates them.
package connections

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/engine"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// Heartbeat key written to the cache on acquisition, best effort.
const (
	HeartbeatKey   = "pipeline:status"
	HeartbeatValue = "active"
	HeartbeatTTL   = 3600 * time.Second
)

// Relational is the staging-store surface the provisioner and registrar
// need. *pgxpool.Pool satisfies it.
type Relational interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Cache is the cache-client surface used for the session heartbeat.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Close() error
}

// Warehouse is the warehouse-client surface. *sql.DB satisfies it.
type Warehouse interface {
	PingContext(ctx context.Context) error
	Close() error
}

// Set holds every handle acquired for one session, plus the live
// availability of the engine clients. Handles that failed to open are
// nil; their failures are in Errors.
type Set struct {
	Postgres  Relational
	Cache     Cache
	Warehouse Warehouse
	Primary   engine.Engine
	Fallback  engine.Engine

	PrimaryAvailable  bool
	FallbackAvailable bool

	// Errors collects soft acquisition failures (cache, warehouse,
	// engine probes); they never abort acquisition.
	Errors []string

	closers  []namedCloser
	released atomic.Bool
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

// Engine returns the client for a selection outcome, or nil for
// ChoiceUnavailable.
func (s *Set) Engine(choice engine.Choice) engine.Engine {
	switch choice {
	case engine.ChoicePrimary:
		return s.Primary
	case engine.ChoiceFallback:
		return s.Fallback
	default:
		return nil
	}
}

// Manager opens and closes the session's external connections.
// The opener hooks default to the real clients; tests swap them for fakes.
type Manager struct {
	cfg    *config.PipelineConfig
	logger *zap.Logger

	PostgresOpener  func(ctx context.Context) (Relational, error)
	CacheOpener     func(ctx context.Context) (Cache, error)
	WarehouseOpener func(ctx context.Context) (Warehouse, error)
	PrimaryOpener   func(ctx context.Context) (engine.Engine, error)
	FallbackOpener  func(ctx context.Context) (engine.Engine, error)
}

// NewManager creates a connection manager for one pipeline configuration.
func NewManager(cfg *config.PipelineConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "connection_manager")),
	}

	m.PostgresOpener = func(ctx context.Context) (Relational, error) {
		pool, err := pgxpool.New(ctx, cfg.Postgres.ConnString())
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}

	m.CacheOpener = func(ctx context.Context) (Cache, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &redisCache{client: client}, nil
	}

	m.WarehouseOpener = func(ctx context.Context) (Warehouse, error) {
		db, err := sql.Open("snowflake", cfg.Warehouse.DSN())
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
		return db, nil
	}

	m.PrimaryOpener = func(ctx context.Context) (engine.Engine, error) {
		return engine.NewPrimaryClient(ctx, cfg.Primary, logger)
	}

	m.FallbackOpener = func(ctx context.Context) (engine.Engine, error) {
		return engine.NewFallbackClient(ctx, cfg.Fallback, logger)
	}

	return m
}

// Acquire opens, in order, the relational pool, cache client, warehouse
// client, and whichever engine clients the configured policy may need.
//
// The relational pool is mandatory — the staging store is the primary
// destination of every flow — so its failure aborts acquisition. Cache
// and warehouse failures are soft: logged, collected into Set.Errors,
// and the corresponding handle left nil. Engine initialization failures
// are caught locally and surface only as availability=false.
func (m *Manager) Acquire(ctx context.Context) (*Set, error) {
	set := &Set{}

	pg, err := m.PostgresOpener(ctx)
	if err != nil {
		return nil, rlerrors.Wrap(err, rlerrors.ErrorTypeConnection,
			"failed to open relational staging pool")
	}
	set.Postgres = pg
	set.closers = append(set.closers, namedCloser{"postgres", func(context.Context) error {
		pg.Close()
		return nil
	}})
	m.logger.Info("resource opened", zap.String("resource", "postgres"))

	if cache, err := m.CacheOpener(ctx); err != nil {
		m.logger.Warn("cache unavailable", zap.Error(err))
		set.Errors = append(set.Errors, "cache: "+err.Error())
	} else {
		set.Cache = cache
		set.closers = append(set.closers, namedCloser{"cache", func(context.Context) error {
			return cache.Close()
		}})
		m.logger.Info("resource opened", zap.String("resource", "cache"))

		if err := cache.Set(ctx, HeartbeatKey, HeartbeatValue, HeartbeatTTL); err != nil {
			m.logger.Warn("heartbeat write failed", zap.Error(err))
		}
	}

	if wh, err := m.WarehouseOpener(ctx); err != nil {
		m.logger.Warn("warehouse unavailable", zap.Error(err))
		set.Errors = append(set.Errors, "warehouse: "+err.Error())
	} else {
		set.Warehouse = wh
		set.closers = append(set.closers, namedCloser{"warehouse", func(context.Context) error {
			return wh.Close()
		}})
		m.logger.Info("resource opened", zap.String("resource", "warehouse"))
	}

	m.acquireEngines(ctx, set)

	return set, nil
}

// acquireEngines opens the engine clients the policy may need. Each
// attempt is independent; an engine that fails initialization or its
// health probe is simply "not available".
func (m *Manager) acquireEngines(ctx context.Context, set *Set) {
	needPrimary := m.cfg.Policy == config.PolicyPrimary || m.cfg.Policy == config.PolicyHybrid
	needFallback := m.cfg.Policy == config.PolicyFallback || m.cfg.Policy == config.PolicyHybrid

	if needPrimary {
		if eng, err := m.PrimaryOpener(ctx); err != nil {
			m.logger.Warn("primary engine unavailable", zap.Error(err))
			set.Errors = append(set.Errors, "primary engine: "+err.Error())
		} else {
			set.Primary = eng
			set.PrimaryAvailable = true
			set.closers = append(set.closers, namedCloser{"primary engine", eng.Close})
			m.logger.Info("resource opened", zap.String("resource", "primary engine"))
		}
	}

	if needFallback {
		if eng, err := m.FallbackOpener(ctx); err != nil {
			m.logger.Warn("fallback engine unavailable", zap.Error(err))
			set.Errors = append(set.Errors, "fallback engine: "+err.Error())
		} else {
			set.Fallback = eng
			set.FallbackAvailable = true
			set.closers = append(set.closers, namedCloser{"fallback engine", eng.Close})
			m.logger.Info("resource opened", zap.String("resource", "fallback engine"))
		}
	}
}

// Release closes every handle the Set successfully opened, in reverse
// acquisition order. It attempts every resource even when earlier closes
// fail, collects (never raises) individual close failures, and is
// idempotent: a second call is a no-op.
func (m *Manager) Release(ctx context.Context, set *Set) []string {
	if set == nil || !set.released.CompareAndSwap(false, true) {
		return nil
	}

	var failures []string
	for i := len(set.closers) - 1; i >= 0; i-- {
		c := set.closers[i]
		if err := c.close(ctx); err != nil {
			m.logger.Warn("resource close failed",
				zap.String("resource", c.name), zap.Error(err))
			failures = append(failures, c.name+" close: "+err.Error())
			continue
		}
		m.logger.Info("resource closed", zap.String("resource", c.name))
	}
	return failures
}

// OpenCache opens a short-lived cache client outside any Set, used by
// status refresh after the session's handles are released.
func (m *Manager) OpenCache(ctx context.Context) (Cache, error) {
	return m.CacheOpener(ctx)
}

// OpenEngine opens a fresh engine client for a selection outcome, used
// by resync after the session's handles are released. The caller owns
// the returned client and must close it.
func (m *Manager) OpenEngine(ctx context.Context, choice engine.Choice) (engine.Engine, error) {
	switch choice {
	case engine.ChoicePrimary:
		return m.PrimaryOpener(ctx)
	case engine.ChoiceFallback:
		return m.FallbackOpener(ctx)
	default:
		return nil, rlerrors.New(rlerrors.ErrorTypeConfig, "no engine available")
	}
}

// redisCache adapts go-redis to the Cache surface.
type redisCache struct {
	client *redis.Client
}

func (r *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
