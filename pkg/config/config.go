// Package config provides the unified configuration system for Revlake.
// It defines a single PipelineConfig structure consumed by the pipeline
// orchestrator, ensuring consistent configuration across the system.
//
// The configuration is organized into logical sections:
//   - Policy and Sources: which engine to prefer and which source systems to ingest
//   - Destinations: connection parameters for the staging store, cache, and warehouse
//   - Engines: connection parameters for the primary and fallback ingestion engines
//   - Retry: automatic retry behavior for flow operations
//
// Example usage:
//
//	cfg := config.NewPipelineConfig()
//	cfg.Policy = config.PolicyHybrid
//	cfg.Sources = []config.SourceID{config.SourceHubSpot, config.SourceGong}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// EnginePolicy selects which ingestion engine the orchestrator should use.
type EnginePolicy string

const (
	// PolicyPrimary requires the primary engine; its unavailability is fatal
	PolicyPrimary EnginePolicy = "PRIMARY"
	// PolicyFallback requires the fallback engine; its unavailability is fatal
	PolicyFallback EnginePolicy = "FALLBACK"
	// PolicyHybrid prefers the primary engine and falls back when it is unavailable
	PolicyHybrid EnginePolicy = "HYBRID"
)

// SourceID identifies an external source system. The set of valid sources
// is a fixed enumeration.
type SourceID string

const (
	SourceHubSpot    SourceID = "hubspot"
	SourceGong       SourceID = "gong"
	SourceSlack      SourceID = "slack"
	SourceSalesforce SourceID = "salesforce"
	SourceZendesk    SourceID = "zendesk"
)

// AllSources returns the fixed source enumeration in canonical order.
func AllSources() []SourceID {
	return []SourceID{SourceHubSpot, SourceGong, SourceSlack, SourceSalesforce, SourceZendesk}
}

// ParseSource converts a string into a SourceID, rejecting values outside
// the fixed enumeration.
func ParseSource(s string) (SourceID, error) {
	for _, src := range AllSources() {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source system %q", s)
}

// PipelineConfig is the single configuration structure for one orchestrator
// session. It is immutable once constructed; the orchestrator never writes
// back into it.
type PipelineConfig struct {
	// Policy selects the ingestion engine (PRIMARY, FALLBACK, or HYBRID)
	Policy EnginePolicy `yaml:"policy" json:"policy"`
	// Sources is the ordered set of source systems to ingest
	Sources []SourceID `yaml:"sources" json:"sources"`

	// Postgres configures the relational staging store
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	// Cache configures the Redis cache
	Cache CacheConfig `yaml:"cache" json:"cache"`
	// Warehouse configures the analytical warehouse
	Warehouse WarehouseConfig `yaml:"warehouse" json:"warehouse"`
	// Primary configures the primary ingestion engine client
	Primary EngineConfig `yaml:"primary_engine" json:"primary_engine"`
	// Fallback configures the fallback ingestion engine client
	Fallback FallbackEngineConfig `yaml:"fallback_engine" json:"fallback_engine"`

	// Monitoring enables Prometheus metric collection for the session
	Monitoring bool `yaml:"monitoring" json:"monitoring"`
	// Retry controls automatic retry of flow operations
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// PostgresConfig contains connection parameters for the staging store.
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
}

// ConnString returns a pgx-compatible connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode, p.MaxConns)
}

// CacheConfig contains connection parameters for the Redis cache.
type CacheConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// WarehouseConfig contains connection parameters for the analytical warehouse.
type WarehouseConfig struct {
	Account   string `yaml:"account" json:"account"`
	User      string `yaml:"user" json:"user"`
	Password  string `yaml:"password" json:"password"`
	Database  string `yaml:"database" json:"database"`
	Schema    string `yaml:"schema" json:"schema"`
	Warehouse string `yaml:"warehouse" json:"warehouse"`
	Role      string `yaml:"role" json:"role"`
}

// DSN returns a gosnowflake data source name.
// Format: username:password@account/database/schema?warehouse=wh&role=role
func (w WarehouseConfig) DSN() string {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s", w.User, w.Password, w.Account, w.Database, w.Schema)
	sep := "?"
	if w.Warehouse != "" {
		dsn += sep + "warehouse=" + w.Warehouse
		sep = "&"
	}
	if w.Role != "" {
		dsn += sep + "role=" + w.Role
	}
	return dsn
}

// EngineConfig contains connection parameters for the primary engine API.
type EngineConfig struct {
	APIURL   string `yaml:"api_url" json:"api_url"`
	APIToken string `yaml:"api_token" json:"api_token"`
}

// FallbackEngineConfig contains connection parameters for the fallback
// engine API. The API URL/token/tenant field set is the canonical shape
// for this engine.
type FallbackEngineConfig struct {
	APIURL   string `yaml:"api_url" json:"api_url"`
	APIToken string `yaml:"api_token" json:"api_token"`
	Tenant   string `yaml:"tenant" json:"tenant"`
}

// RetryConfig controls automatic retry of flow operations.
type RetryConfig struct {
	// AutoRetry enables retrying failed flow configuration
	AutoRetry bool `yaml:"auto_retry" json:"auto_retry"`
	// MaxRetries caps the number of retry attempts per source
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the delay between attempts
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// NewPipelineConfig creates a PipelineConfig with sensible defaults:
// hybrid engine policy, the full source enumeration, and local
// destination endpoints. Callers override fields as needed.
func NewPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Policy:  PolicyHybrid,
		Sources: AllSources(),
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "revlake",
			User:     "revlake",
			SSLMode:  "prefer",
			MaxConns: 10,
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
		},
		Warehouse: WarehouseConfig{
			Database: "REVLAKE",
			Schema:   "PUBLIC",
		},
		Primary: EngineConfig{
			APIURL: "http://localhost:8000/api/v1",
		},
		Fallback: FallbackEngineConfig{
			APIURL: "http://localhost:8081/api/v1",
		},
		Monitoring: true,
		Retry: RetryConfig{
			AutoRetry:  true,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
	}
}

// Validate validates the configuration for correctness. Orchestrator
// construction calls this to catch errors before any connection opens.
func (c *PipelineConfig) Validate() error {
	switch c.Policy {
	case PolicyPrimary, PolicyFallback, PolicyHybrid:
	default:
		return fmt.Errorf("invalid engine policy %q", c.Policy)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[SourceID]bool, len(c.Sources))
	for _, src := range c.Sources {
		if _, err := ParseSource(string(src)); err != nil {
			return err
		}
		if seen[src] {
			return fmt.Errorf("duplicate source %q", src)
		}
		seen[src] = true
	}
	if c.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if c.Postgres.Port <= 0 {
		return fmt.Errorf("postgres port must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}
