// Package provision creates Revlake's destination schemas, core tables,
// and derived-field transformation routines in the relational staging
// store.
//
// All DDL uses create-if-not-exists semantics, so provisioning is safe
// to re-invoke. Each statement is attempted independently: one failed
// table never aborts the pass, because each DDL statement is
// independently atomic at the destination.
package provision

import (
	"fmt"

	"context"

	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/connections"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// Zone names for the non-raw destination schemas.
const (
	ZoneProcessed = "processed"
	ZoneAnalytics = "analytics"
	ZoneVectors   = "vectors"
)

// RawZone returns the raw landing-zone schema name for a source.
func RawZone(source config.SourceID) string {
	return "raw_" + string(source)
}

// statement is one named DDL unit.
type statement struct {
	name string
	sql  string
}

// Provisioner idempotently creates destination schemas and core tables.
type Provisioner struct {
	logger *zap.Logger
}

// NewProvisioner creates a schema provisioner.
func NewProvisioner(logger *zap.Logger) *Provisioner {
	return &Provisioner{
		logger: logger.With(zap.String("component", "schema_provisioner")),
	}
}

// Provision ensures every destination schema and core table exists.
// It returns the names of the schemas ensured to exist and the list of
// statement failures; failures are logged and never abort the pass.
func (p *Provisioner) Provision(ctx context.Context, db connections.Relational) ([]string, []error) {
	var (
		schemas []string
		errs    []error
	)

	for _, schema := range p.schemaStatements() {
		if _, err := db.Exec(ctx, schema.sql); err != nil {
			wrapped := rlerrors.Wrap(err, rlerrors.ErrorTypeQuery,
				"failed to create schema "+schema.name)
			p.logger.Warn("schema creation failed",
				zap.String("schema", schema.name), zap.Error(err))
			errs = append(errs, wrapped)
			continue
		}
		schemas = append(schemas, schema.name)
		p.logger.Info("schema ensured", zap.String("schema", schema.name))
	}

	for _, table := range p.tableStatements() {
		if _, err := db.Exec(ctx, table.sql); err != nil {
			wrapped := rlerrors.Wrap(err, rlerrors.ErrorTypeQuery,
				"failed to create table "+table.name)
			p.logger.Warn("table creation failed",
				zap.String("table", table.name), zap.Error(err))
			errs = append(errs, wrapped)
			continue
		}
		p.logger.Info("table ensured", zap.String("table", table.name))
	}

	return schemas, errs
}

// schemaStatements returns the fixed destination schema set: one raw
// landing zone per source, a processed/unified zone, an analytics zone,
// and a vector-embedding zone.
func (p *Provisioner) schemaStatements() []statement {
	var stmts []statement
	for _, source := range config.AllSources() {
		zone := RawZone(source)
		stmts = append(stmts, statement{
			name: zone,
			sql:  fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", zone),
		})
	}
	for _, zone := range []string{ZoneProcessed, ZoneAnalytics, ZoneVectors} {
		stmts = append(stmts, statement{
			name: zone,
			sql:  fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", zone),
		})
	}
	return stmts
}

// tableStatements returns the fixed core table set: a raw per-source
// records table carrying the structured field subset plus an opaque
// payload column, the unified cross-source entity table, the sync-run
// ledger, and the embedding table.
func (p *Provisioner) tableStatements() []statement {
	var stmts []statement

	for _, source := range config.AllSources() {
		zone := RawZone(source)
		stmts = append(stmts, statement{
			name: zone + ".records",
			sql: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.records (
				id           BIGSERIAL PRIMARY KEY,
				source_id    TEXT NOT NULL,
				record_type  TEXT,
				created_at   TIMESTAMPTZ,
				updated_at   TIMESTAMPTZ,
				payload      JSONB NOT NULL,
				ingested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, zone),
		})
	}

	stmts = append(stmts,
		statement{
			name: ZoneProcessed + ".entities",
			sql: `CREATE TABLE IF NOT EXISTS processed.entities (
				source_system    TEXT NOT NULL,
				source_id        TEXT NOT NULL,
				entity_type      TEXT,
				first_name       TEXT,
				last_name        TEXT,
				email            TEXT,
				display_name     TEXT,
				duration_seconds INTEGER,
				attributes       JSONB,
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (source_system, source_id)
			)`,
		},
		statement{
			name: ZoneAnalytics + ".sync_runs",
			sql: `CREATE TABLE IF NOT EXISTS analytics.sync_runs (
				id           BIGSERIAL PRIMARY KEY,
				session_id   TEXT NOT NULL,
				engine       TEXT NOT NULL,
				flow         TEXT NOT NULL,
				status       TEXT NOT NULL,
				started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
				completed_at TIMESTAMPTZ
			)`,
		},
		statement{
			name: ZoneVectors + ".embeddings",
			sql: `CREATE TABLE IF NOT EXISTS vectors.embeddings (
				id            BIGSERIAL PRIMARY KEY,
				source_system TEXT NOT NULL,
				source_id     TEXT NOT NULL,
				model         TEXT NOT NULL,
				embedding     DOUBLE PRECISION[] NOT NULL,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (source_system, source_id, model)
			)`,
		},
	)

	return stmts
}
