package provision

import (
	"context"

	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/connections"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// Registrar installs the derived-field transformation routines in the
// staging store. The routines trigger on row mutation of the unified
// entity table. Registration failures are logged and reported to the
// caller as recoverable errors; they never abort setup.
type Registrar struct {
	logger *zap.Logger
}

// NewRegistrar creates a transformation registrar.
func NewRegistrar(logger *zap.Logger) *Registrar {
	return &Registrar{
		logger: logger.With(zap.String("component", "transformation_registrar")),
	}
}

// Install installs the transformation routines and their triggers. Each
// statement is attempted independently; the returned slice carries every
// failure.
func (r *Registrar) Install(ctx context.Context, db connections.Relational) []error {
	var errs []error
	for _, stmt := range transformStatements() {
		if _, err := db.Exec(ctx, stmt.sql); err != nil {
			wrapped := rlerrors.Wrap(err, rlerrors.ErrorTypeQuery,
				"failed to install transformation "+stmt.name)
			r.logger.Warn("transformation install failed",
				zap.String("transformation", stmt.name), zap.Error(err))
			errs = append(errs, wrapped)
			continue
		}
		r.logger.Info("transformation installed", zap.String("transformation", stmt.name))
	}
	return errs
}

// transformStatements returns the fixed routine set: a concatenated
// display name and a duration normalizer, each attached to row mutation
// of processed.entities. Trigger recreation uses drop-then-create since
// CREATE TRIGGER has no IF NOT EXISTS form on older Postgres.
func transformStatements() []statement {
	return []statement{
		{
			name: "compute_display_name",
			sql: `CREATE OR REPLACE FUNCTION processed.compute_display_name()
RETURNS trigger AS $$
BEGIN
	NEW.display_name := NULLIF(TRIM(BOTH FROM
		COALESCE(NEW.first_name, '') || ' ' || COALESCE(NEW.last_name, '')), '');
	IF NEW.display_name IS NULL THEN
		NEW.display_name := NEW.email;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
		},
		{
			name: "normalize_duration",
			sql: `CREATE OR REPLACE FUNCTION processed.normalize_duration()
RETURNS trigger AS $$
BEGIN
	IF NEW.duration_seconds IS NOT NULL AND NEW.duration_seconds < 0 THEN
		NEW.duration_seconds := NULL;
	END IF;
	-- values over a year are assumed to be milliseconds
	IF NEW.duration_seconds IS NOT NULL AND NEW.duration_seconds > 31536000 THEN
		NEW.duration_seconds := NEW.duration_seconds / 1000;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
		},
		{
			name: "trg_entities_display_name (drop)",
			sql:  `DROP TRIGGER IF EXISTS trg_entities_display_name ON processed.entities`,
		},
		{
			name: "trg_entities_display_name",
			sql: `CREATE TRIGGER trg_entities_display_name
BEFORE INSERT OR UPDATE ON processed.entities
FOR EACH ROW EXECUTE FUNCTION processed.compute_display_name()`,
		},
		{
			name: "trg_entities_duration (drop)",
			sql:  `DROP TRIGGER IF EXISTS trg_entities_duration ON processed.entities`,
		},
		{
			name: "trg_entities_duration",
			sql: `CREATE TRIGGER trg_entities_duration
BEFORE INSERT OR UPDATE ON processed.entities
FOR EACH ROW EXECUTE FUNCTION processed.normalize_duration()`,
		},
	}
}
