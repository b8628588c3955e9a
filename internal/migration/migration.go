package migration

import (
	"context"
	"log"

	"alphabias/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order. Every step is
// idempotent so Run may be repeated against an up-to-date schema.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createSchemaVersionTable(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to create schema_version table")
	}

	if err := r.createStudiesTable(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to create studies table")
	}

	if err := r.createStudyTrialsTable(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to create study_trials table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to create indexes")
	}

	if err := r.recordVersion(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to record schema version")
	}

	return nil
}

func (r *MigrationRunner) createSchemaVersionTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version VARCHAR(32) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createStudiesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS studies (
			id VARCHAR(64) PRIMARY KEY,
			channel VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			trials INTEGER NOT NULL,
			seed BIGINT NOT NULL,
			convergence_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			bias_mean DOUBLE PRECISION NOT NULL DEFAULT 0,
			pull_mean DOUBLE PRECISION NOT NULL DEFAULT 0,
			pull_width DOUBLE PRECISION NOT NULL DEFAULT 0,
			fingerprint VARCHAR(64) NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createStudyTrialsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS study_trials (
			study_id VARCHAR(64) NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
			trial_index INTEGER NOT NULL,
			generated INTEGER NOT NULL,
			yield DOUBLE PRECISION NOT NULL,
			stderr DOUBLE PRECISION NOT NULL,
			truth_count INTEGER NOT NULL,
			bias DOUBLE PRECISION NOT NULL,
			bias_defined BOOLEAN NOT NULL,
			pull DOUBLE PRECISION NOT NULL,
			pull_defined BOOLEAN NOT NULL,
			fit_status INTEGER NOT NULL,
			converged BOOLEAN NOT NULL,
			aborted BOOLEAN NOT NULL,
			non_finite BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (study_id, trial_index)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_studies_channel ON studies(channel)",
		"CREATE INDEX IF NOT EXISTS idx_studies_status ON studies(status)",
		"CREATE INDEX IF NOT EXISTS idx_studies_created_at ON studies(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_studies_fingerprint ON studies(fingerprint)",
	}

	for _, idxSQL := range indexes {
		if _, err := db.ExecContext(ctx, idxSQL); err != nil {
			// Log but don't fail on index creation errors
			log.Printf("[migration] warning: failed to create index: %v", err)
		}
	}

	return nil
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO schema_version (version) VALUES ($1)
		ON CONFLICT (version) DO NOTHING
	`, r.version)
	return err
}
