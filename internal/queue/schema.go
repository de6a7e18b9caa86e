package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// Bump schemaVersion whenever schema.sql changes. Databases written by
// another version are refused rather than migrated.
const schemaVersion = 2

// ErrSchemaMismatch reports a database created by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SchemaVersion returns the schema version this build writes.
func SchemaVersion() int { return schemaVersion }

// ensureSchema creates the tables on an empty database and checks the
// recorded version otherwise.
func (s *Store) ensureSchema(ctx context.Context) error {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == nil:
		if version != schemaVersion {
			return fmt.Errorf("%w: %s is at version %d, this build needs %d",
				ErrSchemaMismatch, s.path, version, schemaVersion)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s has an empty schema_version table", ErrSchemaMismatch, s.path)
	case strings.Contains(err.Error(), "no such table"):
		return s.bootstrapSchema(ctx)
	default:
		return fmt.Errorf("read schema version: %w", err)
	}
}

func (s *Store) bootstrapSchema(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema bootstrap: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit schema bootstrap: %w", err)
	}
	return nil
}
