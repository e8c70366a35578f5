package journal

import (
	"database/sql"
	"fmt"

	"codeberg.org/mutker/rlectl/internal/errors"
	"codeberg.org/mutker/rlectl/internal/logger"
)

// ValidateAndMigrateSchema brings an existing database up to the
// current schema version by appending columns only. A database written
// by a newer schema, or one whose existing columns disagree with the
// registry, is a schema violation surfaced to the caller; the journal
// never rebuilds or rewrites released columns.
func ValidateAndMigrateSchema(db *sql.DB) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	logger.Debug().
		Int("version", version).
		Bool("init_db", version == 0).
		Msg("Current journal schema version")

	if version == 0 {
		return InitSchema(db)
	}

	if version > SchemaVersion {
		return errFactory.WithData(ErrSchemaViolation, struct {
			Found    int
			Expected int
		}{
			Found:    version,
			Expected: SchemaVersion,
		})
	}

	if err := validateColumns(db, version); err != nil {
		return err
	}

	if version < SchemaVersion {
		return appendColumns(db, version)
	}

	logger.Debug().
		Int("version", version).
		Msg("Journal schema is current")

	return nil
}

// validateColumns checks that the prefix of the records table matches
// the registry for the recorded version exactly, in order
func validateColumns(db *sql.DB, version int) error {
	errFactory := errors.New()

	have, err := tableColumns(db, "records")
	if err != nil {
		return err
	}

	want := Columns(version)
	if len(have) < len(want) {
		return errFactory.WithData(ErrSchemaViolation, struct {
			Phase    string
			Found    int
			Expected int
		}{
			Phase:    "column_count",
			Found:    len(have),
			Expected: len(want),
		})
	}
	for i, col := range want {
		if have[i] != col.Name {
			return errFactory.WithData(ErrSchemaViolation, struct {
				Phase    string
				Position int
				Found    string
				Expected string
			}{
				Phase:    "column_order",
				Position: i,
				Found:    have[i],
				Expected: col.Name,
			})
		}
	}

	return nil
}

// appendColumns applies every schema revision after the recorded
// version, in order, in one transaction
func appendColumns(db *sql.DB, fromVersion int) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback migration")
			}
		}
	}()

	for v := fromVersion + 1; v <= SchemaVersion; v++ {
		for _, col := range schemaHistory[v] {
			stmt := fmt.Sprintf("ALTER TABLE records ADD COLUMN %s %s", col.Name, col.Type)
			if _, err := tx.Exec(stmt); err != nil {
				return errFactory.WithData(ErrSchemaMigrationFailed, struct {
					Version int
					Column  string
					Error   string
				}{
					Version: v,
					Column:  col.Name,
					Error:   err.Error(),
				})
			}
		}

		if _, err := tx.Exec(`
            INSERT INTO schema_versions (version, applied_at)
            VALUES (?, datetime('now'))
        `, v); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	logger.Info().
		Int("from_version", fromVersion).
		Int("to_version", SchemaVersion).
		Msg("Journal schema migrated")

	return nil
}
