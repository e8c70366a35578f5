package journal

import (
	"database/sql"
	"fmt"
	"strings"

	"codeberg.org/mutker/rlectl/internal/errors"
	"codeberg.org/mutker/rlectl/internal/logger"
)

// SchemaVersion is the current journal schema. The journal is
// append-only in two senses: rows are never updated, and schema
// revisions may only append columns. Released column names, types,
// and order are immutable.
const SchemaVersion = 3

// Column describes one journal column
type Column struct {
	Name string
	Type string
}

// schemaHistory records the columns each schema version appended.
// Version 1 is the original column set; later versions must only add
// to the end of the table.
var schemaHistory = map[int][]Column{
	1: {
		{"timestamp", "INTEGER NOT NULL"},
		{"device", "TEXT NOT NULL"},
		{"rle_smoothed", "REAL NOT NULL"},
		{"rle_raw", "REAL NOT NULL"},
		{"e_th", "REAL NOT NULL"},
		{"e_pw", "REAL NOT NULL"},
		{"rolling_peak", "REAL NOT NULL"},
		{"temp_c", "REAL NOT NULL"},
		{"secondary_temp_c", "REAL"},
		{"t_sustain_s", "REAL NOT NULL"},
		{"power_w", "REAL NOT NULL"},
		{"util_pct", "REAL NOT NULL"},
		{"a_load", "REAL NOT NULL"},
		{"fan_pct", "REAL NOT NULL"},
		{"collapse", "INTEGER NOT NULL"},
		{"alerts", "TEXT NOT NULL DEFAULT ''"},
	},
	2: {
		{"t0_s", "REAL NOT NULL DEFAULT 0"},
		{"theta_index", "REAL NOT NULL DEFAULT 0"},
		{"t_sustain_hat", "REAL NOT NULL DEFAULT 0"},
		{"theta_gap", "INTEGER NOT NULL DEFAULT 0"},
	},
	3: {
		{"f_mu", "REAL NOT NULL DEFAULT 1"},
		{"rle_raw_ms", "REAL NOT NULL DEFAULT 0"},
		{"rle_smoothed_ms", "REAL NOT NULL DEFAULT 0"},
	},
}

// Columns returns the cumulative column set through the given version
func Columns(version int) []Column {
	var cols []Column
	for v := 1; v <= version; v++ {
		cols = append(cols, schemaHistory[v]...)
	}

	return cols
}

func createTablesSQL() string {
	var defs []string
	for _, col := range Columns(SchemaVersion) {
		defs = append(defs, fmt.Sprintf("%s %s", col.Name, col.Type))
	}
	defs = append(defs, "PRIMARY KEY (timestamp, device)")

	return fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS schema_versions (
        version     INTEGER PRIMARY KEY,
        applied_at  TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS records (
        %s
    );`, strings.Join(defs, ",\n        "))
}

func insertRecordSQL() string {
	cols := Columns(SchemaVersion)
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
		marks[i] = "?"
	}

	return fmt.Sprintf("INSERT INTO records (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(marks, ", "))
}

// InitSchema creates a fresh database schema at the current version
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	logger.Debug().Msg("Creating journal schema...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL()); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Info().
		Int("version", SchemaVersion).
		Msg("Journal schema initialized")

	return nil
}

// GetSchemaVersion returns the version recorded in the database, or
// zero for a fresh database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

func tableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Table string
			Error string
		}{
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}

// tableColumns returns the column names of a table in declared order
func tableColumns(db *sql.DB, tableName string) ([]string, error) {
	errFactory := errors.New()

	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, errFactory.Wrap(ErrSchemaValidationFailed, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return names, nil
}
