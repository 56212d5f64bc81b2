package store

import (
	"database/sql"

	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS devices (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       name              TEXT NOT NULL,
	       network_address   TEXT NOT NULL,
	       location          TEXT NOT NULL DEFAULT '',
	       hardware_identity TEXT UNIQUE,
	       created_at        INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS readings (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       device_id   INTEGER NOT NULL REFERENCES devices(id),
	       temperature REAL NOT NULL,
	       humidity    REAL NOT NULL,
	       timestamp   INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_readings_device_ts
	       ON readings(device_id, timestamp DESC);
	   CREATE TABLE IF NOT EXISTS history (
	       id            INTEGER PRIMARY KEY AUTOINCREMENT,
	       device_id     INTEGER NOT NULL REFERENCES devices(id),
	       chart_image   TEXT NOT NULL,
	       primary_photo TEXT,
	       sensor_data   TEXT,
	       created_at    INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS history_photos (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       history_id INTEGER NOT NULL REFERENCES history(id),
	       url        TEXT NOT NULL,
	       timestamp  INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_history_photos_parent
	       ON history_photos(history_id);`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback schema init")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(errors.ErrInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(errors.ErrInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, err
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
		return 0, errFactory.Wrap(errors.ErrPersistenceFailed, err)
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
		return false, errFactory.WithData(errors.ErrPersistenceFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
