package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

// Open opens the sqlite database at path, ensures the schema is current
// and returns a handle shared by all repositories. Foreign keys are
// enforced so reading and snapshot rows cannot outlive their device.
func Open(path string, log logger.Logger) (*sql.DB, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.New(errors.ErrInvalidConfig)
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(errors.ErrInitFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  path,
			Error: err.Error(),
		})
	}

	dsn := path + "?_journal=WAL&_fk=1&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	if err := ValidateAndUpdateSchema(db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("schema_version", SchemaVersion).
		Msg("Store opened")

	return db, nil
}

// Close checkpoints the WAL and closes the database
func Close(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := db.Close(); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	log.Info().Msg("Store closed gracefully")

	return nil
}
