// Package blob stores captured photos and chart images as flat files
// under a single upload directory, addressed by generated filenames.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/camwatch/internal/errors"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	timestampLayout = "20060102150405"
)

type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	errFactory := errors.New()

	if dir == "" {
		return nil, errFactory.New(errors.ErrInvalidConfig)
	}

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, errFactory.WithData(errors.ErrInitFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_upload_dir",
			Path:  dir,
			Error: err.Error(),
		})
	}

	return &Store{
		dir: dir,
		now: time.Now,
	}, nil
}

// Dir returns the upload directory, for static file serving
func (s *Store) Dir() string {
	return s.dir
}

// SavePhoto writes raw capture bytes and returns the generated filename,
// cam{deviceID}_{timestamp}.jpg
func (s *Store) SavePhoto(deviceID int64, data []byte) (string, error) {
	filename := fmt.Sprintf("cam%d_%s.jpg", deviceID, s.now().Format(timestampLayout))
	return filename, s.write(filename, data)
}

// SaveChart writes a rendered chart image and returns the generated
// filename, chart_cam{deviceID}_{timestamp}.png
func (s *Store) SaveChart(deviceID int64, data []byte) (string, error) {
	filename := fmt.Sprintf("chart_cam%d_%s.png", deviceID, s.now().Format(timestampLayout))
	return filename, s.write(filename, data)
}

func (s *Store) write(filename string, data []byte) error {
	errFactory := errors.New()

	if err := os.WriteFile(filepath.Join(s.dir, filename), data, defaultFilePerm); err != nil {
		return errFactory.WithData(errors.ErrPersistenceFailed, struct {
			Phase string
			File  string
			Error string
		}{
			Phase: "write_blob",
			File:  filename,
			Error: err.Error(),
		})
	}

	return nil
}
