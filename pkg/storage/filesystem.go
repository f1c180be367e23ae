package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideBase is returned for relative names that climb out of the base directory.
var ErrOutsideBase = errors.New("report path escapes the reports directory")

// LocalStorage writes report files on disk. Relative names resolve under baseDir
// and may not leave it; absolute names are used as given.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./reports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes data to filename, creating parent directories, and returns the
// resolved path.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := s.Path(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return path, nil
}

// Path resolves filename against the base directory.
func (s *LocalStorage) Path(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return filepath.Clean(filename), nil
	}
	path := filepath.Join(s.baseDir, filename)
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", filename, ErrOutsideBase)
	}
	return path, nil
}

// WithSuffix inserts suffix before the extension and forces ext, so
// "out/report.csv" with "-stats" becomes "out/report-stats.csv".
func WithSuffix(filename, suffix, ext string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return base + suffix + ext
}
