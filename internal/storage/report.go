package storage

import (
	"fmt"
	"path/filepath"
)

// LoadSource names the copy a collection was loaded from.
type LoadSource string

// Load sources, in fallback order.
const (
	SourcePrimary  LoadSource = "primary"
	SourceBackup   LoadSource = "backup"
	SourceSnapshot LoadSource = "snapshot"
	SourceEmpty    LoadSource = "empty"
)

// RecordError describes one record that was skipped while loading.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

func (e RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.ID, e.Err)
	}

	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// FileError describes a collection copy that could not be used.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// LoadReport is the outcome of a load.
type LoadReport struct {
	Source   LoadSource
	Path     string
	Loaded   int
	Skipped  []RecordError
	Failures []FileError
}

// Degraded reports whether anything was lost or recovered from a copy.
func (r LoadReport) Degraded() bool {
	return len(r.Skipped) > 0 || len(r.Failures) > 0
}

func baseName(path string) string {
	return filepath.Base(path)
}
