// Package fsutil holds the file primitives shared by the file-backed stores:
// directory bootstrap, atomic replace and rotating snapshots.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DirPerm is used for every directory the application creates.
	DirPerm os.FileMode = 0o770
	// FilePerm is used for collection, schedule and snapshot files.
	FilePerm os.FileMode = 0o640

	snapshotTimeLayout = "20060102T150405.000000000"
	tempPattern        = ".tmp-*"
)

// EnsureDir creates dir and its parents when missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return nil
}

// WriteFileAtomic replaces path with data. Readers observe either the old or
// the new content, never a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+tempPattern)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}

	tmpName := tmp.Name()

	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return cause
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write temp for %s: %w", path, err))
	}

	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp for %s: %w", path, err))
	}

	if err := tmp.Chmod(perm); err != nil {
		return cleanup(fmt.Errorf("chmod temp for %s: %w", path, err))
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}

	return nil
}

// CopyFile atomically copies src to dst. A missing src is reported as
// fs.ErrNotExist so callers can treat "nothing to back up" separately.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	return WriteFileAtomic(dst, data, FilePerm)
}

// Exists reports whether path exists as a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// Snapshots keeps a rotating set of timestamped copies of one file.
type Snapshots struct {
	Dir  string
	Name string // base name of the tracked file, e.g. profiles.json
	Keep int
}

// Take copies src into the snapshot directory and prunes old copies.
// It returns an empty path when src does not exist yet.
func (s Snapshots) Take(src string, now time.Time) (string, error) {
	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}

	dst := filepath.Join(s.Dir, s.fileName(now))
	if err := WriteFileAtomic(dst, data, FilePerm); err != nil {
		return "", err
	}

	if err := s.prune(); err != nil {
		return dst, err
	}

	return dst, nil
}

// List returns snapshot paths, newest first.
func (s Snapshots) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", s.Dir, err)
	}

	stem, ext := s.parts()

	var paths []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem+"-") || !strings.HasSuffix(name, ext) {
			continue
		}

		paths = append(paths, filepath.Join(s.Dir, name))
	}

	// The timestamp layout sorts lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	return paths, nil
}

func (s Snapshots) prune() error {
	if s.Keep <= 0 {
		return nil
	}

	paths, err := s.List()
	if err != nil {
		return err
	}

	var errs []error

	for _, p := range paths[min(s.Keep, len(paths)):] {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s Snapshots) fileName(now time.Time) string {
	stem, ext := s.parts()

	return stem + "-" + now.UTC().Format(snapshotTimeLayout) + ext
}

func (s Snapshots) parts() (string, string) {
	ext := filepath.Ext(s.Name)

	return strings.TrimSuffix(s.Name, ext), ext
}
