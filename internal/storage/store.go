// Package storage persists the profile collection as a single JSON file.
//
// Every mutation rewrites the whole collection atomically after copying the
// previous file to <file>.bak and into a rotating snapshot directory. Loading
// never fails: it falls back from the primary file to the .bak copy, then to
// the newest snapshot, then to an empty collection.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
	"github.com/lueurxax/profilewatch/internal/platform/fsutil"
	"github.com/lueurxax/profilewatch/internal/platform/observability"
)

const (
	backupSuffix = ".bak"

	logFieldPath    = "path"
	logFieldSource  = "source"
	logFieldProfile = "profile"
	logFieldOp      = "op"
	logFieldIndex   = "index"
	logFieldLoaded  = "loaded"
	logFieldSkipped = "skipped"
)

// Mutation names used in logs and metrics.
const (
	opAdd       = "add"
	opUpdate    = "update"
	opDelete    = "delete"
	opResult    = "record_result"
	opAlertSent = "record_alert_sent"
)

const (
	defaultKeep = 10
	filePerm    = fsutil.FilePerm
)

// Options configures a ProfileStore.
type Options struct {
	// Path is the collection file.
	Path string
	// BackupDir receives timestamped snapshots; empty disables them.
	BackupDir string
	// BackupKeep is the number of snapshots retained.
	BackupKeep int
	// DefaultThreshold is assigned to profiles saved without an alert threshold.
	DefaultThreshold float64
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// ProfileStore is the serialized owner of the profile collection.
type ProfileStore struct {
	mu        sync.RWMutex
	opts      Options
	profiles  []domain.Profile
	loaded    bool
	snapshots fsutil.Snapshots
	logger    *zerolog.Logger
}

// Open creates the store and loads the collection. It never fails; the
// report describes where the data came from and what was skipped.
func Open(opts Options, logger *zerolog.Logger) (*ProfileStore, LoadReport) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	if opts.BackupKeep <= 0 {
		opts.BackupKeep = defaultKeep
	}

	s := &ProfileStore{
		opts:   opts,
		logger: logger,
		snapshots: fsutil.Snapshots{
			Dir:  opts.BackupDir,
			Name: baseName(opts.Path),
			Keep: opts.BackupKeep,
		},
	}

	return s, s.Load()
}

// Load re-reads the collection from disk, replacing the in-memory state.
func (s *ProfileStore) Load() LoadReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := LoadReport{Source: SourceEmpty}
	now := s.opts.Now()

	for _, c := range s.candidates() {
		data, err := os.ReadFile(c.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			report.Failures = append(report.Failures, FileError{Path: c.path, Err: err})
			continue
		}

		profiles, skipped, err := decodeCollection(data, now, s.opts.NewID)
		if err != nil {
			report.Failures = append(report.Failures, FileError{Path: c.path, Err: err})
			continue
		}

		report.Source = c.source
		report.Path = c.path
		report.Loaded = len(profiles)
		report.Skipped = skipped
		s.profiles = profiles

		break
	}

	if report.Source == SourceEmpty {
		s.profiles = nil
	}

	s.loaded = true
	s.logReport(report)

	observability.Profiles.Set(float64(len(s.profiles)))
	observability.StoreLoadSkipped.Add(float64(len(report.Skipped)))

	return report
}

type candidate struct {
	path   string
	source LoadSource
}

func (s *ProfileStore) candidates() []candidate {
	out := []candidate{
		{path: s.opts.Path, source: SourcePrimary},
		{path: s.opts.Path + backupSuffix, source: SourceBackup},
	}

	if s.opts.BackupDir == "" {
		return out
	}

	snaps, err := s.snapshots.List()
	if err != nil {
		s.logger.Warn().Err(err).Str(logFieldPath, s.opts.BackupDir).Msg("cannot list snapshots")
		return out
	}

	for _, p := range snaps {
		out = append(out, candidate{path: p, source: SourceSnapshot})
	}

	return out
}

func (s *ProfileStore) logReport(report LoadReport) {
	for _, f := range report.Failures {
		s.logger.Warn().Err(f.Err).Str(logFieldPath, f.Path).Msg("profile collection unusable, trying next copy")
	}

	for _, r := range report.Skipped {
		s.logger.Warn().Err(r.Err).Int(logFieldIndex, r.Index).Str(logFieldProfile, r.ID).Msg("skipping malformed profile record")
	}

	s.logger.Info().
		Str(logFieldSource, string(report.Source)).
		Str(logFieldPath, report.Path).
		Int(logFieldLoaded, report.Loaded).
		Int(logFieldSkipped, len(report.Skipped)).
		Msg("profile collection loaded")
}

// Loaded reports whether the collection has been read at least once.
func (s *ProfileStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loaded
}

// Add validates spec and appends a new profile.
func (s *ProfileStore) Add(spec domain.Spec) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()

	p, err := domain.NewProfile(s.opts.NewID(), s.withDefaults(spec), now)
	if err != nil {
		return domain.Profile{}, err
	}

	if err := s.checkNameLocked(p.Name, ""); err != nil {
		return domain.Profile{}, err
	}

	next := append(s.cloneLocked(), p)
	if err := s.commitLocked(opAdd, next); err != nil {
		return domain.Profile{}, err
	}

	return p.Clone(), nil
}

// Update replaces the editable fields of the profile with id. On any failure
// the stored profile is left exactly as it was.
func (s *ProfileStore) Update(id string, spec domain.Spec) (domain.Profile, error) {
	return s.mutateOne(opUpdate, id, func(p *domain.Profile, now time.Time) error {
		if err := p.Apply(s.withDefaults(spec), now); err != nil {
			return err
		}

		if err := p.Validate(); err != nil {
			return err
		}

		return s.checkNameLocked(p.Name, id)
	})
}

// RecordResult stores the found count of the latest execution.
func (s *ProfileStore) RecordResult(id string, found int) (domain.Profile, error) {
	if found < 0 {
		return domain.Profile{}, apperrors.Invalid("found_count", "must not be negative", apperrors.ErrInvalidCount)
	}

	return s.mutateOne(opResult, id, func(p *domain.Profile, now time.Time) error {
		p.ApplyResult(found, now)
		return nil
	})
}

// RecordAlertSent latches alert suppression until the ratio recovers.
func (s *ProfileStore) RecordAlertSent(id string) (domain.Profile, error) {
	return s.mutateOne(opAlertSent, id, func(p *domain.Profile, now time.Time) error {
		p.MarkAlertSent(now)
		return nil
	})
}

// Delete removes the profile with id after snapshotting the collection.
func (s *ProfileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("profile %s: %w", id, apperrors.ErrNotFound)
	}

	next := s.cloneLocked()
	next = append(next[:idx], next[idx+1:]...)

	return s.commitLocked(opDelete, next)
}

// Get returns a copy of the profile with id.
func (s *ProfileStore) Get(id string) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Profile{}, fmt.Errorf("profile %s: %w", id, apperrors.ErrNotFound)
	}

	return s.profiles[idx].Clone(), nil
}

// FindByName looks a profile up by case-insensitive name.
func (s *ProfileStore) FindByName(name string) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if domain.SameName(p.Name, name) {
			return p.Clone(), nil
		}
	}

	return domain.Profile{}, fmt.Errorf("profile %q: %w", name, apperrors.ErrNotFound)
}

// List returns copies of every profile in collection order.
func (s *ProfileStore) List() []domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cloneLocked()
}

// Summary aggregates statistics over the current collection.
func (s *ProfileStore) Summary() Summary {
	return Summarize(s.List())
}

func (s *ProfileStore) mutateOne(op, id string, fn func(p *domain.Profile, now time.Time) error) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Profile{}, fmt.Errorf("profile %s: %w", id, apperrors.ErrNotFound)
	}

	next := s.cloneLocked()
	if err := fn(&next[idx], s.opts.Now()); err != nil {
		return domain.Profile{}, err
	}

	if err := s.commitLocked(op, next); err != nil {
		return domain.Profile{}, err
	}

	return next[idx].Clone(), nil
}

// commitLocked persists next and only then makes it the in-memory state, so
// a failed write leaves the previous collection untouched.
func (s *ProfileStore) commitLocked(op string, next []domain.Profile) error {
	if err := s.persistLocked(next); err != nil {
		observability.StoreWrites.WithLabelValues(op, observability.StatusFailure).Inc()
		s.logger.Error().Err(err).Str(logFieldOp, op).Str(logFieldPath, s.opts.Path).Msg("profile collection write failed")

		return fmt.Errorf("%w: %s: %w", apperrors.ErrPersistence, op, err)
	}

	s.profiles = next

	observability.StoreWrites.WithLabelValues(op, observability.StatusSuccess).Inc()
	observability.Profiles.Set(float64(len(next)))

	return nil
}

func (s *ProfileStore) persistLocked(profiles []domain.Profile) error {
	now := s.opts.Now()

	data, err := encodeCollection(profiles, now)
	if err != nil {
		return err
	}

	if err := s.backupLocked(now); err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(s.opts.Path, data, filePerm)
}

func (s *ProfileStore) backupLocked(now time.Time) error {
	err := fsutil.CopyFile(s.opts.Path, s.opts.Path+backupSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	if s.opts.BackupDir == "" {
		return nil
	}

	if _, err := s.snapshots.Take(s.opts.Path, now); err != nil {
		s.logger.Warn().Err(err).Str(logFieldPath, s.opts.BackupDir).Msg("snapshot failed")
	}

	return nil
}

func (s *ProfileStore) withDefaults(spec domain.Spec) domain.Spec {
	if spec.AlertThreshold == 0 {
		spec.AlertThreshold = s.opts.DefaultThreshold
	}

	return spec
}

func (s *ProfileStore) checkNameLocked(name, exceptID string) error {
	for _, p := range s.profiles {
		if p.ID != exceptID && domain.SameName(p.Name, name) {
			return apperrors.Invalid("name", fmt.Sprintf("%q is already used", p.Name), apperrors.ErrDuplicateName)
		}
	}

	return nil
}

func (s *ProfileStore) indexLocked(id string) int {
	for i, p := range s.profiles {
		if p.ID == id {
			return i
		}
	}

	return -1
}

func (s *ProfileStore) cloneLocked() []domain.Profile {
	out := make([]domain.Profile, len(s.profiles))
	for i, p := range s.profiles {
		out[i] = p.Clone()
	}

	return out
}
