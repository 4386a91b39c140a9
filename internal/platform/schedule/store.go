package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
	"github.com/lueurxax/profilewatch/internal/platform/fsutil"
)

const (
	logFieldPath      = "path"
	logFieldFrequency = "frequency"
	logFieldValue     = "value"
)

// Store is the single synchronized accessor for the persisted schedule.
// Both the scheduler loop and foreground edits go through it.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zerolog.Logger
}

// NewStore returns a store for the configuration file at path.
func NewStore(path string, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the configuration. A missing file yields the defaults with every
// clock disabled; missing sections are disabled and missing or invalid fields
// fall back to their defaults.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}

	if err != nil {
		return DefaultConfig(), fmt.Errorf("%w: read schedule: %w", apperrors.ErrPersistence, err)
	}

	cfg, err := Decode(data)
	if err != nil {
		return DefaultConfig(), err
	}

	return s.sanitize(cfg), nil
}

// Save validates cfg and atomically replaces the persisted configuration.
func (s *Store) Save(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	cfg = normalizeTimes(cfg)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.WriteFileAtomic(s.path, data, fsutil.FilePerm); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrPersistence, err)
	}

	return nil
}

// Decode parses a persisted configuration on top of the defaults.
func Decode(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("%w: decode: %w", apperrors.ErrInvalidSchedule, err)
	}

	return cfg, nil
}

func (s *Store) sanitize(cfg Config) Config {
	def := DefaultConfig()

	if _, err := cfg.Location(); err != nil {
		s.warn(err, "", cfg.Timezone, "invalid schedule timezone, using local time")
		cfg.Timezone = ""
	}

	if _, err := parseTimeHM(cfg.Daily.Time); err != nil {
		s.warn(err, Daily, cfg.Daily.Time, "invalid time, using default")
		cfg.Daily.Time = def.Daily.Time
	}

	if set, err := cfg.Daily.Days.Set(); err != nil {
		s.warn(err, Daily, "", "invalid weekday set, using default")
		cfg.Daily.Days = def.Daily.Days
	} else if cfg.Daily.Enabled && len(set) == 0 {
		s.warn(ErrNoWeekdays, Daily, "", "no weekday enabled, disabling clock")
		cfg.Daily.Enabled = false
	}

	if _, err := parseTimeHM(cfg.Weekly.Time); err != nil {
		s.warn(err, Weekly, cfg.Weekly.Time, "invalid time, using default")
		cfg.Weekly.Time = def.Weekly.Time
	}

	if _, err := ParseWeekday(cfg.Weekly.Day); err != nil {
		s.warn(err, Weekly, cfg.Weekly.Day, "invalid weekday, using default")
		cfg.Weekly.Day = def.Weekly.Day
	}

	if _, err := parseTimeHM(cfg.Monthly.Time); err != nil {
		s.warn(err, Monthly, cfg.Monthly.Time, "invalid time, using default")
		cfg.Monthly.Time = def.Monthly.Time
	}

	if err := cfg.Monthly.Day.Validate(); err != nil {
		s.warn(err, Monthly, cfg.Monthly.Day.String(), "invalid day of month, using default")
		cfg.Monthly.Day = def.Monthly.Day
	}

	return normalizeTimes(cfg)
}

func (s *Store) warn(err error, freq Frequency, value, msg string) {
	ev := s.logger.Warn().Err(err).Str(logFieldPath, s.path).Str(logFieldValue, value)
	if freq != "" {
		ev = ev.Str(logFieldFrequency, string(freq))
	}

	ev.Msg(msg)
}

func normalizeTimes(cfg Config) Config {
	if v, err := NormalizeTimeHM(cfg.Daily.Time); err == nil {
		cfg.Daily.Time = v
	}

	if v, err := NormalizeTimeHM(cfg.Weekly.Time); err == nil {
		cfg.Weekly.Time = v
	}

	if v, err := NormalizeTimeHM(cfg.Monthly.Time); err == nil {
		cfg.Monthly.Time = v
	}

	return cfg
}
