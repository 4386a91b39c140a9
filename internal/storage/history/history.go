// Package history records scheduler fire attempts in PostgreSQL.
//
// The store is optional: it is opened only when POSTGRES_DSN is set. On
// startup the scheduler seeds its fired-period state from LastSuccess so a
// restart inside the trigger minute does not fire the same period twice.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/migrations"
)

// Fire statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Database connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10

	defaultMaxConns        int32 = 4
	defaultMaxConnIdleTime       = 30 * time.Minute

	migrationLockID = 4100
	maxErrorLength  = 2000
)

// Fire is one report producer invocation.
type Fire struct {
	ID         string
	Frequency  string
	Period     time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
}

// DB wraps the PostgreSQL pool used for run history.
type DB struct {
	Pool   *pgxpool.Pool
	Logger *zerolog.Logger
}

// New connects to dsn, retrying while the database comes up.
func New(ctx context.Context, dsn string, logger *zerolog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	config.MaxConns = defaultMaxConns
	config.MaxConnIdleTime = defaultMaxConnIdleTime

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return connectWithRetries(ctx, config, logger)
}

// connectWithRetries attempts to connect to the database with retries.
func connectWithRetries(ctx context.Context, config *pgxpool.Config, logger *zerolog.Logger) (*DB, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)

	for i := 0; i < maxConnectionRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return &DB{Pool: pool, Logger: logger}, nil
			}
		}

		if pool != nil {
			pool.Close()
		}

		logger.Warn().Err(err).Int("attempt", i+1).Msg("history database not ready")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect history database: %w", ctx.Err())
		case <-time.After(ConnectionRetrySleep):
		}
	}

	return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks connectivity for readiness probes.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping history database: %w", err)
	}

	return nil
}

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

// Migrate runs database migrations using goose.
// It acquires an advisory lock to ensure only one migration runs at a time
// across multiple instances.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	defer func() {
		//nolint:errcheck // advisory unlock in defer is best-effort, lock released on connection close anyway
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	dbSQL := stdlib.OpenDB(*db.Pool.Config().ConnConfig)

	defer func() {
		_ = dbSQL.Close()
	}()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: db.Logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, dbSQL, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

const insertFireSQL = `
INSERT INTO scheduler_fires (id, frequency, period, started_at, finished_at, status, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// RecordFire stores one fire attempt. A missing ID is generated.
func (db *DB) RecordFire(ctx context.Context, f Fire) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	id, err := uuid.Parse(f.ID)
	if err != nil {
		return fmt.Errorf("parse fire id: %w", err)
	}

	_, err = db.Pool.Exec(ctx, insertFireSQL,
		pgtype.UUID{Bytes: id, Valid: true},
		f.Frequency,
		pgtype.Date{Time: f.Period, Valid: !f.Period.IsZero()},
		toTimestamptz(f.StartedAt),
		toTimestamptz(f.FinishedAt),
		f.Status,
		toText(truncate(f.Error, maxErrorLength)),
	)
	if err != nil {
		return fmt.Errorf("insert scheduler fire: %w", err)
	}

	return nil
}

const recentFiresSQL = `
SELECT id, frequency, period, started_at, finished_at, status, error
FROM scheduler_fires
ORDER BY started_at DESC
LIMIT $1`

// RecentFires returns the latest fire attempts, newest first.
func (db *DB) RecentFires(ctx context.Context, limit int) ([]Fire, error) {
	rows, err := db.Pool.Query(ctx, recentFiresSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduler fires: %w", err)
	}

	fires, err := pgx.CollectRows(rows, scanFire)
	if err != nil {
		return nil, fmt.Errorf("scan scheduler fires: %w", err)
	}

	return fires, nil
}

const lastSuccessSQL = `
SELECT period
FROM scheduler_fires
WHERE frequency = $1 AND status = 'success'
ORDER BY period DESC
LIMIT 1`

// LastSuccess returns the period of the latest successful fire for frequency.
func (db *DB) LastSuccess(ctx context.Context, frequency string) (time.Time, bool, error) {
	var period pgtype.Date

	err := db.Pool.QueryRow(ctx, lastSuccessSQL, frequency).Scan(&period)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last success: %w", err)
	}

	return period.Time, period.Valid, nil
}

func scanFire(row pgx.CollectableRow) (Fire, error) {
	var (
		id         pgtype.UUID
		f          Fire
		period     pgtype.Date
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
		errText    pgtype.Text
	)

	if err := row.Scan(&id, &f.Frequency, &period, &startedAt, &finishedAt, &f.Status, &errText); err != nil {
		return Fire{}, err
	}

	if id.Valid {
		f.ID = uuid.UUID(id.Bytes).String()
	}

	f.Period = period.Time
	f.StartedAt = startedAt.Time
	f.FinishedAt = finishedAt.Time
	f.Error = errText.String

	return f, nil
}

func toTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func toText(s string) pgtype.Text {
	return pgtype.Text{String: SanitizeUTF8(s), Valid: s != ""}
}

// SanitizeUTF8 removes invalid UTF-8 sequences from a string.
func SanitizeUTF8(s string) string {
	if s == "" || utf8.ValidString(s) {
		return s
	}

	return strings.ToValidUTF8(s, "")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
