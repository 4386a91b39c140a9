package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
	"github.com/lueurxax/profilewatch/internal/platform/observability"
)

const (
	logFieldSource    = "source"
	logFieldCriterion = "criterion"
	logFieldProfile   = "profile"
	logFieldMatched   = "matched"
	logFieldScanned   = "scanned"
)

// Source yields messages. A source that fails is skipped; the engine keeps
// whatever the other sources produced.
type Source interface {
	Name() string
	Scan(ctx context.Context, fn func(domain.Message) error) error
}

// SourceError records one source that could not be read during a search.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one criterion search.
type Result struct {
	Criterion    string
	Signature    string
	Keys         []string
	Scanned      int
	SourceErrors []SourceError
	Cached       bool
}

// Matched returns the number of matching messages.
func (r Result) Matched() int {
	return len(r.Keys)
}

// CriterionResult is the per-criterion part of an Execution.
type CriterionResult struct {
	Criterion string
	Matched   int
	Cached    bool
}

// Execution is the outcome of running every criterion of a profile.
type Execution struct {
	ProfileID    string
	ProfileName  string
	Found        int
	Criteria     []CriterionResult
	SourceErrors []SourceError
}

// Options configures an Engine.
type Options struct {
	// Lookback ignores messages dated before now-Lookback; zero keeps all.
	Lookback time.Duration
	Now      func() time.Time
}

// Engine scans sources for criteria and caches results per criterion and
// sender filter until ClearCache is called.
type Engine struct {
	sources []Source
	opts    Options
	logger  *zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Result
}

// NewEngine builds an engine over sources.
func NewEngine(sources []Source, opts Options, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		sources: sources,
		opts:    opts,
		logger:  logger,
		cache:   make(map[string]Result),
	}
}

// ClearCache drops every cached result.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cache = make(map[string]Result)
}

// CacheLen returns the number of cached results.
func (e *Engine) CacheLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.cache)
}

// Search returns the messages matching p that pass filter. A cached result
// is returned without scanning. Only context cancellation is reported as an
// error; unreadable sources are recorded in the result.
func (e *Engine) Search(ctx context.Context, p Pattern, filter SenderFilter) (Result, error) {
	key := cacheKey(p, filter)

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()

	if ok {
		observability.MatchCache.WithLabelValues(observability.CacheHit).Inc()

		cached.Cached = true
		cached.Keys = append([]string(nil), cached.Keys...)

		return cached, nil
	}

	observability.MatchCache.WithLabelValues(observability.CacheMiss).Inc()

	start := time.Now()
	res := Result{Criterion: p.Criterion, Signature: p.Signature()}

	var cutoff time.Time
	if e.opts.Lookback > 0 {
		cutoff = e.opts.Now().Add(-e.opts.Lookback)
	}

	for _, src := range e.sources {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("search %q: %w", p.Criterion, err)
		}

		err := src.Scan(ctx, func(msg domain.Message) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if !cutoff.IsZero() && !msg.Date.IsZero() && msg.Date.Before(cutoff) {
				return nil
			}

			res.Scanned++

			c := Prepare(msg)
			if filter.Allows(c) && Matches(c, p) {
				res.Keys = append(res.Keys, messageKey(msg))
			}

			return nil
		})
		if err == nil {
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return Result{}, fmt.Errorf("search %q: %w", p.Criterion, err)
		}

		observability.SourceErrors.WithLabelValues(src.Name()).Inc()
		e.logger.Warn().Err(err).Str(logFieldSource, src.Name()).Str(logFieldCriterion, p.Criterion).Msg("skipping unreadable source")

		res.SourceErrors = append(res.SourceErrors, SourceError{
			Source: src.Name(),
			Err:    fmt.Errorf("%w: %w", apperrors.ErrSourceUnreadable, err),
		})
	}

	observability.SearchDuration.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	e.cache[key] = res
	e.mu.Unlock()

	e.logger.Debug().
		Str(logFieldCriterion, p.Criterion).
		Int(logFieldMatched, res.Matched()).
		Int(logFieldScanned, res.Scanned).
		Msg("criterion searched")

	res.Keys = append([]string(nil), res.Keys...)

	return res, nil
}

// ExecuteProfile searches every criterion of p independently. Found counts
// distinct messages matched by any criterion.
func (e *Engine) ExecuteProfile(ctx context.Context, p domain.Profile) (Execution, error) {
	exec := Execution{ProfileID: p.ID, ProfileName: p.Name}
	filter := CompileSenderFilter(p.SenderFilters)
	seen := make(map[string]struct{})

	for _, criterion := range p.Criteria {
		pattern, err := Compile(criterion)
		if err != nil {
			e.logger.Warn().Err(err).Str(logFieldProfile, p.Name).Str(logFieldCriterion, criterion).Msg("skipping criterion")
			continue
		}

		res, err := e.Search(ctx, pattern, filter)
		if err != nil {
			return Execution{}, err
		}

		for _, k := range res.Keys {
			seen[k] = struct{}{}
		}

		exec.Criteria = append(exec.Criteria, CriterionResult{
			Criterion: criterion,
			Matched:   res.Matched(),
			Cached:    res.Cached,
		})
		exec.SourceErrors = append(exec.SourceErrors, res.SourceErrors...)
	}

	exec.Found = len(seen)

	return exec, nil
}

func messageKey(msg domain.Message) string {
	return msg.Source + "\x00" + msg.ID
}
