// Package explorer answers ridership questions for the presentation layer.
//
// A request names a source and filter criteria. The source is loaded (and
// cached by content fingerprint), filtered into a view (memoized per
// fingerprint and criteria), then aggregated or forecast. Forecasts are
// memoized per view and horizon, optionally in a persistent store.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nicktill/ridership/pkg/aggregate"
	"github.com/nicktill/ridership/pkg/cache"
	"github.com/nicktill/ridership/pkg/config"
	"github.com/nicktill/ridership/pkg/filter"
	"github.com/nicktill/ridership/pkg/forecast"
	"github.com/nicktill/ridership/pkg/loader"
	"github.com/nicktill/ridership/pkg/ridership"
)

// ErrUnknownSource is returned for a source name that is not registered.
var ErrUnknownSource = errors.New("unknown source")

// Observer receives explorer activity. Implemented by monitor.Metrics.
type Observer interface {
	cache.Observer
	loader.RowRecorder
	ForecastFit(elapsed time.Duration, err error)
}

// Options configures a Service.
type Options struct {
	// DefaultSource is used when a query names no source
	DefaultSource string

	Forecaster forecast.Forecaster

	TableCacheSize    int
	ViewCacheSize     int
	ViewTTL           time.Duration
	ForecastCacheSize int

	// ForecastBacking persists fitted forecasts (e.g. badger); nil keeps them in process only
	ForecastBacking cache.Store

	DefaultHorizonDays int
	MaxHorizonDays     int
	SampleSize         int
	MaxSampleSize      int
	SampleSeed         uint64

	Observer Observer
	Logger   *slog.Logger
}

// OptionsFromConfig maps application configuration onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultSource:      cfg.DefaultSource,
		Forecaster:         forecast.NewAdditive(cfg.Forecast.IntervalWidth),
		TableCacheSize:     cfg.Cache.TableSize,
		ViewCacheSize:      cfg.Cache.ViewSize,
		ViewTTL:            cfg.Cache.ViewTTL,
		ForecastCacheSize:  cfg.Cache.ForecastSize,
		DefaultHorizonDays: cfg.Forecast.DefaultHorizonDays,
		MaxHorizonDays:     cfg.Forecast.MaxHorizonDays,
		SampleSize:         cfg.Sample.Size,
		MaxSampleSize:      cfg.Sample.MaxSize,
		SampleSeed:         cfg.Sample.Seed,
	}
}

// Query selects a filtered view of one source.
type Query struct {
	Source   string          `json:"source,omitempty"`
	Criteria filter.Criteria `json:"criteria"`
}

// SourceInfo describes a registered source.
type SourceInfo struct {
	Name    string         `json:"name"`
	ID      string         `json:"id"`
	Format  loader.Format  `json:"format"`
	Default bool           `json:"default,omitempty"`
	Report  *loader.Report `json:"report,omitempty"`

	// Full date range of the last load, the default range for date pickers
	FirstDate string `json:"first_date,omitempty"`
	LastDate  string `json:"last_date,omitempty"`
}

type loadState struct {
	report      *loader.Report
	first, last string
}

// Service is safe for concurrent use.
type Service struct {
	loader    *loader.Loader
	views     *cache.Memo[*ridership.Table]
	forecasts *cache.Memo[*forecast.Result]
	model     forecast.Forecaster
	opts      Options
	logger    *slog.Logger

	mu      sync.RWMutex
	sources map[string]loader.Source
	loaded  map[string]loadState
}

// New creates a service with no sources; add them with Register.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Forecaster == nil {
		opts.Forecaster = forecast.NewAdditive(config.DefaultIntervalWidth)
	}
	if opts.MaxHorizonDays <= 0 {
		opts.MaxHorizonDays = config.MaxHorizonDays
	}
	if opts.DefaultHorizonDays <= 0 {
		opts.DefaultHorizonDays = min(config.DefaultHorizonDays, opts.MaxHorizonDays)
	}
	if opts.MaxSampleSize <= 0 {
		opts.MaxSampleSize = config.MaxSampleSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = min(config.DefaultSampleSize, opts.MaxSampleSize)
	}
	if opts.ViewCacheSize <= 0 {
		opts.ViewCacheSize = config.DefaultViewCacheSize
	}
	if opts.ForecastCacheSize <= 0 {
		opts.ForecastCacheSize = config.DefaultForecastCacheSize
	}

	var observer cache.Observer
	var rows loader.RowRecorder
	if opts.Observer != nil {
		observer, rows = opts.Observer, opts.Observer
	}

	return &Service{
		loader: loader.New(loader.Options{
			CacheSize: opts.TableCacheSize,
			Observer:  observer,
			Rows:      rows,
			Logger:    logger,
		}),
		views: cache.NewMemo[*ridership.Table](cache.Options{
			Name:     "views",
			Size:     opts.ViewCacheSize,
			TTL:      opts.ViewTTL,
			Observer: observer,
			Logger:   logger,
		}),
		forecasts: cache.NewMemo[*forecast.Result](cache.Options{
			Name:     "forecasts",
			Size:     opts.ForecastCacheSize,
			Backing:  opts.ForecastBacking,
			Observer: observer,
			Logger:   logger,
		}),
		model:   opts.Forecaster,
		opts:    opts,
		logger:  logger,
		sources: make(map[string]loader.Source),
		loaded:  make(map[string]loadState),
	}
}

// Register adds or replaces a named source.
func (s *Service) Register(name string, src loader.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = src
	delete(s.loaded, name)
}

// RegisterFiles registers a file source per name -> path entry.
func (s *Service) RegisterFiles(paths map[string]string) error {
	for name, path := range paths {
		src, err := loader.NewFileSource(path)
		if err != nil {
			return fmt.Errorf("source %s: %w", name, err)
		}
		s.Register(name, src)
	}
	return nil
}

// Sources lists registered sources by name, with the report of their last load.
func (s *Service) Sources() []SourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SourceInfo, 0, len(s.sources))
	for name, src := range s.sources {
		state := s.loaded[name]
		out = append(out, SourceInfo{
			Name:      name,
			ID:        src.ID(),
			Format:    src.Format(),
			Default:   name == s.opts.DefaultSource,
			Report:    state.report,
			FirstDate: state.first,
			LastDate:  state.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) source(name string) (string, loader.Source, error) {
	if name == "" {
		name = s.opts.DefaultSource
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return name, src, nil
}

// Table loads the full table of a source.
func (s *Service) Table(ctx context.Context, source string) (*ridership.Table, *loader.Report, error) {
	name, src, err := s.source(source)
	if err != nil {
		return nil, nil, err
	}
	table, report, err := s.loader.Load(ctx, src)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", name, err)
	}

	state := loadState{report: report}
	if first, last, ok := table.DateRange(); ok {
		state.first, state.last = first.Format(time.DateOnly), last.Format(time.DateOnly)
	}
	s.mu.Lock()
	s.loaded[name] = state
	s.mu.Unlock()
	return table, report, nil
}

// View returns the records of the source that match the criteria.
func (s *Service) View(ctx context.Context, q Query) (*ridership.Table, error) {
	table, _, err := s.Table(ctx, q.Source)
	if err != nil {
		return nil, err
	}
	// Compile first so invalid criteria fail without touching the cache
	preds, err := q.Criteria.Predicates()
	if err != nil {
		return nil, err
	}
	if len(preds) == 0 {
		return table, nil
	}

	key := cache.Key("view", table.Source(), table.Fingerprint(), q.Criteria.Key())
	return s.views.Do(ctx, key, func(ctx context.Context) (*ridership.Table, error) {
		return filter.Apply(table, preds...), nil
	})
}

// Hourly is total ridership per hour of day, always 24 entries unless the view is empty.
func (s *Service) Hourly(ctx context.Context, q Query) ([]aggregate.HourValue, error) {
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}
	hours, err := aggregate.ByHourOfDay(view, ridership.ColumnRidership, aggregate.Sum)
	if err != nil {
		return nil, err
	}
	return aggregate.Dense(hours), nil
}

// Daily is total ridership per calendar day.
func (s *Service) Daily(ctx context.Context, q Query) ([]aggregate.Bucket, error) {
	return s.resample(ctx, q, aggregate.Day)
}

// Weekly is total ridership per ISO week, labelled by its Monday.
func (s *Service) Weekly(ctx context.Context, q Query) ([]aggregate.Bucket, error) {
	return s.resample(ctx, q, aggregate.Week)
}

func (s *Service) resample(ctx context.Context, q Query, g aggregate.Granularity) ([]aggregate.Bucket, error) {
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.Resample(view, g, ridership.ColumnRidership, aggregate.Sum)
}

// Centroid is the mean position of the view; ok is false when it is empty.
func (s *Service) Centroid(ctx context.Context, q Query) (aggregate.Centroid, bool, error) {
	view, err := s.View(ctx, q)
	if err != nil {
		return aggregate.Centroid{}, false, err
	}
	c, ok := aggregate.CentroidOf(view)
	return c, ok, nil
}

// Breakdown sums ridership by the combination of the given categorical columns.
func (s *Service) Breakdown(ctx context.Context, q Query, by []string) (*aggregate.Grouped, error) {
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.MultiKey(view, by, ridership.ColumnRidership, aggregate.Sum)
}

// Trends is one daily series per value of groupColumn (station by default).
func (s *Service) Trends(ctx context.Context, q Query, groupColumn string) ([]aggregate.GroupSeries, error) {
	if groupColumn == "" {
		groupColumn = ridership.ColumnStationComplex
	}
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.ResampleBy(view, groupColumn, aggregate.Day, ridership.ColumnRidership, aggregate.Sum)
}

// Scatter samples ridership against distance to the center. n <= 0 uses the
// configured size and larger values are capped; a nil seed uses the configured seed.
func (s *Service) Scatter(ctx context.Context, q Query, n int, seed *uint64) ([]aggregate.ScatterPoint, error) {
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = s.opts.SampleSize
	}
	n = min(n, s.opts.MaxSampleSize)
	sd := s.opts.SampleSeed
	if seed != nil {
		sd = *seed
	}
	return aggregate.Sample(view, n, sd), nil
}

// Stations lists station names in the view, in order of first appearance.
func (s *Service) Stations(ctx context.Context, q Query) ([]string, error) {
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}
	stations, err := filter.Distinct(view, ridership.ColumnStationComplex)
	if err != nil {
		return nil, err
	}
	if stations == nil {
		stations = []string{}
	}
	return stations, nil
}

// Boroughs summarizes each borough of the view.
func (s *Service) Boroughs(ctx context.Context, q Query) ([]aggregate.Summary, error) {
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}
	return aggregate.Summarize(view, ridership.ColumnBorough)
}

// DefaultHorizon is the horizon used when a request does not name one.
func (s *Service) DefaultHorizon() int {
	return s.opts.DefaultHorizonDays
}

// Forecast fits the daily series of the view and predicts horizonDays ahead.
// Results are cached per view and horizon; any change to the source content
// or the criteria refits.
func (s *Service) Forecast(ctx context.Context, q Query, horizonDays int) (*forecast.Result, error) {
	if horizonDays < 0 || horizonDays > s.opts.MaxHorizonDays {
		return nil, &ridership.ForecastError{
			Reason: fmt.Sprintf("horizon %d outside 0..%d days", horizonDays, s.opts.MaxHorizonDays),
		}
	}
	view, err := s.View(ctx, q)
	if err != nil {
		return nil, err
	}

	key := cache.Key("forecast", view.Source(), view.Fingerprint(), q.Criteria.Key(), strconv.Itoa(horizonDays))
	return s.forecasts.Do(ctx, key, func(ctx context.Context) (*forecast.Result, error) {
		series := forecast.PrepareSeries(view)

		start := time.Now()
		model, err := s.model.Fit(ctx, series)
		elapsed := time.Since(start)
		if s.opts.Observer != nil {
			s.opts.Observer.ForecastFit(elapsed, err)
		}
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "forecast fitted",
			"source", view.Source(),
			"criteria", q.Criteria.Key(),
			"days", len(series),
			"horizon", horizonDays,
			"elapsed", elapsed)
		return model.Predict(horizonDays)
	})
}
