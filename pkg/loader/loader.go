package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nicktill/ridership/pkg/cache"
	"github.com/nicktill/ridership/pkg/config"
	"github.com/nicktill/ridership/pkg/ridership"
)

// Report summarizes one load.
type Report struct {
	Source      string                       `json:"source"`
	Fingerprint string                       `json:"fingerprint"`
	RowsRead    int                          `json:"rows_read"`
	RowsKept    int                          `json:"rows_kept"`
	RowsDropped int                          `json:"rows_dropped"`
	Errors      []*ridership.DataFormatError `json:"errors,omitempty"` // first config.MaxReportedRowErrors
}

type loaded struct {
	table  *ridership.Table
	report *Report
}

// RowRecorder is told how many rows each parse kept and dropped.
type RowRecorder interface {
	RowsLoaded(kept, dropped int)
}

// Options configures a Loader.
type Options struct {
	CacheSize int
	Observer  cache.Observer
	Rows      RowRecorder
	Logger    *slog.Logger
}

// Loader parses sources into tables and caches them by source identity.
// A table is reused while the source fingerprint is unchanged; a new
// fingerprint evicts the previous table for that source.
type Loader struct {
	tables *cache.Memo[loaded]
	rows   RowRecorder
	logger *slog.Logger

	mu     sync.Mutex
	latest map[string]string // source id -> cache key of the current content
}

// New creates a loader.
func New(opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = config.DefaultTableCacheSize
	}
	return &Loader{
		tables: cache.NewMemo[loaded](cache.Options{
			Name:     "tables",
			Size:     size,
			Observer: opts.Observer,
			Logger:   logger,
		}),
		rows:   opts.Rows,
		logger: logger,
		latest: make(map[string]string),
	}
}

// Load returns the table for src, parsing it only when its content changed.
func (l *Loader) Load(ctx context.Context, src Source) (*ridership.Table, *Report, error) {
	fingerprint, key, err := l.current(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	res, err := l.tables.Do(ctx, key, func(ctx context.Context) (loaded, error) {
		table, report, err := Parse(ctx, src, fingerprint)
		if err != nil {
			return loaded{}, err
		}
		if l.rows != nil {
			l.rows.RowsLoaded(report.RowsKept, report.RowsDropped)
		}
		l.logger.InfoContext(ctx, "source loaded",
			"source", src.ID(),
			"rows_read", report.RowsRead,
			"rows_kept", report.RowsKept,
			"rows_dropped", report.RowsDropped)
		if report.RowsDropped > 0 {
			l.logger.WarnContext(ctx, "rows dropped during load",
				"source", src.ID(),
				"count", report.RowsDropped,
				"first_error", report.Errors[0].Error())
		}
		return loaded{table: table, report: report}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	// The content changed while this version was parsing
	l.mu.Lock()
	stale := l.latest[src.ID()] != key
	l.mu.Unlock()
	if stale {
		if err := l.tables.Invalidate(ctx, key); err != nil {
			l.logger.WarnContext(ctx, "failed to drop superseded table", "source", src.ID(), "error", err)
		}
	}
	return res.table, res.report, nil
}

// current reads the fingerprint of src and records it as the latest
// content, evicting the table of the previous content. Reading and recording
// happen under one lock so the latest key only moves to newer reads.
func (l *Loader) current(ctx context.Context, src Source) (fingerprint, key string, err error) {
	id := src.ID()

	l.mu.Lock()
	fingerprint, err = src.Fingerprint()
	if err != nil {
		l.mu.Unlock()
		return "", "", fmt.Errorf("fingerprint %s: %w", id, err)
	}
	key = cache.Key(id, fingerprint)
	prev, ok := l.latest[id]
	l.latest[id] = key
	l.mu.Unlock()

	if ok && prev != key {
		l.logger.InfoContext(ctx, "source content changed, evicting cached table", "source", id)
		if err := l.tables.Invalidate(ctx, prev); err != nil {
			return "", "", err
		}
	}
	return fingerprint, key, nil
}

// Parse reads every row of src without caching.
// Rows with a missing or invalid field are dropped and reported; a header
// without the required columns fails the whole load.
func Parse(ctx context.Context, src Source, fingerprint string) (*ridership.Table, *Report, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	rows, err := openRows(src.Format(), rc)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	report := &Report{Source: src.ID(), Fingerprint: fingerprint}

	first, err := rows.Next()
	if errors.Is(err, io.EOF) {
		return nil, nil, &ridership.DataFormatError{Column: ridership.ColumnTimestamp, Reason: "source has no header row"}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	h, err := newHeader(first)
	if err != nil {
		return nil, nil, err
	}
	dec := newDecoder(h, src.Format())

	var records []ridership.Record
	for line := 1; ; line++ {
		if line%config.LoadContextCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, fmt.Errorf("load cancelled at row %d: %w", line, err)
			}
		}

		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if isBlank(row) {
			continue
		}
		report.RowsRead++

		rec, err := dec.decode(line, row)
		if err != nil {
			report.RowsDropped++
			var dfe *ridership.DataFormatError
			if errors.As(err, &dfe) && len(report.Errors) < config.MaxReportedRowErrors {
				report.Errors = append(report.Errors, dfe)
			}
			continue
		}
		records = append(records, rec)
	}

	report.RowsKept = len(records)
	return ridership.NewTable(src.ID(), fingerprint, records), report, nil
}

func openRows(format Format, r io.Reader) (rowReader, error) {
	switch format {
	case FormatCSV:
		return newCSVRows(r), nil
	case FormatXLSX:
		return newXLSXRows(r)
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
