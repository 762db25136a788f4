package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nicktill/ridership/pkg/config"
	"github.com/nicktill/ridership/pkg/loader"
	"github.com/nicktill/ridership/pkg/ridership"
)

// Catalog accepts named sources. Implemented by explorer.Service.
type Catalog interface {
	Register(name string, src loader.Source)
}

// Importer registers uploaded ridership files as sources.
type Importer struct {
	catalog  Catalog
	maxBytes int64
	validate *validator.Validate
}

// NewImporter creates an importer; maxBytes <= 0 uses config.MaxImportBytes.
func NewImporter(catalog Catalog, maxBytes int64) *Importer {
	if maxBytes <= 0 {
		maxBytes = config.MaxImportBytes
	}
	return &Importer{
		catalog:  catalog,
		maxBytes: maxBytes,
		validate: validator.New(),
	}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	Source       string                       `json:"source"`
	RowsImported int                          `json:"rows_imported"`
	RowsDropped  int                          `json:"rows_dropped"`
	FirstDate    string                       `json:"first_date,omitempty"`
	LastDate     string                       `json:"last_date,omitempty"`
	ImportedAt   time.Time                    `json:"imported_at"`
	Errors       []*ridership.DataFormatError `json:"errors,omitempty"`
}

// ImportSource reads a whole CSV or XLSX upload, parses it, and registers it
// under name. Bad rows are dropped and reported; a file that cannot be read
// at all (missing columns, not a workbook) is rejected and nothing is registered.
func (im *Importer) ImportSource(ctx context.Context, name string, format loader.Format, r io.Reader) (*ImportResult, error) {
	if err := im.validate.Var(name, "required,max=64,printascii,excludesall=/"); err != nil {
		return nil, &ridership.DataFormatError{Column: "name", Value: name, Reason: "want up to 64 printable characters without slashes"}
	}

	data, err := io.ReadAll(io.LimitReader(r, im.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > im.maxBytes {
		return nil, &ridership.DataFormatError{Reason: fmt.Sprintf("upload exceeds %d bytes", im.maxBytes)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ridership.DataFormatError{Reason: "upload is empty"}
	}

	src := &loader.BytesSource{Name: name, Kind: format, Data: data}
	fingerprint, err := src.Fingerprint()
	if err != nil {
		return nil, err
	}
	table, report, err := loader.Parse(ctx, src, fingerprint)
	if err != nil {
		return nil, err
	}
	im.catalog.Register(name, src)

	result := &ImportResult{
		Source:       name,
		RowsImported: report.RowsKept,
		RowsDropped:  report.RowsDropped,
		ImportedAt:   time.Now(),
		Errors:       report.Errors,
	}
	if first, last, ok := table.DateRange(); ok {
		result.FirstDate = first.Format(time.DateOnly)
		result.LastDate = last.Format(time.DateOnly)
	}
	return result, nil
}
