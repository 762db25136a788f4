// Package export writes aggregate results as CSV, JSON or XLSX files and
// imports uploaded ridership sources.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name; empty means CSV.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q (want csv, json or xlsx)", name)
	}
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Dataset is an aggregate flattened into named columns.
// Cells hold strings, float64 or int values.
type Dataset struct {
	Kind    string
	Columns []string
	Rows    [][]any
}

// ExportResult contains stats about the export
type ExportResult struct {
	RowsExported int       `json:"rows_exported"`
	Kind         string    `json:"kind"`
	Format       Format    `json:"format"`
	ExportedAt   time.Time `json:"exported_at"`
}

// Filename names a download of ds, e.g. ridership-daily-20240301-101500.csv.
func Filename(ds Dataset, f Format, at time.Time) string {
	return fmt.Sprintf("ridership-%s-%s.%s", ds.Kind, at.Format("20060102-150405"), f)
}

// Exporter writes datasets.
type Exporter struct {
	now func() time.Time
}

// NewExporter creates an exporter.
func NewExporter() *Exporter {
	return &Exporter{now: time.Now}
}

// Write encodes ds to w in format f.
func (e *Exporter) Write(w io.Writer, ds Dataset, f Format) (*ExportResult, error) {
	var err error
	switch f {
	case FormatCSV:
		err = writeCSV(w, ds)
	case FormatJSON:
		err = e.writeJSON(w, ds)
	case FormatXLSX:
		err = writeXLSX(w, ds)
	default:
		err = fmt.Errorf("invalid format %q", f)
	}
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		RowsExported: len(ds.Rows),
		Kind:         ds.Kind,
		Format:       f,
		ExportedAt:   e.now(),
	}, nil
}

func writeCSV(w io.Writer, ds Dataset) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ds.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	row := make([]string, len(ds.Columns))
	for _, cells := range ds.Rows {
		for i, c := range cells {
			row[i] = formatCell(c)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCell(c any) string {
	switch v := c.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// jsonExport is the JSON file layout: metadata plus one object per row.
type jsonExport struct {
	Metadata struct {
		ExportedAt time.Time `json:"exported_at"`
		Kind       string    `json:"kind"`
		Columns    []string  `json:"columns"`
		RowCount   int       `json:"row_count"`
		Version    string    `json:"version"`
	} `json:"metadata"`
	Rows []map[string]any `json:"rows"`
}

func (e *Exporter) writeJSON(w io.Writer, ds Dataset) error {
	var out jsonExport
	out.Metadata.ExportedAt = e.now()
	out.Metadata.Kind = ds.Kind
	out.Metadata.Columns = ds.Columns
	out.Metadata.RowCount = len(ds.Rows)
	out.Metadata.Version = "1.0"

	out.Rows = make([]map[string]any, len(ds.Rows))
	for i, cells := range ds.Rows {
		obj := make(map[string]any, len(ds.Columns))
		for j, col := range ds.Columns {
			obj[col] = cells[j]
		}
		out.Rows[i] = obj
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// writeXLSX streams ds into a single worksheet named after its kind.
func writeXLSX(w io.Writer, ds Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := ds.Kind
	if sheet == "" {
		sheet = "data"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open sheet: %w", err)
	}
	header := make([]interface{}, len(ds.Columns))
	for i, col := range ds.Columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write XLSX header: %w", err)
	}
	for i, cells := range ds.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write XLSX row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush XLSX sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write XLSX: %w", err)
	}
	return nil
}
