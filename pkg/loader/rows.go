package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// rowReader yields raw rows, header first, and io.EOF when exhausted.
type rowReader interface {
	Next() ([]string, error)
	Close() error
}

// csvRows wraps encoding/csv with ragged rows allowed; short rows are
// reported per record instead of aborting the load.
type csvRows struct {
	r *csv.Reader
}

func newCSVRows(r io.Reader) *csvRows {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &csvRows{r: cr}
}

func (c *csvRows) Next() ([]string, error) {
	row, err := c.r.Read()
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return nil, fmt.Errorf("csv line %d: %w", parseErr.Line, parseErr.Err)
	}
	return row, err
}

func (c *csvRows) Close() error { return nil }

// xlsxRows streams the first worksheet of a workbook.
type xlsxRows struct {
	file *excelize.File
	rows *excelize.Rows
}

func newXLSXRows(r io.Reader) (*xlsxRows, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return &xlsxRows{file: f, rows: rows}, nil
}

func (x *xlsxRows) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return x.rows.Columns()
}

func (x *xlsxRows) Close() error {
	rowsErr := x.rows.Close()
	fileErr := x.file.Close()
	return errors.Join(rowsErr, fileErr)
}
