package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Format is the encoding of a source file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported source format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// Source is where ridership rows come from.
type Source interface {
	// ID identifies the source across content changes (e.g. a file path)
	ID() string

	// Format of the encoded rows
	Format() Format

	// Fingerprint changes whenever the content changes
	Fingerprint() (string, error)

	// Open returns a reader positioned at the header row
	Open() (io.ReadCloser, error)
}

// FileSource reads a CSV or XLSX file from disk.
// Its fingerprint is the file size and modification time, so an edited file
// is reloaded without hashing its content on every query.
type FileSource struct {
	path   string
	format Format
}

// NewFileSource creates a file source, inferring the format from the extension.
func NewFileSource(path string) (*FileSource, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, format: format}, nil
}

func (s *FileSource) ID() string     { return "file:" + s.path }
func (s *FileSource) Format() Format { return s.format }

func (s *FileSource) Fingerprint() (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	return strconv.FormatInt(info.Size(), 10) + "-" + strconv.FormatInt(info.ModTime().UnixNano(), 10), nil
}

func (s *FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return f, nil
}

// BytesSource serves rows already held in memory (uploads, tests).
// Its fingerprint is an xxhash of the content.
type BytesSource struct {
	Name string
	Kind Format
	Data []byte
}

func (s *BytesSource) ID() string { return "bytes:" + s.Name }

func (s *BytesSource) Format() Format {
	if s.Kind == "" {
		return FormatCSV
	}
	return s.Kind
}

func (s *BytesSource) Fingerprint() (string, error) {
	return strconv.FormatUint(xxhash.Sum64(s.Data), 16), nil
}

func (s *BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}
