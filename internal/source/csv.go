// internal/source/csv.go
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrInvalidColumn indicates the sample column index must be non-negative
	ErrInvalidColumn = errors.New("csv column index must be non-negative")
	// ErrMissingColumn indicates a row is shorter than the configured column
	ErrMissingColumn = errors.New("csv row has no sample column")
	// ErrInvalidSample indicates a field could not be parsed as a number
	ErrInvalidSample = errors.New("csv field is not a number")
)

// CSVConfig selects where samples live in a CSV recording.
type CSVConfig struct {
	// Column is the zero-based field index holding the sample (from config: input_column)
	Column int
	// Header skips the first record (from config: input_header)
	Header bool
}

// CSVReader reads one sample per CSV record. Blank lines and lines starting
// with '#' are skipped.
type CSVReader struct {
	config  CSVConfig
	reader  *csv.Reader
	closer  io.Closer
	started bool
}

// NewCSVReader reads samples from r.
func NewCSVReader(r io.Reader, cfg CSVConfig) (*CSVReader, error) {
	if cfg.Column < 0 {
		return nil, ErrInvalidColumn
	}
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	return &CSVReader{config: cfg, reader: cr}, nil
}

// OpenCSV opens a recording file. The caller must Close it.
func OpenCSV(path string, cfg CSVConfig) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	r, err := NewCSVReader(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Next returns the next sample or io.EOF.
func (r *CSVReader) Next() (float64, error) {
	if !r.started {
		r.started = true
		if r.config.Header {
			if _, err := r.reader.Read(); err != nil {
				return 0, r.wrap(err)
			}
		}
	}

	record, err := r.reader.Read()
	if err != nil {
		return 0, r.wrap(err)
	}

	line, _ := r.reader.FieldPos(0)
	if r.config.Column >= len(record) {
		return 0, fmt.Errorf("line %d: %w (want column %d, have %d)", line, ErrMissingColumn, r.config.Column, len(record))
	}

	field := strings.TrimSpace(record[r.config.Column])
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: %w: %q", line, ErrInvalidSample, field)
	}
	return v, nil
}

func (r *CSVReader) wrap(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("read recording: %w", err)
}

// Close releases the underlying file, if any
func (r *CSVReader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
