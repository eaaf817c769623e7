package manifest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ogero/stt-models/internal/common"
)

// ErrFormat is returned for data rows that cannot be turned into a Row.
var ErrFormat = errors.New("manifest: invalid row")

// Row is a manifest entry mapping a language code to a release identifier.
type Row struct {
	// Code is the language code, used as the output directory name.
	Code string
	// Release is the release identifier on the hosting service.
	Release string
	// Line is the line the row starts at, for error reporting.
	Line int
}

// Reader reads manifest rows one physical line at a time. The first line is a header and is
// always skipped, whatever it holds. Fields may not span lines.
type Reader struct {
	br            *bufio.Reader
	line          int
	headerSkipped bool
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next returns the next data row, or io.EOF once the manifest is exhausted.
// Blank lines are data rows without columns and fail with ErrFormat.
func (r *Reader) Next() (Row, error) {
	if !r.headerSkipped {
		if _, err := r.readLine(); err != nil {
			return Row{}, err
		}
		r.headerSkipped = true
	}

	text, err := r.readLine()
	if err != nil {
		return Row{}, err
	}
	line := r.line

	record, err := parseLine(text)
	if err != nil {
		return Row{}, fmt.Errorf("%w: line %d: %w", ErrFormat, line, err)
	}

	if len(record) < 2 {
		return Row{}, fmt.Errorf("%w: line %d has %d column(s), expected at least 2", ErrFormat, line, len(record))
	}

	row := Row{
		Code:    strings.TrimSpace(record[0]),
		Release: strings.TrimSpace(record[1]),
		Line:    line,
	}

	if err := common.ValidateLanguageCode(row.Code); err != nil {
		return Row{}, fmt.Errorf("%w: line %d: %w", ErrFormat, line, err)
	}
	if err := common.ValidateReleaseIdentifier(row.Release); err != nil {
		return Row{}, fmt.Errorf("%w: line %d: %w", ErrFormat, line, err)
	}

	return row, nil
}

// readLine returns the next line without its terminator, or io.EOF when none is left.
func (r *Reader) readLine() (string, error) {
	text, err := r.br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to bufio.Reader.ReadString: %w", err)
	}
	if errors.Is(err, io.EOF) && text == "" {
		return "", io.EOF
	}
	r.line++
	return strings.TrimSuffix(strings.TrimSuffix(text, "\n"), "\r"), nil
}

// parseLine splits a single manifest line. An empty line has no fields.
func parseLine(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	record, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to csv.Reader.Read: %w", err)
	}
	return record, nil
}

// ReadAll collects every data row of r.
func ReadAll(r io.Reader) ([]Row, error) {
	mr := NewReader(r)

	var rows []Row
	for {
		row, err := mr.Next()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// File is a manifest opened from disk.
type File struct {
	*Reader
	f *os.File
}

// Open opens the manifest at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to os.Open: %w", err)
	}
	return &File{Reader: NewReader(f), f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}
