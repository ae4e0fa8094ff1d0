package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/xuri/excelize/v2"

	"github.com/mimir-aip/mimir-insight/pkg/models"
)

// DefaultMaxBytes bounds an upload when Options.MaxBytes is unset
const DefaultMaxBytes int64 = 100 << 20

// Check the context every this many rows
const cancelCheckInterval = 1000

var errTooLarge = errors.New("input exceeds size limit")

// Options control parsing
type Options struct {
	// MaxBytes bounds the decompressed input size
	MaxBytes int64
	// Sheet selects a worksheet for spreadsheet input. Empty means the first sheet.
	Sheet string
}

// Table is a parsed file: an ordered header and rows keyed by header name
type Table struct {
	Columns []string
	Rows    []models.Row
}

// Parse reads a whole tabular file. The format is taken from filename.
func Parse(ctx context.Context, filename string, r io.Reader, opts Options) (*Table, error) {
	format, compression, err := Detect(filename)
	if err != nil {
		return nil, err
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	src, closeFn, err := decompress(r, compression)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	limited := &limitReader{r: src, remaining: opts.MaxBytes}

	var table *Table
	switch format {
	case FormatCSV:
		table, err = parseDelimited(ctx, limited, ',')
	case FormatTSV:
		table, err = parseDelimited(ctx, limited, '\t')
	case FormatXLSX:
		table, err = parseWorkbook(ctx, limited, opts.Sheet)
	default:
		return nil, models.NewUnsupportedFormatError("unsupported format %q", format)
	}
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, models.NewParseError("file exceeds the %d byte limit", opts.MaxBytes)
		}
		return nil, err
	}

	if len(table.Rows) == 0 {
		return nil, models.NewParseError("file contains no data rows")
	}
	return table, nil
}

func decompress(r io.Reader, compression Compression) (io.Reader, func(), error) {
	switch compression {
	case CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, models.WrapError(err, models.ErrorKindParse, "failed to open gzip stream")
		}
		return gz, func() { gz.Close() }, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, models.WrapError(err, models.ErrorKindParse, "failed to open zstd stream")
		}
		return zr, zr.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionSnappy:
		// Framed stream format, as written by snappy.NewBufferedWriter
		return snappy.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}

func parseDelimited(ctx context.Context, r io.Reader, comma rune) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, models.NewParseError("file is empty")
	}
	if err != nil {
		return nil, wrapReadError(err, "failed to read header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	columns, err := NormalizeHeader(header)
	if err != nil {
		return nil, err
	}

	table := &Table{Columns: columns}
	for line := 2; ; line++ {
		if line%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapReadError(err, "failed to read line %d", line)
		}
		if isBlankRecord(record) {
			continue
		}
		table.Rows = append(table.Rows, buildRow(columns, record))
	}
	return table, nil
}

func parseWorkbook(ctx context.Context, r io.Reader, sheet string) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, wrapReadError(err, "failed to open workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, models.NewParseError("workbook has no sheets")
	}
	if sheet == "" {
		sheet = sheets[0]
	} else if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, models.NewParseError("sheet %q not found", sheet)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, wrapReadError(err, "failed to read sheet %q", sheet)
	}
	defer rows.Close()

	var (
		table   *Table
		columns []string
		count   int
	)
	for rows.Next() {
		count++
		if count%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, wrapReadError(err, "failed to read row %d", count)
		}
		if isBlankRecord(record) {
			continue
		}

		if table == nil {
			columns, err = NormalizeHeader(record)
			if err != nil {
				return nil, err
			}
			table = &Table{Columns: columns}
			continue
		}
		table.Rows = append(table.Rows, buildRow(columns, record))
	}
	if err := rows.Error(); err != nil {
		return nil, wrapReadError(err, "failed to iterate sheet %q", sheet)
	}
	if table == nil {
		return nil, models.NewParseError("sheet %q is empty", sheet)
	}
	return table, nil
}

// NormalizeHeader trims header cells, names blank ones column_<n> and validates the result
func NormalizeHeader(header []string) ([]string, error) {
	// Trailing blank cells are spreadsheet padding, not columns
	end := len(header)
	for end > 0 && strings.TrimSpace(header[end-1]) == "" {
		end--
	}
	if end == 0 {
		return nil, models.NewParseError("header row has no columns")
	}

	columns := make([]string, end)
	for i := 0; i < end; i++ {
		name := strings.TrimSpace(header[i])
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		columns[i] = name
	}
	if err := ValidateColumns(columns); err != nil {
		return nil, err
	}
	return columns, nil
}

// ValidateColumns rejects headers that cannot become distinct storage columns.
// Column names compare case-insensitively in the store.
func ValidateColumns(columns []string) error {
	if len(columns) == 0 {
		return models.NewParseError("no columns")
	}
	seen := make(map[string]string, len(columns))
	for _, name := range columns {
		if strings.TrimSpace(name) == "" {
			return models.NewParseError("blank column name")
		}
		if strings.ContainsRune(name, 0) {
			return models.NewParseError("column name %q contains a NUL byte", name)
		}
		key := strings.ToLower(name)
		if key == models.RowKeyColumn {
			return models.NewParseError("column name %q is reserved", name)
		}
		if prev, ok := seen[key]; ok {
			return models.NewParseError("duplicate column name %q (conflicts with %q)", name, prev)
		}
		seen[key] = name
	}
	return nil
}

func buildRow(columns []string, record []string) models.Row {
	row := make(models.Row, len(columns))
	for i, name := range columns {
		if i >= len(record) || record[i] == "" {
			row[name] = nil
			continue
		}
		row[name] = record[i]
	}
	return row
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func wrapReadError(err error, format string, args ...any) error {
	if errors.Is(err, errTooLarge) {
		return err
	}
	return models.WrapError(err, models.ErrorKindParse, format, args...)
}

// limitReader fails once more than remaining bytes have been read
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
