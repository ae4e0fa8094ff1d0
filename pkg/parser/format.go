// Package parser turns uploaded CSV, TSV and XLSX files into ordered rows.
package parser

import (
	"path/filepath"
	"strings"

	"github.com/mimir-aip/mimir-insight/pkg/models"
)

// Format is a supported tabular file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// Compression is an optional wrapper around a delimited file
type Compression string

const (
	CompressionNone   Compression = ""
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionLZ4    Compression = "lz4"
	CompressionSnappy Compression = "snappy"
)

// compressionSuffixes maps wrapper extensions to their codec
var compressionSuffixes = []struct {
	suffix      string
	compression Compression
}{
	{".gz", CompressionGzip},
	{".zst", CompressionZstd},
	{".zstd", CompressionZstd},
	{".lz4", CompressionLZ4},
	{".sz", CompressionSnappy},
}

// Detect determines the format from the file name alone. It performs no I/O.
func Detect(filename string) (Format, Compression, error) {
	name := strings.ToLower(strings.TrimSpace(filepath.Base(filename)))

	compression := CompressionNone
	for _, c := range compressionSuffixes {
		if strings.HasSuffix(name, c.suffix) {
			compression = c.compression
			name = strings.TrimSuffix(name, c.suffix)
			break
		}
	}

	ext := filepath.Ext(name)
	switch ext {
	case ".csv":
		return FormatCSV, compression, nil
	case ".tsv":
		return FormatTSV, compression, nil
	case ".xlsx", ".xlsm":
		if compression != CompressionNone {
			return "", "", models.NewUnsupportedFormatError("compressed spreadsheets are not supported: %s", filename)
		}
		return FormatXLSX, compression, nil
	case ".xls":
		return "", "", models.NewUnsupportedFormatError("legacy .xls workbooks are not supported, save as .xlsx or .csv: %s", filename)
	case "":
		return "", "", models.NewUnsupportedFormatError("file has no extension: %q", filename)
	default:
		return "", "", models.NewUnsupportedFormatError("unsupported file extension %q", ext)
	}
}

// BaseName strips directories and every recognised extension from a file name
func BaseName(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	for _, suffix := range []string{".gz", ".zst", ".zstd", ".lz4", ".sz", ".csv", ".tsv", ".xlsx", ".xlsm"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			name = name[:len(name)-len(suffix)]
		}
	}
	return name
}
