// Package export renders the board as JSON, HTML or PDF.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatHTML, FormatPDF:
		return Format(s), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chrome or Chromium binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
