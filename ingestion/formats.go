// Package ingestion turns a directory of files into documents and chunks ready for embedding.
package ingestion

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatText represents plain UTF-8 text.
	FormatText DocumentFormat = "text"
	// FormatMarkdown represents Markdown documents.
	FormatMarkdown DocumentFormat = "markdown"
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatCSV represents comma separated values documents.
	FormatCSV DocumentFormat = "csv"
)

// DetectFormat infers a document format from the provided path's extension,
// falling back to sniffing the payload for plain text.
func DetectFormat(path string, data []byte) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".pdf":
		return FormatPDF
	case ".csv":
		return FormatCSV
	}
	if IsText(data) {
		return FormatText
	}
	return FormatUnknown
}

// IsText reports whether data looks like plain text: valid UTF-8 without NUL bytes.
func IsText(data []byte) bool {
	return utf8.Valid(data) && !bytes.Contains(data, []byte{0})
}
