package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

type parsedDocument struct {
	Title   string
	Content string
}

type parser func(path string, data []byte) (parsedDocument, error)

var parsers = map[DocumentFormat]parser{
	FormatText:     parseText,
	FormatMarkdown: parseMarkdown,
	FormatPDF:      parsePDF,
	FormatCSV:      parseCSV,
}

func parseText(path string, data []byte) (parsedDocument, error) {
	content := normalizePlainText(string(data))
	return parsedDocument{Title: baseName(path), Content: content}, nil
}

func parseMarkdown(path string, data []byte) (parsedDocument, error) {
	content := normalizePlainText(string(data))
	return parsedDocument{Title: ExtractTitle(content, baseName(path)), Content: content}, nil
}

func parsePDF(path string, data []byte) (parsedDocument, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return parsedDocument{}, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return parsedDocument{}, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return parsedDocument{}, fmt.Errorf("read pdf text: %w", err)
	}

	content := normalizePlainText(buf.String())
	title := firstNonEmptyLine(content)
	if title == "" {
		title = baseName(path)
	}
	return parsedDocument{Title: title, Content: content}, nil
}

func parseCSV(path string, data []byte) (parsedDocument, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return parsedDocument{}, fmt.Errorf("parse csv: %w", err)
	}

	title := baseName(path)
	if len(records) == 0 {
		return parsedDocument{Title: title}, nil
	}

	headers := records[0]
	rows := make([]string, 0, len(records)-1)
	for idx, row := range records[1:] {
		rows = append(rows, formatCSVRow(headers, row, idx))
	}

	// Rows become paragraphs so the chunker never splits one in half.
	return parsedDocument{Title: title, Content: strings.Join(rows, "\n\n")}, nil
}

// ExtractTitle returns the first Markdown heading, or fallback when there is none.
func ExtractTitle(content, fallback string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); title != "" {
				return title
			}
		}
	}
	return fallback
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func firstNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(row[i]))
	}

	for i := len(headers); i < len(row); i++ {
		builder.WriteString(fmt.Sprintf("\nExtra %d: %s", i+1, strings.TrimSpace(row[i])))
	}

	return builder.String()
}
