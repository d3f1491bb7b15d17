// Package csvtext turns uploaded CSV text into header-keyed rows. It is tolerant of
// the quirks lab software produces: byte-order marks, non-comma delimiters,
// unbalanced quotes and rows that are shorter or longer than the header.
package csvtext

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/hydrosafe/coa-dashboard/internal/cells"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

const utf8BOM = "\uFEFF"

var candidates = []rune{',', ';', '\t', '|'}

// Table is the tokenized form of one uploaded file.
type Table struct {
	Headers   []string
	Rows      []models.RawRow
	Delimiter rune
}

// Tokenize parses text into a Table. A file without any record yields an empty
// table rather than an error; rejecting it is up to the validator.
func Tokenize(text string) Table {
	text = strings.TrimPrefix(text, utf8BOM)
	delim := SniffDelimiter(firstNonEmptyLine(text))
	table := Table{Delimiter: delim}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	// With a whitespace delimiter the reader would also drop leading empty
	// fields; cells are trimmed in toRow instead.
	reader.TrimLeadingSpace = delim != '\t'

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Undecodable record; keep scanning.
			continue
		}

		if table.Headers == nil {
			table.Headers = make([]string, len(fields))
			for i, h := range fields {
				table.Headers[i] = strings.TrimSpace(h)
			}
			continue
		}
		table.Rows = append(table.Rows, table.toRow(fields))
	}
	return table
}

func (t Table) toRow(fields []string) models.RawRow {
	n := len(t.Headers)
	switch {
	case len(fields) < n:
		padded := make([]string, n)
		copy(padded, fields)
		fields = padded
	case len(fields) > n && n > 0:
		merged := make([]string, n)
		copy(merged, fields[:n-1])
		merged[n-1] = strings.Join(fields[n-1:], string(t.Delimiter))
		fields = merged
	}

	row := make(models.RawRow, n)
	for i, h := range t.Headers {
		row[h] = strings.TrimSpace(fields[i])
	}
	return row
}

// SniffDelimiter picks the most frequent of comma, semicolon, tab and pipe in line.
// Ties and empty lines fall back to the earlier candidate, so comma wins by default.
func SniffDelimiter(line string) rune {
	best, bestCount := ',', 0
	for _, c := range candidates {
		if n := strings.Count(line, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// HeaderIndex resolves column names case-insensitively against the file's headers.
type HeaderIndex map[string]string

// NewHeaderIndex builds the normalized header map. The first spelling of a
// header wins when two headers normalize to the same name.
func NewHeaderIndex(headers []string) HeaderIndex {
	idx := make(HeaderIndex, len(headers))
	for _, h := range headers {
		key := cells.Norm(h)
		if _, ok := idx[key]; !ok {
			idx[key] = h
		}
	}
	return idx
}

// Has reports whether a column named name exists.
func (idx HeaderIndex) Has(name string) bool {
	_, ok := idx[cells.Norm(name)]
	return ok
}

// Actual returns the header as spelled in the file.
func (idx HeaderIndex) Actual(name string) (string, bool) {
	h, ok := idx[cells.Norm(name)]
	return h, ok
}

// Cell returns the trimmed value of column name in row, or "" when absent.
func (idx HeaderIndex) Cell(row models.RawRow, name string) string {
	h, ok := idx.Actual(name)
	if !ok {
		return ""
	}
	return strings.TrimSpace(row[h])
}
