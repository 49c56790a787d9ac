// Package importer parses rider roster files.
package importer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	DefaultName     = "Unknown Rider"
	DefaultCategory = "Open"
)

// Row is one roster line. Number may be blank; the caller decides what to
// do with such rows.
type Row struct {
	Line     int    `json:"line"`
	Number   string `json:"riderNumber"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Licence  string `json:"caLicenceNumber,omitempty"`
}

// Parse reads a comma-separated roster: number, name[, category[, licence]].
// A first line whose first column is non-numeric and mentions "number" is
// treated as a header. Lines with fewer than two columns are ignored.
// UTF-8 and UTF-16 byte order marks are honoured.
func Parse(r io.Reader) ([]Row, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rows []Row
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		parts := strings.Split(text, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if line == 1 && isHeader(parts[0]) {
			continue
		}
		if len(parts) < 2 {
			continue
		}

		row := Row{Line: line, Number: parts[0], Name: parts[1], Category: DefaultCategory}
		if row.Name == "" {
			row.Name = DefaultName
		}
		if len(parts) > 2 && parts[2] != "" {
			row.Category = parts[2]
		}
		if len(parts) > 3 {
			row.Licence = parts[3]
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}
	return rows, nil
}

func isHeader(first string) bool {
	if _, err := strconv.ParseFloat(first, 64); err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(first), "number")
}
