package fetcher

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// CSVOptions configures CSV parsing.
type CSVOptions struct {
	Delimiter   rune // default ','
	LazyQuotes  bool
	Windows1252 bool // EBB CSV exports are windows-1252, not UTF-8
}

// ReadCSV parses r into a header row and data rows. Rows with a different
// field count than the header are kept; callers index defensively.
func ReadCSV(r io.Reader, opts CSVOptions) (header []string, rows [][]string, err error) {
	if opts.Windows1252 {
		r = transform.NewReader(r, charmap.Windows1252.NewDecoder())
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read")
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	header = make([]string, len(all[0]))
	for i, h := range all[0] {
		header[i] = strings.TrimSpace(h)
	}
	return header, all[1:], nil
}

// HeaderIndex maps lower-cased header names to column positions.
func HeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// Field returns the trimmed value of column i, or "" when out of range.
func Field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
