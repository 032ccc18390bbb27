package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Backfill raw records from a CSV, XLSX, or zipped export",
	Long: "Bulk-loads records through the same last-write-wins upsert the " +
		"live sources use, so a backfill never clobbers fresher data. " +
		"Accepts .csv, .xlsx, or a .zip containing one of either. " +
		"Expected columns: source_id, natural_key, observed_at, fetched_at, payload.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		recs, err := loadRecordFile(args[0])
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return eris.New("no records in file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertRecords(ctx, recs)
		if err != nil {
			return eris.Wrap(err, "import records")
		}

		zap.L().Info("import complete",
			zap.Int("parsed", len(recs)),
			zap.Int64("upserted", n),
		)
		fmt.Printf("Imported %d of %d records (%d were stale or unchanged).\n",
			n, len(recs), int64(len(recs))-n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

var importColumns = []string{"source_id", "natural_key", "observed_at", "fetched_at", "payload"}

// loadRecordFile dispatches on the file extension. A ZIP must contain
// exactly one CSV or XLSX file.
func loadRecordFile(path string) ([]model.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		dir, err := os.MkdirTemp("", "gasrisk-import-*")
		if err != nil {
			return nil, eris.Wrap(err, "create extraction dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		inner, err := fetcher.ExtractZIPSingle(path, dir)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Ext(inner), ".zip") {
			return nil, eris.Errorf("nested archive %s not supported", filepath.Base(inner))
		}
		return loadRecordFile(inner)

	case ".xlsx":
		header, rows, err := fetcher.ReadXLSX(path)
		if err != nil {
			return nil, err
		}
		if len(header) == 0 {
			return nil, eris.New("empty worksheet")
		}
		return parseRecordRows(header, rows)

	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return parseRecordCSV(f)
	}
}

// parseRecordCSV reads the backfill format from a CSV stream.
func parseRecordCSV(r io.Reader) ([]model.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(importColumns)

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}

	var rows [][]string
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "read csv line %d", line)
		}
		rows = append(rows, row)
	}
	return parseRecordRows(header, rows)
}

// parseRecordRows validates the header and converts rows to raw records.
// Timestamps accept RFC 3339 or a bare date.
func parseRecordRows(header []string, rows [][]string) ([]model.RawRecord, error) {
	if len(header) < len(importColumns) {
		return nil, eris.Errorf("unexpected header: got %d columns, want %d", len(header), len(importColumns))
	}
	for i, want := range importColumns {
		if strings.TrimSpace(header[i]) != want {
			return nil, eris.Errorf("unexpected header column %d: got %q, want %q", i, header[i], want)
		}
	}

	valid := make(map[model.SourceID]bool)
	for _, id := range model.AllSources() {
		valid[id] = true
	}

	var out []model.RawRecord
	for n, row := range rows {
		line := n + 2 // 1-based, after the header
		if len(row) < len(importColumns) {
			return nil, eris.Errorf("line %d: got %d columns, want %d", line, len(row), len(importColumns))
		}

		id := model.SourceID(row[0])
		if !valid[id] {
			return nil, eris.Errorf("line %d: unknown source %q", line, row[0])
		}
		if row[1] == "" {
			return nil, eris.Errorf("line %d: empty natural_key", line)
		}
		observed, err := parseTimestamp(row[2])
		if err != nil {
			return nil, eris.Wrapf(err, "line %d: observed_at", line)
		}
		fetched, err := parseTimestamp(row[3])
		if err != nil {
			return nil, eris.Wrapf(err, "line %d: fetched_at", line)
		}
		if !json.Valid([]byte(row[4])) {
			return nil, eris.Errorf("line %d: payload is not valid JSON", line)
		}

		out = append(out, model.RawRecord{
			SourceID:   id,
			NaturalKey: row[1],
			ObservedAt: observed,
			FetchedAt:  fetched,
			Payload:    json.RawMessage(row[4]),
		})
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Errorf("unparseable timestamp %q", s)
	}
	return t.UTC(), nil
}
