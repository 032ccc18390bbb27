package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX reads the first worksheet of a workbook and returns the header
// row plus the data rows, mirroring ReadCSV's shape. Operator backfill
// files sometimes arrive as spreadsheets instead of CSV exports; nothing
// in the pipeline needs more than the first sheet.
func ReadXLSX(path string) (header []string, rows [][]string, err error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.Errorf("xlsx: workbook %s has no sheets", path)
	}

	for i, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}
	return header, rows, nil
}
