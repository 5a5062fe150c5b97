package exchange

import (
	"bytes"
	"encoding/csv"

	"github.com/xuri/excelize/v2"
)

const exportSheetName = "Sheet1"

// WriteRows renders rows to the target tabular format and returns the file
// bytes. The column slice fixes both the header row and the cell order;
// attributes missing from a row render as empty cells.
func WriteRows(columns []string, rows []map[string]string, format FileFormat) ([]byte, error) {
	switch format {
	case FormatCSV:
		return writeCSV(columns, rows)
	case FormatXLSX:
		return writeXLSX(columns, rows)
	default:
		return nil, exportErrorf("unsupported export format %q", string(format))
	}
}

func writeCSV(columns []string, rows []map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(columns); err != nil {
		return nil, exportErrorf("writing CSV header: %v", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return nil, exportErrorf("writing CSV row: %v", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, exportErrorf("flushing CSV: %v", err)
	}
	return buf.Bytes(), nil
}

func writeXLSX(columns []string, rows []map[string]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	if err := f.SetSheetRow(exportSheetName, "A1", &header); err != nil {
		return nil, exportErrorf("writing XLSX header: %v", err)
	}

	record := make([]any, len(columns))
	for i, row := range rows {
		for j, col := range columns {
			record[j] = row[col]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, exportErrorf("addressing XLSX row %d: %v", i+2, err)
		}
		if err := f.SetSheetRow(exportSheetName, cell, &record); err != nil {
			return nil, exportErrorf("writing XLSX row %d: %v", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, exportErrorf("rendering XLSX: %v", err)
	}
	return buf.Bytes(), nil
}
