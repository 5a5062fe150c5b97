package exchange

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// reader.go turns a file handle plus a column mapping into an ordered
// sequence of RawRows. Only mapped columns are read; everything else in the
// source file is ignored. All cell values are read as strings with no type
// coercion at this layer, and missing cells become the empty string.

// ReadRows reads every data row from r in the given format.
//
// When hasHeaders is true the mapping keys are header-name strings matched
// case-sensitively against the file's header row, the header occupies row 1
// and the first data row is numbered 2. When false, the keys are zero-based
// column indices supplied as strings, and the first data row is numbered 1.
//
// Structural problems (unreadable file, referenced columns absent, invalid
// index keys) return an error wrapping ErrImport.
func ReadRows(r io.Reader, format FileFormat, mapping ColumnMapping, hasHeaders bool) ([]RawRow, error) {
	records, err := readRecords(r, format)
	if err != nil {
		return nil, err
	}
	return mapRecords(records, mapping, hasHeaders)
}

// readRecords decodes the raw grid of the file without interpreting it.
func readRecords(r io.Reader, format FileFormat) ([][]string, error) {
	switch format {
	case FormatCSV:
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		records, err := cr.ReadAll()
		if err != nil {
			return nil, importErrorf("reading CSV: %v", err)
		}
		return records, nil

	case FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, importErrorf("reading XLSX: %v", err)
		}
		defer f.Close()
		sheet := f.GetSheetName(0)
		if sheet == "" {
			return nil, importErrorf("XLSX file contains no sheets")
		}
		records, err := f.GetRows(sheet)
		if err != nil {
			return nil, importErrorf("reading XLSX sheet %q: %v", sheet, err)
		}
		return records, nil

	case FormatXLS:
		// The XLS decoder needs random access; buffer the whole file.
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, importErrorf("reading XLS: %v", err)
		}
		wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, importErrorf("reading XLS: %v", err)
		}
		records := wb.ReadAllCells(1 << 20)
		return records, nil

	default:
		return nil, fmt.Errorf("%w (got %q)", ErrUnknownFileFormat, string(format))
	}
}

// mapRecords applies the column mapping and numbers the rows.
func mapRecords(records [][]string, mapping ColumnMapping, hasHeaders bool) ([]RawRow, error) {
	columns, err := resolveColumns(records, mapping, hasHeaders)
	if err != nil {
		return nil, err
	}

	firstDataRow := 1
	data := records
	if hasHeaders {
		firstDataRow = 2
		if len(records) > 0 {
			data = records[1:]
		} else {
			data = nil
		}
	}

	rows := make([]RawRow, 0, len(data))
	for i, record := range data {
		if isEmptyRecord(record) {
			continue
		}
		values := make(map[string]string, len(columns))
		for _, col := range columns {
			if col.index < len(record) {
				values[col.attribute] = record[col.index]
			} else {
				values[col.attribute] = ""
			}
		}
		rows = append(rows, RawRow{Number: firstDataRow + i, Values: values})
	}

	return rows, nil
}

// boundColumn pins a target attribute to a column position in the file.
type boundColumn struct {
	attribute string
	index     int
}

func resolveColumns(records [][]string, mapping ColumnMapping, hasHeaders bool) ([]boundColumn, error) {
	columns := make([]boundColumn, 0, len(mapping))

	if hasHeaders {
		if len(records) == 0 {
			return nil, importErrorf("file has no header row")
		}
		header := records[0]
		index := make(map[string]int, len(header))
		for i, name := range header {
			// First occurrence wins for duplicate headers.
			if _, ok := index[name]; !ok {
				index[name] = i
			}
		}
		for key, attribute := range mapping {
			pos, ok := index[key]
			if !ok {
				return nil, importErrorf("column %q not found in file header", key)
			}
			columns = append(columns, boundColumn{attribute: attribute, index: pos})
		}
	} else {
		for key, attribute := range mapping {
			pos, err := strconv.Atoi(key)
			if err != nil || pos < 0 {
				return nil, importErrorf("invalid column index %q: must be a non-negative integer", key)
			}
			columns = append(columns, boundColumn{attribute: attribute, index: pos})
		}
	}

	sort.Slice(columns, func(i, j int) bool { return columns[i].index < columns[j].index })
	return columns, nil
}

// isEmptyRecord reports whether every cell in the record is empty.
func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if v != "" {
			return false
		}
	}
	return true
}
