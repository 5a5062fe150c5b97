// Package exchange provides the generic bulk data import/export engine.
// It reads tabular files (CSV, XLS, XLSX), maps columns onto entity
// attributes, validates and transforms each row, and persists or renders
// the result. The package has no HTTP dependencies and can be driven by
// any frontend or worker.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileFormat identifies a supported tabular file format.
type FileFormat string

const (
	FormatCSV  FileFormat = "CSV"
	FormatXLSX FileFormat = "XLSX"
	// FormatXLS is accepted for import only; it is never a valid export target.
	FormatXLS FileFormat = "XLS"
)

// Extension returns the canonical filename suffix for the format.
func (f FileFormat) Extension() string {
	switch f {
	case FormatXLSX:
		return ".xlsx"
	case FormatXLS:
		return ".xls"
	default:
		return ".csv"
	}
}

// MimeType returns the MIME type used for Content-Type headers and
// filename-based format detection.
func (f FileFormat) MimeType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatXLS:
		return "application/vnd.ms-excel"
	default:
		return "text/csv"
	}
}

// StorageLocation is the target location for an exported file.
//
// LocationDisk stores the file on local disk. Fine for small files, but the
// caller is responsible for deleting the file when done.
// LocationMemory keeps the rendered bytes in process memory. Best offloaded
// to an async worker so it does not eat into the request process's memory.
// LocationExternal uploads the file to external object storage.
type StorageLocation string

const (
	LocationDisk     StorageLocation = "DISK_FILE"
	LocationMemory   StorageLocation = "MEMORY_FILE"
	LocationExternal StorageLocation = "EXTERNAL"
)

// ColumnMapping maps a source column identifier to a target attribute name.
// Keys are header names when the file has headers, or zero-based column
// indices rendered as strings when it does not.
type ColumnMapping map[string]string

// RawRow is one input row after column mapping: attribute name to raw string
// value. Missing cells are normalized to the empty string. Number is the
// 1-based position in the source file; the first data row is 2 when the file
// has a header row, 1 otherwise.
type RawRow struct {
	Number int
	Values map[string]string
}

// RowError is a single validation failure tied to one input row and,
// implicitly, one attribute. Description is attribute-name-prefixed so the
// failing attribute is unambiguous in row-level reports.
type RowError struct {
	RowNumber   int    `json:"row_number"`
	Description string `json:"description"`
	Title       string `json:"title,omitempty"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("error on row: %d. %s", e.RowNumber, e.Description)
}

// ValidatedRow holds the typed values produced by backward resolvers for a
// single row that passed validation.
type ValidatedRow map[string]any

// ImportResult is the outcome of a single import job.
//
// If Errors is non-empty and Data is empty, the whole import attempt failed.
// Partial success (some rows imported, some rejected) populates all four
// fields simultaneously; both outcomes are legitimate depending on the
// entity's partial-success policy.
type ImportResult struct {
	Errors       []RowError       `json:"errors"`
	Data         []map[string]any `json:"data"`
	ObjectIDs    []string         `json:"object_ids"`
	TotalSkipped int              `json:"total_skipped"`
}

// Failed reports whether the import produced nothing but errors.
func (r ImportResult) Failed() bool {
	return len(r.Errors) > 0 && len(r.Data) == 0
}

// ExportOutput is the result of a single export job. Exactly one of Data,
// Path, or ExternalFileID carries the file, chosen by the requested storage
// location. ExternalFileID may additionally be set when the export was
// mirrored to external storage.
type ExportOutput struct {
	Data           []byte
	Path           string
	FileName       string
	MimeType       string
	ExternalFileID *uuid.UUID
}

// QueryDescription is a serializable description of the record set an export
// was requested for. Workers re-materialize it against the entity's query
// repository; no live cursor or connection-bound object ever crosses the
// sync/async boundary.
type QueryDescription struct {
	ContentType string   `json:"content_type"`
	IDs         []string `json:"ids,omitempty"`
	OrderBy     string   `json:"order_by,omitempty"`
}

// Persister abstracts bulk create/update of validated entities. Rows are
// keyed by source row number so implementations can report per-row failures
// against the right line. When upsert is true, existing records matching the
// entity's natural key are updated instead of rejected.
type Persister interface {
	Save(ctx context.Context, rows map[int]ValidatedRow, upsert bool) (ids []string, data []map[string]any, err error)
}

// QueryRepository re-materializes a QueryDescription into exportable
// records, each rendered as an attribute-name-keyed map.
type QueryRepository interface {
	Fetch(ctx context.Context, q QueryDescription) ([]map[string]any, error)
	Count(ctx context.Context, q QueryDescription) (int, error)
}

// DuplicateChecker runs entity-specific supplementary checks (for example,
// uniqueness within the batch) over the rows that passed attribute
// validation. Returned errors join the batch error list.
type DuplicateChecker interface {
	Check(ctx context.Context, rows map[int]ValidatedRow) []RowError
}

// DuplicateCheckerFunc adapts a function to the DuplicateChecker interface.
type DuplicateCheckerFunc func(ctx context.Context, rows map[int]ValidatedRow) []RowError

func (f DuplicateCheckerFunc) Check(ctx context.Context, rows map[int]ValidatedRow) []RowError {
	return f(ctx, rows)
}

// Clock supplies the current time; injected so exports produce
// deterministic file names under test.
type Clock func() time.Time
