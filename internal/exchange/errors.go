package exchange

import (
	"errors"
	"fmt"
)

// Error taxonomy.
//
// Structural failures (unknown format, unreadable file, missing columns,
// unknown attributes, empty file) abort the whole operation before any row
// is persisted and are never retried. Per-row failures are RowError values,
// aggregated and sorted, and never abort processing of other rows.

// ErrUnknownFileFormat is returned when neither an explicit format nor the
// filename yields a usable format determination.
var ErrUnknownFileFormat = errors.New("unable to determine file type. Supported file types are CSV, XLS and XLSX")

// ErrImport marks structural import failures. Errors wrapping it are
// terminal: workers must not retry them.
var ErrImport = errors.New("data import error")

// ErrExport marks structural export failures. Errors wrapping it are
// terminal: workers must not retry them.
var ErrExport = errors.New("data export error")

// ErrNoData is returned when the imported file contains no data rows.
var ErrNoData = fmt.Errorf("%w: the imported file does not contain any valid data", ErrImport)

// importErrorf wraps a structural import failure so it is classified as
// non-retryable.
func importErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrImport}, args...)...)
}

// exportErrorf wraps a structural export failure so it is classified as
// non-retryable.
func exportErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrExport}, args...)...)
}

// IsTerminal reports whether err originated from validation or another
// structural condition that retrying cannot fix.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrImport) || errors.Is(err, ErrExport) || errors.Is(err, ErrUnknownFileFormat)
}
