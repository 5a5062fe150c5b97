package exchange

import (
	"fmt"
	"path/filepath"
	"strings"
)

// mimeByExtension covers the three formats the engine understands. The
// stdlib mime table varies by platform, so the mapping is pinned here.
var mimeByExtension = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// DetectFormat resolves a file's tabular format. An explicit format is used
// verbatim; otherwise the filename's MIME type decides. Returns
// ErrUnknownFileFormat when neither input yields a determination.
func DetectFormat(explicit FileFormat, fileName string) (FileFormat, error) {
	if explicit != "" {
		switch explicit {
		case FormatCSV, FormatXLSX, FormatXLS:
			return explicit, nil
		default:
			return "", fmt.Errorf("%w (got %q)", ErrUnknownFileFormat, string(explicit))
		}
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	switch mimeByExtension[ext] {
	case "text/csv":
		return FormatCSV, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	case "application/vnd.ms-excel":
		return FormatXLS, nil
	}

	return "", ErrUnknownFileFormat
}

// ValidateExportFormat rejects formats that cannot be rendered. XLS is
// import-only.
func ValidateExportFormat(format FileFormat) error {
	switch format {
	case FormatCSV, FormatXLSX:
		return nil
	case FormatXLS:
		return exportErrorf("XLS is not supported as an export format")
	default:
		return fmt.Errorf("%w (got %q)", ErrUnknownFileFormat, string(format))
	}
}
