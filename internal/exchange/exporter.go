package exchange

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExternalStore uploads a rendered export file to external object storage
// and returns the stored file's identifier.
type ExternalStore interface {
	Upload(ctx context.Context, fileName, contentType string, data []byte) (uuid.UUID, error)
}

// ExportRequest carries everything one export run needs.
type ExportRequest struct {
	ContentType string
	Format      FileFormat
	Query       QueryDescription
	// Attributes selects and orders the exported columns. Empty means the
	// entity's full attribute list in its declared order.
	Attributes []string
	Location   StorageLocation
}

// Exporter runs the export pipeline: fetch records, serialize attributes
// through their forward resolvers, render the file, then store it at the
// requested location.
type Exporter struct {
	Log   *slog.Logger
	Clock Clock
	// TempDir receives disk-located exports. Empty means the OS temp dir.
	TempDir  string
	External ExternalStore
	// AlwaysExternal mirrors every export to external storage regardless of
	// the requested location, so a durable copy exists even for disk and
	// memory exports.
	AlwaysExternal bool
}

// Run executes one export. Structural failures (unknown entity, bad format,
// unknown attribute) return an error wrapping ErrExport; query and storage
// failures are returned unwrapped so workers may retry them.
func (ex *Exporter) Run(ctx context.Context, req ExportRequest) (ExportOutput, error) {
	entity, ok := Lookup(req.ContentType)
	if !ok {
		return ExportOutput{}, exportErrorf("unknown entity type %q", req.ContentType)
	}
	if entity.Queries == nil {
		return ExportOutput{}, exportErrorf("entity %q does not support export", req.ContentType)
	}
	if err := ValidateExportFormat(req.Format); err != nil {
		return ExportOutput{}, err
	}

	columns := req.Attributes
	if len(columns) == 0 {
		columns = entity.Attributes
	}
	for _, col := range columns {
		if _, ok := entity.Resolvers[col]; !ok {
			return ExportOutput{}, exportErrorf("unknown attribute %q for entity %q", col, req.ContentType)
		}
	}

	records, err := entity.Queries.Fetch(ctx, req.Query)
	if err != nil {
		return ExportOutput{}, err
	}

	rows := make([]map[string]string, len(records))
	for i, record := range records {
		row := make(map[string]string, len(columns))
		for _, col := range columns {
			forward := entity.Resolvers[col].Forward
			if forward == nil {
				forward = ForwardString
			}
			row[col] = forward(record[col])
		}
		rows[i] = row
	}

	data, err := WriteRows(columns, rows, req.Format)
	if err != nil {
		return ExportOutput{}, err
	}

	out := ExportOutput{
		FileName: ex.exportFileName(entity, req.Format),
		MimeType: req.Format.MimeType(),
	}

	switch req.Location {
	case LocationDisk:
		dir := ex.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		path := filepath.Join(dir, out.FileName)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return ExportOutput{}, err
		}
		out.Path = path
	case LocationExternal:
		if ex.External == nil {
			return ExportOutput{}, exportErrorf("external storage is not configured")
		}
		id, err := ex.External.Upload(ctx, out.FileName, out.MimeType, data)
		if err != nil {
			return ExportOutput{}, err
		}
		out.ExternalFileID = &id
	default:
		out.Data = data
	}

	if ex.AlwaysExternal && req.Location != LocationExternal && ex.External != nil {
		id, err := ex.External.Upload(ctx, out.FileName, out.MimeType, data)
		if err != nil {
			return ExportOutput{}, err
		}
		out.ExternalFileID = &id
	}

	ex.Log.Info("export completed",
		"entity", req.ContentType,
		"format", string(req.Format),
		"records", len(records),
		"file", out.FileName,
		"location", string(req.Location),
	)
	return out, nil
}

// exportFileName builds the unique name an export file is stored under:
// the entity's display name, the render timestamp, and a short random
// suffix so repeated exports never collide.
func (ex *Exporter) exportFileName(entity EntityDefinition, format FileFormat) string {
	now := time.Now
	if ex.Clock != nil {
		now = ex.Clock
	}
	base := strings.ReplaceAll(entity.DisplayName, " ", "_")
	if base == "" {
		base = strings.ReplaceAll(entity.ContentType, ".", "_")
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return base + "_" + now().Format("2006-01-02_15-04-05") + "_" + suffix + format.Extension()
}
