package exchange

import (
	"context"
	"io"
	"log/slog"
)

// ImportRequest carries everything one import run needs. File is consumed
// and closed by the importer in every path, success or failure.
type ImportRequest struct {
	ContentType string
	File        io.ReadCloser
	FileName    string
	FileSize    int64
	// Format is optional; when empty it is detected from FileName.
	Format     FileFormat
	Mapping    ColumnMapping
	HasHeaders bool
	// Upsert updates existing records matching the entity's natural key
	// instead of rejecting them.
	Upsert             bool
	DefaultDialingCode string
	// ErrorTitle, when set, is attached to every row error produced by the
	// run.
	ErrorTitle string
}

// Importer runs the import pipeline: detect format, read and map rows,
// validate, then persist according to the entity's batch policy.
type Importer struct {
	Log *slog.Logger
	// MaxFileSize in bytes; zero disables the check.
	MaxFileSize int64
}

// Run executes one import.
//
// Structural failures (bad format, missing columns, unknown entity or
// attribute, empty file, oversized file) return an error wrapping ErrImport
// and nothing is persisted. Row-level failures never return an error: they
// are aggregated into the result, and whether the surviving rows are
// persisted depends on the entity's AllowPartial policy.
func (im *Importer) Run(ctx context.Context, req ImportRequest) (ImportResult, error) {
	defer func() {
		if err := req.File.Close(); err != nil {
			im.Log.Warn("closing import file", "file", req.FileName, "error", err)
		}
	}()

	if im.MaxFileSize > 0 && req.FileSize > im.MaxFileSize {
		return ImportResult{}, importErrorf("file size %d exceeds the limit of %d bytes", req.FileSize, im.MaxFileSize)
	}

	entity, ok := Lookup(req.ContentType)
	if !ok {
		return ImportResult{}, importErrorf("unknown entity type %q", req.ContentType)
	}
	if entity.Persister == nil {
		return ImportResult{}, importErrorf("entity %q does not support import", req.ContentType)
	}
	if err := entity.ValidateMapping(req.Mapping); err != nil {
		return ImportResult{}, err
	}

	format, err := DetectFormat(req.Format, req.FileName)
	if err != nil {
		return ImportResult{}, err
	}

	rows, err := ReadRows(req.File, format, req.Mapping, req.HasHeaders)
	if err != nil {
		return ImportResult{}, err
	}
	if len(rows) == 0 {
		return ImportResult{}, ErrNoData
	}

	validator := &RowValidator{Resolvers: entity.Resolvers, Duplicates: entity.Duplicates}
	rc := ResolveContext{DefaultDialingCode: req.DefaultDialingCode, ErrorTitle: req.ErrorTitle}
	rowErrs, valid := validator.Validate(ctx, rc, rows)

	result := ImportResult{
		Errors:       rowErrs,
		TotalSkipped: len(rows) - len(valid),
	}
	if len(valid) == 0 {
		return result, nil
	}
	if !entity.AllowPartial && len(rowErrs) > 0 {
		// All-or-nothing policy: one bad row fails the batch before
		// anything is saved.
		result.TotalSkipped = len(rows)
		return result, nil
	}

	ids, data, err := entity.Persister.Save(ctx, valid, req.Upsert)
	if err != nil {
		// Persistence failures are infrastructure errors, left unwrapped so
		// workers may retry them.
		return ImportResult{}, err
	}
	result.ObjectIDs = ids
	result.Data = data

	im.Log.Info("import completed",
		"entity", req.ContentType,
		"rows", len(rows),
		"imported", len(ids),
		"skipped", result.TotalSkipped,
		"row_errors", len(rowErrs),
	)
	return result, nil
}
