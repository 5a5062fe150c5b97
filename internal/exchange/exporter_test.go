package exchange

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeQueries struct {
	records []map[string]any
	err     error
	lastQ   QueryDescription
}

func (q *fakeQueries) Fetch(_ context.Context, desc QueryDescription) ([]map[string]any, error) {
	q.lastQ = desc
	return q.records, q.err
}

func (q *fakeQueries) Count(_ context.Context, desc QueryDescription) (int, error) {
	return len(q.records), q.err
}

type fakeExternal struct {
	uploads  int
	fileName string
	id       uuid.UUID
	err      error
}

func (e *fakeExternal) Upload(_ context.Context, fileName, _ string, _ []byte) (uuid.UUID, error) {
	if e.err != nil {
		return uuid.Nil, e.err
	}
	e.uploads++
	e.fileName = fileName
	return e.id, nil
}

func registerExportEntity(t *testing.T, contentType string, q QueryRepository) {
	t.Helper()
	Register(EntityDefinition{
		ContentType: contentType,
		DisplayName: "Team Member",
		Attributes:  []string{"full_name", "email_address", "phone_number"},
		Resolvers:   memberResolvers(),
		Queries:     q,
	})
}

func fixedClock() time.Time {
	return time.Date(2022, 4, 25, 22, 23, 1, 0, time.UTC)
}

func TestExporterMemoryCSV(t *testing.T) {
	q := &fakeQueries{records: []map[string]any{
		{"full_name": "Ada Lovelace", "email_address": "ada@example.com", "phone_number": "+2348012345678"},
		{"full_name": "Grace Hopper", "email_address": "grace@example.com", "phone_number": "+2348012345680"},
	}}
	registerExportEntity(t, "test.export_mem", q)

	ex := &Exporter{Log: discardLogger(), Clock: fixedClock}
	out, err := ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_mem",
		Format:      FormatCSV,
		Query:       QueryDescription{ContentType: "test.export_mem"},
		Location:    LocationMemory,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parsing rendered CSV: %v", err)
	}
	want := [][]string{
		{"full_name", "email_address", "phone_number"},
		{"Ada Lovelace", "ada@example.com", "+2348012345678"},
		{"Grace Hopper", "grace@example.com", "+2348012345680"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("rendered CSV = %v, want %v", records, want)
	}

	namePattern := regexp.MustCompile(`^Team_Member_2022-04-25_22-23-01_[a-z0-9]{8}\.csv$`)
	if !namePattern.MatchString(out.FileName) {
		t.Errorf("file name %q does not match the export naming pattern", out.FileName)
	}
	if out.MimeType != "text/csv" {
		t.Errorf("mime type = %q, want text/csv", out.MimeType)
	}
	if out.Path != "" || out.ExternalFileID != nil {
		t.Error("memory export must not set a path or external file ID")
	}
}

func TestExporterDisk(t *testing.T) {
	q := &fakeQueries{records: []map[string]any{
		{"full_name": "Ada", "email_address": "ada@example.com", "phone_number": "+2348012345678"},
	}}
	registerExportEntity(t, "test.export_disk", q)

	dir := t.TempDir()
	ex := &Exporter{Log: discardLogger(), Clock: fixedClock, TempDir: dir}
	out, err := ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_disk",
		Format:      FormatCSV,
		Location:    LocationDisk,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data != nil {
		t.Error("disk export must not carry bytes in memory")
	}
	if filepath.Dir(out.Path) != dir {
		t.Errorf("export written to %q, want directory %q", out.Path, dir)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("stat exported file: %v", err)
	}
}

func TestExporterExternal(t *testing.T) {
	q := &fakeQueries{records: []map[string]any{
		{"full_name": "Ada", "email_address": "ada@example.com", "phone_number": "+2348012345678"},
	}}
	registerExportEntity(t, "test.export_ext", q)

	store := &fakeExternal{id: uuid.New()}
	ex := &Exporter{Log: discardLogger(), Clock: fixedClock, External: store}
	out, err := ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_ext",
		Format:      FormatXLSX,
		Location:    LocationExternal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", store.uploads)
	}
	if out.ExternalFileID == nil || *out.ExternalFileID != store.id {
		t.Errorf("external file ID = %v, want %v", out.ExternalFileID, store.id)
	}
	if out.Data != nil || out.Path != "" {
		t.Error("external export must not carry bytes or a path")
	}
}

func TestExporterAlwaysExternalMirrorsMemoryExport(t *testing.T) {
	q := &fakeQueries{records: []map[string]any{
		{"full_name": "Ada", "email_address": "ada@example.com", "phone_number": "+2348012345678"},
	}}
	registerExportEntity(t, "test.export_mirror", q)

	store := &fakeExternal{id: uuid.New()}
	ex := &Exporter{Log: discardLogger(), Clock: fixedClock, External: store, AlwaysExternal: true}
	out, err := ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_mirror",
		Format:      FormatCSV,
		Location:    LocationMemory,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data == nil {
		t.Error("mirrored memory export must still carry the bytes")
	}
	if store.uploads != 1 || out.ExternalFileID == nil {
		t.Errorf("mirror upload missing: uploads=%d, id=%v", store.uploads, out.ExternalFileID)
	}
}

func TestExporterRejectsXLS(t *testing.T) {
	registerExportEntity(t, "test.export_xls", &fakeQueries{})

	ex := &Exporter{Log: discardLogger()}
	_, err := ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_xls",
		Format:      FormatXLS,
		Location:    LocationMemory,
	})
	if !errors.Is(err, ErrExport) {
		t.Fatalf("got %v, want error wrapping ErrExport", err)
	}
}

func TestExporterAttributeSubset(t *testing.T) {
	q := &fakeQueries{records: []map[string]any{
		{"full_name": "Ada", "email_address": "ada@example.com", "phone_number": "+2348012345678"},
	}}
	registerExportEntity(t, "test.export_subset", q)

	ex := &Exporter{Log: discardLogger(), Clock: fixedClock}
	out, err := ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_subset",
		Format:      FormatCSV,
		Attributes:  []string{"email_address"},
		Location:    LocationMemory,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parsing rendered CSV: %v", err)
	}
	want := [][]string{{"email_address"}, {"ada@example.com"}}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("rendered CSV = %v, want %v", records, want)
	}

	_, err = ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_subset",
		Format:      FormatCSV,
		Attributes:  []string{"no_such_attribute"},
		Location:    LocationMemory,
	})
	if !errors.Is(err, ErrExport) {
		t.Errorf("unknown attribute: got %v, want error wrapping ErrExport", err)
	}
}

func TestExporterQueryErrorIsRetryable(t *testing.T) {
	dbErr := errors.New("connection reset")
	registerExportEntity(t, "test.export_dberr", &fakeQueries{err: dbErr})

	ex := &Exporter{Log: discardLogger()}
	_, err := ex.Run(context.Background(), ExportRequest{
		ContentType: "test.export_dberr",
		Format:      FormatCSV,
		Location:    LocationMemory,
	})
	if !errors.Is(err, dbErr) {
		t.Fatalf("got %v, want the query error", err)
	}
	if IsTerminal(err) {
		t.Error("query errors must stay retryable")
	}
}
