package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

type fakePersister struct {
	saved  map[int]ValidatedRow
	upsert bool
	err    error
}

func (p *fakePersister) Save(_ context.Context, rows map[int]ValidatedRow, upsert bool) ([]string, []map[string]any, error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.saved = rows
	p.upsert = upsert
	ids := make([]string, 0, len(rows))
	data := make([]map[string]any, 0, len(rows))
	for _, n := range sortedRowNumbers(rows) {
		ids = append(ids, fmt.Sprintf("id-%d", n))
		record := map[string]any{}
		for k, v := range rows[n] {
			record[k] = v
		}
		data = append(data, record)
	}
	return ids, data, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registerImportEntity(t *testing.T, contentType string, allowPartial bool, p Persister) {
	t.Helper()
	Register(EntityDefinition{
		ContentType:  contentType,
		DisplayName:  "Member",
		Attributes:   []string{"full_name", "email_address", "phone_number"},
		Resolvers:    memberResolvers(),
		Persister:    p,
		AllowPartial: allowPartial,
	})
}

func importRequest(contentType, csvData string) (ImportRequest, *closeTracker) {
	file := &closeTracker{Reader: strings.NewReader(csvData)}
	return ImportRequest{
		ContentType: contentType,
		File:        file,
		FileName:    "members.csv",
		FileSize:    int64(len(csvData)),
		Mapping: ColumnMapping{
			"Name":  "full_name",
			"Email": "email_address",
			"Phone": "phone_number",
		},
		HasHeaders: true,
	}, file
}

func TestImporterPartialSuccess(t *testing.T) {
	p := &fakePersister{}
	registerImportEntity(t, "test.import_partial", true, p)

	csvData := "Name,Email,Phone\n" +
		"Ada Lovelace,ada@example.com,+2348012345678\n" +
		"Bad Row,not-an-email,+2348012345679\n" +
		"Grace Hopper,grace@example.com,+2348012345680\n"
	req, file := importRequest("test.import_partial", csvData)

	im := &Importer{Log: discardLogger()}
	result, err := im.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !file.closed {
		t.Error("import file was not closed")
	}
	if len(result.Errors) != 1 || result.Errors[0].RowNumber != 3 {
		t.Errorf("errors = %v, want one error on row 3", result.Errors)
	}
	if len(result.ObjectIDs) != 2 {
		t.Errorf("object IDs = %v, want 2 entries", result.ObjectIDs)
	}
	if result.TotalSkipped != 1 {
		t.Errorf("total skipped = %d, want 1", result.TotalSkipped)
	}
	if result.Failed() {
		t.Error("partial success must not report as failed")
	}
	if len(p.saved) != 2 {
		t.Errorf("persisted %d rows, want 2", len(p.saved))
	}
}

func TestImporterAllOrNothing(t *testing.T) {
	p := &fakePersister{}
	registerImportEntity(t, "test.import_strict", false, p)

	csvData := "Name,Email,Phone\n" +
		"Ada Lovelace,ada@example.com,+2348012345678\n" +
		"Bad Row,not-an-email,+2348012345679\n"
	req, file := importRequest("test.import_strict", csvData)

	im := &Importer{Log: discardLogger()}
	result, err := im.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !file.closed {
		t.Error("import file was not closed")
	}
	if p.saved != nil {
		t.Errorf("strict entity persisted rows despite errors: %v", p.saved)
	}
	if !result.Failed() {
		t.Error("all-or-nothing batch with errors must report as failed")
	}
	if result.TotalSkipped != 2 {
		t.Errorf("total skipped = %d, want 2", result.TotalSkipped)
	}
}

func TestImporterEmptyFile(t *testing.T) {
	registerImportEntity(t, "test.import_empty", true, &fakePersister{})

	req, file := importRequest("test.import_empty", "Name,Email,Phone\n")
	im := &Importer{Log: discardLogger()}
	_, err := im.Run(context.Background(), req)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("got %v, want ErrNoData", err)
	}
	if !file.closed {
		t.Error("import file was not closed on failure")
	}
}

func TestImporterUnknownFormat(t *testing.T) {
	registerImportEntity(t, "test.import_format", true, &fakePersister{})

	req, file := importRequest("test.import_format", "data")
	req.FileName = "members.pdf"

	im := &Importer{Log: discardLogger()}
	_, err := im.Run(context.Background(), req)
	if !errors.Is(err, ErrUnknownFileFormat) {
		t.Fatalf("got %v, want ErrUnknownFileFormat", err)
	}
	if !file.closed {
		t.Error("import file was not closed on failure")
	}
}

func TestImporterFileTooLarge(t *testing.T) {
	registerImportEntity(t, "test.import_size", true, &fakePersister{})

	req, _ := importRequest("test.import_size", "Name,Email,Phone\nAda,ada@example.com,+2348012345678\n")
	im := &Importer{Log: discardLogger(), MaxFileSize: 10}
	_, err := im.Run(context.Background(), req)
	if !errors.Is(err, ErrImport) {
		t.Fatalf("got %v, want error wrapping ErrImport", err)
	}
}

func TestImporterUnknownAttribute(t *testing.T) {
	registerImportEntity(t, "test.import_attr", true, &fakePersister{})

	req, _ := importRequest("test.import_attr", "Name\nAda\n")
	req.Mapping = ColumnMapping{"Name": "no_such_attribute"}

	im := &Importer{Log: discardLogger()}
	_, err := im.Run(context.Background(), req)
	if !errors.Is(err, ErrImport) {
		t.Fatalf("got %v, want error wrapping ErrImport", err)
	}
	if !strings.Contains(err.Error(), "no_such_attribute") {
		t.Errorf("error %q does not name the unknown attribute", err)
	}
}

func TestImporterPersistenceErrorIsRetryable(t *testing.T) {
	dbErr := errors.New("connection reset")
	registerImportEntity(t, "test.import_dberr", true, &fakePersister{err: dbErr})

	req, _ := importRequest("test.import_dberr", "Name,Email,Phone\nAda,ada@example.com,+2348012345678\n")
	im := &Importer{Log: discardLogger()}
	_, err := im.Run(context.Background(), req)
	if !errors.Is(err, dbErr) {
		t.Fatalf("got %v, want the persistence error", err)
	}
	if IsTerminal(err) {
		t.Error("persistence errors must stay retryable")
	}
}
