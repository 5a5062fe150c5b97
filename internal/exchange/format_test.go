package exchange

import (
	"errors"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		explicit FileFormat
		fileName string
		want     FileFormat
		wantErr  bool
	}{
		{name: "explicit wins", explicit: FormatXLSX, fileName: "data.csv", want: FormatXLSX},
		{name: "csv extension", fileName: "members.csv", want: FormatCSV},
		{name: "xlsx extension", fileName: "members.XLSX", want: FormatXLSX},
		{name: "xls extension", fileName: "members.xls", want: FormatXLS},
		{name: "unknown extension", fileName: "members.pdf", wantErr: true},
		{name: "no extension", fileName: "members", wantErr: true},
		{name: "bad explicit", explicit: FileFormat("ODS"), fileName: "members.csv", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.explicit, tt.fileName)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownFileFormat) {
					t.Fatalf("got %v, want ErrUnknownFileFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateExportFormat(t *testing.T) {
	if err := ValidateExportFormat(FormatCSV); err != nil {
		t.Errorf("CSV: unexpected error %v", err)
	}
	if err := ValidateExportFormat(FormatXLSX); err != nil {
		t.Errorf("XLSX: unexpected error %v", err)
	}
	if err := ValidateExportFormat(FormatXLS); !errors.Is(err, ErrExport) {
		t.Errorf("XLS: got %v, want error wrapping ErrExport", err)
	}
}
