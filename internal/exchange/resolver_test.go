package exchange

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func firstErrDescription(errs []RowError) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0].Description
}

func TestGenericName(t *testing.T) {
	tests := []struct {
		name    string
		opts    NameOptions
		input   string
		want    any
		wantErr string
	}{
		{name: "valid", input: "Ada Lovelace", want: "Ada Lovelace"},
		{name: "trims whitespace", input: "  Ada  ", want: "Ada"},
		{name: "blank", input: "   ", wantErr: "full_name: Must not be blank"},
		{name: "too long", input: strings.Repeat("a", 101), wantErr: "full_name: Must not be more than 100 characters"},
		{name: "too short", opts: NameOptions{MinLength: 3}, input: "ab", wantErr: "full_name: Must not be less than 3 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolve := GenericName("full_name", tt.opts)
			errs, got := resolve(ResolveContext{}, tt.input, 2)
			if tt.wantErr != "" {
				if firstErrDescription(errs) != tt.wantErr {
					t.Fatalf("got errors %v, want description %q", errs, tt.wantErr)
				}
				if errs[0].RowNumber != 2 {
					t.Errorf("row number = %d, want 2", errs[0].RowNumber)
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmailAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    any
		wantErr string
	}{
		{name: "valid", input: "ada@example.com", want: "ada@example.com"},
		{name: "blank", input: "", wantErr: "email_address: Must not be blank"},
		{name: "missing at sign", input: "ada.example.com", wantErr: "email_address: Invalid email address"},
		{name: "missing domain dot", input: "ada@example", wantErr: "email_address: Invalid email address"},
		{name: "too long", input: strings.Repeat("a", 95) + "@ex.com", wantErr: "email_address: Must not be more than 100 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolve := EmailAddress("email_address", EmailOptions{})
			errs, got := resolve(ResolveContext{}, tt.input, 3)
			if tt.wantErr != "" {
				if firstErrDescription(errs) != tt.wantErr {
					t.Fatalf("got errors %v, want description %q", errs, tt.wantErr)
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhoneNumber(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		dialingCode string
		want        any
		wantErr     string
	}{
		{name: "already normalized", input: "+2348012345678", want: "+2348012345678"},
		{name: "prefixes dialing code", input: "8012345678", dialingCode: "+234", want: "+2348012345678"},
		{name: "strips formatting", input: "(801) 234-5678", dialingCode: "+234", want: "+2348012345678"},
		{name: "blank", input: "", dialingCode: "+234", wantErr: "phone_number: Must not be blank"},
		{
			name:    "no dialing code available",
			input:   "8012345678",
			wantErr: "phone_number: This attribute must be provided in your request if your phone number does not include country dialing code",
		},
		{name: "leading zero after plus", input: "+0123456789", wantErr: "phone_number: Invalid phone number"},
		{name: "too long", input: "+123456789012345678", wantErr: "phone_number: Must be between 3 and 16 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolve := PhoneNumber("phone_number", PhoneOptions{})
			errs, got := resolve(ResolveContext{DefaultDialingCode: tt.dialingCode}, tt.input, 4)
			if tt.wantErr != "" {
				if firstErrDescription(errs) != tt.wantErr {
					t.Fatalf("got errors %v, want description %q", errs, tt.wantErr)
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecimal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "valid", input: "1250.75", want: "1250.75"},
		{name: "integer form", input: "42", want: "42"},
		{name: "blank is missing", input: "", wantErr: "amount: Invalid or missing value"},
		{name: "not a number", input: "12a.50", wantErr: "amount: Invalid value"},
		{name: "negative", input: "-1.00", wantErr: "amount: Must be a positive number or zero"},
		{name: "too many decimal places", input: "1.234", wantErr: "amount: Must have 2 decimal places or less"},
		{name: "too many digits", input: "1234567890123", wantErr: "amount: Must be no more than 11 digits in total"},
		{name: "too many whole digits", input: "1234567890.1", wantErr: "amount: Must not have more than 9 digits before the decimal point"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolve := Decimal("amount", DecimalOptions{})
			errs, got := resolve(ResolveContext{}, tt.input, 5)
			if tt.wantErr != "" {
				if firstErrDescription(errs) != tt.wantErr {
					t.Fatalf("got errors %v, want description %q", errs, tt.wantErr)
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			d, ok := got.(decimal.Decimal)
			if !ok {
				t.Fatalf("got %T, want decimal.Decimal", got)
			}
			if d.String() != tt.want {
				t.Errorf("got %s, want %s", d, tt.want)
			}
		})
	}
}

func TestInteger(t *testing.T) {
	max := int64(10)
	tests := []struct {
		name    string
		opts    IntegerOptions
		input   string
		want    int64
		wantErr string
	}{
		{name: "valid", input: "7", want: 7},
		{name: "blank is missing", input: "", wantErr: "quantity: Invalid or missing value"},
		{name: "not a number", input: "seven", wantErr: "quantity: Invalid number"},
		{name: "negative", input: "-1", wantErr: "quantity: Must be a positive number or zero"},
		{name: "above max", opts: IntegerOptions{MaxValue: &max}, input: "11", wantErr: "quantity: Must be less than or equal to 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolve := Integer("quantity", tt.opts)
			errs, got := resolve(ResolveContext{}, tt.input, 6)
			if tt.wantErr != "" {
				if firstErrDescription(errs) != tt.wantErr {
					t.Fatalf("got errors %v, want description %q", errs, tt.wantErr)
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDateFromString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "numeric layout", input: "04-25-2022", want: time.Date(2022, 4, 25, 0, 0, 0, 0, time.UTC)},
		{name: "long layout", input: "April 25, 2022", want: time.Date(2022, 4, 25, 0, 0, 0, 0, time.UTC)},
		{name: "iso layout rejected", input: "2022-04-25", wantErr: true},
		{name: "blank", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolve := DateFromString("start_date")
			errs, got := resolve(ResolveContext{}, tt.input, 7)
			if tt.wantErr {
				wantMsg := "start_date: Invalid date format. Use MM-DD-YYYY or MMMM DD, YYYY; e.g. 04-25-2022 or April 25th, 2022"
				if firstErrDescription(errs) != wantMsg {
					t.Fatalf("got errors %v, want description %q", errs, wantMsg)
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if !got.(time.Time).Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDatetimeFromString(t *testing.T) {
	resolve := DatetimeFromString("sent_at")

	errs, got := resolve(ResolveContext{}, "04-25-2022 22:23", 8)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := time.Date(2022, 4, 25, 22, 23, 0, 0, time.UTC)
	if !got.(time.Time).Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	errs, got = resolve(ResolveContext{}, "April 25, 2022 at 11:23 PM", 8)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want = time.Date(2022, 4, 25, 23, 23, 0, 0, time.UTC)
	if !got.(time.Time).Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	errs, _ = resolve(ResolveContext{}, "2022-04-25T22:23:00Z", 8)
	if len(errs) == 0 {
		t.Error("expected an error for an ISO timestamp")
	}
}

func TestBooleanFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    bool
		wantErr bool
	}{
		{input: "TRUE", want: true},
		{input: "false", want: false},
		{input: " True ", want: true},
		{input: "yes", wantErr: true},
		{input: "1", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			resolve := BooleanFromString("is_active")
			errs, got := resolve(ResolveContext{}, tt.input, 9)
			if tt.wantErr {
				wantMsg := "is_active: Invalid value. Must be TRUE or FALSE"
				if firstErrDescription(errs) != wantMsg {
					t.Fatalf("got errors %v, want description %q", errs, wantMsg)
				}
				return
			}
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForwardResolvers(t *testing.T) {
	if got := ForwardString(nil); got != "" {
		t.Errorf("ForwardString(nil) = %q, want empty", got)
	}
	if got := ForwardDecimal(2)(decimal.RequireFromString("1250.7")); got != "1250.70" {
		t.Errorf("ForwardDecimal = %q, want %q", got, "1250.70")
	}
	if got := ForwardDate(time.Date(2022, 4, 25, 0, 0, 0, 0, time.UTC)); got != "04-25-2022" {
		t.Errorf("ForwardDate = %q, want %q", got, "04-25-2022")
	}
	if got := ForwardBool(true); got != "TRUE" {
		t.Errorf("ForwardBool = %q, want %q", got, "TRUE")
	}
}
