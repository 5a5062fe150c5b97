package exchange

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// resolver.go holds the built-in attribute resolvers.
//
// A backward resolver deserializes a raw string cell into a typed value,
// returning either the value or one or more RowErrors - never both. A
// forward resolver serializes an entity attribute back to the primitive
// string written into export files. Error descriptions are prefixed with
// the attribute name so row-level reports are unambiguous.

// ResolveContext carries per-request inputs that resolvers may need, such
// as the default dialing code for phone normalization and an optional error
// headline (for example, the record's display name).
type ResolveContext struct {
	DefaultDialingCode string
	ErrorTitle         string
}

// BackwardResolver validates and transforms a raw string cell. On failure
// the returned errors reference rowNumber and the value is nil.
type BackwardResolver func(rc ResolveContext, value string, rowNumber int) ([]RowError, any)

// ForwardResolver renders a typed attribute value as the primitive string
// written to export files.
type ForwardResolver func(v any) string

// AttributeResolver pairs the two directions for one logical attribute.
// Name is the rendered attribute name, which may differ from the storage
// column name.
type AttributeResolver struct {
	Name     string
	Forward  ForwardResolver
	Backward BackwardResolver
}

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	nonDigit     = regexp.MustCompile(`\D`)
)

func rowErr(rc ResolveContext, field string, rowNumber int, format string, args ...any) RowError {
	return RowError{
		RowNumber:   rowNumber,
		Description: field + ": " + fmt.Sprintf(format, args...),
		Title:       rc.ErrorTitle,
	}
}

// NameOptions configures GenericName. Zero values fall back to a maximum
// length of 100 with no minimum.
type NameOptions struct {
	MaxLength int
	MinLength int
}

// GenericName trims the value, rejects blanks, and enforces length bounds.
func GenericName(field string, opts NameOptions) BackwardResolver {
	if opts.MaxLength == 0 {
		opts.MaxLength = 100
	}
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		value = strings.TrimSpace(value)
		if value == "" {
			return []RowError{rowErr(rc, field, rowNumber, "Must not be blank")}, nil
		}
		if len(value) > opts.MaxLength {
			return []RowError{rowErr(rc, field, rowNumber, "Must not be more than %d characters", opts.MaxLength)}, nil
		}
		if opts.MinLength > 0 && len(value) < opts.MinLength {
			return []RowError{rowErr(rc, field, rowNumber, "Must not be less than %d characters", opts.MinLength)}, nil
		}
		return nil, value
	}
}

// EmailOptions configures EmailAddress. A zero MaxLength means 100.
type EmailOptions struct {
	MaxLength int
}

// EmailAddress validates an RFC-shaped email address with a length bound.
func EmailAddress(field string, opts EmailOptions) BackwardResolver {
	if opts.MaxLength == 0 {
		opts.MaxLength = 100
	}
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		value = strings.TrimSpace(value)
		if value == "" {
			return []RowError{rowErr(rc, field, rowNumber, "Must not be blank")}, nil
		}
		if len(value) > opts.MaxLength {
			return []RowError{rowErr(rc, field, rowNumber, "Must not be more than %d characters", opts.MaxLength)}, nil
		}
		if !emailPattern.MatchString(value) {
			return []RowError{rowErr(rc, field, rowNumber, "Invalid email address")}, nil
		}
		return nil, value
	}
}

// PhoneOptions configures PhoneNumber. Zero values mean a minimum of 3 and
// a maximum of 16 characters, the E.164 bound including the plus sign.
type PhoneOptions struct {
	MaxLength int
	MinLength int
}

// PhoneNumber normalizes and validates a phone number.
//
// A value without a leading '+' is prefixed with the request's default
// dialing code; if no dialing code was supplied either, that is a row error
// telling the caller to provide one. All non-digit characters except the
// leading '+' are stripped before the value is matched against the
// E.164-shaped pattern +[1-9]\d{1,14}.
func PhoneNumber(field string, opts PhoneOptions) BackwardResolver {
	if opts.MaxLength == 0 {
		opts.MaxLength = 16
	}
	if opts.MinLength == 0 {
		opts.MinLength = 3
	}
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		value = strings.TrimSpace(value)
		if value == "" {
			return []RowError{rowErr(rc, field, rowNumber, "Must not be blank")}, nil
		}
		if !strings.HasPrefix(value, "+") {
			if rc.DefaultDialingCode == "" {
				return []RowError{rowErr(rc, field, rowNumber,
					"This attribute must be provided in your request if your phone number does not include country dialing code")}, nil
			}
			value = rc.DefaultDialingCode + value
		}
		value = "+" + nonDigit.ReplaceAllString(value, "")
		if len(value) < opts.MinLength || len(value) > opts.MaxLength {
			return []RowError{rowErr(rc, field, rowNumber, "Must be between %d and %d characters", opts.MinLength, opts.MaxLength)}, nil
		}
		if !phonePattern.MatchString(value) {
			return []RowError{rowErr(rc, field, rowNumber, "Invalid phone number")}, nil
		}
		return nil, value
	}
}

// DecimalOptions configures Decimal. Zero values mean 11 max digits, 2
// decimal places and a minimum of zero.
type DecimalOptions struct {
	MaxDigits     int
	DecimalPlaces int
	MinValue      *decimal.Decimal
	MaxValue      *decimal.Decimal
}

// Decimal parses a bounded fixed-point number. Blank values are treated as
// missing and produce a null-specific message distinct from the invalid
// format message.
func Decimal(field string, opts DecimalOptions) BackwardResolver {
	if opts.MaxDigits == 0 {
		opts.MaxDigits = 11
	}
	if opts.DecimalPlaces == 0 {
		opts.DecimalPlaces = 2
	}
	if opts.MinValue == nil {
		zero := decimal.Zero
		opts.MinValue = &zero
	}
	minValueMsg := "Must be a positive number or zero"
	if opts.MinValue.IsNegative() {
		minValueMsg = "Must be greater than or equal to " + opts.MinValue.String()
	}
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		value = strings.TrimSpace(value)
		if value == "" {
			return []RowError{rowErr(rc, field, rowNumber, "Invalid or missing value")}, nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return []RowError{rowErr(rc, field, rowNumber, "Invalid value")}, nil
		}
		places := 0
		if d.Exponent() < 0 {
			places = int(-d.Exponent())
		}
		totalDigits := int(d.NumDigits())
		if places > totalDigits {
			totalDigits = places
		}
		if totalDigits > opts.MaxDigits {
			return []RowError{rowErr(rc, field, rowNumber, "Must be no more than %d digits in total", opts.MaxDigits)}, nil
		}
		if places > opts.DecimalPlaces {
			return []RowError{rowErr(rc, field, rowNumber, "Must have %d decimal places or less", opts.DecimalPlaces)}, nil
		}
		if totalDigits-places > opts.MaxDigits-opts.DecimalPlaces {
			return []RowError{rowErr(rc, field, rowNumber, "Must not have more than %d digits before the decimal point", opts.MaxDigits-opts.DecimalPlaces)}, nil
		}
		if d.Cmp(*opts.MinValue) < 0 {
			return []RowError{rowErr(rc, field, rowNumber, "%s", minValueMsg)}, nil
		}
		if opts.MaxValue != nil && d.Cmp(*opts.MaxValue) > 0 {
			return []RowError{rowErr(rc, field, rowNumber, "Must be less than or equal to %s", opts.MaxValue.String())}, nil
		}
		return nil, d
	}
}

// IntegerOptions configures Integer. A nil MinValue means zero.
type IntegerOptions struct {
	MinValue *int64
	MaxValue *int64
}

// Integer parses a bounded integer.
func Integer(field string, opts IntegerOptions) BackwardResolver {
	if opts.MinValue == nil {
		var zero int64
		opts.MinValue = &zero
	}
	minValueMsg := "Must be a positive number or zero"
	if *opts.MinValue < 0 {
		minValueMsg = fmt.Sprintf("Must be greater than or equal to %d", *opts.MinValue)
	}
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		value = strings.TrimSpace(value)
		if value == "" {
			return []RowError{rowErr(rc, field, rowNumber, "Invalid or missing value")}, nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return []RowError{rowErr(rc, field, rowNumber, "Invalid number")}, nil
		}
		if n < *opts.MinValue {
			return []RowError{rowErr(rc, field, rowNumber, "%s", minValueMsg)}, nil
		}
		if opts.MaxValue != nil && n > *opts.MaxValue {
			return []RowError{rowErr(rc, field, rowNumber, "Must be less than or equal to %d", *opts.MaxValue)}, nil
		}
		return nil, n
	}
}

var dateLayouts = []string{"01-02-2006", "January 2, 2006"}

// DateFromString parses a date trying MM-DD-YYYY then "Month DD, YYYY".
// The first layout that parses wins; if none do, the error names every
// accepted format.
func DateFromString(field string) BackwardResolver {
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		value = strings.TrimSpace(value)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return nil, t
			}
		}
		return []RowError{rowErr(rc, field, rowNumber,
			"Invalid date format. Use MM-DD-YYYY or MMMM DD, YYYY; e.g. 04-25-2022 or April 25th, 2022")}, nil
	}
}

var datetimeLayouts = []string{"01-02-2006 15:04", "January 2, 2006 at 3:04 PM"}

// DatetimeFromString parses a timestamp trying MM-DD-YYYY HH:MM then
// "Month DD, YYYY at HH:MM AM/PM".
func DatetimeFromString(field string) BackwardResolver {
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		value = strings.TrimSpace(value)
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return nil, t
			}
		}
		return []RowError{rowErr(rc, field, rowNumber,
			"Invalid datetime format. Use MM-DD-YYYY HH:MM or MMMM DD, YYYY at HH:MM AM/PM; e.g. 04-25-2022 22:23 or April 25th, 2022 at 11:23 PM")}, nil
	}
}

// BooleanFromString accepts only the literal strings TRUE and FALSE,
// case-insensitively.
func BooleanFromString(field string) BackwardResolver {
	return func(rc ResolveContext, value string, rowNumber int) ([]RowError, any) {
		switch strings.ToUpper(strings.TrimSpace(value)) {
		case "TRUE":
			return nil, true
		case "FALSE":
			return nil, false
		default:
			return []RowError{rowErr(rc, field, rowNumber, "Invalid value. Must be TRUE or FALSE")}, nil
		}
	}
}

// ForwardString renders any attribute value with fmt.Sprint. Nil renders as
// the empty string.
func ForwardString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// ForwardDecimal renders a decimal with a fixed number of places.
func ForwardDecimal(places int32) ForwardResolver {
	return func(v any) string {
		switch d := v.(type) {
		case decimal.Decimal:
			return d.StringFixed(places)
		case string:
			if parsed, err := decimal.NewFromString(d); err == nil {
				return parsed.StringFixed(places)
			}
			return d
		default:
			return ForwardString(v)
		}
	}
}

// ForwardDate renders a time value using the engine's primary date layout.
func ForwardDate(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(dateLayouts[0])
	}
	return ForwardString(v)
}

// ForwardBool renders a boolean as the import-compatible TRUE/FALSE pair.
func ForwardBool(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "TRUE"
		}
		return "FALSE"
	}
	return ForwardString(v)
}
