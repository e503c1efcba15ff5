package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const fieldCount = 3

var (
	documentPattern   = regexp.MustCompile(`^[0-9]{8}[^A-Z]?[A-Z]$`)
	datePattern       = regexp.MustCompile(`^[0-9]{8}$`)
	postalCodePattern = regexp.MustCompile(`^[0-9]{5}$`)

	documentReplacer = strings.NewReplacer(" ", "", "-", "")
	dateReplacer     = strings.NewReplacer(" ", "", "/", "")
)

// Fields is the normalized triple handed to the lookup service. A Fields value
// returned without error always has all three members pattern-valid.
type Fields struct {
	DocumentID string
	BirthDate  string
	PostalCode string
}

// Validate splits text on single spaces and validates the document id, birth
// date and postal code in that order. The first failing field determines the
// returned *Error.
func Validate(text string) (Fields, error) {
	parts := strings.Split(text, " ")
	if len(parts) != fieldCount {
		return Fields{}, ErrWrongFieldCount
	}

	doc, err := NormalizeDocumentID(parts[0])
	if err != nil {
		return Fields{}, err
	}

	date, err := NormalizeDate(parts[1])
	if err != nil {
		return Fields{}, err
	}

	postal, err := ValidatePostalCode(parts[2])
	if err != nil {
		return Fields{}, err
	}

	return Fields{DocumentID: doc, BirthDate: date, PostalCode: postal}, nil
}

// NormalizeDocumentID upper-cases the value and strips spaces and hyphens
// before matching eight digits, an optional filler character and a check
// letter. Invalid UTF-8 is rejected before upper-casing.
func NormalizeDocumentID(value string) (string, error) {
	if !utf8.ValidString(value) {
		return "", ErrBadDocumentFormat
	}
	doc := documentReplacer.Replace(strings.ToUpper(value))
	if !documentPattern.MatchString(doc) {
		return "", ErrBadDocumentFormat
	}
	return doc, nil
}

// NormalizeDate strips spaces and slashes from a DDMMYYYY style value and
// reorders it as YYYYMMDD. Day and month ranges are not checked.
func NormalizeDate(value string) (string, error) {
	date := dateReplacer.Replace(strings.ToUpper(value))
	if !datePattern.MatchString(date) {
		return "", ErrBadDateFormat
	}
	return date[4:] + date[2:4] + date[:2], nil
}

// SplitDate is the inverse of NormalizeDate for an already normalized value.
func SplitDate(normalized string) (day, month, year string, ok bool) {
	if !datePattern.MatchString(normalized) {
		return "", "", "", false
	}
	return normalized[6:], normalized[4:6], normalized[:4], true
}

// ValidatePostalCode accepts exactly five digits and returns the value as is.
func ValidatePostalCode(value string) (string, error) {
	if !postalCodePattern.MatchString(value) {
		return "", ErrBadPostalCodeFormat
	}
	return value, nil
}
