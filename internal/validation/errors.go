package validation

import "errors"

// Category identifies why an inbound text was rejected.
type Category string

const (
	CategoryWrongFieldCount     Category = "wrong_field_count"
	CategoryBadDocumentFormat   Category = "bad_document_format"
	CategoryBadDateFormat       Category = "bad_date_format"
	CategoryBadPostalCodeFormat Category = "bad_postal_code_format"
)

// Usage is the guidance shown when the message does not carry three fields.
const Usage = "Per conèixer el teu col·legi electoral, " +
	"envia un missatge amb les teves dades " +
	"separades per espais i " +
	"fent servir aquest format: \n" +
	"DNI DATA_NAIXEMENT CODI_POSTAL\n\n" +
	"Exemple:\n00001714N 01/10/2017 01234"

var messages = map[Category]string{
	CategoryWrongFieldCount:     Usage,
	CategoryBadDocumentFormat:   "Revisa el format del DNI",
	CategoryBadDateFormat:       "Revisa el format de la data de naixement",
	CategoryBadPostalCodeFormat: "Revisa el format del codi postal",
}

var (
	// ErrWrongFieldCount is returned when the text does not split into three fields.
	ErrWrongFieldCount = &Error{Category: CategoryWrongFieldCount}
	// ErrBadDocumentFormat is returned when the document id does not match.
	ErrBadDocumentFormat = &Error{Category: CategoryBadDocumentFormat}
	// ErrBadDateFormat is returned when the birth date is not eight digits.
	ErrBadDateFormat = &Error{Category: CategoryBadDateFormat}
	// ErrBadPostalCodeFormat is returned when the postal code is not five digits.
	ErrBadPostalCodeFormat = &Error{Category: CategoryBadPostalCodeFormat}
)

// Error is a user-correctable validation failure. It never carries the
// rejected value.
type Error struct {
	Category Category
}

func (e *Error) Error() string {
	return "validation: " + string(e.Category)
}

// Message returns the fixed user-facing text for the category.
func (e *Error) Message() string {
	if msg, ok := messages[e.Category]; ok {
		return msg
	}
	return Usage
}

// Is matches any *Error with the same category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Category == e.Category
}

// CategoryOf reports the category carried by err, if any.
func CategoryOf(err error) (Category, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Category, true
	}
	return "", false
}
