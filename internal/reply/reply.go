package reply

import (
	"errors"
	"fmt"

	"github.com/example/onvotar-bot/internal/lookup"
	"github.com/example/onvotar-bot/internal/validation"
)

// Fixed reply texts.
const (
	Disclaimer = "Aquest bot utilitza la mateixa tecnologia que " +
		"la web original oficial del Referèndum.\n" +
		"No desa ni mostra als autors cap dada sensible."

	NotFound = "Alguna de les dades entrades no és correcta.\n" +
		"Revisa-les, si us plau."

	LookupFailure = "Ara mateix no podem fer la consulta.\n" +
		"Torna-ho a provar d'aquí a una estona, si us plau."

	resultTemplate = "%s\n%s\n%s\n\n" +
		"Districte: %s\n" +
		"Secció: %s\n" +
		"Mesa: %s"
)

// ErrMalformedResult is returned when a lookup matched but did not carry the
// expected number of display fields.
var ErrMalformedResult = errors.New("reply: malformed lookup result")

// ForValidationError returns the replies for a rejected input: the error's own
// message, followed by the data disclaimer only for the wrong-field-count case.
// Errors that are not validation errors are answered with the usage text.
func ForValidationError(err error) []string {
	var verr *validation.Error
	if !errors.As(err, &verr) {
		verr = validation.ErrWrongFieldCount
	}
	if verr.Category == validation.CategoryWrongFieldCount {
		return []string{verr.Message(), Disclaimer}
	}
	return []string{verr.Message()}
}

// ForResult renders a lookup result as a single reply.
func ForResult(res lookup.Result) (string, error) {
	if !res.Found() {
		return NotFound, nil
	}
	if len(res.Fields) != lookup.DisplayFields {
		return "", fmt.Errorf("%w: got %d fields, want %d", ErrMalformedResult, len(res.Fields), lookup.DisplayFields)
	}
	f := res.Fields
	return fmt.Sprintf(resultTemplate, f[0], f[1], f[2], f[3], f[4], f[5]), nil
}
