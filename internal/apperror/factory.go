package apperror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-registration-backend/internal/validation"
)

// Create normalizes any error into an *Error.
//
// Mapping:
//   - *Error anywhere in chain   → that error (copied)
//   - *validation.Error          → VALIDATION_ERROR (400), errors = violations,
//     meta.context = offending input
//   - validator.ValidationErrors → VALIDATION_ERROR (400), one entry per field
//   - *http.MaxBytesError        → PAYLOAD_TOO_LARGE (413)
//   - malformed JSON / empty body → BAD_REQUEST (400)
//   - context.DeadlineExceeded   → GATEWAY_TIMEOUT (504)
//   - anything else              → UNKNOWN_ERROR (500), raw error kept as cause
//
// Overrides are applied last. Create returns nil for a nil error.
func Create(err error, overrides ...Override) *Error {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr.With(overrides...)
	}

	var (
		verr    *validation.Error
		fieldEs validator.ValidationErrors
		maxErr  *http.MaxBytesError
		synErr  *json.SyntaxError
		typeErr *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &verr):
		return New(fromViolations(verr), append([]Override{WithCause(err)}, overrides...)...)

	case errors.As(err, &fieldEs):
		msgs := make([]string, 0, len(fieldEs))
		for _, fe := range fieldEs {
			msgs = append(msgs, fmt.Sprintf("Field '%s' failed validation on '%s' tag", fe.Field(), fe.Tag()))
		}
		return New(ValidationError, append([]Override{
			WithMessage(summarize(msgs)),
			WithErrors(msgs...),
			WithCause(err),
		}, overrides...)...)

	case errors.As(err, &maxErr):
		return New(PayloadTooLarge, append([]Override{WithCause(err)}, overrides...)...)

	case errors.As(err, &synErr), errors.As(err, &typeErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return New(BadRequest, append([]Override{WithCause(err)}, overrides...)...)

	case errors.Is(err, context.DeadlineExceeded):
		return New(GatewayTimeout, append([]Override{WithCause(err)}, overrides...)...)
	}

	return New(UnknownError, append([]Override{WithCause(err)}, overrides...)...)
}

func fromViolations(verr *validation.Error) Descriptor {
	d := ValidationError
	d.Message = verr.Error()
	d.Errors = verr.Messages()
	d.Meta = map[string]any{"context": verr.Input}
	return d
}

func summarize(msgs []string) string {
	if len(msgs) == 1 {
		return msgs[0]
	}
	return fmt.Sprintf("%d errors occurred", len(msgs))
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
