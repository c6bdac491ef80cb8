package handlers

import (
	"errors"

	"github.com/tbourn/go-registration-backend/internal/apperror"
)

// errUnsupportedMedia is returned by bindInput for bodies that are neither
// JSON nor form-encoded.
var errUnsupportedMedia = errors.New("unsupported content type")

// bindError maps a body decoding failure to an application error. Failures
// the error factory already recognizes (oversized body, malformed JSON) keep
// their mapping; anything else reads as a generic bad request.
func bindError(err error) error {
	if errors.Is(err, errUnsupportedMedia) {
		return apperror.New(apperror.BadRequest,
			apperror.WithMessage("Content-Type must be application/json or a form encoding"),
			apperror.WithCause(err),
		)
	}
	if e := apperror.Create(err); e.Code != apperror.UnknownError.Code {
		return e
	}
	return apperror.New(apperror.BadRequest,
		apperror.WithMessage("invalid request body"),
		apperror.WithCause(err),
	)
}
