// Package envelope renders every API response into one stable JSON shape.
//
// Success:
//
//	HTTP/1.1 200 OK
//	{ "data": { "message": "Registration is successful" }, "success": true }
//
// Failure:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "error": {
//	    "type": "APPLICATION",
//	    "code": "VALIDATION_ERROR",
//	    "message": "2 errors occurred",
//	    "errors": ["first_name is required field", "..."]
//	  },
//	  "success": false,
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
//
// The wire types carry no status or meta fields, so server-side data on an
// *apperror.Error can never reach a client. The stack is only included when
// explicitly enabled.
package envelope

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-registration-backend/internal/apperror"
)

const (
	// ExposeStackKey is the Gin context key that enables stack passthrough
	// for the current request.
	ExposeStackKey = "envelope.exposeStack"

	requestIDHeader = "X-Request-ID"
)

// ErrorBody is the client-visible part of an application error.
type ErrorBody struct {
	Type    apperror.Type `json:"type" example:"APPLICATION"`
	Code    string        `json:"code" example:"VALIDATION_ERROR"`
	Message string        `json:"message" example:"2 errors occurred"`
	Errors  []string      `json:"errors,omitempty"`
	Stack   string        `json:"stack,omitempty"`
}

// ErrorEnvelope is the failure response body.
type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	Success   bool      `json:"success"`
	RequestID string    `json:"request_id,omitempty"`
}

// SuccessEnvelope is the success response body.
type SuccessEnvelope struct {
	Data      any    `json:"data"`
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
}

type options struct {
	requestID string
	stack     bool
}

// Option adjusts envelope fields that sit next to data/error.
type Option func(*options)

// WithRequestID echoes a correlation id in the envelope.
func WithRequestID(id string) Option {
	return func(o *options) { o.requestID = id }
}

// WithStack includes the error's stack trace. Disabled by default.
func WithStack(enabled bool) Option {
	return func(o *options) { o.stack = enabled }
}

func apply(opts []Option) options {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// FormatError renders err as a failure envelope. A nil err renders as
// UNKNOWN_ERROR.
func FormatError(err *apperror.Error, opts ...Option) ErrorEnvelope {
	if err == nil {
		err = apperror.New(apperror.UnknownError)
	}
	o := apply(opts)

	body := ErrorBody{
		Type:    err.Type,
		Code:    err.Code,
		Message: err.Message,
	}
	if len(err.Errors) > 0 {
		body.Errors = append([]string(nil), err.Errors...)
	}
	if o.stack {
		body.Stack = err.Stack
	}

	return ErrorEnvelope{Error: body, Success: false, RequestID: o.requestID}
}

// FormatResponse renders v as a success envelope.
func FormatResponse(v any, opts ...Option) SuccessEnvelope {
	o := apply(opts)
	return SuccessEnvelope{Data: v, Success: true, RequestID: o.requestID}
}

// Result is either a Success or a Failure.
type Result interface {
	isResult()
}

// Success carries a payload and its HTTP status (200 when zero).
type Success struct {
	Value  any
	Status int
}

// Failure carries a normalized application error.
type Failure struct {
	Err *apperror.Error
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Succeed wraps v as a 200 Success.
func Succeed(v any) Success { return Success{Value: v, Status: http.StatusOK} }

// Fail normalizes err through the error factory.
func Fail(err error) Failure { return Failure{Err: apperror.Create(err)} }

// Send writes r as exactly one JSON response. If the response has already
// been written, Send logs and does nothing.
func Send(c *gin.Context, r Result) {
	if c.Writer.Written() {
		log.Warn().
			Str("request_id", c.Writer.Header().Get(requestIDHeader)).
			Msg("envelope: response already written, dropping result")
		return
	}

	opts := []Option{
		WithRequestID(c.Writer.Header().Get(requestIDHeader)),
		WithStack(c.GetBool(ExposeStackKey)),
	}

	switch res := r.(type) {
	case Success:
		status := res.Status
		if status == 0 {
			status = http.StatusOK
		}
		c.JSON(status, FormatResponse(res.Value, opts...))
	case Failure:
		err := res.Err
		if err == nil {
			err = apperror.New(apperror.UnknownError)
		}
		c.AbortWithStatusJSON(err.StatusCode, FormatError(err, opts...))
	default:
		e := apperror.New(apperror.UnknownError)
		c.AbortWithStatusJSON(e.StatusCode, FormatError(e, opts...))
	}
}
