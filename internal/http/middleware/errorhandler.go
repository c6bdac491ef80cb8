// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements ErrorHandler, the single terminal error stage. Every
// other stage reports failure with c.Error(err) and c.Abort(); ErrorHandler
// turns the last reported error into one JSON failure envelope:
//
//	handler / middleware ──c.Error(err)──▶ ErrorHandler
//	                                        │ envelope.Fail (factory)
//	                                        │ log (warn 4xx / error 5xx)
//	                                        │ api_errors_total{code,type}
//	                                        │ span.RecordError
//	                                        ▼
//	                                     envelope.Send
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-registration-backend/internal/envelope"
	"github.com/tbourn/go-registration-backend/internal/validation"
)

// errorCodeKey holds the rendered error code for the access logger.
const errorCodeKey = "error.code"

// ErrorOptions configures ErrorHandler.
type ErrorOptions struct {
	// ExposeStack includes the error stack in response bodies. Keep it off
	// outside development.
	ExposeStack bool
}

// ErrorHandler returns the terminal error middleware. Register it before any
// stage that may call c.Error (Recovery included) so it sees their errors on
// the way out.
func ErrorHandler(opts ErrorOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(envelope.ExposeStackKey, opts.ExposeStack)

		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		failure := envelope.Fail(last.Err)
		appErr := failure.Err
		c.Set(errorCodeKey, appErr.Code)
		apiErrors.WithLabelValues(appErr.Code, string(appErr.Type)).Inc()

		lg := LoggerFrom(c)
		ev := lg.Warn()
		if appErr.StatusCode >= 500 {
			ev = lg.Error()
		}
		if cause := appErr.Unwrap(); cause != nil {
			ev = ev.AnErr("cause", cause)
		}
		if len(appErr.Errors) > 0 {
			ev = ev.Strs("errors", appErr.Errors)
		}
		ev.
			Str("code", appErr.Code).
			Str("type", string(appErr.Type)).
			Int("status", appErr.StatusCode).
			Interface("meta", safeMeta(appErr.Meta)).
			Msg(appErr.Message)

		span := trace.SpanFromContext(c.Request.Context())
		span.RecordError(appErr)
		if appErr.StatusCode >= 500 {
			span.SetStatus(codes.Error, appErr.Code)
		}

		if c.Writer.Written() {
			lg.Warn().Str("code", appErr.Code).Msg("error after response was written")
			return
		}
		envelope.Send(c, failure)
	}
}

// safeMeta copies meta for logging, masking credential-like fields of the
// offending input carried under "context".
func safeMeta(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == "context" {
			v = maskInput(v)
		}
		out[k] = v
	}
	return out
}

func maskInput(v any) any {
	var in map[string]any
	switch m := v.(type) {
	case validation.Input:
		in = m
	case map[string]any:
		in = m
	default:
		return v
	}

	out := make(map[string]any, len(in))
	for k, val := range in {
		if strings.Contains(strings.ToLower(k), "password") {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = val
	}
	return out
}
