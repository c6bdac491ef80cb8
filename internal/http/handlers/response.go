// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by every endpoint. Handlers
// never write error bodies themselves: fail() reports the error on the Gin
// error chain and aborts, and the terminal middleware.ErrorHandler renders it
// through the envelope package. Success bodies go through ok(), so both
// outcomes carry the same envelope shape.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "error": {
//	    "type": "APPLICATION",
//	    "code": "EMAIL_ALREADY_TAKEN",
//	    "message": "The given email address is already taken :("
//	  },
//	  "success": false,
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
//
// Example success response:
//
//	HTTP/1.1 200 OK
//	{ "data": { "message": "Registration is successful" }, "success": true }
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-registration-backend/internal/envelope"
	"github.com/tbourn/go-registration-backend/internal/services"
)

// ErrorResponse documents the failure envelope for OpenAPI.
type ErrorResponse = envelope.ErrorEnvelope

// RegistrationEnvelope documents the success envelope of the registration
// endpoint for OpenAPI.
type RegistrationEnvelope struct {
	Data      services.RegistrationResponse `json:"data"`
	Success   bool                          `json:"success" example:"true"`
	RequestID string                        `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// fail hands err to the terminal ErrorHandler and stops the handler chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Fail is the exported variant of fail(), used by the router for fallbacks.
func Fail(c *gin.Context, err error) { fail(c, err) }

// ok writes a success envelope with the given status (200 when zero).
func ok(c *gin.Context, status int, body any) {
	res := envelope.Succeed(body)
	if status != 0 {
		res.Status = status
	}
	envelope.Send(c, res)
}
