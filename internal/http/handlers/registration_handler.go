// Registration HTTP handlers.
//
// This file exposes the registration endpoint as a chain of stages, each a
// plain gin.HandlerFunc:
//
//	POST {base}/user/registration
//	  ReplayRegistration → ValidateRegistration → CheckRegistrationRules → PostRegistration
//
// A stage that fails reports the error with fail() and aborts; later stages
// do not run. The decoded payload travels between stages in the Gin context.
// A request flagged as a replay is answered by the first stage from its
// recorded result.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/tbourn/go-registration-backend/internal/http/middleware"
	"github.com/tbourn/go-registration-backend/internal/services"
	"github.com/tbourn/go-registration-backend/internal/validation"
)

// RegistrationService defines the operations consumed by the registration
// stages. Implementations must honor the provided context.
type RegistrationService interface {
	// CheckBusinessRules evaluates the registration policy for a payload that
	// already passed schema validation.
	CheckBusinessRules(ctx context.Context, email, password string) error
	// Register completes the registration. A non-empty ref.Key enables
	// recording and replay of the result.
	Register(ctx context.Context, input validation.Input, ref services.IdempotencyRef) (*services.RegistrationResult, error)
	// Replay returns the result recorded for ref, or nil when none is live.
	Replay(ctx context.Context, ref services.IdempotencyRef) (*services.RegistrationResult, error)
}

// Handlers groups the HTTP endpoints of the service.
type Handlers struct {
	regSvc RegistrationService
}

// New constructs and returns a Handlers instance bound to the given service.
func New(regSvc RegistrationService) *Handlers {
	return &Handlers{regSvc: regSvc}
}

// inputKey is the Gin context key holding the validated payload.
const inputKey = "registration.input"

// indexHTML is served by Index.
const indexHTML = "<h1>Error handling in gin</h1>"

// bindInput decodes the request body into a validation.Input. JSON bodies
// keep their value types; form bodies yield strings. A request without a
// Content-Type is decoded as JSON.
func bindInput(c *gin.Context) (validation.Input, error) {
	switch c.ContentType() {
	case binding.MIMEJSON, "":
		var m map[string]any
		if err := c.ShouldBindJSON(&m); err != nil {
			return nil, err
		}
		return validation.Input(m), nil

	case binding.MIMEPOSTForm, binding.MIMEMultipartPOSTForm:
		m := map[string]string{}
		if err := c.ShouldBindWith(&m, binding.Form); err != nil {
			return nil, err
		}
		in := make(validation.Input, len(m))
		for k, v := range m {
			in[k] = v
		}
		return in, nil
	}
	return nil, errUnsupportedMedia
}

// idempotencyRef collects the key and payload fingerprint stashed by
// middleware.IdempotencyValidator.
func idempotencyRef(c *gin.Context) services.IdempotencyRef {
	key, _ := middleware.GetIdempotencyKey(c)
	fp, _ := middleware.GetIdempotencyFingerprint(c)
	return services.IdempotencyRef{Key: key, Fingerprint: fp}
}

// respond writes a registration result, flagging replays.
func respond(c *gin.Context, res *services.RegistrationResult) {
	if res.Replayed {
		c.Header(middleware.HeaderIdempotentReplayed, "true")
	}
	ok(c, res.Status, res.Response)
}

// inputFrom returns the payload stashed by ValidateRegistration.
func inputFrom(c *gin.Context) validation.Input {
	if v, ok := c.Get(inputKey); ok {
		if in, ok := v.(validation.Input); ok {
			return in
		}
	}
	return validation.Input{}
}

// Index godoc
// @ID          index
// @Summary     Index page
// @Tags        Meta
// @Produce     html
// @Success     200  {string}  string  "HTML page"
// @Router      / [get]
func (h *Handlers) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

// ReplayRegistration answers a request the idempotency middleware matched to
// a recorded result, skipping every later stage. When the record has expired
// since the match, the request goes through the normal stages.
func (h *Handlers) ReplayRegistration(c *gin.Context) {
	if !middleware.IsReplay(c) {
		return
	}
	res, err := h.regSvc.Replay(c.Request.Context(), idempotencyRef(c))
	if err != nil {
		fail(c, err)
		return
	}
	if res == nil {
		return
	}
	respond(c, res)
	c.Abort()
}

// ValidateRegistration decodes the body and checks it against
// services.RegistrationRules, reporting every violation at once.
func (h *Handlers) ValidateRegistration(c *gin.Context) {
	in, err := bindInput(c)
	if err != nil {
		fail(c, bindError(err))
		return
	}
	if err := validation.Check(in, services.RegistrationRules); err != nil {
		fail(c, err)
		return
	}
	c.Set(inputKey, in)
}

// CheckRegistrationRules runs the business rules on the validated payload.
func (h *Handlers) CheckRegistrationRules(c *gin.Context) {
	in := inputFrom(c)
	email, _ := in["email"].(string)
	password, _ := in["password"].(string)

	if err := h.regSvc.CheckBusinessRules(c.Request.Context(), email, password); err != nil {
		fail(c, err)
		return
	}
}

// PostRegistration godoc
// @ID          registerUser
// @Summary     Register a user
// @Description Validates the payload, applies the registration rules and returns a success envelope. Every failure is rendered as an error envelope with a stable code.
// @Tags        Registration
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false  "Optional idempotency key for safe retries"  example(6c0b7c0a-1f3e-4f8a-9b2c-3d4e5f607182)
// @Param       first_name       formData  string  true  "First name"
// @Param       last_name        formData  string  true  "Last name"
// @Param       email            formData  string  true  "Email address"
// @Param       password         formData  string  true  "Password (min 8 characters)"
// @Param       re_password      formData  string  true  "Password confirmation"
// @Param       terms_condition  formData  bool    true  "Terms accepted"
//
// @Success     200  {object}  handlers.RegistrationEnvelope
// @Header      200  {string}  Idempotent-Replayed  "true when served from a recorded result"
// @Failure     400  {object}  handlers.ErrorResponse  "VALIDATION_ERROR, EMAIL_ALREADY_TAKEN, AUTH_WEAK_PASSWORD, BAD_REQUEST or BAD_IDEMPOTENCY_KEY"
// @Failure     413  {object}  handlers.ErrorResponse  "PAYLOAD_TOO_LARGE"
// @Failure     422  {object}  handlers.ErrorResponse  "IDEMPOTENCY_KEY_REUSED"
// @Failure     429  {object}  handlers.ErrorResponse  "TOO_MANY_REQUESTS"
// @Failure     500  {object}  handlers.ErrorResponse  "UNKNOWN_ERROR"
// @Router      /user/registration [post]
func (h *Handlers) PostRegistration(c *gin.Context) {
	res, err := h.regSvc.Register(c.Request.Context(), inputFrom(c), idempotencyRef(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, res)
}

// Registration returns the full stage chain of the registration endpoint.
func (h *Handlers) Registration() []gin.HandlerFunc {
	return []gin.HandlerFunc{h.ReplayRegistration, h.ValidateRegistration, h.CheckRegistrationRules, h.PostRegistration}
}
