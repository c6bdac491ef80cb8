// Package services – RegistrationService
//
// This file implements the registration schema, the business-rule stage that
// runs after schema validation, and the registration operation itself.
//
// Registration is illustrative: nothing about the user is persisted. The
// business rules consult a blocklist of reserved emails and weak password
// terms, and a successful outcome can be recorded under an Idempotency-Key so
// a retried request replays the original answer.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/tbourn/go-registration-backend/internal/apperror"
	"github.com/tbourn/go-registration-backend/internal/domain"
	"github.com/tbourn/go-registration-backend/internal/validation"
)

// ScopeRegistration namespaces idempotency records written by Register.
const ScopeRegistration = "registration"

// RegistrationRules is the schema of the registration payload. Violations are
// reported in this order.
var RegistrationRules = validation.Rules{
	{Field: "first_name", Rule: validation.Rule{Required: true, String: true}},
	{Field: "last_name", Rule: validation.Rule{Required: true, String: true}},
	{Field: "email", Rule: validation.Rule{Required: true, Format: validation.FormatEmail}},
	{Field: "password", Rule: validation.Rule{Required: true, MinLength: 8}},
	{Field: "re_password", Rule: validation.Rule{Required: true, Ref: "password", ExactMatch: true}},
	{Field: "terms_condition", Rule: validation.Rule{Required: true, Equals: true}},
}

var tracer = otel.Tracer("github.com/tbourn/go-registration-backend/internal/services")

// RegistrationRepo defines the repository contract required by
// RegistrationService.
type RegistrationRepo interface {
	// EmailReserved reports whether email contains a reserved value.
	EmailReserved(ctx context.Context, db *gorm.DB, email string) (bool, error)

	// PasswordWeak reports whether password contains a weak term.
	PasswordWeak(ctx context.Context, db *gorm.DB, password string) (bool, error)

	// GetIdempotency returns a live record for (scope, key) or an error.
	GetIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (*domain.Idempotency, error)

	// CreateIdempotency records a result under (scope, key) together with the
	// fingerprint of the payload that produced it.
	CreateIdempotency(ctx context.Context, db *gorm.DB, scope, key, fingerprint string, status int, data string, ttl time.Duration) (*domain.Idempotency, error)
}

// IdempotencyRef identifies a retriable request: the client's key and a
// fingerprint of the payload sent with it. The zero value disables replay and
// recording.
type IdempotencyRef struct {
	Key         string
	Fingerprint string
}

// RegistrationResponse is the payload returned on successful registration.
type RegistrationResponse struct {
	Message string `json:"message" example:"Registration is successful"`
}

// RegistrationResult is the outcome of Register.
type RegistrationResult struct {
	Response RegistrationResponse
	Status   int
	// Replayed is true when the result was served from an idempotency record.
	Replayed bool
}

// RegistrationService runs the registration business rules and the
// registration operation.
type RegistrationService struct {
	// DB is the GORM handle used for blocklist and idempotency lookups.
	DB *gorm.DB
	// Repo is the repository used by this service.
	Repo RegistrationRepo

	// IdempotencyTTL is how long a recorded result can be replayed.
	IdempotencyTTL time.Duration
}

// NewRegistrationService constructs a RegistrationService with a 24h replay
// window.
func NewRegistrationService(db *gorm.DB, r RegistrationRepo) *RegistrationService {
	return &RegistrationService{
		DB:             db,
		Repo:           r,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// CheckBusinessRules evaluates every business rule without short-circuiting:
//   - email containing a reserved value → EMAIL_ALREADY_TAKEN
//   - password containing a weak term   → AUTH_WEAK_PASSWORD
//
// When several rules fail, the first failure is the error code and the
// error's list carries every failed code. Repository errors are returned
// wrapped, so they surface as UNKNOWN_ERROR.
func (s *RegistrationService) CheckBusinessRules(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "RegistrationService.CheckBusinessRules")
	defer span.End()

	var failed ruleFailures

	reserved, err := s.Repo.EmailReserved(ctx, s.DB, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserved email lookup failed")
		return fmt.Errorf("check reserved email: %w", err)
	}
	if reserved {
		failed.add(apperror.EmailAlreadyTaken)
	}

	weak, err := s.Repo.PasswordWeak(ctx, s.DB, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weak password lookup failed")
		return fmt.Errorf("check weak password: %w", err)
	}
	if weak {
		failed.add(apperror.AuthWeakPassword)
	}

	span.SetAttributes(
		attribute.Bool("registration.email_reserved", reserved),
		attribute.Bool("registration.password_weak", weak),
	)
	return failed.err()
}

// Register completes a registration that passed validation and business rules.
//
// With a non-empty ref.Key, a live record for the key is replayed instead of
// registering again, and a fresh success is recorded (best effort) for later
// retries. A key recorded for a different payload fails with
// IDEMPOTENCY_KEY_REUSED.
func (s *RegistrationService) Register(ctx context.Context, input validation.Input, ref IdempotencyRef) (*RegistrationResult, error) {
	ctx, span := tracer.Start(ctx, "RegistrationService.Register")
	defer span.End()
	span.SetAttributes(attribute.Bool("registration.idempotent", ref.Key != ""))

	if ref.Key != "" {
		res, err := s.Replay(ctx, ref)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "idempotency replay failed")
			return nil, err
		}
		if res != nil {
			span.SetAttributes(attribute.Bool("registration.replayed", true))
			return res, nil
		}
	}

	res := &RegistrationResult{
		Response: RegistrationResponse{Message: "Registration is successful"},
		Status:   http.StatusOK,
	}

	if ref.Key != "" {
		s.record(ctx, ref, res)
	}
	return res, nil
}

// Replay returns the result recorded under ref.Key, or nil when none is live.
// A record written for another payload yields IDEMPOTENCY_KEY_REUSED.
func (s *RegistrationService) Replay(ctx context.Context, ref IdempotencyRef) (*RegistrationResult, error) {
	if ref.Key == "" {
		return nil, nil
	}
	rec, err := s.Repo.GetIdempotency(ctx, s.DB, ScopeRegistration, ref.Key, time.Now().UTC())
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && rec == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if rec.Fingerprint != ref.Fingerprint {
		return nil, apperror.New(apperror.IdempotencyKeyReused)
	}

	var resp RegistrationResponse
	if err := json.Unmarshal([]byte(rec.Data), &resp); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &RegistrationResult{Response: resp, Status: rec.Status, Replayed: true}, nil
}

// record stores res under ref. Failures are logged, never returned.
func (s *RegistrationService) record(ctx context.Context, ref IdempotencyRef, res *RegistrationResult) {
	data, err := json.Marshal(res.Response)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("idempotency: encode result")
		return
	}
	if _, err := s.Repo.CreateIdempotency(ctx, s.DB, ScopeRegistration, ref.Key, ref.Fingerprint, res.Status, string(data), s.IdempotencyTTL); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("scope", ScopeRegistration).Msg("idempotency: record result")
	}
}
