// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for unsafe methods. The
// middleware validates the header, stashes the key and a fingerprint of the
// payload for handlers and, through a narrow lookup function, flags requests
// that will be served as replays so the rate limiter lets them through. A key
// reused with a different payload is not a replay.
//
// Serving the replayed payload stays with the service that recorded it.
package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-registration-backend/internal/apperror"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplayed is set to "true" on responses served from a
// recorded result.
const HeaderIdempotentReplayed = "Idempotent-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemFP     = "idem.fingerprint"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// GetIdempotencyFingerprint returns the payload fingerprint computed for a
// request carrying a valid key.
func GetIdempotencyFingerprint(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemFP)
	return s, s != ""
}

// IsReplay reports whether a live recorded result exists for this request's
// key and payload.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope resolves the idempotency scope of a request (e.g. from its
	// route). Requests with an empty scope skip the lookup.
	Scope func(*gin.Context) string
}

// IdempotencyLookup reports whether a live result recorded for (scope, key)
// was produced by a payload with the given fingerprint. Errors are treated as
// "no replay" and never block the request.
type IdempotencyLookup func(ctx context.Context, scope, key, fingerprint string, now time.Time) (match bool, err error)

// Fingerprint digests a request payload: its media type and raw body.
func Fingerprint(contentType string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(contentType))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// errReader replays a body read failure to downstream readers.
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// bufferBody reads the request body and puts an equivalent reader back. A
// failed read (e.g. over the body limit) is reproduced for the next reader.
func bufferBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(b), errReader{err}))
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}

// IdempotencyValidator validates the Idempotency-Key header when present.
//
// Behavior:
//   - header absent: no-op
//   - header invalid: BAD_IDEMPOTENCY_KEY error, request aborted
//   - header valid: key and payload fingerprint stashed
//   - lookup hit with the same fingerprint: replay and rate-bypass flags set
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			_ = c.Error(apperror.New(apperror.BadIdempotencyKey))
			c.Abort()
			return
		}

		c.Set(ctxKeyIdemKey, key)

		body, err := bufferBody(c)
		if err != nil {
			// the body stage reports the read failure
			c.Next()
			return
		}
		fp := Fingerprint(c.ContentType(), body)
		c.Set(ctxKeyIdemFP, fp)

		if lookup != nil && opts.Scope != nil {
			if scope := opts.Scope(c); scope != "" {
				match, err := lookup(c.Request.Context(), scope, key, fp, time.Now().UTC())
				if err != nil {
					LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
				}
				if match {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}

		c.Next()
	}
}
