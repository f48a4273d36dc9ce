// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods (POST).
// It validates the Idempotency-Key request header, fingerprints the request
// body, looks up a previously completed request for (scope, key, fingerprint),
// and annotates the Gin context so downstream handlers can:
//   - read the validated key, scope and fingerprint
//   - detect replays and the resource they produced (ReplayResourceID)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// A key reused with a different body never matches, so a key alone cannot be
// used to read another client's result.
//
// Persistence stays behind the narrow IdempotencyLookup function type.
package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header that carries the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed marks responses served from a recorded result.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey      = "idem.key"
	ctxKeyIdemScope    = "idem.scope"
	ctxKeyIdemPrint    = "idem.fingerprint"
	ctxKeyIdemResource = "idem.resource" // string: id recorded for a replay
	ctxKeyRateBypass   = "rate.bypass"   // bool: true to skip rate limiting
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IdempotencyScope returns the scope configured for the current route.
func IdempotencyScope(c *gin.Context) string {
	v, _ := c.Get(ctxKeyIdemScope)
	return asString(v)
}

// IdempotencyFingerprint returns the request fingerprint computed by
// IdempotencyValidator; record it alongside the key.
func IdempotencyFingerprint(c *gin.Context) string {
	v, _ := c.Get(ctxKeyIdemPrint)
	return asString(v)
}

// Fingerprint hashes a request body. JSON bodies are compacted first so
// retries that only differ in whitespace still match.
func Fingerprint(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		body = buf.Bytes()
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ReplayResourceID returns the id of the resource created by the earlier
// request with the same key and body, when the current request is a replay.
func ReplayResourceID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemResource)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// Scopes maps "METHOD /registered/route" to the scope that namespaces its
	// keys (e.g. "POST /api/v1/reviews" -> "reviews"). Routes not listed
	// ignore the header.
	Scopes map[string]string
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the resource id recorded for (scope, key) by a
// request with the same fingerprint when a still-valid result exists at now.
// found=false means "process normally"; errors are treated the same way so a
// lookup failure never blocks a request.
type IdempotencyLookup func(ctx context.Context, scope, key, fingerprint string, now time.Time) (resourceID string, found bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it with the scope, and consults lookup for a prior result.
//
// Behavior:
//   - header absent or route not scoped: no-op.
//   - header invalid: 400 {"code":"bad_idempotency_key"}.
//   - body unreadable: 413 when over the size limit, 400 otherwise.
//   - prior result for the same body found: records the resource id and sets
//     the rate-bypass flag.
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
		scope := opts.Scopes[c.Request.Method+" "+c.FullPath()]
		if key == "" || scope == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": GetRequestID(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		body, err := readBody(c)
		if err != nil {
			status, code := http.StatusBadRequest, "bad_request"
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				status, code = http.StatusRequestEntityTooLarge, "payload_too_large"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"request_id": GetRequestID(c),
				"code":       code,
				"message":    "request body could not be read",
			})
			return
		}
		fp := Fingerprint(body)

		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)
		c.Set(ctxKeyIdemPrint, fp)

		if lookup != nil {
			id, found, err := lookup(c.Request.Context(), scope, key, fp, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
			}
			if err == nil && found && id != "" {
				c.Set(ctxKeyIdemResource, id)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// readBody drains the request body and puts an identical reader back for the
// handler.
func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	_ = c.Request.Body.Close()
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
