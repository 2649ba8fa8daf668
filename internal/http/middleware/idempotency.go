// This file validates the Idempotency-Key header of POST /send-now. The
// middleware never answers a request from a cache: the send pipeline derives
// its own outbound key, folds the client key into it and looks results up in
// the idempotency manager and the message log. Here the header is only
// checked and handed over through the Gin context.

package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets callers of /send-now pin retries to one send.
const HeaderIdempotencyKey = "Idempotency-Key"

const ctxKeyIdemKey = "idem.key"

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions bounds accepted keys.
//
// MaxLen is the maximum key length in bytes; values <= 0 mean 200.
//
// Pattern is the accepted alphabet; nil allows ASCII letters, digits and
// ".~-:_", which covers UUIDs, ULIDs and "<tenant>:<ref>" style keys.
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyKey returns a middleware that validates the optional
// Idempotency-Key header.
//
// Behavior:
//   - Missing header: the request continues without a key, and the send
//     pipeline falls back to its minute-bucketed outbound key.
//   - Key too long or outside Pattern: 400 with code "bad_idempotency_key"
//     and the request id; the handler never runs.
//   - Valid key: stored in the Gin context for GetIdempotencyKey.
func IdempotencyKey(opts IdempotencyOptions) gin.HandlerFunc {
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
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)
		c.Next()
	}
}

// GetIdempotencyKey returns the key stored by IdempotencyKey. ok is false
// when the header was absent or the middleware is not mounted on the route.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}
