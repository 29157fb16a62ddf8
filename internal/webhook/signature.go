// Package webhook provides outbound webhook delivery: HMAC signing,
// SSRF target guarding, provider-specific inbound signature verification
// and the delivery audit log.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outbound signing headers.
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// HMACSHA256Hex returns the hex-encoded HMAC-SHA256 of message under secret.
func HMACSHA256Hex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// TimingSafeEqual compares two strings in constant time.
func TimingSafeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CleanPrefixedSig strips a "sha256=" prefix if present. Some providers
// prefix their signature header with the algorithm name.
func CleanPrefixedSig(sig string) string {
	return strings.TrimPrefix(sig, "sha256=")
}

// Sign adds delivery identification and signature headers to an outbound
// request. Every delivery gets a fresh webhook-id so receivers can dedupe
// under at-least-once semantics; the signature covers "{timestamp}.{body}"
// and is added only when a secret is configured for the endpoint.
func Sign(h http.Header, body []byte, secret string, now time.Time) string {
	id := uuid.NewString()
	ts := strconv.FormatInt(now.Unix(), 10)

	h.Set(HeaderID, id)
	h.Set(HeaderTimestamp, ts)

	if secret != "" {
		signed := fmt.Sprintf("%s.%s", ts, body)
		h.Set(HeaderSignature, HMACSHA256Hex(secret, signed))
	}

	return id
}
