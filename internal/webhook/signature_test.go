package webhook

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSHA256Hex(t *testing.T) {
	// Fixed vector; recomputing with any HMAC tool gives the same digest.
	sig := HMACSHA256Hex("secret", "hello")
	assert.Equal(t, "88aab3ede8d3adf94d26ab90d3bafd4a2083070c3bcce9c014ee04a443847c0b", sig)

	assert.NotEqual(t, sig, HMACSHA256Hex("other-secret", "hello"))
	assert.NotEqual(t, sig, HMACSHA256Hex("secret", "hello "))
}

func TestTimingSafeEqual(t *testing.T) {
	assert.True(t, TimingSafeEqual("abc", "abc"))
	assert.False(t, TimingSafeEqual("abc", "abd"))
	assert.False(t, TimingSafeEqual("abc", "abcd"))
	assert.True(t, TimingSafeEqual("", ""))
}

func TestCleanPrefixedSig(t *testing.T) {
	assert.Equal(t, "deadbeef", CleanPrefixedSig("sha256=deadbeef"))
	assert.Equal(t, "deadbeef", CleanPrefixedSig("deadbeef"))
}

func TestSign(t *testing.T) {
	body := []byte(`{"event":"invoice.paid"}`)
	now := time.Unix(1700000000, 0)

	h := http.Header{}
	id := Sign(h, body, "whsec_test", now)

	_, err := uuid.Parse(id)
	require.NoError(t, err, "webhook-id must be a uuid")
	assert.Equal(t, id, h.Get(HeaderID))
	assert.Equal(t, "1700000000", h.Get(HeaderTimestamp))

	expected := HMACSHA256Hex("whsec_test", fmt.Sprintf("1700000000.%s", body))
	assert.Equal(t, expected, h.Get(HeaderSignature))
}

func TestSign_FreshIDPerDelivery(t *testing.T) {
	h1, h2 := http.Header{}, http.Header{}
	id1 := Sign(h1, []byte(`{}`), "s", time.Now())
	id2 := Sign(h2, []byte(`{}`), "s", time.Now())
	assert.NotEqual(t, id1, id2)
}

func TestSign_NoSecretSkipsSignature(t *testing.T) {
	h := http.Header{}
	Sign(h, []byte(`{}`), "", time.Now())

	assert.NotEmpty(t, h.Get(HeaderID))
	assert.NotEmpty(t, h.Get(HeaderTimestamp))
	assert.Empty(t, h.Get(HeaderSignature))
}
