package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the body signature on every webhook request.
const SignatureHeader = "X-Socketless-Signature"

const signaturePrefix = "hmac-sha256="

// Sign computes the signature header value for a raw request body:
// hex-encoded HMAC-SHA256 over the body, prefixed "hmac-sha256=".
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature for body and compares it against the
// received header value in constant time. Receivers use this to authenticate
// gateway requests.
func Verify(body []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
