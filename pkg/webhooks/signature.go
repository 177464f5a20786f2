package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signature computes the payload signature sent in X-Webhook-Signature:
// "sha256=" followed by the lowercase hex HMAC-SHA256 of the exact
// payload bytes, keyed by the webhook's secret.
func Signature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes and compares a signature in constant time
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := Signature(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
