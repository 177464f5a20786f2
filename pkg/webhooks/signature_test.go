package webhooks

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureForm(t *testing.T) {
	sig := Signature("secret", []byte(`{"event_type":"user.created"}`))
	assert.Regexp(t, regexp.MustCompile(`^sha256=[0-9a-f]{64}$`), sig)
}

func TestSignatureDeterministic(t *testing.T) {
	payload := []byte(`{"a":1}`)
	assert.Equal(t, Signature("secret", payload), Signature("secret", payload))
	assert.NotEqual(t, Signature("secret", payload), Signature("other", payload))
	assert.NotEqual(t, Signature("secret", payload), Signature("secret", []byte(`{"a":2}`)))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event_type":"user.created"}`)
	sig := Signature("secret", payload)

	assert.True(t, VerifySignature("secret", payload, sig))
	assert.False(t, VerifySignature("wrong", payload, sig))
	assert.False(t, VerifySignature("secret", []byte("tampered"), sig))
	assert.False(t, VerifySignature("secret", payload, "sha256=deadbeef"))
}
