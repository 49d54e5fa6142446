package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"type":"upgraded","userIds":["u1"]}`)
	sig := Sign(payload, "secret")

	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, VerifySignature(payload, sig, "secret"))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, "secret"))
	assert.False(t, VerifySignature(payload, "", "secret"))
}
