package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPow2(t *testing.T) {
	assert.Equal(t, 1.0, pow2(0))
	assert.Equal(t, 1.0, pow2(-3))
	assert.Equal(t, 2.0, pow2(1))
	assert.Equal(t, 4.0, pow2(2))
	assert.Equal(t, 8.0, pow2(3))
}

func TestRedactHeaders_MasksSensitiveKeysOnly(t *testing.T) {
	in := map[string]string{
		"Authorization": "Bearer secret-token",
		"Cookie":        "session=abc",
		"X-Request-ID":  "req-1",
		"Content-Type":  "application/json",
	}
	out := RedactHeaders(in)

	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "[REDACTED]", out["Cookie"])
	assert.Equal(t, "req-1", out["X-Request-ID"])
	assert.Equal(t, "application/json", out["Content-Type"])
}

func TestPipeline_StateDefaultsToIdle(t *testing.T) {
	p := New(nil, DefaultConfig(), nil)
	assert.Equal(t, StateIdle, p.State("unseen-partition"))

	p.setState("topic/consumer", StateBackingOff)
	assert.Equal(t, StateBackingOff, p.State("topic/consumer"))
}
