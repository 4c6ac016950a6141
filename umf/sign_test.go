package umf_test

import (
	"testing"

	"github.com/hydra-mesh/hydra/umf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	key := []byte("shared-secret")
	msg := umf.New("svc:/v1/do", "caller", map[string]any{"x": float64(1)})

	require.NoError(t, umf.Sign(msg, key))
	assert.NotEmpty(t, msg.Signature)
	assert.NoError(t, umf.VerifySignature(msg, key))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	key := []byte("shared-secret")
	msg := umf.New("svc:/v1/do", "caller", map[string]any{"x": float64(1)})
	require.NoError(t, umf.Sign(msg, key))

	msg.Body["x"] = float64(2)
	assert.ErrorIs(t, umf.VerifySignature(msg, key), umf.ErrInvalidSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	msg := umf.New("svc:/v1/do", "caller", map[string]any{"x": float64(1)})
	require.NoError(t, umf.Sign(msg, []byte("key-a")))
	assert.ErrorIs(t, umf.VerifySignature(msg, []byte("key-b")), umf.ErrInvalidSignature)
}

func TestVerifyMissingSignature(t *testing.T) {
	msg := umf.New("svc:/v1/do", "caller", map[string]any{})
	assert.ErrorIs(t, umf.VerifySignature(msg, []byte("key")), umf.ErrInvalidSignature)
}
