package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, challenge string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

func TestAuthenticatorChallenge(t *testing.T) {
	a := NewAuthenticator("secret")

	c1, err := a.Challenge()
	require.NoError(t, err)
	c2, err := a.Challenge()
	require.NoError(t, err)

	assert.Len(t, c1, 64) // 32 bytes hex-encoded
	assert.NotEqual(t, c1, c2)
}

func TestAuthenticatorVerify(t *testing.T) {
	a := NewAuthenticator("secret")
	challenge, err := a.Challenge()
	require.NoError(t, err)

	assert.True(t, a.Verify(challenge, sign("secret", challenge)))
	assert.False(t, a.Verify(challenge, sign("wrong", challenge)))
	assert.False(t, a.Verify(challenge, "not-hex"))
}

func TestAuthenticate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		a := NewAuthenticator("secret")
		client := &Client{Challenge: "abc", State: StateAuthenticating}

		result := a.Authenticate(client, sign("secret", "abc"))
		assert.True(t, result.Success)
		assert.Equal(t, "auth.success", result.Event)
		assert.True(t, client.Authenticated)
		assert.Equal(t, StateAuthenticated, client.State)
		assert.Empty(t, client.Challenge)
	})

	t.Run("invalid signature", func(t *testing.T) {
		a := NewAuthenticator("secret")
		client := &Client{Challenge: "abc"}

		result := a.Authenticate(client, sign("wrong", "abc"))
		assert.False(t, result.Success)
		assert.Equal(t, "invalid signature", result.Message)
		assert.False(t, client.Authenticated)
		assert.Equal(t, 1, client.AuthAttempts)
	})

	t.Run("too many attempts", func(t *testing.T) {
		a := NewAuthenticator("secret")
		client := &Client{Challenge: "abc"}

		for i := 0; i < 2; i++ {
			a.Authenticate(client, "bad")
		}
		result := a.Authenticate(client, "bad")
		assert.False(t, result.Success)
		assert.Equal(t, "too many failed attempts", result.Message)
	})

	t.Run("no challenge", func(t *testing.T) {
		a := NewAuthenticator("secret")
		client := &Client{}

		result := a.Authenticate(client, "anything")
		assert.False(t, result.Success)
		assert.Equal(t, "no challenge issued", result.Message)
	})
}
