package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const maxAuthAttempts = 3

// Authenticator runs the shared-secret challenge handshake. The client
// proves knowledge of the secret by signing a random challenge; the secret
// itself never crosses the wire.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(sharedSecret string) *Authenticator {
	return &Authenticator{secret: []byte(sharedSecret)}
}

// Challenge draws a fresh random 32-byte challenge, hex-encoded.
func (a *Authenticator) Challenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Verify checks an HMAC-SHA256 signature over the challenge in constant
// time.
func (a *Authenticator) Verify(challenge, signature string) bool {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(challenge))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Authenticate settles a client's handshake attempt. The challenge is
// single-use: it is cleared on success, and repeated failures exhaust the
// attempt budget.
func (a *Authenticator) Authenticate(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return authFailure("no challenge issued")
	}

	if !a.Verify(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return authFailure("too many failed attempts")
		}
		return authFailure("invalid signature")
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{Event: "auth.success", Success: true}
}

func authFailure(message string) AuthResult {
	return AuthResult{Event: "auth.failure", Success: false, Message: message}
}
