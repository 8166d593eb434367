package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockValidator_ValidateToken_WithValidJWT(t *testing.T) {
	mock := &MockValidator{}

	payload := map[string]interface{}{
		"sub":   "test-user-123",
		"name":  "Test User",
		"email": "test@example.com",
	}
	payloadBytes, _ := json.Marshal(payload)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadBytes)

	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." + encodedPayload + ".fake-signature"

	claims, err := mock.ValidateToken(token)
	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, "test-user-123", claims.Subject)
	assert.Equal(t, "Test User", claims.Name)
	assert.Equal(t, "test@example.com", claims.Email)
}

func TestMockValidator_ValidateToken_WithInvalidJWT(t *testing.T) {
	mock := &MockValidator{}

	claims, err := mock.ValidateToken("invalid-token")
	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, "1", claims.Subject)
	assert.Equal(t, "dev-player", claims.Name)
	assert.Equal(t, "dev@example.com", claims.Email)
}

func TestMockValidator_ValidateToken_WithPartialClaims(t *testing.T) {
	mock := &MockValidator{}

	payload := map[string]interface{}{
		"sub": "partial-user",
	}
	payloadBytes, _ := json.Marshal(payload)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadBytes)

	token := "header." + encodedPayload + ".signature"

	claims, err := mock.ValidateToken(token)
	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, "partial-user", claims.Subject)
	assert.Equal(t, "dev-player", claims.Name)
	assert.Equal(t, "dev@example.com", claims.Email)
}
