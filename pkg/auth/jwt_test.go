package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTService(t *testing.T) {
	tests := []struct {
		name        string
		secret      string
		expectError bool
	}{
		{name: "empty secret", secret: "", expectError: true},
		{name: "valid secret", secret: "test-secret", expectError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewJWTService(tt.secret, time.Hour)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, svc)
		})
	}
}

func TestIssueAndValidateToken(t *testing.T) {
	svc, err := NewJWTService("test-secret", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := svc.IssueToken("sched-123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sched-123", claims.Scope)
	assert.True(t, claims.Allows("sched-123"))
	assert.False(t, claims.Allows("sched-999"))
}

func TestIssueTokenWildcardScope(t *testing.T) {
	svc, err := NewJWTService("test-secret", time.Hour)
	require.NoError(t, err)

	token, _, err := svc.IssueToken("")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Allows("anything"))
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, err := NewJWTService("test-secret", time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc, err := NewJWTService("secret-a", time.Hour)
	require.NoError(t, err)
	token, _, err := svc.IssueToken("")
	require.NoError(t, err)

	other, err := NewJWTService("secret-b", time.Hour)
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}
