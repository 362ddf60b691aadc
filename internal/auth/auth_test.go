package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	t.Run("should round-trip a valid token", func(t *testing.T) {
		svc := NewService("test-secret", time.Hour)

		token, err := svc.IssueToken("alice")
		require.NoError(t, err)

		claims, err := svc.VerifyToken(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.AccountID)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		issuer := NewService("secret-a", time.Hour)
		verifier := NewService("secret-b", time.Hour)

		token, err := issuer.IssueToken("alice")
		require.NoError(t, err)

		_, err = verifier.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		svc := NewService("test-secret", -time.Minute)

		token, err := svc.IssueToken("alice")
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		svc := NewService("test-secret", time.Hour)

		_, err := svc.VerifyToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
