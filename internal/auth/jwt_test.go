package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateNodeToken(t *testing.T) {
	signed, err := IssueNodeToken("shh", "node-1", "laptop", "org-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := ValidateNodeToken("shh", signed)
	require.NoError(t, err)
	require.Equal(t, "node-1", claims.NodeID)
	require.Equal(t, "laptop", claims.NodeName)
	require.Equal(t, "org-1", claims.OrganizationID)
	require.Equal(t, "node-1", claims.Subject)
}

func TestValidateNodeTokenWrongSecret(t *testing.T) {
	signed, err := IssueNodeToken("shh", "node-1", "laptop", "org-1", time.Hour)
	require.NoError(t, err)

	_, err = ValidateNodeToken("different", signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateNodeTokenExpired(t *testing.T) {
	signed, err := IssueNodeToken("shh", "node-1", "laptop", "org-1", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateNodeToken("shh", signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateNodeTokenMalformed(t *testing.T) {
	_, err := ValidateNodeToken("shh", "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearerToken(t *testing.T) {
	require.Equal(t, "abc123", ExtractBearerToken("Bearer abc123"))
	require.Empty(t, ExtractBearerToken("abc123"))
	require.Empty(t, ExtractBearerToken(""))
	require.Empty(t, ExtractBearerToken("Basic abc123"))
}
