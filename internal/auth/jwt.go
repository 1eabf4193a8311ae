// Package auth issues and validates the bearer tokens a node presents to
// the Hive. There is no end-user login flow in this design (§1 treats
// "a user-id may or may not exist" as an external collaborator) — the only
// identity that matters here is which node is talking, so this package
// issues a single HS256 node token rather than validating third-party JWKS.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a node token is malformed, expired, or
// signed with the wrong secret.
var ErrInvalidToken = errors.New("invalid token")

// NodeClaims identifies a node registered with the Hive.
type NodeClaims struct {
	jwt.RegisteredClaims

	NodeID         string `json:"node_id"`
	NodeName       string `json:"node_name"`
	OrganizationID string `json:"organization_id"`
}

// IssueNodeToken signs a NodeClaims token with secret, valid for ttl.
func IssueNodeToken(secret, nodeID, nodeName, organizationID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := NodeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		NodeID:         nodeID,
		NodeName:       nodeName,
		OrganizationID: organizationID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign node token: %w", err)
	}
	return signed, nil
}

// ValidateNodeToken parses and verifies a node token signed with secret.
func ValidateNodeToken(secret, tokenString string) (*NodeClaims, error) {
	claims := &NodeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Method)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearerToken extracts the token from a "Bearer <token>" header value.
func ExtractBearerToken(authHeader string) string {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}
