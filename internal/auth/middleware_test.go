package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestRequireNodeTokenRejectsMissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireNodeToken("shh")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestRequireNodeTokenRejectsInvalidToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireNodeToken("shh")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestRequireNodeTokenAcceptsValidTokenAndSetsClaims(t *testing.T) {
	signed, err := IssueNodeToken("shh", "node-1", "laptop", "org-1", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen *NodeClaims
	handlerErr := RequireNodeToken("shh")(func(c echo.Context) error {
		seen = NodeClaimsFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c)

	require.NoError(t, handlerErr)
	require.NotNil(t, seen)
	require.Equal(t, "node-1", seen.NodeID)
}

func TestNodeClaimsFromContextNilWhenUnset(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Nil(t, NodeClaimsFromContext(req.Context()))
}
