package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, audience string) *Issuer {
	t.Helper()
	issuer, err := NewIssuer("test-secret", audience, time.Hour)
	require.NoError(t, err)
	return issuer
}

func TestIssueAndVerify(t *testing.T) {
	issuer := newTestIssuer(t, "kyc")

	token, expires, err := issuer.Issue("user-123")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	subject, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", subject)
}

func TestVerifyRejects(t *testing.T) {
	issuer := newTestIssuer(t, "kyc")

	other := newTestIssuer(t, "other")
	wrongAudience, _, err := other.Issue("user-1")
	require.NoError(t, err)

	expiredIssuer := newTestIssuer(t, "kyc")
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredIssuer.Issue("user-1")
	require.NoError(t, err)

	noSubject, _, err := issuer.Issue("")
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"}).SignedString([]byte("someone-else"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"audience":  wrongAudience,
		"expired":   expired,
		"subject":   noSubject,
		"signature": foreign,
		"garbage":   "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("  ", "", time.Hour)
	require.Error(t, err)
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := newTestIssuer(t, "")

	router := gin.New()
	router.GET("/me", JWTMiddleware(issuer), func(c *gin.Context) {
		userID, ok := GetUserID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, userID)
	})

	token, _, err := issuer.Issue("user-9")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + token, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, status: http.StatusOK},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer  ", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer abc", status: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			require.Equal(t, tc.status, resp.Code)
			if tc.status == http.StatusOK {
				require.Equal(t, "user-9", resp.Body.String())
			}
		})
	}
}
