package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestValidateToken(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	token, err := svc.Issue(payment.Principal{UserID: 7, Username: "alice", Admin: true})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, payment.Principal{UserID: 7, Username: "alice", Admin: true}, claims.Principal())

	_, err = NewJWTService("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewJWTService("secret", -time.Minute).Issue(payment.Principal{UserID: 7})
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		UserID:           7,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret", time.Hour).ValidateToken(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	userToken, err := svc.Issue(payment.Principal{UserID: 1, Username: "alice"})
	require.NoError(t, err)
	adminToken, err := svc.Issue(payment.Principal{UserID: 2, Username: "ops", Admin: true})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", Middleware(svc), func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID})
	})
	r.GET("/admin", Middleware(svc), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic " + userToken, http.StatusUnauthorized},
		{"garbage token", "/me", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid user", "/me", "Bearer " + userToken, http.StatusOK},
		{"user on admin route", "/admin", "Bearer " + userToken, http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + adminToken, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
