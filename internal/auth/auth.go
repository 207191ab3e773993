package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

const principalKey = "principal"

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims são as claims aceitas nos tokens de acesso
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Principal converte as claims no usuário autenticado
func (c *Claims) Principal() payment.Principal {
	return payment.Principal{UserID: c.UserID, Username: c.Username, Admin: c.Admin}
}

// JWTService emite e valida tokens HS256
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTService cria uma nova instância de JWTService
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), ttl: ttl}
}

// Issue assina um token para o principal
func (s *JWTService) Issue(p payment.Principal) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   p.UserID,
		Username: p.Username,
		Admin:    p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken valida assinatura, algoritmo e expiração
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware exige um Bearer token válido e guarda o principal no contexto
func Middleware(s *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := s.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(principalKey, claims.Principal())
		c.Next()
	}
}

// RequireAdmin recusa principais sem permissão de operador
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok || !p.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// PrincipalFrom devolve o principal gravado pelo Middleware
func PrincipalFrom(c *gin.Context) (payment.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return payment.Principal{}, false
	}
	p, ok := v.(payment.Principal)
	return p, ok
}
