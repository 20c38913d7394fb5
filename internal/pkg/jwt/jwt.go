package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// RoleOperator grants access to operational endpoints.
const RoleOperator = "operator"

// Claims is the JWT payload. TenantID scopes every request.
type Claims struct {
	TenantID string `json:"tid"`
	UserID   string `json:"uid"`
	Role     string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// Signer issues and validates HS256 tokens with one shared secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign creates a signed token for the given tenant and user.
func (s *Signer) Sign(tenantID, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		UserID:   userID,
		Role:     role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse validates a token string and returns the claims.
func (s *Signer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token has no tenant")
	}
	return claims, nil
}
