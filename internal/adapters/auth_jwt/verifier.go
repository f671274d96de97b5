package auth_jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/charleschow/matchsync/internal/core/match"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carries the operator identity and role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues and checks HS256 tokens and turns them into the
// SessionContext every engine operation takes.
type Verifier struct {
	secret        []byte
	tokenDuration time.Duration
	now           func() time.Time
}

func NewVerifier(secret string, tokenDuration time.Duration) *Verifier {
	if tokenDuration == 0 {
		tokenDuration = 12 * time.Hour
	}
	return &Verifier{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Issue signs a token for userID with role.
func (v *Verifier) Issue(userID string, role match.Role) (string, error) {
	now := v.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Verify validates a token. Unknown roles degrade to viewer.
func (v *Verifier) Verify(tokenString string) (match.SessionContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !token.Valid {
		return match.SessionContext{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return match.SessionContext{}, ErrInvalidToken
	}

	return match.SessionContext{
		Role:   match.ParseRole(claims.Role),
		UserID: claims.Subject,
	}, nil
}
