package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
)

// Claims carry the session lineage: FamilyID groups every rotation of one
// login and Version must match the user's current token version.
type Claims struct {
	Type     TokenType `json:"typ"`
	FamilyID string    `json:"fid"`
	Version  int       `json:"ver"`
	Roles    []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func SignToken(claims Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies the signature, the expiry against now, and the token type.
func ParseToken(token string, secret []byte, want TokenType, now time.Time) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if !parsed.Valid || claims.Type != want || claims.Subject == "" || claims.ID == "" || claims.FamilyID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
