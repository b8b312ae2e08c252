package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func claimsAt(typ TokenType, now time.Time, ttl time.Duration) Claims {
	return Claims{
		Type:     typ,
		FamilyID: "family-1",
		Version:  2,
		Roles:    []string{"user"},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signed, err := SignToken(claimsAt(AccessToken, now, 30*time.Minute), []byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseToken(signed, []byte("secret"), AccessToken, now.Add(29*time.Minute))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.FamilyID != "family-1" || claims.Version != 2 {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := ParseToken(signed, []byte("secret"), AccessToken, now.Add(31*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseTokenRejectsWrongTypeAndSecret(t *testing.T) {
	now := time.Now()
	signed, err := SignToken(claimsAt(RefreshToken, now, time.Hour), []byte("refresh-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := ParseToken(signed, []byte("refresh-secret"), AccessToken, now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected type mismatch to be malformed, got %v", err)
	}
	if _, err := ParseToken(signed, []byte("other"), RefreshToken, now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected bad signature to be malformed, got %v", err)
	}
	if _, err := ParseToken("a.b.c", []byte("refresh-secret"), RefreshToken, now); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected garbage to be malformed, got %v", err)
	}
}

func TestTokenGenerator(t *testing.T) {
	token, hash, err := DefaultTokenGenerator{}.New()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(token) < 40 {
		t.Fatalf("expected at least 256 bits of entropy, got %q", token)
	}
	if hash != HashToken(token) {
		t.Fatalf("hash mismatch")
	}
	other, _, _ := DefaultTokenGenerator{}.New()
	if other == token {
		t.Fatalf("expected unique tokens")
	}
}
