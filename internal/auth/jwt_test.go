package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestJWTRoundTrip(t *testing.T) {
	id := uuid.New()
	tok, err := GenerateJWT("secret", id, "contractor", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseJWT("secret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != id || claims.Role != "contractor" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseJWTRejects(t *testing.T) {
	id := uuid.New()
	good, _ := GenerateJWT("secret", id, "customer", time.Hour)

	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: id,
		Role:   "customer",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	staleStr, _ := stale.SignedString([]byte("secret"))

	noUser := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "admin"})
	noUserStr, _ := noUser.SignedString([]byte("secret"))

	tests := []struct {
		name, secret, token string
	}{
		{"wrong secret", "other", good},
		{"expired", "secret", staleStr},
		{"garbage", "secret", "not-a-token"},
		{"no user id", "secret", noUserStr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWT(tt.secret, tt.token); err == nil {
				t.Error("expected error")
			}
		})
	}
}
