package web_test

import (
	"testing"
	"time"

	"synapse/web"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-testing-32chars"

func TestTokenIssueAndValidate(t *testing.T) {
	tokens, err := web.NewTokens(testSecret)
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}

	signed, err := tokens.Issue("u1", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := tokens.Validate(signed)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != "u1" || claims.Issuer != web.TokenIssuer {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenRejections(t *testing.T) {
	if _, err := web.NewTokens("short"); err == nil {
		t.Error("expected a short secret to be refused")
	}

	tokens, _ := web.NewTokens(testSecret)
	other, _ := web.NewTokens("another-secret-key-for-jwt-testing-32chars")
	foreign, _ := other.Issue("u1", time.Hour)

	sign := func(claims web.TokenClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"other secret", foreign},
		{"expired", sign(web.TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: web.TokenIssuer, ExpiresAt: jwt.NewNumericDate(past)},
			UserID:           "u1",
		})},
		{"wrong issuer", sign(web.TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
			UserID:           "u1",
		})},
		{"no user", sign(web.TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: web.TokenIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tokens.Validate(tt.token); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}
