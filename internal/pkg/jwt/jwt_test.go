package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestSignAndParse(t *testing.T) {
	s, err := NewSigner("secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tok, err := s.Sign("tenant-a", "user-1", RoleOperator, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := s.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.TenantID != "tenant-a" || claims.UserID != "user-1" || claims.Role != RoleOperator {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	s, _ := NewSigner("secret")
	other, _ := NewSigner("other")

	expired, _ := s.Sign("tenant-a", "u", "", -time.Minute)
	foreign, _ := other.Sign("tenant-a", "u", "", time.Hour)
	noTenant, _ := s.Sign("", "u", "", time.Hour)
	none, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{TenantID: "tenant-a"}).
		SignedString(jwtlib.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"empty":     "",
		"expired":   expired,
		"foreign":   foreign,
		"no tenant": noTenant,
		"alg none":  none,
	} {
		if _, err := s.Parse(tok); err == nil {
			t.Fatalf("%s: expected parse to fail", name)
		}
	}

	if _, err := NewSigner(""); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}
