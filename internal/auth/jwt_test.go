package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer := NewSigner("secret-1")
	verifier := NewVerifier("secret-1", "")

	tok, err := signer.Sign("client-a", "gw-1", SignOptions{})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := verifier.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.ClientID != "client-a" || claims.GatewayID != "gw-1" {
		t.Fatalf("got %+v", claims)
	}
	if claims.Role != "client" {
		t.Fatalf("role = %q, want default %q", claims.Role, "client")
	}
}

func TestVerifyFallsBackToPreviousSecretOnSignatureMismatch(t *testing.T) {
	signer := NewSigner("old-secret")
	verifier := NewVerifier("new-secret", "old-secret")

	tok, err := signer.Sign("client-a", "gw-1", SignOptions{})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := verifier.Verify(tok)
	if err != nil {
		t.Fatalf("expected fallback verify to succeed: %v", err)
	}
	if claims.ClientID != "client-a" {
		t.Fatalf("got %+v", claims)
	}
}

func TestVerifyRejectsWhenNeitherSecretMatches(t *testing.T) {
	signer := NewSigner("unrelated-secret")
	verifier := NewVerifier("new-secret", "old-secret")

	tok, _ := signer.Sign("client-a", "gw-1", SignOptions{})
	_, err := verifier.Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredTokenWithoutFallback(t *testing.T) {
	signer := NewSigner("secret-1")
	verifier := NewVerifier("secret-1", "old-secret")

	tok, err := signer.Sign("client-a", "gw-1", SignOptions{TTL: -time.Second})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = verifier.Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	verifier := NewVerifier("secret-1", "")
	_, err := verifier.Verify("not-a-jwt")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCustomClaimsRetainedAndSubAlwaysIncluded(t *testing.T) {
	signer := NewSigner("secret-1")
	verifier := NewVerifier("secret-1", "")

	tok, err := signer.Sign("client-a", "gw-1", SignOptions{
		CustomClaims: map[string]any{"team": "red", "level": "5"},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := verifier.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.CustomClaims["sub"] != "client-a" {
		t.Fatalf("expected sub in custom claims, got %+v", claims.CustomClaims)
	}
	if claims.CustomClaims["team"] != "red" {
		t.Fatalf("expected team custom claim, got %+v", claims.CustomClaims)
	}
}

func TestCustomRoleOverridesDefault(t *testing.T) {
	signer := NewSigner("secret-1")
	verifier := NewVerifier("secret-1", "")

	tok, err := signer.Sign("admin-1", "gw-1", SignOptions{Role: "admin"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != "admin" {
		t.Fatalf("role = %q, want admin", claims.Role)
	}
}
