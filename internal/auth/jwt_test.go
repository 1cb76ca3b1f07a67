package auth_test

import (
	"testing"
	"time"

	"github.com/kitilash/altegiobot/internal/auth"
)

func TestGenerateAndVerify(t *testing.T) {
	m := auth.NewManager("test-secret")

	token, err := m.GenerateToken("ops@example.com", "admin", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "ops@example.com" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := auth.NewManager("secret-a").GenerateToken("ops", "admin", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := auth.NewManager("secret-b").Verify(token); err == nil {
		t.Fatalf("token signed with another secret must not verify")
	}
}

func TestVerifyExpired(t *testing.T) {
	m := auth.NewManager("test-secret")
	token, err := m.GenerateToken("ops", "admin", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Verify(token); err == nil {
		t.Fatalf("expired token must not verify")
	}
}

func TestVerifyGarbage(t *testing.T) {
	if _, err := auth.NewManager("test-secret").Verify("not.a.token"); err == nil {
		t.Fatalf("expected error")
	}
}
