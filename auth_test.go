package main

import (
	"strings"
	"testing"
)

func newTestAuth(t *testing.T) (*Auth, *DB) {
	t.Helper()
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuth(db), db
}

func TestAuthRegisterAndValidate(t *testing.T) {
	a, _ := newTestAuth(t)

	id, token, err := a.Register("alice", "secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == 0 || token == "" {
		t.Fatal("expected a real id and token")
	}

	gotID, gotUser, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if gotID != id || gotUser != "alice" {
		t.Errorf("token resolved to (%d,%q), want (%d,alice)", gotID, gotUser, id)
	}
}

func TestAuthRegisterValidation(t *testing.T) {
	a, _ := newTestAuth(t)

	if _, _, err := a.Register("x", "secret"); err == nil {
		t.Error("one-char username should be rejected")
	}
	if _, _, err := a.Register(strings.Repeat("a", 20), "secret"); err == nil {
		t.Error("over-long username should be rejected")
	}
	if _, _, err := a.Register("bob", "abc"); err == nil {
		t.Error("short password should be rejected")
	}
}

func TestAuthRegisterDuplicate(t *testing.T) {
	a, _ := newTestAuth(t)

	if _, _, err := a.Register("alice", "secret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := a.Register("alice", "other"); err == nil {
		t.Error("duplicate username should be rejected")
	}
}

func TestAuthLogin(t *testing.T) {
	a, _ := newTestAuth(t)
	id, _, err := a.Register("alice", "secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	gotID, token, err := a.Login("alice", "secret", "1.2.3.4")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if gotID != id || token == "" {
		t.Errorf("login returned (%d,%q)", gotID, token)
	}

	if _, _, err := a.Login("alice", "wrong", "1.2.3.4"); err == nil {
		t.Error("wrong password should fail")
	}
	if _, _, err := a.Login("nobody", "secret", "1.2.3.4"); err == nil {
		t.Error("unknown user should fail")
	}
}

func TestAuthLoginRateLimit(t *testing.T) {
	a, _ := newTestAuth(t)

	for i := 0; i < maxLoginAttempts; i++ {
		if !a.checkRate("9.9.9.9") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if a.checkRate("9.9.9.9") {
		t.Error("attempt past the limit should be blocked")
	}
	if !a.checkRate("10.10.10.10") {
		t.Error("another IP must not be affected")
	}
}

func TestAuthValidateGarbageToken(t *testing.T) {
	a, _ := newTestAuth(t)
	if _, _, err := a.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token should fail validation")
	}
}

func TestAuthSecretPersistsInStore(t *testing.T) {
	a1, db := newTestAuth(t)
	_, token, err := a1.Register("alice", "secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// A second Auth over the same store loads the same secret, so old
	// tokens stay valid
	a2 := NewAuth(db)
	if _, _, err := a2.ValidateToken(token); err != nil {
		t.Errorf("token should survive an Auth restart: %v", err)
	}
}

func TestGenerateGuestName(t *testing.T) {
	name := GenerateGuestName()
	if !strings.HasPrefix(name, "Guest_") {
		t.Errorf("guest name %q missing prefix", name)
	}
	if len(name) != len("Guest_")+4 {
		t.Errorf("guest name %q has unexpected length", name)
	}
}
