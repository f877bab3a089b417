package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("test-secret", "docchat", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	signed, err := m.Issue(Identity{UserID: "u1", Username: "alice", Email: "a@example.com", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := m.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u1" || id.Username != "alice" || id.Email != "a@example.com" || id.DisplayName != "Alice" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m, err := NewManager("test-secret", "docchat", time.Nanosecond)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	signed, err := m.Issue(Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := m.Verify(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuerSide, _ := NewManager("secret-a", "docchat", time.Hour)
	verifierSide, _ := NewManager("secret-b", "docchat", time.Hour)
	signed, err := issuerSide.Issue(Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifierSide.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m, _ := NewManager("test-secret", "docchat", time.Hour)
	if _, err := m.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("  ", "docchat", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
