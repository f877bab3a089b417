package auth

import "testing"

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("longenough"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("short"); err == nil {
		t.Fatalf("expected short password to fail")
	}
}
