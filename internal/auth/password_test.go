package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	passwordHashingCost = bcrypt.MinCost
	defer func() { passwordHashingCost = bcrypt.DefaultCost }()

	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if hash == "correct horse" {
		t.Fatalf("expected a hash, got the plain password")
	}
	if err := ComparePassword(hash, "correct horse"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := ComparePassword(hash, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestPasswordEdgeCases(t *testing.T) {
	if _, err := HashPassword(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected empty password error, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("x", 73)); err == nil {
		t.Fatalf("expected overlong password to be rejected")
	}
	if err := ComparePassword("", "anything"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected empty hash to never match, got %v", err)
	}
}
