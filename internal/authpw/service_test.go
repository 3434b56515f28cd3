package authpw

import "testing"

func TestVerifyPlain(t *testing.T) {
	if !Verify("admin123", "admin123") {
		t.Fatal("expected plain password to match")
	}
	if Verify("admin123", "admin124") {
		t.Fatal("expected wrong password to fail")
	}
	if Verify("", "") {
		t.Fatal("empty stored password must never match")
	}
}

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !IsHash(hash) {
		t.Fatalf("Hash() = %q, want bcrypt hash", hash)
	}
	if !Verify(hash, "s3cret") {
		t.Fatal("expected hashed password to match")
	}
	if Verify(hash, "wrong") {
		t.Fatal("expected wrong password to fail against hash")
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	if _, err := Hash(""); err != ErrEmptyPassword {
		t.Fatalf("Hash(\"\") error = %v, want ErrEmptyPassword", err)
	}
}
