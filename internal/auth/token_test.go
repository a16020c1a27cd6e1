package auth

import (
	"strings"
	"testing"
)

func TestMintSecretUnique(t *testing.T) {
	a, err := mintSecret()
	if err != nil {
		t.Fatalf("mintSecret: %v", err)
	}
	b, err := mintSecret()
	if err != nil {
		t.Fatalf("mintSecret: %v", err)
	}
	if a == b {
		t.Fatal("two minted secrets are identical")
	}
	if strings.Contains(a, ".") {
		t.Fatalf("secret %q contains the token separator", a)
	}
}

func TestSplitTokenRoundTrip(t *testing.T) {
	raw := joinToken("tok_123", "s3cret")
	id, secret, err := splitToken(raw)
	if err != nil {
		t.Fatalf("splitToken: %v", err)
	}
	if id != "tok_123" || secret != "s3cret" {
		t.Fatalf("got id=%q secret=%q", id, secret)
	}
}

func TestSplitTokenRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "no-separator", ".secret", "id.", "a.b.c", "   "} {
		if _, _, err := splitToken(raw); err == nil {
			t.Errorf("splitToken(%q) accepted malformed input", raw)
		}
	}
}

func TestSecureCompareHash(t *testing.T) {
	hash := hashSecret("correct")
	if !secureCompareHash(hash, "correct") {
		t.Fatal("matching secret rejected")
	}
	if secureCompareHash(hash, "wrong") {
		t.Fatal("wrong secret accepted")
	}
	if secureCompareHash("", "correct") {
		t.Fatal("empty stored hash accepted")
	}
}

func TestHashSecretIsNotPlaintext(t *testing.T) {
	secret, err := mintSecret()
	if err != nil {
		t.Fatalf("mintSecret: %v", err)
	}
	if hashSecret(secret) == secret {
		t.Fatal("hash equals plaintext")
	}
}
