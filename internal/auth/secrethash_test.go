package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestSecretHash(t *testing.T) {
	got := SecretHash("acme", "client-1", "secret-1")

	mac := hmac.New(sha256.New, []byte("secret-1"))
	mac.Write([]byte("acmeclient-1"))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); got != want {
		t.Fatalf("SecretHash=%q, want %q", got, want)
	}
	if again := SecretHash("acme", "client-1", "secret-1"); again != got {
		t.Fatal("secret hash must be deterministic")
	}
	if SecretHash("acme2", "client-1", "secret-1") == got {
		t.Fatal("secret hash must depend on the username")
	}
	if SecretHash("acme", "client-1", "secret-2") == got {
		t.Fatal("secret hash must depend on the client secret")
	}
	if SecretHash("acme", "client-2", "secret-1") == got {
		t.Fatal("secret hash must depend on the client id")
	}
}
