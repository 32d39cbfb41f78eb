// Package authtest provides an in-memory identity provider and a token signer for tests.
package authtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"todoapp.io/internal/auth"
)

// Call records one request made against FakeIdentityProvider.
type Call struct {
	Method       string
	ClientID     string
	PoolID       string
	Username     string
	Password     string
	SecretHash   string
	RefreshToken string
	Attributes   map[string]string
	Suppress     bool
}

// FakeIdentityProvider accepts the credentials it was seeded with and records every call.
type FakeIdentityProvider struct {
	mu sync.Mutex

	Passwords     map[string]string
	RefreshTokens map[string]*auth.TokenResult

	AuthErr        error
	CreateErr      error
	SetPasswordErr error
	DeleteErr      error

	calls []Call
}

// NewFakeIdentityProvider returns an empty provider.
func NewFakeIdentityProvider() *FakeIdentityProvider {
	return &FakeIdentityProvider{
		Passwords:     map[string]string{},
		RefreshTokens: map[string]*auth.TokenResult{},
	}
}

func (f *FakeIdentityProvider) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns a copy of the recorded calls.
func (f *FakeIdentityProvider) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts recorded calls of one method, or all calls when method is empty.
func (f *FakeIdentityProvider) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			n++
		}
	}
	return n
}

func (f *FakeIdentityProvider) passwordResult(username, password string) *auth.TokenResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	want, ok := f.Passwords[username]
	if !ok || want != password {
		return nil
	}
	return &auth.TokenResult{
		AccessToken:  "access-" + username,
		IDToken:      "id-" + username,
		RefreshToken: "refresh-" + username,
		ExpiresIn:    3600,
	}
}

func (f *FakeIdentityProvider) AuthenticateWithPassword(_ context.Context, clientID, username, password string) (*auth.TokenResult, error) {
	f.record(Call{Method: "AuthenticateWithPassword", ClientID: clientID, Username: username, Password: password})
	if f.AuthErr != nil {
		return nil, f.AuthErr
	}
	return f.passwordResult(username, password), nil
}

func (f *FakeIdentityProvider) AuthenticateWithSecretHash(_ context.Context, clientID, username, password, secretHash string) (*auth.TokenResult, error) {
	f.record(Call{Method: "AuthenticateWithSecretHash", ClientID: clientID, Username: username, Password: password, SecretHash: secretHash})
	if f.AuthErr != nil {
		return nil, f.AuthErr
	}
	return f.passwordResult(username, password), nil
}

func (f *FakeIdentityProvider) RefreshToken(_ context.Context, clientID, refreshToken, secretHash string) (*auth.TokenResult, error) {
	f.record(Call{Method: "RefreshToken", ClientID: clientID, RefreshToken: refreshToken, SecretHash: secretHash})
	if f.AuthErr != nil {
		return nil, f.AuthErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.RefreshTokens[refreshToken]
	if !ok {
		return nil, nil
	}
	out := *res
	return &out, nil
}

func (f *FakeIdentityProvider) CreateAccount(_ context.Context, poolID, username string, attributes map[string]string, suppress bool) error {
	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	f.record(Call{Method: "CreateAccount", PoolID: poolID, Username: username, Attributes: attrs, Suppress: suppress})
	return f.CreateErr
}

func (f *FakeIdentityProvider) SetPermanentPassword(_ context.Context, poolID, username, password string) error {
	f.record(Call{Method: "SetPermanentPassword", PoolID: poolID, Username: username, Password: password})
	if f.SetPasswordErr != nil {
		return f.SetPasswordErr
	}
	f.mu.Lock()
	f.Passwords[username] = password
	f.mu.Unlock()
	return nil
}

func (f *FakeIdentityProvider) DeleteAccount(_ context.Context, poolID, username string) error {
	f.record(Call{Method: "DeleteAccount", PoolID: poolID, Username: username})
	return f.DeleteErr
}

// Signer mints RS256 tokens and serves the matching key set.
type Signer struct {
	Kid string
	Key *rsa.PrivateKey
}

// NewSigner generates a fresh signing key.
func NewSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &Signer{Kid: kid, Key: key}
}

// Mint signs claims with the signer's key and kid.
func (s *Signer) Mint(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.Kid
	signed, err := tok.SignedString(s.Key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// JWKS renders the public half of each signer as a key set document.
func JWKS(signers ...*Signer) []byte {
	type key struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		Alg string `json:"alg"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	doc := struct {
		Keys []key `json:"keys"`
	}{}
	for _, s := range signers {
		pub := s.Key.PublicKey
		doc.Keys = append(doc.Keys, key{
			Kid: s.Kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	data, _ := json.Marshal(doc)
	return data
}

// JWKSHandler serves JWKS(signers...) on any path.
func JWKSHandler(signers ...*Signer) http.Handler {
	body := JWKS(signers...)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

// AccessClaims builds the claim set of a valid access token for the given realm.
func AccessClaims(issuer, clientID, subject string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":       issuer,
		"sub":       subject,
		"client_id": clientID,
		"token_use": auth.TokenUseAccess,
		"username":  subject,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
}
