package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"todoapp.io/internal/obs"
)

const (
	jwksPath                  = "/.well-known/jwks.json"
	defaultKeyTTL             = time.Hour
	defaultMinRefetchInterval = 30 * time.Second
	maxJWKSBytes              = 1 << 20
)

// ErrKeyNotFound is returned when no signing key matches a token's kid.
var ErrKeyNotFound = errors.New("auth: signing key not found")

// KeySet serves RSA verification keys published by the identity provider, cached by kid.
type KeySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefetch time.Duration
	now        func() time.Time

	keys  *ttlcache.Cache[string, *rsa.PublicKey]
	group singleflight.Group

	mu          sync.Mutex
	lastAttempt time.Time
}

// KeySetOption customises a KeySet.
type KeySetOption func(*KeySet)

// WithHTTPClient sets the client used to download the key set.
func WithHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySet) {
		if c != nil {
			k.client = c
		}
	}
}

// WithKeyTTL sets how long a fetched key is trusted before it is fetched again.
func WithKeyTTL(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d > 0 {
			k.ttl = d
		}
	}
}

// WithMinRefetchInterval bounds how often an unknown kid may trigger a download.
func WithMinRefetchInterval(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d >= 0 {
			k.minRefetch = d
		}
	}
}

// NewKeySet builds a key set reading from jwksURL. Nothing is fetched until the first lookup.
func NewKeySet(jwksURL string, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:        jwksURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		ttl:        defaultKeyTTL,
		minRefetch: defaultMinRefetchInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	k.keys = ttlcache.New[string, *rsa.PublicKey](
		ttlcache.WithTTL[string, *rsa.PublicKey](k.ttl),
		ttlcache.WithDisableTouchOnHit[string, *rsa.PublicKey](),
	)
	return k
}

// JWKSURL returns the well-known key set location for an issuer.
func JWKSURL(issuer string) string {
	return strings.TrimRight(issuer, "/") + jwksPath
}

// Key returns the public key for kid, downloading the key set when the kid is unknown
// or its cached entry expired.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}
	if item := k.keys.Get(kid); item != nil {
		return item.Value(), nil
	}
	if k.refetchAllowed() {
		// One download serves every concurrent miss; a caller going away must not fail the rest.
		fetchCtx := context.WithoutCancel(ctx)
		_, err, _ := k.group.Do("jwks", func() (any, error) {
			return nil, k.refresh(fetchCtx)
		})
		if err != nil {
			return nil, err
		}
	}
	if item := k.keys.Get(kid); item != nil {
		return item.Value(), nil
	}
	return nil, ErrKeyNotFound
}

func (k *KeySet) refetchAllowed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastAttempt.IsZero() || k.now().Sub(k.lastAttempt) >= k.minRefetch
}

// refresh downloads the key set. Failed attempts count against minRefetch too, so an
// unreachable provider is polled at most once per interval.
func (k *KeySet) refresh(ctx context.Context) error {
	k.mu.Lock()
	k.lastAttempt = k.now()
	k.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	loaded := 0
	for _, jwk := range doc.Keys {
		if jwk.Kid == "" || jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwk.publicKey()
		if err != nil {
			obs.Logger().Warn().Err(err).Str("kid", jwk.Kid).Msg("skipping malformed jwk")
			continue
		}
		k.keys.Set(jwk.Kid, pub, ttlcache.DefaultTTL)
		loaded++
	}
	if loaded == 0 {
		return errors.New("jwks: no usable signing keys")
	}

	obs.Logger().Debug().Str("url", k.url).Int("keys", loaded).Msg("jwks refreshed")
	return nil
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j jwk) publicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(j.N, "="))
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(j.E, "="))
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 || len(eb) > 4 {
		return nil, errors.New("invalid rsa parameters")
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}
