package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"todoapp.io/internal/obs"
)

// IssuerURL composes the issuer of a user pool from the provider base URL.
func IssuerURL(baseURL, poolID string) string {
	return strings.TrimRight(baseURL, "/") + "/" + poolID
}

// VerifierConfig describes one realm's token expectations.
type VerifierConfig struct {
	Realm    Realm
	Issuer   string
	ClientID string
	Leeway   time.Duration
	Now      func() time.Time
}

// Verifier validates access tokens issued for a single pool and app client.
type Verifier struct {
	realm    Realm
	clientID string
	keys     *KeySet
	parser   *jwt.Parser
}

// NewVerifier returns a Verifier or ErrMisconfigured when the realm is not fully described.
func NewVerifier(cfg VerifierConfig, keys *KeySet) (*Verifier, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if cfg.Issuer == "" || cfg.ClientID == "" || keys == nil {
		return nil, misconfigured("Server misconfigured")
	}
	if cfg.Realm == "" {
		cfg.Realm = RealmUser
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	return &Verifier{
		realm:    cfg.Realm,
		clientID: cfg.ClientID,
		keys:     keys,
		parser:   jwt.NewParser(opts...),
	}, nil
}

// Realm reports which realm this verifier admits.
func (v *Verifier) Realm() Realm {
	return v.realm
}

// Verify checks signature, issuer, expiry, token use and client binding. Every failure
// collapses to ErrInvalidToken; the cause is only logged.
func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	p, err := v.verify(ctx, strings.TrimSpace(token))
	if err != nil {
		obs.TokenVerifications.WithLabelValues(string(v.realm), "rejected").Inc()
		obs.Logger().Debug().Err(err).Str("realm", string(v.realm)).Msg("token rejected")
		return Principal{}, ErrInvalidToken
	}
	obs.TokenVerifications.WithLabelValues(string(v.realm), "accepted").Inc()
	return p, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, errors.New("empty token")
	}
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return Principal{}, err
	}

	tokenUse, _ := claims["token_use"].(string)
	if tokenUse != TokenUseAccess {
		return Principal{}, fmt.Errorf("token_use %q not accepted", tokenUse)
	}
	clientID, _ := claims["client_id"].(string)
	if clientID == "" {
		aud, _ := claims.GetAudience()
		if slices.Contains(aud, v.clientID) {
			clientID = v.clientID
		}
	}
	if clientID != v.clientID {
		return Principal{}, fmt.Errorf("client %q not accepted", clientID)
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return Principal{}, errors.New("token has no subject")
	}
	username, _ := claims["username"].(string)
	if username == "" {
		username, _ = claims["cognito:username"].(string)
	}
	return Principal{
		Subject:  sub,
		Username: username,
		TokenUse: tokenUse,
		ClientID: clientID,
		Realm:    v.realm,
		Claims:   claims,
	}, nil
}
