package auth

import (
	"context"
	"strings"

	"todoapp.io/internal/obs"
)

// IssuerConfig names the app clients tokens are requested for.
type IssuerConfig struct {
	UserClientID        string
	PartnerClientID     string
	PartnerClientSecret string
}

// Issuer exchanges credentials for tokens through the identity provider.
type Issuer struct {
	idp IdentityProvider
	cfg IssuerConfig
}

// NewIssuer validates configuration up front so that no request ever runs half-configured.
func NewIssuer(idp IdentityProvider, cfg IssuerConfig) (*Issuer, error) {
	if idp == nil {
		return nil, misconfigured("identity provider is required")
	}
	if cfg.UserClientID == "" || cfg.PartnerClientID == "" || cfg.PartnerClientSecret == "" {
		return nil, misconfigured("issuer client configuration is incomplete")
	}
	return &Issuer{idp: idp, cfg: cfg}, nil
}

// Login runs the end-user password flow.
func (s *Issuer) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return TokenPair{}, invalidRequest("email and password are required")
	}
	res, err := s.idp.AuthenticateWithPassword(ctx, s.cfg.UserClientID, email, password)
	if err != nil {
		observeExchange("password", "error")
		return TokenPair{}, Classify(err, "Authentication service unavailable")
	}
	if res == nil || res.AccessToken == "" {
		observeExchange("password", "rejected")
		return TokenPair{}, unauthenticated("Authentication failed")
	}
	observeExchange("password", "issued")
	return TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken, ExpiresIn: res.ExpiresIn}, nil
}

// PartnerToken runs the refresh flow when a refresh token is present, and the
// secret-hash password flow otherwise.
func (s *Issuer) PartnerToken(ctx context.Context, req PartnerTokenRequest) (TokenPair, error) {
	partnerID := strings.TrimSpace(req.PartnerID)
	if req.RefreshToken != "" {
		if partnerID == "" {
			return TokenPair{}, invalidRequest("Missing partner credentials")
		}
		return s.refresh(ctx, partnerID, req.RefreshToken)
	}
	if partnerID == "" || req.PartnerSecret == "" {
		return TokenPair{}, invalidRequest("Missing partner credentials")
	}

	hash := SecretHash(partnerID, s.cfg.PartnerClientID, s.cfg.PartnerClientSecret)
	res, err := s.idp.AuthenticateWithSecretHash(ctx, s.cfg.PartnerClientID, partnerID, req.PartnerSecret, hash)
	if err != nil {
		observeExchange("client_credentials", "error")
		return TokenPair{}, Classify(err, "Authentication service unavailable")
	}
	if res == nil || res.AccessToken == "" {
		observeExchange("client_credentials", "rejected")
		return TokenPair{}, unauthenticated("Authentication failed")
	}
	observeExchange("client_credentials", "issued")
	return TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken, ExpiresIn: res.ExpiresIn}, nil
}

func (s *Issuer) refresh(ctx context.Context, partnerID, refreshToken string) (TokenPair, error) {
	hash := SecretHash(partnerID, s.cfg.PartnerClientID, s.cfg.PartnerClientSecret)
	res, err := s.idp.RefreshToken(ctx, s.cfg.PartnerClientID, refreshToken, hash)
	if err != nil {
		observeExchange("refresh", "error")
		return TokenPair{}, Classify(err, "Authentication service unavailable")
	}
	if res == nil || res.AccessToken == "" {
		observeExchange("refresh", "rejected")
		return TokenPair{}, unauthenticated("Token refresh failed")
	}
	observeExchange("refresh", "issued")
	// Refresh tokens are not always rotated.
	next := res.RefreshToken
	if next == "" {
		next = refreshToken
	}
	return TokenPair{AccessToken: res.AccessToken, RefreshToken: next, ExpiresIn: res.ExpiresIn}, nil
}

func observeExchange(flow, outcome string) {
	obs.CredentialExchanges.WithLabelValues(flow, outcome).Inc()
}
