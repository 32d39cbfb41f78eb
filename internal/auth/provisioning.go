package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"todoapp.io/internal/obs"
)

// DefaultPartnerIDAttribute stores the caller-supplied partner id on the account.
const DefaultPartnerIDAttribute = "custom:partnerId"

const (
	derivedUsernameLen = 32
	partnerSecretBytes = 32
)

// ProvisionerConfig describes the partner pool and the administrative gate.
type ProvisionerConfig struct {
	PoolID             string
	AdminKey           string
	PartnerIDAttribute string
}

// Provisioner creates partner accounts behind the administrative key.
type Provisioner struct {
	idp         IdentityProvider
	poolID      string
	adminDigest [sha256.Size]byte
	attribute   string
	rollback    bool
	random      io.Reader
}

// ProvisionerOption customises a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithRollback controls whether an account left without credentials is deleted again.
func WithRollback(enabled bool) ProvisionerOption {
	return func(p *Provisioner) { p.rollback = enabled }
}

// WithRandom replaces the secret entropy source.
func WithRandom(r io.Reader) ProvisionerOption {
	return func(p *Provisioner) {
		if r != nil {
			p.random = r
		}
	}
}

// NewProvisioner returns ErrMisconfigured when the pool or admin key is missing.
func NewProvisioner(idp IdentityProvider, cfg ProvisionerConfig, opts ...ProvisionerOption) (*Provisioner, error) {
	if idp == nil {
		return nil, misconfigured("identity provider is required")
	}
	if strings.TrimSpace(cfg.PoolID) == "" || cfg.AdminKey == "" {
		return nil, misconfigured("provisioning configuration is incomplete")
	}
	attr := strings.TrimSpace(cfg.PartnerIDAttribute)
	if attr == "" {
		attr = DefaultPartnerIDAttribute
	}
	p := &Provisioner{
		idp:         idp,
		poolID:      cfg.PoolID,
		adminDigest: sha256.Sum256([]byte(cfg.AdminKey)),
		attribute:   attr,
		rollback:    true,
		random:      rand.Reader,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Authorize compares the presented key with the configured one in constant time.
// Hashing both sides first keeps the key length out of the timing as well.
func (p *Provisioner) Authorize(adminKey string) error {
	if adminKey == "" {
		return &Error{Kind: ErrUnauthorized, Message: "Unauthorized"}
	}
	presented := sha256.Sum256([]byte(adminKey))
	if subtle.ConstantTimeCompare(presented[:], p.adminDigest[:]) != 1 {
		return &Error{Kind: ErrUnauthorized, Message: "Unauthorized"}
	}
	return nil
}

// DeriveUsername maps a partner id to its account name: hex(sha256(partnerID))[:32].
func DeriveUsername(partnerID string) string {
	sum := sha256.Sum256([]byte(partnerID))
	return hex.EncodeToString(sum[:])[:derivedUsernameLen]
}

// Register creates the partner account and sets a fresh permanent secret on it. The
// secret is returned once and never retained.
func (p *Provisioner) Register(ctx context.Context, adminKey, partnerID, email string) (PartnerIdentity, error) {
	if err := p.Authorize(adminKey); err != nil {
		observeRegistration("unauthorized")
		return PartnerIdentity{}, err
	}
	partnerID = strings.TrimSpace(partnerID)
	email = strings.TrimSpace(email)
	if partnerID == "" || email == "" {
		observeRegistration("invalid")
		return PartnerIdentity{}, invalidRequest("partnerId and email are required")
	}

	username := DeriveUsername(partnerID)
	secret, err := p.newSecret()
	if err != nil {
		observeRegistration("error")
		return PartnerIdentity{}, &Error{Kind: ErrMisconfigured, Message: "Server misconfigured", Err: err}
	}

	attrs := map[string]string{
		"email":     email,
		p.attribute: partnerID,
	}
	if err := p.idp.CreateAccount(ctx, p.poolID, username, attrs, true); err != nil {
		observeRegistration("error")
		if errors.Is(err, ErrAccountExists) {
			return PartnerIdentity{}, &Error{Kind: ErrUpstream, Message: "Partner account already exists", Err: err}
		}
		return PartnerIdentity{}, Classify(err, "Partner account could not be created")
	}
	if err := p.idp.SetPermanentPassword(ctx, p.poolID, username, secret); err != nil {
		observeRegistration("error")
		p.compensate(ctx, username, err)
		return PartnerIdentity{}, Classify(err, "Partner credentials could not be set")
	}

	observeRegistration("created")
	return PartnerIdentity{PartnerID: username, PartnerSecret: secret}, nil
}

func (p *Provisioner) newSecret() (string, error) {
	buf := make([]byte, partnerSecretBytes)
	if _, err := io.ReadFull(p.random, buf); err != nil {
		return "", fmt.Errorf("generate partner secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// compensate removes an account that exists without usable credentials.
func (p *Provisioner) compensate(ctx context.Context, username string, cause error) {
	log := obs.Logger()
	if !p.rollback {
		log.Warn().Err(cause).Str("username", username).Msg("partner account left without credentials")
		return
	}
	if err := p.idp.DeleteAccount(context.WithoutCancel(ctx), p.poolID, username); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Str("username", username).Msg("partner rollback failed")
		return
	}
	log.Warn().Err(cause).Str("username", username).Msg("partner account rolled back")
}

func observeRegistration(outcome string) {
	obs.PartnerRegistrations.WithLabelValues(outcome).Inc()
}
