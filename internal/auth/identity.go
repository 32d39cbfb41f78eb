package auth

import "context"

// TokenResult is what the identity provider hands back after a successful authentication.
type TokenResult struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    int32
}

// IdentityProvider is the narrow slice of the managed identity service used here.
//
// The authenticate and refresh calls return (nil, nil) when the provider reports no
// authentication result: wrong credentials, unknown or unconfirmed account, or a pending
// challenge. A non-nil error means the provider itself could not be reached or refused
// the call for reasons outside the caller's control.
type IdentityProvider interface {
	AuthenticateWithPassword(ctx context.Context, clientID, username, password string) (*TokenResult, error)
	AuthenticateWithSecretHash(ctx context.Context, clientID, username, password, secretHash string) (*TokenResult, error)
	RefreshToken(ctx context.Context, clientID, refreshToken, secretHash string) (*TokenResult, error)
	CreateAccount(ctx context.Context, poolID, username string, attributes map[string]string, suppressNotification bool) error
	SetPermanentPassword(ctx context.Context, poolID, username, password string) error
	DeleteAccount(ctx context.Context, poolID, username string) error
}
