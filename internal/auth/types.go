package auth

// Realm names the authentication domain a token was issued for.
type Realm string

const (
	RealmUser    Realm = "user"
	RealmPartner Realm = "partner"
)

// TokenUseAccess is the only token_use accepted on protected routes.
const TokenUseAccess = "access"

// TokenPair is handed to the caller after a successful credential exchange. It is never stored.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int32  `json:"expiresIn,omitempty"`
}

// PartnerIdentity is the result of provisioning. PartnerID is the derived username,
// not the identifier the partner supplied.
type PartnerIdentity struct {
	PartnerID     string `json:"partnerId"`
	PartnerSecret string `json:"partnerSecret"`
}

// PartnerTokenRequest carries either a secret or a refresh token for the partner realm.
type PartnerTokenRequest struct {
	PartnerID     string
	PartnerSecret string
	RefreshToken  string
}
