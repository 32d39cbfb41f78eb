package auth

// Principal is the authenticated identity of one request. It is built from a verified
// access token and dropped when the request ends.
type Principal struct {
	Subject  string
	Username string
	TokenUse string
	ClientID string
	Realm    Realm
	Claims   map[string]any
}

// Claim returns a raw claim value from the verified token.
func (p Principal) Claim(name string) (any, bool) {
	v, ok := p.Claims[name]
	return v, ok
}

// IsPartner reports whether the principal was verified against the partner realm.
func (p Principal) IsPartner() bool {
	return p.Realm == RealmPartner
}
