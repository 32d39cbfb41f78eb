package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SecretHash binds a username to an app client under the client's shared secret:
// base64(HMAC-SHA256(clientSecret, username + clientID)). Clients configured with a
// secret reject every token request that lacks it.
func SecretHash(username, clientID, clientSecret string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
