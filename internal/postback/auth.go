package postback

import "crypto/subtle"

// Authenticator checks the shared secret a postback carries.
type Authenticator struct {
	secret  string
	relaxed bool
}

// NewAuthenticator returns an Authenticator. In relaxed mode a postback without a secret is
// accepted at reduced trust; a wrong secret is always rejected.
func NewAuthenticator(secret string, relaxed bool) Authenticator {
	return Authenticator{secret: secret, relaxed: relaxed}
}

// Check returns reducedTrust=true when the postback was accepted without a verified secret.
func (a Authenticator) Check(n Notification) (reducedTrust bool, err error) {
	if !n.HasSecret || a.secret == "" {
		if a.relaxed {
			return true, nil
		}
		if a.secret == "" {
			return false, ErrNoSecretConfigured
		}
		return false, ErrMissingSecret
	}
	if subtle.ConstantTimeCompare([]byte(n.Secret), []byte(a.secret)) != 1 {
		return false, ErrSecretMismatch
	}
	return false, nil
}
