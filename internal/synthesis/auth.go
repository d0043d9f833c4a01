package synthesis

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

// HeaderSharedSecret carries the pre-shared secret on inbound requests.
const HeaderSharedSecret = "X-Shared-Secret"

var (
	errMissingSecret  = errors.New("shared secret header missing")
	errSecretMismatch = errors.New("shared secret mismatch")
	errNoSecret       = errors.New("no shared secret configured")
)

// Authenticate checks the X-Shared-Secret header against secret. An empty
// configured secret rejects every request.
func Authenticate(r *http.Request, secret string) error {
	if secret == "" {
		return &Error{Kind: KindAuth, Message: msgUnauthorized, Err: errNoSecret}
	}
	got := r.Header.Get(HeaderSharedSecret)
	if got == "" {
		return &Error{Kind: KindAuth, Message: msgUnauthorized, Err: errMissingSecret}
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return &Error{Kind: KindAuth, Message: msgUnauthorized, Err: errSecretMismatch}
	}
	return nil
}
