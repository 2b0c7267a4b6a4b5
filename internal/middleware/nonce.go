package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// NonceLifetime matches the two 6-hour ticks a WordPress nonce stays valid for.
const NonceLifetime = 12 * time.Hour

var (
	ErrNonceMalformed = errors.New("malformed nonce")
	ErrNonceExpired   = errors.New("nonce expired")
	ErrNonceInvalid   = errors.New("nonce does not match")
)

// NonceIssuer mints and checks tokens of the form "<expiry unix>.<hex mac>",
// where the MAC is HMAC-SHA256 over credential, action and expiry.
type NonceIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewNonceIssuer creates an issuer keyed by secret.
func NewNonceIssuer(secret string) *NonceIssuer {
	return &NonceIssuer{secret: []byte(secret), now: time.Now}
}

// Issue returns a nonce for credentialID and action and its expiry.
func (n *NonceIssuer) Issue(credentialID, action string) (string, time.Time) {
	expires := n.now().Add(NonceLifetime).Truncate(time.Second)
	exp := strconv.FormatInt(expires.Unix(), 10)
	return exp + "." + n.mac(credentialID, action, exp), expires
}

// Verify checks that token was issued for credentialID and action and has
// not expired.
func (n *NonceIssuer) Verify(credentialID, action, token string) error {
	exp, sig, ok := strings.Cut(token, ".")
	if !ok || exp == "" || sig == "" {
		return ErrNonceMalformed
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrNonceMalformed
	}
	if !hmac.Equal([]byte(sig), []byte(n.mac(credentialID, action, exp))) {
		return ErrNonceInvalid
	}
	if !n.now().Before(time.Unix(unix, 0)) {
		return ErrNonceExpired
	}
	return nil
}

func (n *NonceIssuer) mac(credentialID, action, exp string) string {
	h := hmac.New(sha256.New, n.secret)
	h.Write([]byte(credentialID))
	h.Write([]byte{0})
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write([]byte(exp))
	return hex.EncodeToString(h.Sum(nil))
}
