package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"

	"varmatrix/internal/model"
)

// CredentialHeader carries the admin credential as an RFC 8941 dictionary:
//
//	Matrix-Credential: key="<admin key>", nonce="<token>"
const CredentialHeader = "Matrix-Credential"

// NonceAction is the action every mutating request's nonce is bound to.
const NonceAction = "edit_variations"

// Credential is an authenticated caller. ID is a fingerprint of the key,
// safe to log; the key itself never leaves this package.
type Credential struct {
	ID string
}

type credentialKey struct{}

// WithCredential returns ctx carrying c.
func WithCredential(ctx context.Context, c *Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, c)
}

// CredentialFrom returns the credential stored by the Credential middleware,
// or nil on exempt paths.
func CredentialFrom(ctx context.Context) *Credential {
	c, _ := ctx.Value(credentialKey{}).(*Credential)
	return c
}

// headerCredential is the parsed Matrix-Credential header.
type headerCredential struct {
	Key   string
	Nonce string
}

// ParseCredentialHeader extracts key and optional nonce from the header.
//
// Examples:
//   - key="abc"             → key abc, no nonce
//   - key="abc", nonce="n1" → key abc, nonce n1
//
// Returns error if header is empty, malformed, or missing the key.
func ParseCredentialHeader(header string) (headerCredential, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return headerCredential{}, errors.New("empty Matrix-Credential header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return headerCredential{}, fmt.Errorf("invalid Matrix-Credential header: %w", err)
	}

	key, err := dictString(dict, "key")
	if err != nil {
		return headerCredential{}, err
	}
	if key == "" {
		return headerCredential{}, errors.New("key not found in Matrix-Credential header")
	}

	nonce, err := dictString(dict, "nonce")
	if err != nil {
		return headerCredential{}, err
	}
	return headerCredential{Key: key, Nonce: nonce}, nil
}

// dictString returns the string item stored under name, or "" when absent.
func dictString(dict *httpsfv.Dictionary, name string) (string, error) {
	member, ok := dict.Get(name)
	if !ok {
		return "", nil
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", name)
	}
	s, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s value must be a string", name)
	}
	return s, nil
}

// Authenticator checks admin keys and, for mutating requests, nonces.
type Authenticator struct {
	keys   [][]byte
	nonces *NonceIssuer
}

// NewAuthenticator accepts any of keys. A nil issuer disables nonce checks.
func NewAuthenticator(keys []string, nonces *NonceIssuer) *Authenticator {
	a := &Authenticator{nonces: nonces}
	for _, k := range keys {
		a.keys = append(a.keys, []byte(k))
	}
	return a
}

// Authenticate validates the header for a request with the given method
// and path. Returns the credential or an UNAUTHORIZED APIError.
func (a *Authenticator) Authenticate(method, path, header string) (*Credential, *model.APIError) {
	if header == "" {
		return nil, model.NewUnauthorizedError("Matrix-Credential header is required")
	}
	hc, err := ParseCredentialHeader(header)
	if err != nil {
		return nil, model.NewUnauthorizedError(err.Error())
	}
	if !a.knownKey(hc.Key) {
		return nil, model.NewUnauthorizedError("unknown admin key")
	}

	cred := &Credential{ID: fingerprint(hc.Key)}
	if a.nonces == nil || !requiresNonce(method, path) {
		return cred, nil
	}
	if hc.Nonce == "" {
		return nil, model.NewUnauthorizedError("nonce is required for this request")
	}
	if err := a.nonces.Verify(cred.ID, NonceAction, hc.Nonce); err != nil {
		return nil, model.NewUnauthorizedError(err.Error())
	}
	return cred, nil
}

// knownKey compares against every key so timing does not reveal which one matched.
func (a *Authenticator) knownKey(key string) bool {
	found := 0
	for _, k := range a.keys {
		found |= subtle.ConstantTimeCompare(k, []byte(key))
	}
	return found == 1
}

// Authenticate returns middleware that rejects requests without a valid
// Matrix-Credential header before any handler runs.
func Authenticate(auth *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			cred, apiErr := auth.Authenticate(r.Method, r.URL.Path, r.Header.Get(CredentialHeader))
			if apiErr != nil {
				logger.Warn("credential rejected",
					slog.String("path", r.URL.Path),
					slog.String("reason", apiErr.Message))
				writeError(w, apiErr)
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.credential = cred.ID
			}
			next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred)))
		})
	}
}

// isExemptPath reports paths reachable without a credential.
func isExemptPath(path string) bool {
	switch path {
	case "/health", "/healthz", "/metrics":
		return true
	}
	return false
}

// requiresNonce reports whether a request mutates state from the browser
// widget. Fetching a nonce cannot itself need one, and MCP calls carry only
// the key.
func requiresNonce(method, path string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return path != "/nonce" && path != "/mcp"
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
