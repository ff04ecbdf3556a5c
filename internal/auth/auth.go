package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cvsloane/agent-commander/internal/types"
)

var (
	// ErrUnauthorized is returned for a missing, unknown, or revoked token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a verified identity lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (types.Identity, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (types.Identity, error) {
	return f(ctx, token)
}

// Token is one configured credential.
type Token struct {
	Token   string     `json:"token"`
	Subject string     `json:"subject"`
	Role    types.Role `json:"role"`
}

// Validate checks one token entry.
func (t Token) Validate() error {
	if strings.TrimSpace(t.Token) == "" {
		return errors.New("token is required")
	}
	if t.Subject == "" {
		return errors.New("subject is required")
	}
	switch t.Role {
	case types.RoleViewer, types.RoleOperator, types.RoleAdmin, types.RoleExecutor, types.RoleService:
		return nil
	default:
		return fmt.Errorf("unknown role %q", t.Role)
	}
}

type staticEntry struct {
	digest   [sha256.Size]byte
	identity types.Identity
}

// StaticVerifier checks tokens against a fixed list. Lookups compare
// digests in constant time.
type StaticVerifier struct {
	entries []staticEntry
}

// NewStaticVerifier builds a verifier from tokens. Duplicate tokens are
// rejected so one credential always maps to one identity.
func NewStaticVerifier(tokens []Token) (*StaticVerifier, error) {
	v := &StaticVerifier{entries: make([]staticEntry, 0, len(tokens))}
	seen := make(map[[sha256.Size]byte]string, len(tokens))
	for i, t := range tokens {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tokens[%d]: %w", i, err)
		}
		d := sha256.Sum256([]byte(t.Token))
		if other, dup := seen[d]; dup {
			return nil, fmt.Errorf("tokens[%d]: duplicate token (also used by %s)", i, other)
		}
		seen[d] = t.Subject
		v.entries = append(v.entries, staticEntry{
			digest:   d,
			identity: types.Identity{Subject: t.Subject, Role: t.Role},
		})
	}
	return v, nil
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(_ context.Context, token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, ErrUnauthorized
	}
	d := sha256.Sum256([]byte(token))
	var found types.Identity
	ok := 0
	for _, e := range v.entries {
		if subtle.ConstantTimeCompare(d[:], e.digest[:]) == 1 {
			found = e.identity
			ok = 1
		}
	}
	if ok == 0 {
		return types.Identity{}, ErrUnauthorized
	}
	return found, nil
}

// Len returns the number of configured tokens.
func (v *StaticVerifier) Len() int { return len(v.entries) }

// BearerToken extracts the credential from an Authorization header, falling
// back to the access_token query parameter for browser websockets, which
// cannot set headers.
func BearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	return r.URL.Query().Get("access_token")
}

// Authenticate verifies the request's bearer token.
func Authenticate(ctx context.Context, v Verifier, r *http.Request) (types.Identity, error) {
	id, err := v.Verify(ctx, BearerToken(r))
	if err != nil {
		return types.Identity{}, err
	}
	return id, nil
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(types.Identity)
	return id, ok
}
