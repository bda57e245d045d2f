// Package identity resolves who is calling and which site (tenant) the
// request is scoped to. Authentication itself is enforced in front of the
// receiver; the transport only hands the authenticated principal over via the
// request context.
package identity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrNoPrincipal = errors.New("no user logged in")
	ErrNoTenant    = errors.New("no site could be resolved")
)

// AuthError wraps a resolution failure. Callers treat every AuthError as a
// transport-level rejection.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "identity: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// Identity is the resolved caller.
type Identity struct {
	Principal string
	Tenant    string
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal stored on ctx, if any.
func PrincipalFrom(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

// Resolver resolves identities for the single tenant this process serves.
type Resolver struct {
	tenant string
}

// NewResolver creates a Resolver bound to tenant.
func NewResolver(tenant string) *Resolver {
	return &Resolver{tenant: tenant}
}

// Resolve returns the caller identity, or an *AuthError wrapping
// ErrNoPrincipal or ErrNoTenant.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	principal, ok := PrincipalFrom(ctx)
	if !ok {
		return Identity{}, &AuthError{Err: ErrNoPrincipal}
	}
	if r.tenant == "" {
		return Identity{}, &AuthError{Err: ErrNoTenant}
	}
	return Identity{Principal: principal, Tenant: r.tenant}, nil
}

// TenantFromPath derives a tenant from a deployment directory such as
// /var/www/html/d/siteA: the last component of a path with more than two
// segments.
func TenantFromPath(dir string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(dir))
	segments := strings.Split(clean, "/")
	if len(segments) <= 2 {
		return "", fmt.Errorf("identity: %w from %q", ErrNoTenant, dir)
	}
	tenant := segments[len(segments)-1]
	if tenant == "" || tenant == "." {
		return "", fmt.Errorf("identity: %w from %q", ErrNoTenant, dir)
	}
	return tenant, nil
}
