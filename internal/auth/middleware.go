package auth

import (
	"context"
	"net/http"
	"strings"
)

// Middleware authenticates dashboard requests and enforces the route policy.
// Exempt paths pass through untouched; everything else needs a bearer token
// whose role satisfies the policy.
type Middleware struct {
	secret []byte
	policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{secret: secret, policy: policy}
}

// Wrap applies authentication and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, enforced := m.policy.RequiredRole(r)
		if !enforced {
			next.ServeHTTP(w, r)
			return
		}

		ctx, status := m.resolveIdentity(r, required)
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveIdentity parses the bearer token and checks it against the required
// role. On success it returns the request context carrying the identity.
func (m *Middleware) resolveIdentity(r *http.Request, required Role) (context.Context, int) {
	claims, err := ParseJWT(bearerToken(r), m.secret)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	role, ok := NormalizeRole(claims.Role)
	if !ok || !RoleAtLeast(role, required) {
		return nil, http.StatusForbidden
	}
	return WithIdentity(r.Context(), claims.TenantID, role, claims.Subject), http.StatusOK
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
