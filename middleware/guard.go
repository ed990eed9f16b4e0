package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/token"
)

type claimsContextKey struct{}
type principalContextKey struct{}

// PrincipalResolver maps verified claims to the principal they name.
type PrincipalResolver func(ctx context.Context, claims *token.Claims) (*rbac.Principal, error)

// Option customizes Authenticate.
type Option func(*authOptions)

type authOptions struct {
	resolver PrincipalResolver
}

// WithResolver replaces Engine.ResolvePrincipal.
func WithResolver(r PrincipalResolver) Option {
	return func(o *authOptions) {
		if r != nil {
			o.resolver = r
		}
	}
}

// ClaimsFromContext returns the verified token claims.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return c, ok
}

// PrincipalFromContext returns the authenticated principal.
func PrincipalFromContext(ctx context.Context) (*rbac.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*rbac.Principal)
	return p, ok
}

// WithPrincipal stores p in ctx, for callers that authenticate by other means.
func WithPrincipal(ctx context.Context, p *rbac.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Authenticate rejects requests without a valid bearer token with 401 and
// otherwise stores the claims and principal in the request context.
func Authenticate(engine *goTrust.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := authOptions{}
	if engine != nil {
		o.resolver = engine.ResolvePrincipal
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || o.resolver == nil {
				writeUnauthorized(w, "")
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeUnauthorized(w, "")
				return
			}

			ctx := goTrust.WithClientIP(r.Context(), clientIP(r))
			if id := r.Header.Get(RequestIDHeader); id != "" {
				ctx = goTrust.WithRequestID(ctx, id)
			}
			claims, err := engine.VerifyToken(ctx, raw)
			if err != nil {
				desc := "token invalid"
				if errors.Is(err, goTrust.ErrTokenExpired) {
					desc = "token expired"
				}
				writeUnauthorized(w, desc)
				return
			}

			p, err := o.resolver(ctx, claims)
			if err != nil || p == nil {
				writeUnauthorized(w, "principal unknown")
				return
			}

			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			ctx = WithPrincipal(ctx, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDHeader is copied onto audit events raised while authenticating.
const RequestIDHeader = "X-Request-ID"

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	raw := strings.TrimSpace(value[len(bearer):])
	if raw == "" {
		return "", false
	}

	return raw, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	challenge := `Bearer`
	if desc != "" {
		challenge = `Bearer error="invalid_token", error_description="` + desc + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
