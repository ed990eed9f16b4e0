package middleware

import (
	"errors"
	"net/http"

	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/rbac"
)

// Require admits requests whose principal satisfies req. Run it after
// Authenticate. A missing principal answers 401 and a denial 403.
func Require(engine *goTrust.Engine, req enforce.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			p, _ := PrincipalFromContext(r.Context())
			err := engine.Authorize(r.Context(), p, req)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, goTrust.ErrUnauthenticated):
				writeUnauthorized(w, "")
			default:
				writeForbidden(w, req)
			}
		})
	}
}

// RequirePermission requires perm.
func RequirePermission(engine *goTrust.Engine, perm rbac.Permission) func(http.Handler) http.Handler {
	return Require(engine, enforce.Permission(perm))
}

// RequireAny requires at least one of perms.
func RequireAny(engine *goTrust.Engine, perms ...rbac.Permission) func(http.Handler) http.Handler {
	return Require(engine, enforce.AnyOf(perms...))
}

// RequireAll requires every one of perms.
func RequireAll(engine *goTrust.Engine, perms ...rbac.Permission) func(http.Handler) http.Handler {
	return Require(engine, enforce.AllOf(perms...))
}

// RequireRole requires one of roles; admins always pass.
func RequireRole(engine *goTrust.Engine, roles ...string) func(http.Handler) http.Handler {
	return Require(engine, enforce.Roles(roles...))
}

// RequireAdmin requires the admin role.
func RequireAdmin(engine *goTrust.Engine) func(http.Handler) http.Handler {
	return Require(engine, enforce.Admin())
}

func writeForbidden(w http.ResponseWriter, req enforce.Requirement) {
	w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+req.String()+`"`)
	http.Error(w, "forbidden", http.StatusForbidden)
}
