package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/token"
	"github.com/stretchr/testify/require"
)

type directory map[string]rbac.Principal

func (d directory) LookupByIdentifier(context.Context, string) (*goTrust.IdentityRecord, error) {
	return nil, goTrust.ErrPrincipalNotFound
}

func (d directory) LookupByID(_ context.Context, id string) (*rbac.Principal, error) {
	p, ok := d[id]
	if !ok {
		return nil, goTrust.ErrPrincipalNotFound
	}
	return &p, nil
}

type fixture struct {
	engine *goTrust.Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := goTrust.DefaultConfig()
	cfg.Token.SecretKey = "0123456789abcdef0123456789abcdef"

	engine, err := goTrust.New().
		WithConfig(cfg).
		WithClock(func() time.Time { return f.now }).
		WithIdentityProvider(directory{
			"u-view":  {ID: "u-view", Role: rbac.RoleViewer, IsActive: true},
			"u-mgr":   {ID: "u-mgr", Role: rbac.RoleManager, IsActive: true},
			"u-admin": {ID: "u-admin", Role: rbac.RoleAdmin, IsActive: true},
			"u-off":   {ID: "u-off", Role: rbac.RoleAdmin, IsActive: false},
		}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	f.engine = engine
	return f
}

func (f *fixture) bearer(t *testing.T, principalID string) string {
	t.Helper()
	raw, _, err := f.engine.IssueToken(context.Background(), goTrust.VerifiedIdentity{PrincipalID: principalID})
	require.NoError(t, err)
	return "Bearer " + raw
}

func (f *fixture) serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/prospects", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAuthenticateInjectsPrincipal(t *testing.T) {
	f := newFixture(t)
	var seen *rbac.Principal
	var claims *token.Claims
	h := Authenticate(f.engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		claims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := f.serve(h, f.bearer(t, "u-mgr"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "u-mgr", seen.ID)
	require.Equal(t, "u-mgr", claims.Subject)
}

func TestAuthenticateRejects(t *testing.T) {
	f := newFixture(t)
	h := Authenticate(f.engine)(ok)

	for name, header := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic abc",
		"empty token":  "Bearer ",
		"garbage":      "Bearer not.a.token",
		"unknown user": f.bearer(t, "u-ghost"),
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.serve(h, header)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestAuthenticateReportsExpiry(t *testing.T) {
	f := newFixture(t)
	header := f.bearer(t, "u-mgr")
	f.now = f.now.Add(25 * time.Hour)

	rec := f.serve(Authenticate(f.engine)(ok), header)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "token expired")
}

func TestAuthenticateCustomResolver(t *testing.T) {
	f := newFixture(t)
	h := Authenticate(f.engine, WithResolver(func(_ context.Context, c *token.Claims) (*rbac.Principal, error) {
		return &rbac.Principal{ID: c.Subject, Role: rbac.RoleOperator, IsActive: true}, nil
	}))(RequirePermission(f.engine, rbac.WriteProspects)(ok))

	rec := f.serve(h, f.bearer(t, "u-ghost"))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireGuards(t *testing.T) {
	f := newFixture(t)
	auth := Authenticate(f.engine)

	cases := []struct {
		name      string
		guard     func(http.Handler) http.Handler
		principal string
		want      int
	}{
		{"viewer reads", RequirePermission(f.engine, rbac.ReadProspects), "u-view", http.StatusNoContent},
		{"viewer cannot delete", RequirePermission(f.engine, rbac.DeleteProspects), "u-view", http.StatusForbidden},
		{"manager any", RequireAny(f.engine, rbac.ManageUsers, rbac.DeleteProspects), "u-mgr", http.StatusNoContent},
		{"manager all", RequireAll(f.engine, rbac.ManageUsers, rbac.ManageSystem), "u-mgr", http.StatusForbidden},
		{"manager role", RequireRole(f.engine, rbac.RoleManager), "u-mgr", http.StatusNoContent},
		{"admin passes role", RequireRole(f.engine, rbac.RoleOperator), "u-admin", http.StatusNoContent},
		{"manager not admin", RequireAdmin(f.engine), "u-mgr", http.StatusForbidden},
		{"admin", RequireAdmin(f.engine), "u-admin", http.StatusNoContent},
		{"inactive admin", RequireAdmin(f.engine), "u-off", http.StatusForbidden},
		{"empty requirement", RequireAny(f.engine), "u-admin", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.serve(auth(tc.guard(ok)), f.bearer(t, tc.principal))
			require.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusForbidden {
				require.Contains(t, rec.Header().Get("WWW-Authenticate"), "insufficient_scope")
			}
		})
	}
}

func TestRequireWithoutAuthenticate(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(RequirePermission(f.engine, rbac.ReadProspects)(ok), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNilEngine(t *testing.T) {
	rec := httptest.NewRecorder()
	Authenticate(nil)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	RequireAdmin(nil)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBearerToken(t *testing.T) {
	raw, found := bearerToken("bearer abc")
	require.True(t, found)
	require.Equal(t, "abc", raw)
	_, found = bearerToken("Bear")
	require.False(t, found)
}
