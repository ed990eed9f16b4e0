package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cepmachine/goTrust/backup"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/token"
	"github.com/spf13/cobra"
)

const testKey = "0123456789abcdef0123456789abcdef"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fastPasswords(t *testing.T) {
	t.Setenv("PASSWORD_MEMORY_KB", "8192")
	t.Setenv("PASSWORD_TIME", "1")
	t.Setenv("PASSWORD_PARALLELISM", "1")
}

func findSubcommand(root *cobra.Command, path ...string) *cobra.Command {
	cmd, _, err := root.Find(path)
	if err != nil || cmd == root {
		return nil
	}
	return cmd
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	for _, path := range [][]string{
		{"totp", "secret"}, {"totp", "uri"}, {"totp", "code"}, {"totp", "verify"},
		{"backup", "generate"}, {"backup", "hash"},
		{"token", "issue"}, {"token", "verify"},
		{"password", "hash"}, {"password", "verify"},
		{"roles", "list"}, {"roles", "show"}, {"roles", "create"}, {"roles", "delete"},
	} {
		cmd := findSubcommand(root, path...)
		if cmd == nil {
			t.Fatalf("command %v not found", path)
		}
		if cmd.Short == "" {
			t.Fatalf("command %v missing short help", path)
		}
	}
}

func TestTOTPRoundTrip(t *testing.T) {
	secret, err := run(t, "", "totp", "secret")
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	secret = strings.TrimSpace(secret)
	if len(secret) != 32 {
		t.Fatalf("expected 32 base32 chars, got %q", secret)
	}

	code, err := run(t, "", "totp", "code", secret)
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	out, err := run(t, "", "totp", "verify", secret, code)
	if err != nil || strings.TrimSpace(out) != "ok" {
		t.Fatalf("verify: %q %v", out, err)
	}

	stale, err := run(t, "", "totp", "code", secret, "--at", time.Now().Add(-time.Hour).Format(time.RFC3339))
	if err != nil {
		t.Fatalf("stale code: %v", err)
	}
	if strings.TrimSpace(stale) != code {
		if _, err := run(t, "", "totp", "verify", secret, strings.TrimSpace(stale)); !errors.Is(err, errCodeRejected) {
			t.Fatalf("expected stale code to be rejected, got %v", err)
		}
	}
}

func TestTOTPURIUsesIssuer(t *testing.T) {
	t.Setenv("MFA_ISSUER", "Acme Ops")
	out, err := run(t, "", "totp", "uri", "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", "--account", "alice@example.com")
	if err != nil {
		t.Fatalf("uri: %v", err)
	}
	if !strings.HasPrefix(out, "otpauth://totp/") || !strings.Contains(out, "issuer=Acme") {
		t.Fatalf("unexpected uri %q", out)
	}
}

func TestBackupGenerateAndHash(t *testing.T) {
	out, err := run(t, "", "backup", "generate", "--count", "3")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 codes, got:\n%s", out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) != 2 {
		t.Fatalf("unexpected row %q", lines[1])
	}

	hashed, err := run(t, "", "backup", "hash", strings.ToLower(fields[0]))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if strings.TrimSpace(hashed) != fields[1] || fields[1] != string(backup.Hash(fields[0])) {
		t.Fatalf("digest mismatch: %q vs %q", hashed, fields[1])
	}
}

func TestTokenIssueVerify(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testKey)

	raw, err := run(t, "", "token", "issue", "--sub", "u1", "--email", "alice@example.com", "--provider", "google")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	out, err := run(t, "", "token", "verify", strings.TrimSpace(raw))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var claims struct {
		Sub      string `json:"sub"`
		Email    string `json:"email"`
		Provider string `json:"provider"`
	}
	if err := json.Unmarshal([]byte(out), &claims); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if claims.Sub != "u1" || claims.Email != "alice@example.com" || claims.Provider != "google" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenZeroTTLIsExpired(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testKey)
	raw, err := run(t, "", "token", "issue", "--sub", "u1", "--ttl", "0s")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := run(t, "", "token", "verify", strings.TrimSpace(raw)); !errors.Is(err, token.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestTokenRequiresKey(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "short")
	if _, err := run(t, "", "token", "issue", "--sub", "u1"); err == nil {
		t.Fatal("expected short key to fail")
	}
}

func TestPasswordHashVerify(t *testing.T) {
	fastPasswords(t)
	encoded, err := run(t, "correct horse battery\n", "password", "hash")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	encoded = strings.TrimSpace(encoded)
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	out, err := run(t, "correct horse battery\n", "password", "verify", encoded)
	if err != nil || strings.TrimSpace(out) != "ok" {
		t.Fatalf("verify: %q %v", out, err)
	}
	if _, err := run(t, "wrong horse battery\n", "password", "verify", encoded); err == nil {
		t.Fatal("expected mismatch")
	}

	t.Setenv("PASSWORD_TIME", "2")
	out, err = run(t, "correct horse battery\n", "password", "verify", encoded)
	if err != nil || !strings.Contains(out, "rehash") {
		t.Fatalf("expected rehash hint, got %q %v", out, err)
	}
}

func TestRolesListSystem(t *testing.T) {
	out, err := run(t, "", "roles", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, name := range []string{rbac.RoleViewer, rbac.RoleOperator, rbac.RoleManager, rbac.RoleAdmin} {
		if !strings.Contains(out, name) {
			t.Fatalf("missing %s in:\n%s", name, out)
		}
	}
}

func TestRolesCustomLifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "roles.db")

	if _, err := run(t, "", "roles", "create", "analyst", "--sqlite", db,
		"--description", "Reads analytics", "--perm", "view_analytics", "--perm", "export_analytics"); err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := run(t, "", "roles", "show", "analyst", "--sqlite", db)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "export_analytics") {
		t.Fatalf("unexpected show output:\n%s", out)
	}

	if _, err := run(t, "", "roles", "create", "admin", "--sqlite", db); !errors.Is(err, rbac.ErrRoleConflict) {
		t.Fatalf("expected conflict with system role, got %v", err)
	}
	if _, err := run(t, "", "roles", "create", "bogus", "--sqlite", db, "--perm", "launch_missiles"); !errors.Is(err, rbac.ErrUnknownPermission) {
		t.Fatalf("expected unknown permission, got %v", err)
	}
	if _, err := run(t, "", "roles", "create", "nodb"); err == nil {
		t.Fatal("expected create without --sqlite to fail")
	}

	if _, err := run(t, "", "roles", "delete", "analyst", "--sqlite", db); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := run(t, "", "roles", "show", "analyst", "--sqlite", db); !errors.Is(err, rbac.ErrRoleNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
