package goTrust

import (
	"context"
	"testing"

	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/rbac"
)

func BenchmarkVerifyToken(b *testing.B) {
	te := newTestEngine(b, noAudit)
	raw, _, err := te.IssueToken(context.Background(), VerifiedIdentity{PrincipalID: "u-alice"})
	if err != nil {
		b.Fatalf("issue failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := te.VerifyToken(context.Background(), raw); err != nil {
			b.Fatalf("verify failed: %v", err)
		}
	}
}

func BenchmarkAuthorize(b *testing.B) {
	te := newTestEngine(b, noAudit)
	p := &rbac.Principal{
		ID:                "u1",
		Role:              rbac.RoleOperator,
		CustomPermissions: []rbac.Permission{rbac.ViewUsers},
		IsActive:          true,
	}
	req := enforce.AllOf(rbac.ReadProspects, rbac.WriteProspects, rbac.ViewUsers)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := te.Authorize(context.Background(), p, req); err != nil {
			b.Fatalf("authorize failed: %v", err)
		}
	}
}

func BenchmarkVerifyMFA(b *testing.B) {
	te := newTestEngine(b, noAudit)
	secret, _ := te.enroll(b, "u-alice")
	code := te.code(b, secret)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := te.VerifyMFA(context.Background(), "u-alice", code); err != nil {
			b.Fatalf("verify failed: %v", err)
		}
	}
}

func noAudit(c *Config) {
	c.Audit.Enabled = false
}
