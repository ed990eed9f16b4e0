package goTrust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/token"
)

// IssueToken signs a bearer token for identity with the configured lifetime.
func (e *Engine) IssueToken(ctx context.Context, identity VerifiedIdentity) (string, time.Time, error) {
	issuedAt := e.now()
	raw, err := e.issuer.Issue(token.Claims{
		Subject:  identity.PrincipalID,
		Email:    identity.Email,
		Provider: identity.Provider,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, identity.PrincipalID, nil, nil)
	return raw, issuedAt.Add(e.issuer.DefaultTTL()), nil
}

// VerifyToken checks raw and returns its claims. Failures are ErrTokenExpired
// or ErrTokenInvalid.
func (e *Engine) VerifyToken(ctx context.Context, raw string) (*token.Claims, error) {
	start := time.Now()
	claims, err := e.issuer.Verify(raw)
	if e.metrics.Enabled() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}

	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			e.metricInc(MetricTokenExpired)
		} else {
			e.metricInc(MetricTokenInvalid)
		}
		e.emitAudit(ctx, auditEventTokenRejected, false, "", err, nil)
		e.logger.DebugContext(ctx, "token rejected", "error", err)
		return nil, err
	}

	e.metricInc(MetricTokenVerified)
	return claims, nil
}

// ResolvePrincipal loads the principal named by claims from the
// IdentityProvider.
func (e *Engine) ResolvePrincipal(ctx context.Context, claims *token.Claims) (*rbac.Principal, error) {
	if claims == nil {
		return nil, ErrUnauthenticated
	}
	if e.identities == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.identities.LookupByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolve principal: %w", err)
	}
	return p, nil
}

// Authenticate verifies raw and resolves its principal.
func (e *Engine) Authenticate(ctx context.Context, raw string) (*token.Claims, *rbac.Principal, error) {
	claims, err := e.VerifyToken(ctx, raw)
	if err != nil {
		return nil, nil, err
	}
	p, err := e.ResolvePrincipal(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	return claims, p, nil
}
