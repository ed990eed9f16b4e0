package goTrust

import (
	"io"
	"log/slog"
	"time"

	"github.com/cepmachine/goTrust/audit"
	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/mfa"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/token"
)

// Engine is the wired trust subsystem. Construct it with New().Build().
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mfa      *mfa.Manager
	rbac     *rbac.Registry
	enforcer *enforce.Enforcer
	issuer   *token.Issuer

	identities IdentityProvider
	hasher     CredentialHasher
	mirror     MFAStatusMirror

	audit   *audit.Dispatcher
	metrics *Metrics

	closers []io.Closer
}

// Close flushes pending audit events and releases stores the engine opened
// itself. Stores passed to the Builder are left open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn("store close failed", "error", err)
		}
	}
	e.closers = nil
}

// AuditDropped returns the number of audit events dropped for backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// RoleRegistry exposes the role registry.
func (e *Engine) RoleRegistry() *rbac.Registry {
	return e.rbac
}

// Enrollments exposes the MFA manager.
func (e *Engine) Enrollments() *mfa.Manager {
	return e.mfa
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
