package goTrust

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cepmachine/goTrust/audit"
	"github.com/cepmachine/goTrust/backup"
	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/internal/stores"
	"github.com/cepmachine/goTrust/mfa"
	"github.com/cepmachine/goTrust/password"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/token"
	"github.com/cepmachine/goTrust/totp"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config

	mfaStore  mfa.Store
	roleStore rbac.RoleStore
	redis     redis.UniversalClient
	auditSink audit.Sink
	logger    *slog.Logger

	identities IdentityProvider
	hasher     CredentialHasher
	mirror     MFAStatusMirror
	now        func() time.Time

	built bool
}

// New returns a Builder with DefaultConfig. The signing key still has to be
// set through WithConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithEnrollmentStore sets where MFA enrollments live. Defaults to memory.
func (b *Builder) WithEnrollmentStore(store mfa.Store) *Builder {
	b.mfaStore = store
	return b
}

// WithRoleStore sets where custom roles live. Defaults to memory.
func (b *Builder) WithRoleStore(store rbac.RoleStore) *Builder {
	b.roleStore = store
	return b
}

// WithRedis stores enrollments and custom roles in Redis under
// Config.Store.RedisPrefix. The caller keeps ownership of client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must also be set.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. Defaults to discarding.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithIdentityProvider enables LoginWithPassword and principal resolution
// from tokens.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identities = p
	return b
}

// WithCredentialHasher overrides the argon2id hasher built from Config.Password.
func (b *Builder) WithCredentialHasher(h CredentialHasher) *Builder {
	b.hasher = h
	return b
}

// WithMFAStatusMirror registers a mirror notified after MFA is confirmed or disabled.
func (b *Builder) WithMFAStatusMirror(m MFAStatusMirror) *Builder {
	b.mirror = m
	return b
}

// WithClock replaces the wall clock in every subsystem.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the verification latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext is Build with a context for loading stored roles.
func (b *Builder) BuildContext(ctx context.Context) (_ *Engine, err error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = discardLogger()
	}

	e := &Engine{
		config:     cfg,
		logger:     logger,
		identities: b.identities,
		mirror:     b.mirror,
		now:        now,
		metrics:    NewMetrics(cfg.Metrics),
		audit:      audit.NewDispatcher(cfg.Audit.dispatcherConfig(), b.auditSink),
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	// -------- STORAGE --------
	mfaStore, roleStore, closers, err := b.openStores(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	e.closers = closers

	// -------- MFA --------
	engine, err := totp.New(cfg.MFA.TOTPConfig(), totp.WithClock(now))
	if err != nil {
		return nil, err
	}
	vault, err := backup.NewVault(cfg.MFA.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	e.mfa, err = mfa.NewManager(mfaStore, engine, vault,
		mfa.WithClock(now),
		mfa.WithLowBackupCodeThreshold(cfg.MFA.LowBackupCodeThreshold),
	)
	if err != nil {
		return nil, err
	}

	// -------- RBAC --------
	e.rbac, err = rbac.NewRegistry(ctx, roleStore)
	if err != nil {
		return nil, err
	}
	e.enforcer, err = enforce.New(e.rbac, enforce.WithDenyHook(e.onDeny))
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	e.issuer, err = token.NewIssuer(cfg.Token.IssuerConfig(), token.WithClock(now))
	if err != nil {
		return nil, err
	}

	// -------- CREDENTIALS --------
	e.hasher = b.hasher
	if e.hasher == nil && b.identities != nil {
		h, err := password.NewArgon2(cfg.Password)
		if err != nil {
			return nil, err
		}
		e.hasher = h
	}

	b.built = true
	return e, nil
}

func (b *Builder) openStores(ctx context.Context, cfg StoreConfig) (mfa.Store, rbac.RoleStore, []io.Closer, error) {
	mfaStore, roleStore := b.mfaStore, b.roleStore
	var closers []io.Closer

	client := b.redis
	backend := strings.ToLower(cfg.Backend)
	if client == nil && backend == StoreRedis && (mfaStore == nil || roleStore == nil) {
		if len(cfg.RedisAddrs) == 0 {
			return nil, nil, nil, errors.New("redis store requires REDIS_ADDRS or WithRedis")
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: cfg.RedisAddrs})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, client)
	}

	switch {
	case client != nil:
		if mfaStore == nil {
			mfaStore = stores.NewRedisEnrollmentStore(client, cfg.RedisPrefix+":mfa")
		}
		if roleStore == nil {
			roleStore = stores.NewRedisRoleStore(client, cfg.RedisPrefix+":rbac")
		}
	case backend == StoreSQLite && (mfaStore == nil || roleStore == nil):
		db, err := stores.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, db)
		if mfaStore == nil {
			mfaStore = db.Enrollments()
		}
		if roleStore == nil {
			roleStore = db.Roles()
		}
	}

	if mfaStore == nil {
		mfaStore = mfa.NewMemoryStore()
	}
	return mfaStore, roleStore, closers, nil
}
