package goTrust

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cepmachine/goTrust/audit"
	"github.com/cepmachine/goTrust/password"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/totp"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SecretKey = testSecret
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256}
	return cfg
}

type memoryIdentities struct {
	mu      sync.Mutex
	byID    map[string]*IdentityRecord
	byLogin map[string]string
	mfa     map[string]bool
}

func newMemoryIdentities() *memoryIdentities {
	return &memoryIdentities{
		byID:    map[string]*IdentityRecord{},
		byLogin: map[string]string{},
		mfa:     map[string]bool{},
	}
}

func (m *memoryIdentities) add(t testing.TB, p rbac.Principal, plain string) {
	t.Helper()
	h, err := password.NewArgon2(testConfig().Password)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := h.Hash(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = &IdentityRecord{Principal: p, PasswordHash: hash}
	m.byLogin[p.Email] = p.ID
}

func (m *memoryIdentities) LookupByIdentifier(_ context.Context, identifier string) (*IdentityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byLogin[identifier]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	rec := *m.byID[id]
	return &rec, nil
}

func (m *memoryIdentities) LookupByID(_ context.Context, principalID string) (*rbac.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[principalID]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	p := rec.Principal
	p.MFAEnabled = m.mfa[principalID]
	return &p, nil
}

func (m *memoryIdentities) SetMFAEnabled(_ context.Context, principalID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mfa[principalID] = enabled
	return nil
}

func (m *memoryIdentities) mfaFlag(principalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mfa[principalID]
}

type testEngine struct {
	*Engine
	clock      *testClock
	identities *memoryIdentities
	events     *audit.ChannelSink
	codes      *totp.Engine
}

func newTestEngine(t testing.TB, mutate func(*Config)) *testEngine {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newTestClock()
	ids := newMemoryIdentities()
	ids.add(t, rbac.Principal{ID: "u-alice", Email: "alice@example.com", Role: rbac.RoleManager, IsActive: true}, "correct-password-123")
	ids.add(t, rbac.Principal{ID: "u-bob", Email: "bob@example.com", Role: rbac.RoleViewer, IsActive: false}, "correct-password-123")

	events := audit.NewChannelSink(1024)
	engine, err := New().
		WithConfig(cfg).
		WithClock(clock.Now).
		WithIdentityProvider(ids).
		WithMFAStatusMirror(ids).
		WithAuditSink(events).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, clock: clock, identities: ids, events: events, codes: mustTOTP(t)}
}

func mustTOTP(t testing.TB) *totp.Engine {
	t.Helper()
	codes, err := totp.New(totp.DefaultConfig())
	if err != nil {
		t.Fatalf("totp engine: %v", err)
	}
	return codes
}

// wrongCode returns a code of the same shape that differs in every digit.
func wrongCode(code string) string {
	out := []byte(code)
	for i, c := range out {
		out[i] = '0' + (c-'0'+5)%10
	}
	return string(out)
}

func (te *testEngine) code(t testing.TB, secret string) string {
	t.Helper()
	code, err := te.codes.CodeAt(secret, te.clock.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	return code
}

// enroll runs setup and confirmation and returns the secret and backup codes.
func (te *testEngine) enroll(t testing.TB, principalID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := te.EnableMFA(ctx, principalID, principalID+"@example.com")
	if err != nil {
		t.Fatalf("enable mfa: %v", err)
	}
	if err := te.ConfirmMFA(ctx, principalID, te.code(t, setup.Secret)); err != nil {
		t.Fatalf("confirm mfa: %v", err)
	}
	return setup.Secret, setup.BackupCodes
}

// waitEvent drains audit events until one of eventType arrives.
func (te *testEngine) waitEvent(t testing.TB, eventType string) audit.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-te.events.Events():
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("audit event %q not emitted", eventType)
			return audit.Event{}
		}
	}
}
