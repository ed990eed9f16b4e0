package token

import (
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer(t *testing.T, mutate func(*Config), opts ...Option) *Issuer {
	t.Helper()
	cfg := Config{SigningKey: testKey}
	if mutate != nil {
		mutate(&cfg)
	}
	i, err := NewIssuer(cfg, opts...)
	require.NoError(t, err)
	return i
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	i := newTestIssuer(t, nil)
	raw, err := i.Issue(Claims{Subject: "u1", Email: "alice@example.com", Provider: "google"})
	require.NoError(t, err)

	claims, err := i.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "alice@example.com", claims.Email)
	require.Equal(t, "google", claims.Provider)
	require.NotEmpty(t, claims.ID)
	require.WithinDuration(t, claims.IssuedAt.Add(DefaultTTL), claims.ExpiresAt, time.Second)
}

func TestProviderIsOptional(t *testing.T) {
	i := newTestIssuer(t, nil)
	raw, err := i.Issue(Claims{Subject: "u1", Email: "alice@example.com"})
	require.NoError(t, err)
	claims, err := i.Verify(raw)
	require.NoError(t, err)
	require.Empty(t, claims.Provider)
}

func TestZeroTTLIsExpired(t *testing.T) {
	i := newTestIssuer(t, nil)
	raw, err := i.IssueWithTTL(Claims{Subject: "u1"}, 0)
	require.NoError(t, err)
	_, err = i.Verify(raw)
	require.ErrorIs(t, err, ErrExpired)
	require.NotErrorIs(t, err, ErrInvalid)
}

func TestExpiryUsesClock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	i := newTestIssuer(t, nil, WithClock(func() time.Time { return now }))
	raw, err := i.IssueWithTTL(Claims{Subject: "u1"}, time.Minute)
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = i.Verify(raw)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = i.Verify(raw)
	require.ErrorIs(t, err, ErrExpired)
}

func TestLeewayExtendsExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	i := newTestIssuer(t, func(c *Config) { c.Leeway = 30 * time.Second }, WithClock(func() time.Time { return now }))
	raw, err := i.IssueWithTTL(Claims{Subject: "u1"}, time.Minute)
	require.NoError(t, err)

	now = now.Add(80 * time.Second)
	_, err = i.Verify(raw)
	require.NoError(t, err)
}

func TestVerifyRejectsTampering(t *testing.T) {
	i := newTestIssuer(t, nil)
	raw, err := i.Issue(Claims{Subject: "u1", Email: "alice@example.com"})
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	forged, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, wireClaims{
		Email: "mallory@example.com",
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("another-key-another-key-another-k"))
	require.NoError(t, err)
	forgedParts := strings.Split(forged, ".")

	cases := map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"swapped body":    parts[0] + "." + forgedParts[1] + "." + parts[2],
		"wrong key":       forged,
		"truncated sig":   parts[0] + "." + parts[1] + "." + parts[2][:len(parts[2])-4],
		"missing segment": parts[0] + "." + parts[1],
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := i.Verify(tok)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	i := newTestIssuer(t, nil)
	claims := wireClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}

	hs512, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(testKey)
	require.NoError(t, err)
	_, err = i.Verify(hs512)
	require.ErrorIs(t, err, ErrInvalid)

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = i.Verify(none)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRequiresExpiryAndSubject(t *testing.T) {
	i := newTestIssuer(t, nil)

	noExp, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, wireClaims{
		RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1"},
	}).SignedString(testKey)
	require.NoError(t, err)
	_, err = i.Verify(noExp)
	require.ErrorIs(t, err, ErrInvalid)

	noSub, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, wireClaims{
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(testKey)
	require.NoError(t, err)
	_, err = i.Verify(noSub)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = i.Issue(Claims{})
	require.Error(t, err)
}

func TestIssuerAndAudiencePinned(t *testing.T) {
	a := newTestIssuer(t, func(c *Config) { c.Issuer = "cep"; c.Audience = "api" })
	b := newTestIssuer(t, func(c *Config) { c.Issuer = "other"; c.Audience = "api" })

	raw, err := b.Issue(Claims{Subject: "u1"})
	require.NoError(t, err)
	_, err = a.Verify(raw)
	require.ErrorIs(t, err, ErrInvalid)

	raw, err = a.Issue(Claims{Subject: "u1"})
	require.NoError(t, err)
	_, err = a.Verify(raw)
	require.NoError(t, err)
}

func TestAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{HS256, HS384, HS512, "hs384"} {
		i := newTestIssuer(t, func(c *Config) { c.Algorithm = alg })
		raw, err := i.Issue(Claims{Subject: "u1"})
		require.NoError(t, err)
		_, err = i.Verify(raw)
		require.NoError(t, err, string(alg))
	}
}

func TestKeyRotation(t *testing.T) {
	oldKey := []byte("old-old-old-old-old-old-old-old-!")
	old := newTestIssuer(t, func(c *Config) { c.SigningKey = oldKey; c.KeyID = "k1" })
	current := newTestIssuer(t, func(c *Config) {
		c.KeyID = "k2"
		c.VerifyKeys = map[string][]byte{"k1": oldKey, "k2": testKey}
	})

	legacy, err := old.Issue(Claims{Subject: "u1"})
	require.NoError(t, err)
	_, err = current.Verify(legacy)
	require.NoError(t, err)

	fresh, err := current.Issue(Claims{Subject: "u1"})
	require.NoError(t, err)
	_, err = current.Verify(fresh)
	require.NoError(t, err)

	_, err = old.Verify(fresh)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNewIssuerRejectsBadConfig(t *testing.T) {
	cases := map[string]Config{
		"missing key": {},
		"short key":   {SigningKey: []byte("short")},
		"algorithm":   {SigningKey: testKey, Algorithm: "RS256"},
		"ttl":         {SigningKey: testKey, DefaultTTL: -time.Second},
		"leeway":      {SigningKey: testKey, Leeway: time.Hour},
		"kid":         {SigningKey: testKey, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": testKey}},
		"empty kid":   {SigningKey: testKey, VerifyKeys: map[string][]byte{" ": testKey}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewIssuer(cfg)
			require.Error(t, err)
		})
	}
}

func FuzzVerify(f *testing.F) {
	i, err := NewIssuer(Config{SigningKey: testKey})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := i.Issue(Claims{Subject: "u1"})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.e30.")
	f.Fuzz(func(t *testing.T, raw string) {
		claims, err := i.Verify(raw)
		if err == nil && claims.Subject == "" {
			t.Fatal("accepted token without subject")
		}
	})
}
