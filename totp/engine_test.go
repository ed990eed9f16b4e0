package totp

import (
	"encoding/base32"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// base32 of the RFC 6238 ASCII seed "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestVerifyRFCVectorsSHA1(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.Digits = 8
		c.Window = 0
	})
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}
	for _, tc := range cases {
		require.Truef(t, e.VerifyAt(rfcSecret, tc.code, time.Unix(tc.ts, 0)), "vector t=%d", tc.ts)
	}
}

func TestVerifySixDigitTruncation(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Window = 0 })
	require.True(t, e.VerifyAt(rfcSecret, "287082", time.Unix(59, 0)))
	require.True(t, e.VerifyAt(rfcSecret, "005924", time.Unix(1234567890, 0)))
}

func TestVerifyWindow(t *testing.T) {
	e := newTestEngine(t, nil)
	secret, err := e.GenerateSecret()
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	code, err := e.CodeAt(secret, at)
	require.NoError(t, err)

	require.True(t, e.VerifyAt(secret, code, at))
	require.True(t, e.VerifyAt(secret, code, at.Add(29*time.Second)))
	require.True(t, e.VerifyAt(secret, code, at.Add(-29*time.Second)))
	require.False(t, e.VerifyAt(secret, code, at.Add(61*time.Second)))
	require.False(t, e.VerifyAt(secret, code, at.Add(-61*time.Second)))
}

func TestVerifyZeroWindowRejectsAdjacentStep(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Window = 0 })
	at := time.Unix(1700000010, 0)
	prev, err := e.CodeAt(rfcSecret, at.Add(-30*time.Second))
	require.NoError(t, err)
	require.False(t, e.VerifyAt(rfcSecret, prev, at))
}

func TestVerifyNormalizesSeparators(t *testing.T) {
	e := newTestEngine(t, nil)
	at := time.Unix(1234567890, 0)
	require.True(t, e.VerifyAt(rfcSecret, "005 924", at))
	require.True(t, e.VerifyAt(rfcSecret, "005-924", at))
	require.True(t, e.VerifyAt(rfcSecret, " 005924\n", at))
}

func TestVerifyStripsUnicodeSpace(t *testing.T) {
	e := newTestEngine(t, nil)
	at := time.Unix(1234567890, 0)
	for _, token := range []string{"005\v924", "005\f924", "005\u00a0924", "\u2003005924\u3000"} {
		require.Truef(t, e.VerifyAt(rfcSecret, token, at), "token %q", token)
	}
	require.Equal(t, "005924", Normalize("0\u00a00-5\t9\v2\f4"))
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	e := newTestEngine(t, nil)
	at := time.Unix(1234567890, 0)
	for _, token := range []string{"", "12345", "1234567", "abcdef", "00592x", "٠٠٥٩٢٤", "00592412"} {
		require.Falsef(t, e.VerifyAt(rfcSecret, token, at), "token %q", token)
	}
}

func TestVerifyRejectsBadSecret(t *testing.T) {
	e := newTestEngine(t, nil)
	require.False(t, e.VerifyAt("", "123456", time.Now()))
	require.False(t, e.VerifyAt("not base32!!", "123456", time.Now()))
}

func TestVerifyDifferentSecretFails(t *testing.T) {
	e := newTestEngine(t, nil)
	a, err := e.GenerateSecret()
	require.NoError(t, err)
	b, err := e.GenerateSecret()
	require.NoError(t, err)

	at := time.Now()
	code, err := e.CodeAt(a, at)
	require.NoError(t, err)
	require.True(t, e.VerifyAt(a, code, at))

	// A collision across three steps is possible in principle; regenerate the
	// second secret until the specific code differs so the test is deterministic.
	for i := 0; i < 5 && e.VerifyAt(b, code, at); i++ {
		b, err = e.GenerateSecret()
		require.NoError(t, err)
	}
	require.False(t, e.VerifyAt(b, code, at))
}

func TestVerifyUsesInjectedClock(t *testing.T) {
	at := time.Unix(1234567890, 0)
	e, err := New(DefaultConfig(), WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	require.True(t, e.Verify(rfcSecret, "005924"))
}

func TestGenerateSecret(t *testing.T) {
	e := newTestEngine(t, nil)
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		secret, err := e.GenerateSecret()
		require.NoError(t, err)
		require.NotContains(t, secret, "=")
		raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
		require.NoError(t, err)
		require.Len(t, raw, MinSecretBytes)
		_, dup := seen[secret]
		require.False(t, dup)
		seen[secret] = struct{}{}
	}
}

func TestProvisioningURI(t *testing.T) {
	e := newTestEngine(t, nil)
	uri, err := e.ProvisioningURI(rfcSecret, "alice@example.com")
	require.NoError(t, err)

	again, err := e.ProvisioningURI(rfcSecret, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, uri, again)

	parsed, err := url.Parse(uri)
	require.NoError(t, err)
	require.Equal(t, "otpauth", parsed.Scheme)
	require.Equal(t, "totp", parsed.Host)
	require.Equal(t, "/CEP Machine:alice@example.com", parsed.Path)

	q := parsed.Query()
	require.Equal(t, rfcSecret, q.Get("secret"))
	require.Equal(t, "CEP Machine", q.Get("issuer"))
	require.Equal(t, "30", q.Get("period"))
	require.Equal(t, "6", q.Get("digits"))
	require.Equal(t, "SHA1", strings.ToUpper(q.Get("algorithm")))
}

func TestProvisioningURIRejectsBadInput(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.ProvisioningURI(rfcSecret, "  ")
	require.ErrorIs(t, err, ErrInvalidLabel)
	_, err = e.ProvisioningURI("!!", "alice")
	require.ErrorIs(t, err, ErrInvalidSecret)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty issuer": func(c *Config) { c.Issuer = "" },
		"digits":       func(c *Config) { c.Digits = 7 },
		"period":       func(c *Config) { c.Period = 5 },
		"window":       func(c *Config) { c.Window = 9 },
		"secret bytes": func(c *Config) { c.SecretBytes = 10 },
		"algorithm":    func(c *Config) { c.Algorithm = "MD5" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
}

func FuzzVerifyAt(f *testing.F) {
	e, err := New(DefaultConfig())
	if err != nil {
		f.Fatal(err)
	}
	f.Add(rfcSecret, "005924", int64(1234567890))
	f.Add("", "", int64(0))
	f.Add("====", "--- ---", int64(-30))
	f.Fuzz(func(t *testing.T, secret, token string, ts int64) {
		_ = e.VerifyAt(secret, token, time.Unix(ts, 0))
	})
}
