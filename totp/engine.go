// Package totp implements RFC 6238 time-based one-time passwords for second-factor
// enrollment and verification.
//
// Secrets are handled as base32 strings without padding, the form authenticator
// apps accept. Verification never returns an error: malformed input and unknown
// secrets are simply not valid codes.
package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	pqtotp "github.com/pquerna/otp/totp"
)

const (
	// DefaultIssuer is the label shown by authenticator apps.
	DefaultIssuer = "CEP Machine"
	// DefaultDigits is the code length.
	DefaultDigits = 6
	// DefaultPeriod is the time-step in seconds.
	DefaultPeriod = 30
	// DefaultWindow is the number of adjacent steps accepted on either side.
	DefaultWindow = 1
	// MinSecretBytes is 160 bits.
	MinSecretBytes = 20
)

var (
	// ErrInvalidSecret is returned when a secret is not valid base32.
	ErrInvalidSecret = errors.New("totp: invalid secret")
	// ErrInvalidLabel is returned when the provisioning label is incomplete.
	ErrInvalidLabel = errors.New("totp: issuer and account label are required")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code shape and tolerance.
type Config struct {
	Issuer      string
	Digits      int
	Period      int
	Window      int
	SecretBytes int
	Algorithm   string
}

// DefaultConfig returns 6 digits, 30 second steps, a window of one step and SHA1.
func DefaultConfig() Config {
	return Config{
		Issuer:      DefaultIssuer,
		Digits:      DefaultDigits,
		Period:      DefaultPeriod,
		Window:      DefaultWindow,
		SecretBytes: MinSecretBytes,
		Algorithm:   "SHA1",
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("totp issuer must not be empty")
	}
	if c.Digits != 6 && c.Digits != 8 {
		return errors.New("totp digits must be 6 or 8")
	}
	if c.Period < 15 || c.Period > 120 {
		return errors.New("totp period must be between 15 and 120 seconds")
	}
	if c.Window < 0 || c.Window > 3 {
		return errors.New("totp window must be between 0 and 3")
	}
	if c.SecretBytes < MinSecretBytes {
		return errors.New("totp secret must be at least 20 bytes")
	}
	if _, err := algorithmFor(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// Engine generates secrets and verifies codes. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	config    Config
	algorithm otp.Algorithm
	digits    otp.Digits
	now       func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used by Verify.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New validates cfg and returns an Engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alg, _ := algorithmFor(cfg.Algorithm)
	e := &Engine{
		config:    cfg,
		algorithm: alg,
		digits:    otp.Digits(cfg.Digits),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// GenerateSecret returns a fresh base32 secret drawn from crypto/rand.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, e.config.SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ProvisioningURI renders the otpauth:// URI for secret and accountLabel.
// The result depends only on its inputs and the engine configuration.
func (e *Engine) ProvisioningURI(secret, accountLabel string) (string, error) {
	if strings.TrimSpace(accountLabel) == "" {
		return "", ErrInvalidLabel
	}
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: accountLabel,
		Period:      uint(e.config.Period),
		Secret:      raw,
		Digits:      e.digits,
		Algorithm:   e.algorithm,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// CodeAt returns the code for the time-step containing at.
func (e *Engine) CodeAt(secret string, at time.Time) (string, error) {
	if _, err := decodeSecret(secret); err != nil {
		return "", err
	}
	return e.codeForCounter(secret, uint64(at.Unix()/int64(e.config.Period)))
}

// Verify checks token against secret at the current time.
func (e *Engine) Verify(secret, token string) bool {
	return e.VerifyAt(secret, token, e.now())
}

// VerifyAt checks token against secret for the step containing now and Window
// steps on either side.
func (e *Engine) VerifyAt(secret, token string, now time.Time) bool {
	candidate, ok := e.normalize(token)
	if !ok {
		return false
	}
	if _, err := decodeSecret(secret); err != nil {
		return false
	}

	base := now.Unix() / int64(e.config.Period)
	matched := 0
	for step := -e.config.Window; step <= e.config.Window; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		expected, err := e.codeForCounter(secret, uint64(counter))
		if err != nil {
			return false
		}
		matched |= subtle.ConstantTimeCompare([]byte(expected), []byte(candidate))
	}
	return matched == 1
}

// Normalize strips whitespace and dashes from a user-entered code.
func Normalize(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (e *Engine) normalize(token string) (string, bool) {
	candidate := Normalize(token)
	if len(candidate) != e.config.Digits {
		return "", false
	}
	for i := 0; i < len(candidate); i++ {
		if candidate[i] < '0' || candidate[i] > '9' {
			return "", false
		}
	}
	return candidate, true
}

func (e *Engine) codeForCounter(secret string, counter uint64) (string, error) {
	return hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    e.digits,
		Algorithm: e.algorithm,
	})
}

func decodeSecret(secret string) ([]byte, error) {
	trimmed := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	if trimmed == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := secretEncoding.DecodeString(trimmed)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

func algorithmFor(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return otp.AlgorithmSHA1, errors.New("totp algorithm must be SHA1, SHA256 or SHA512")
	}
}
