// Package token issues and verifies the bearer tokens that carry principal
// identity between requests.
//
// Tokens are HMAC-signed JWTs. Verification distinguishes exactly two failure
// kinds: ErrExpired, and ErrInvalid for everything else.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm names an HMAC signing method.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

const (
	// DefaultTTL is 1440 minutes.
	DefaultTTL = 24 * time.Hour
	// MinKeyLength is the minimum signing key size in bytes.
	MinKeyLength = 32
)

var (
	// ErrExpired is returned when the current time is past the token expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for every other verification failure.
	ErrInvalid = errors.New("token invalid")
)

// Config defines signing and validation parameters.
type Config struct {
	SigningKey   []byte
	Algorithm    Algorithm
	DefaultTTL   time.Duration
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// KeyID is stamped into the kid header when set.
	KeyID string
	// VerifyKeys accepts tokens signed under retired keys, by kid.
	VerifyKeys map[string][]byte
}

// Claims is the identity carried by a token.
type Claims struct {
	Subject   string
	Email     string
	Provider  string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	Email    string `json:"email"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens. It is safe for concurrent use.
type Issuer struct {
	config Config
	method jwt.SigningMethod
	now    func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock replaces the wall clock for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer validates cfg. A missing or short key is an error; callers treat
// it as fatal at startup.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = HS256
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	i := &Issuer{
		config: cfg,
		method: methodFor(cfg.Algorithm),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if len(c.SigningKey) == 0 {
		return errors.New("token signing key is required")
	}
	if len(c.SigningKey) < MinKeyLength {
		return fmt.Errorf("token signing key must be at least %d bytes", MinKeyLength)
	}
	if methodFor(c.Algorithm) == nil {
		return fmt.Errorf("unsupported token algorithm %q", c.Algorithm)
	}
	if c.DefaultTTL < 0 {
		return errors.New("token ttl must not be negative")
	}
	if c.Leeway < 0 || c.Leeway > 2*time.Minute {
		return errors.New("token leeway must be between 0 and 2m")
	}
	if c.MaxFutureIAT < 0 || c.MaxFutureIAT > 24*time.Hour {
		return errors.New("token max future iat must be between 0 and 24h")
	}
	for kid, key := range c.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return errors.New("verify key map contains empty kid")
		}
		if len(key) < MinKeyLength {
			return fmt.Errorf("verify key %q must be at least %d bytes", kid, MinKeyLength)
		}
	}
	if c.KeyID != "" && len(c.VerifyKeys) > 0 {
		if _, ok := c.VerifyKeys[c.KeyID]; !ok {
			return errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return nil
}

// DefaultTTL returns the configured lifetime.
func (i *Issuer) DefaultTTL() time.Duration {
	return i.config.DefaultTTL
}

// Issue signs c with the default lifetime.
func (i *Issuer) Issue(c Claims) (string, error) {
	return i.IssueWithTTL(c, i.config.DefaultTTL)
}

// IssueWithTTL signs c to expire ttl from now. A zero ttl yields a token that
// is already expired.
func (i *Issuer) IssueWithTTL(c Claims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return "", errors.New("token subject is required")
	}
	now := i.now()
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	claims := wireClaims{
		Email:    c.Email,
		Provider: c.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			ID:        id,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	tok := jwt.NewWithClaims(i.method, claims)
	if i.config.KeyID != "" {
		tok.Header["kid"] = i.config.KeyID
	}
	return tok.SignedString(i.config.SigningKey)
}

// Verify checks signature and expiry and returns the embedded claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(raw, &wireClaims{}, i.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	wc, ok := parsed.Claims.(*wireClaims)
	if !ok || !parsed.Valid || wc.Subject == "" {
		return nil, ErrInvalid
	}
	if wc.IssuedAt != nil && wc.IssuedAt.Time.After(i.now().Add(i.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
	}

	out := &Claims{
		Subject:  wc.Subject,
		Email:    wc.Email,
		Provider: wc.Provider,
		ID:       wc.ID,
	}
	if wc.IssuedAt != nil {
		out.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		out.ExpiresAt = wc.ExpiresAt.Time
	}
	return out, nil
}

func (i *Issuer) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != i.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)

	if len(i.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := i.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if i.config.KeyID != "" && kid != i.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return i.config.SigningKey, nil
}

func methodFor(alg Algorithm) jwt.SigningMethod {
	switch Algorithm(strings.ToUpper(string(alg))) {
	case HS256:
		return jwt.SigningMethodHS256
	case HS384:
		return jwt.SigningMethodHS384
	case HS512:
		return jwt.SigningMethodHS512
	default:
		return nil
	}
}
