package goTrust

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cepmachine/goTrust/audit"
	"github.com/cepmachine/goTrust/password"
	"github.com/cepmachine/goTrust/token"
	"github.com/cepmachine/goTrust/totp"
)

// Config is the full engine configuration. Every field can be loaded from the
// environment with LoadConfigFromEnv.
type Config struct {
	Token    TokenConfig
	MFA      MFAConfig
	Password password.Config `envPrefix:"PASSWORD_"`
	Store    StoreConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls bearer token signing.
type TokenConfig struct {
	SecretKey     string        `env:"JWT_SECRET_KEY"`
	Algorithm     string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	ExpireMinutes int           `env:"JWT_EXPIRE_MINUTES" envDefault:"1440"`
	Issuer        string        `env:"JWT_ISSUER"`
	Audience      string        `env:"JWT_AUDIENCE"`
	Leeway        time.Duration `env:"JWT_LEEWAY"`
	KeyID         string        `env:"JWT_KEY_ID"`
	// VerifyKeys maps kid to secret for tokens signed under retired keys.
	VerifyKeys map[string]string `env:"JWT_VERIFY_KEYS"`
}

// TTL returns the default token lifetime.
func (c TokenConfig) TTL() time.Duration {
	return time.Duration(c.ExpireMinutes) * time.Minute
}

// IssuerConfig converts c for token.NewIssuer.
func (c TokenConfig) IssuerConfig() token.Config {
	cfg := token.Config{
		SigningKey: []byte(c.SecretKey),
		Algorithm:  token.Algorithm(strings.ToUpper(c.Algorithm)),
		DefaultTTL: c.TTL(),
		Issuer:     c.Issuer,
		Audience:   c.Audience,
		Leeway:     c.Leeway,
		KeyID:      c.KeyID,
	}
	if len(c.VerifyKeys) > 0 {
		cfg.VerifyKeys = make(map[string][]byte, len(c.VerifyKeys))
		for kid, key := range c.VerifyKeys {
			cfg.VerifyKeys[kid] = []byte(key)
		}
	}
	return cfg
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP parameters and backup code sets.
type MFAConfig struct {
	Issuer                 string `env:"MFA_ISSUER" envDefault:"CEP Machine"`
	Digits                 int    `env:"MFA_DIGITS" envDefault:"6"`
	Period                 int    `env:"MFA_PERIOD" envDefault:"30"`
	Window                 int    `env:"MFA_WINDOW" envDefault:"1"`
	Algorithm              string `env:"MFA_ALGORITHM" envDefault:"SHA1"`
	BackupCodeCount        int    `env:"MFA_BACKUP_CODE_COUNT" envDefault:"8"`
	LowBackupCodeThreshold int    `env:"MFA_LOW_BACKUP_CODES" envDefault:"2"`
}

// TOTPConfig converts c for totp.New.
func (c MFAConfig) TOTPConfig() totp.Config {
	return totp.Config{
		Issuer:      c.Issuer,
		Digits:      c.Digits,
		Period:      c.Period,
		Window:      c.Window,
		SecretBytes: totp.MinSecretBytes,
		Algorithm:   c.Algorithm,
	}
}

/*
====================================
STORE CONFIG
====================================
*/

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// StoreConfig selects where enrollments and custom roles persist. Stores
// passed to the Builder take precedence.
type StoreConfig struct {
	Backend     string   `env:"STORE_BACKEND" envDefault:"memory"`
	RedisAddrs  []string `env:"REDIS_ADDRS" envSeparator:","`
	RedisPrefix string   `env:"REDIS_PREFIX" envDefault:"gt"`
	SQLitePath  string   `env:"SQLITE_PATH" envDefault:"gotrust.db"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"AUDIT_ENABLED"`
	BufferSize int  `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
	DropIfFull bool `env:"AUDIT_DROP_IF_FULL" envDefault:"true"`
}

func (c AuditConfig) dispatcherConfig() audit.Config {
	return audit.Config{Enabled: c.Enabled, BufferSize: c.BufferSize, DropIfFull: c.DropIfFull}
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"METRICS_ENABLED"`
	EnableLatencyHistograms bool `env:"METRICS_LATENCY_HISTOGRAMS"`
}

// LogConfig selects the default logger built by NewLogger.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the configuration LoadConfigFromEnv produces from an
// empty environment. The signing key is left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Algorithm:     string(token.HS256),
			ExpireMinutes: int(token.DefaultTTL / time.Minute),
		},
		MFA: MFAConfig{
			Issuer:                 totp.DefaultIssuer,
			Digits:                 totp.DefaultDigits,
			Period:                 totp.DefaultPeriod,
			Window:                 totp.DefaultWindow,
			Algorithm:              "SHA1",
			BackupCodeCount:        8,
			LowBackupCodeThreshold: 2,
		},
		Password: password.DefaultConfig(),
		Store: StoreConfig{
			Backend:     StoreMemory,
			RedisPrefix: "gt",
			SQLitePath:  "gotrust.db",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfigFromEnv reads Config from the process environment.
func LoadConfigFromEnv() (Config, error) {
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Store.RedisAddrs != nil {
		out.Store.RedisAddrs = append([]string(nil), cfg.Store.RedisAddrs...)
	}
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string]string, len(cfg.Token.VerifyKeys))
		for k, v := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error. A missing or short signing
// key is an error here so startup fails fast.
func (c Config) Validate() error {
	if err := c.Token.IssuerConfig().Validate(); err != nil {
		return err
	}
	if c.Token.ExpireMinutes <= 0 {
		return errors.New("token expire minutes must be > 0")
	}
	if err := c.MFA.TOTPConfig().Validate(); err != nil {
		return err
	}
	if c.MFA.BackupCodeCount < 1 || c.MFA.BackupCodeCount > 32 {
		return errors.New("mfa backup code count must be between 1 and 32")
	}
	if c.MFA.LowBackupCodeThreshold < 0 || c.MFA.LowBackupCodeThreshold >= c.MFA.BackupCodeCount {
		return errors.New("mfa low backup code threshold must be between 0 and the code count")
	}
	if err := c.Password.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Store.Backend) {
	case "", StoreMemory, StoreRedis:
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("sqlite path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0 when audit is enabled")
	}
	return nil
}
