package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/pkg/durationx"
	"github.com/aussiebroadwan/warden/pkg/httpx"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/mailx"
	"github.com/aussiebroadwan/warden/pkg/totpx"
	"github.com/ilyakaznacheev/cleanenv"
)

// Revocation backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is loaded from an optional YAML file and the environment.
// Boolean settings are phrased so that false is the default: cleanenv
// applies env-default to any zero field, which would turn an explicit
// false in the file back into true.
type Config struct {
	Env       string `yaml:"env" env:"ENV" env-default:"dev"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`

	Port                 int           `yaml:"port" env:"PORT" env-default:"8080"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD" env-default:"10s"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval" env:"HOUSEKEEPING_INTERVAL" env-default:"1h"`

	DatabaseFile string `yaml:"database_file" env:"WARDEN_DATABASE_FILE" env-default:"warden.db"`
	PepperFile   string `yaml:"pepper_file" env:"WARDEN_PEPPER_FILE" env-default:"pepper"`

	// DisableMetrics leaves /metrics unregistered.
	DisableMetrics bool `yaml:"disable_metrics" env:"WARDEN_DISABLE_METRICS"`

	Tokens     TokensConfig      `yaml:"tokens"`
	TOTP       TOTPConfig        `yaml:"totp"`
	Revocation RevocationConfig  `yaml:"revocation"`
	HTTP       HTTPConfig        `yaml:"http"`
	SMTP       mailx.SMTPConfig  `yaml:"smtp"`
	Mail       service.Templates `yaml:"mail"`
}

type TokensConfig struct {
	Issuer    string `yaml:"issuer" env:"WARDEN_ISSUER" env-default:"warden"`
	Algorithm string `yaml:"algorithm" env:"WARDEN_ALGORITHM" env-default:"EdDSA"`
	RSABits   int    `yaml:"rsa_bits" env:"WARDEN_RSA_BITS"`
	NumKeys   int    `yaml:"num_keys" env:"WARDEN_NUM_KEYS" env-default:"3"`

	// KeyFile holds a PEM private key, or the raw secret for HS256. Without
	// it keys are generated at startup and die with the process.
	KeyFile string `yaml:"key_file" env:"WARDEN_KEY_FILE"`

	// Lifetimes are durationx strings such as "15 minutes" or "30 days".
	AccessTTL       string `yaml:"access_ttl" env:"WARDEN_ACCESS_TTL" env-default:"15 minutes"`
	RefreshTTL      string `yaml:"refresh_ttl" env:"WARDEN_REFRESH_TTL" env-default:"30 days"`
	RegistrationTTL string `yaml:"registration_ttl" env:"WARDEN_REGISTRATION_TTL" env-default:"2 days"`
	ResetTTL        string `yaml:"reset_ttl" env:"WARDEN_RESET_TTL" env-default:"1 hour"`

	ReservedClaims []string `yaml:"reserved_claims" env:"WARDEN_RESERVED_CLAIMS" env-separator:","`
	DefaultRoles   []string `yaml:"default_roles" env:"WARDEN_DEFAULT_ROLES" env-separator:"," env-default:"member"`

	// DisableRefresh issues access tokens only.
	DisableRefresh bool `yaml:"disable_refresh" env:"WARDEN_DISABLE_REFRESH"`
	// DisableRotation keeps a refresh token valid until its own expiry
	// instead of exchanging it on every refresh.
	DisableRotation bool `yaml:"disable_rotation" env:"WARDEN_DISABLE_ROTATION"`
}

type TOTPConfig struct {
	Issuer string `yaml:"issuer" env:"WARDEN_TOTP_ISSUER" env-default:"warden"`
	// Window is the number of steps accepted either side of now; "0"
	// accepts the current step only. It is text so that an explicit zero
	// is not replaced by the default.
	Window string `yaml:"window" env:"WARDEN_TOTP_WINDOW" env-default:"1"`
	// Optional lets principals with TOTP enabled log in without a code.
	Optional bool `yaml:"optional" env:"WARDEN_TOTP_OPTIONAL"`
}

type RevocationConfig struct {
	Backend     string `yaml:"backend" env:"WARDEN_REVOCATION_BACKEND" env-default:"sqlite"`
	RedisURL    string `yaml:"redis_url" env:"WARDEN_REDIS_URL" env-default:"redis://localhost:6379/0"`
	RedisPrefix string `yaml:"redis_prefix" env:"WARDEN_REDIS_PREFIX" env-default:"warden:rev:"`
}

type HTTPConfig struct {
	AdminRole      string `yaml:"admin_role" env:"WARDEN_ADMIN_ROLE" env-default:"admin"`
	SetCookie      bool   `yaml:"set_cookie" env:"WARDEN_SET_COOKIE"`
	InsecureCookie bool   `yaml:"insecure_cookie" env:"WARDEN_INSECURE_COOKIE"`

	// LoginLimit applies per IP and per identifier to the credential
	// endpoints. Environment names carry the WARDEN_LOGIN_LIMIT_ prefix.
	LoginLimit httpx.RateLimitConfig `yaml:"login_limit" env-prefix:"WARDEN_LOGIN_LIMIT_"`
}

// LoadConfig reads path when it is non-empty and then applies environment
// overrides. Without a path only the environment is used.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	var errs []error

	if _, err := c.Tokens.Lifetimes(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.TOTP.Steps(); err != nil {
		errs = append(errs, err)
	}

	switch c.Tokens.Algorithm {
	case jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA, jwtx.AlgorithmHS256:
	default:
		errs = append(errs, fmt.Errorf("%w: unsupported algorithm %q", service.ErrConfiguration, c.Tokens.Algorithm))
	}

	switch c.Revocation.Backend {
	case BackendSQLite, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown revocation backend %q", service.ErrConfiguration, c.Revocation.Backend))
	}

	return errors.Join(errs...)
}

// Lifetimes parses the configured lifetime of every token kind.
func (c TokensConfig) Lifetimes() (map[jwtx.Kind]durationx.Duration, error) {
	texts := map[jwtx.Kind]string{
		jwtx.KindAccess:       c.AccessTTL,
		jwtx.KindRefresh:      c.RefreshTTL,
		jwtx.KindRegistration: c.RegistrationTTL,
		jwtx.KindReset:        c.ResetTTL,
	}

	lifetimes := make(map[jwtx.Kind]durationx.Duration, len(texts))
	for _, kind := range jwtx.Kinds {
		text := texts[kind]
		if text == "" {
			continue
		}
		d, err := durationx.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s token lifetime: %w", service.ErrConfiguration, kind, err)
		}
		if d.IsZero() {
			return nil, fmt.Errorf("%w: %s token lifetime %q is zero", service.ErrConfiguration, kind, text)
		}
		lifetimes[kind] = d
	}

	if _, ok := lifetimes[jwtx.KindAccess]; !ok {
		return nil, fmt.Errorf("%w: access token lifetime is required", service.ErrConfiguration)
	}
	return lifetimes, nil
}

// Steps parses Window.
func (c TOTPConfig) Steps() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(c.Window))
	if err != nil || n < 0 || n > totpx.MaxWindow {
		return 0, fmt.Errorf("%w: totp window must be a whole number from 0 to %d, got %q",
			service.ErrConfiguration, totpx.MaxWindow, c.Window)
	}
	return n, nil
}

// Verifier builds the TOTP verifier for this configuration. Call it only
// after Validate.
func (c TOTPConfig) Verifier() *totpx.Verifier {
	v := &totpx.Verifier{Issuer: c.Issuer, Window: totpx.CurrentStepOnly}
	if n, _ := c.Steps(); n > 0 {
		v.Window = n
	}
	return v
}
