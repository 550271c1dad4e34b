package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
)

type Config struct {
	RPCURL          string
	WSPath          string
	AdminSeedBase64 string // authority credential: base64 of a 32-byte seed or 64-byte secret key
	APISecretKey    string // bearer token expected by the HTTP trigger
	HTTPAddr        string

	RateLimitMax     int
	RateLimitWindow  time.Duration
	RateLimitSpacing time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	MaxRoundsPerRun int // 0 means unlimited
	FundedSlots     int
	RunBudget       time.Duration
	CrankInterval   time.Duration // 0 disables the in-process ticker
	RoundAutoOpen   time.Duration // 0 disables opening a new round when none is active
	VerifyAuthority bool

	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver
	Debug     bool

	loadErrs []error
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// parser collects malformed values so Validate can report all of them at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func Load() Config {
	var p parser
	cfg := Config{
		RPCURL:          getenv("RPC_URL", "http://127.0.0.1:26657"),
		WSPath:          getenv("WS_PATH", "/websocket"),
		AdminSeedBase64: strings.TrimSpace(os.Getenv("ADMIN_SEED_BASE64")),
		APISecretKey:    os.Getenv("API_SECRET_KEY"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),

		RateLimitMax:     p.int("RATE_LIMIT_MAX", 5),
		RateLimitWindow:  p.duration("RATE_LIMIT_WINDOW", time.Second),
		RateLimitSpacing: p.duration("RATE_LIMIT_SPACING", 200*time.Millisecond),
		RetryMaxAttempts: p.int("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   p.duration("RETRY_BASE_DELAY", 500*time.Millisecond),

		MaxRoundsPerRun: p.int("MAX_ROUNDS_PER_RUN", 0),
		FundedSlots:     p.int("FUNDED_SLOTS", 10),
		RunBudget:       p.duration("RUN_BUDGET", 50*time.Second),
		CrankInterval:   p.duration("CRANK_INTERVAL", 0),
		RoundAutoOpen:   p.duration("ROUND_AUTO_OPEN", 0),
		VerifyAuthority: getenvBool("VERIFY_AUTHORITY", true),

		Debug: getenvBool("DEBUG", false),
	}
	cfg.loadErrs = p.errs

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

// Validate reports configuration that makes any run impossible.
func (c Config) Validate() error {
	errs := append([]error(nil), c.loadErrs...)
	if strings.TrimSpace(c.RPCURL) == "" {
		errs = append(errs, errors.New("RPC_URL is empty"))
	} else if u, err := url.Parse(c.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("RPC_URL is not an absolute URL: %q", c.RPCURL))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimitSpacing < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SPACING must not be negative"))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be positive"))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("RETRY_BASE_DELAY must be positive"))
	}
	if c.FundedSlots < 0 {
		errs = append(errs, errors.New("FUNDED_SLOTS must not be negative"))
	}
	if c.MaxRoundsPerRun < 0 {
		errs = append(errs, errors.New("MAX_ROUNDS_PER_RUN must not be negative"))
	}
	return errors.Join(errs...)
}

// RequireSigner reports whether write operations can be signed.
func (c Config) RequireSigner() error {
	if c.AdminSeedBase64 == "" {
		return errors.New("ADMIN_SEED_BASE64 is not set")
	}
	return nil
}

func (c Config) WSURL() string {
	// cometbft http client expects a separate ws endpoint path
	return c.WSPath
}

func (c Config) String() string {
	return fmt.Sprintf("rpc=%s http=%s db=%s", c.RPCURL, c.HTTPAddr, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"rpc=%s ws_path=%s http=%s db=%s dsn=%s seed=%s api_secret=%s rate=%d/%s spacing=%s retry=%dx%s funded=%d budget=%s interval=%s auto_open=%s",
		c.RPCURL,
		c.WSPath,
		c.HTTPAddr,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		maskSecret(c.AdminSeedBase64),
		maskSecret(c.APISecretKey),
		c.RateLimitMax,
		c.RateLimitWindow,
		c.RateLimitSpacing,
		c.RetryMaxAttempts,
		c.RetryBaseDelay,
		c.FundedSlots,
		c.RunBudget,
		c.CrankInterval,
		c.RoundAutoOpen,
	)
}

func maskSecret(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "***"
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
