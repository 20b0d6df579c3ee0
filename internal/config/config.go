// Package config loads the server configuration.
//
// Sources, lowest precedence first:
//
//	defaults → YAML file (--config) → environment → command-line flags
//
// main loads .env into the environment before calling Load, so a .env file
// sits at the environment level.
//
// Secrets have no defaults. TOKEN_SECRET and CREDENTIAL_SECRET may be given
// directly, or both derived from MASTER_SECRET.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"

	"github.com/sakif/proust-questionnaire/internal/auth"
)

// HKDF info labels. Changing either one changes the derived key and
// invalidates every stored hash or issued credential made with it.
var (
	hkdfInfoToken      = []byte("proust.token-hash.v1")
	hkdfInfoCredential = []byte("proust.credential.v1")
)

// Config is the full server configuration.
type Config struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
	DBPath  string `yaml:"db_path"`

	TokenSecret      string `yaml:"token_secret"`
	CredentialSecret string `yaml:"credential_secret"`
	MasterSecret     string `yaml:"master_secret"`

	// EmailRecipient is the age public key the contact copy of each email
	// is sealed to. Empty disables the copy.
	EmailRecipient string `yaml:"email_recipient"`

	MagicLinkTTL     time.Duration `yaml:"magic_link_ttl"`
	CredentialTTL    time.Duration `yaml:"credential_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	RedisURL         string        `yaml:"redis_url"`
	RateLimitPerHour int           `yaml:"rate_limit_per_hour"`

	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	MailFrom       string `yaml:"mail_from"`

	BackupDir       string        `yaml:"backup_dir"`
	BackupRecipient string        `yaml:"backup_recipient"`
	BackupInterval  time.Duration `yaml:"backup_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	// CookieSecure marks cookies Secure. Local development over plain HTTP
	// sets COOKIE_SECURE=false.
	CookieSecure bool `yaml:"cookie_secure"`
	// TrustProxy takes the client IP from X-Forwarded-For and X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`

	// PDFFont is a TrueType file used for exports in place of the bundled
	// Go fonts, for scripts they do not cover.
	PDFFont string `yaml:"pdf_font"`

	// ConfigFile is the YAML file that was read, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:             8080,
		BaseURL:          "http://localhost:8080",
		DBPath:           "data/proust.db",
		MagicLinkTTL:     15 * time.Minute,
		CredentialTTL:    24 * time.Hour,
		SweepInterval:    time.Hour,
		RateLimitPerHour: 5,
		MailFrom:         "questionnaire@localhost",
		BackupInterval:   24 * time.Hour,
		LogLevel:         "info",
		LogFormat:        "text",
		CookieSecure:     true,
	}
}

// Load builds the configuration from args (without the program name) and
// the process environment, derives secrets and validates the result.
func Load(args []string) (Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("proust", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFile := fs.String("config", "", "path to a YAML config file")
	port := fs.Int("port", cfg.Port, "HTTP listen port")
	baseURL := fs.String("base-url", cfg.BaseURL, "public origin used in emailed links")
	dbPath := fs.String("db-path", cfg.DBPath, "SQLite database file")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	logFormat := fs.String("log-format", cfg.LogFormat, "text or json")
	logFile := fs.String("log-file", "", "also write logs to this file, rotated")
	pdfFont := fs.String("pdf-font", "", "TrueType font file for PDF exports")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	path := *configFile
	if path == "" {
		path = getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("base-url") {
		cfg.BaseURL = *baseURL
	}
	if fs.Changed("db-path") {
		cfg.DBPath = *dbPath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}
	if fs.Changed("log-file") {
		cfg.LogFile = *logFile
	}
	if fs.Changed("pdf-font") {
		cfg.PDFFont = *pdfFont
	}

	if err := cfg.deriveSecrets(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

// applyEnv overrides fields whose variable is set and non-empty. Malformed
// values are errors rather than silently falling back.
func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	integer("PORT", &c.Port)
	str("BASE_URL", &c.BaseURL)
	str("DB_PATH", &c.DBPath)
	str("TOKEN_SECRET", &c.TokenSecret)
	str("CREDENTIAL_SECRET", &c.CredentialSecret)
	str("MASTER_SECRET", &c.MasterSecret)
	str("EMAIL_RECIPIENT", &c.EmailRecipient)
	duration("MAGIC_LINK_TTL", &c.MagicLinkTTL)
	duration("CREDENTIAL_TTL", &c.CredentialTTL)
	duration("SWEEP_INTERVAL", &c.SweepInterval)
	str("REDIS_URL", &c.RedisURL)
	integer("RATE_LIMIT_PER_HOUR", &c.RateLimitPerHour)
	str("SENDGRID_API_KEY", &c.SendGridAPIKey)
	str("MAIL_FROM", &c.MailFrom)
	str("BACKUP_DIR", &c.BackupDir)
	str("BACKUP_RECIPIENT", &c.BackupRecipient)
	duration("BACKUP_INTERVAL", &c.BackupInterval)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOG_FILE", &c.LogFile)
	boolean("COOKIE_SECURE", &c.CookieSecure)
	boolean("TRUST_PROXY", &c.TrustProxy)
	str("PDF_FONT", &c.PDFFont)

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// deriveSecrets fills TokenSecret and CredentialSecret from MasterSecret
// when neither is set. Setting only one of them is left for Validate.
func (c *Config) deriveSecrets() error {
	if c.TokenSecret != "" || c.CredentialSecret != "" || c.MasterSecret == "" {
		return nil
	}
	if len(c.MasterSecret) < auth.MinSecretBytes {
		return fmt.Errorf("config: MASTER_SECRET must be at least %d bytes", auth.MinSecretBytes)
	}
	token, err := deriveKey(c.MasterSecret, hkdfInfoToken)
	if err != nil {
		return err
	}
	cred, err := deriveKey(c.MasterSecret, hkdfInfoCredential)
	if err != nil {
		return err
	}
	c.TokenSecret, c.CredentialSecret = token, cred
	return nil
}

// deriveKey returns 32 HKDF-SHA256 bytes, hex encoded.
func deriveKey(master string, info []byte) (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(master), nil, info), key); err != nil {
		return "", fmt.Errorf("config: deriving key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port < 1 || c.Port > 65535 {
		fail("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail("BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.DBPath == "" {
		fail("DB_PATH is required")
	}

	switch {
	case c.TokenSecret == "" && c.CredentialSecret == "":
		fail("TOKEN_SECRET and CREDENTIAL_SECRET (or MASTER_SECRET) are required")
	default:
		if len(c.TokenSecret) < auth.MinSecretBytes {
			fail("TOKEN_SECRET must be at least %d bytes", auth.MinSecretBytes)
		}
		if len(c.CredentialSecret) < auth.MinSecretBytes {
			fail("CREDENTIAL_SECRET must be at least %d bytes", auth.MinSecretBytes)
		}
		if c.TokenSecret != "" && c.TokenSecret == c.CredentialSecret {
			fail("TOKEN_SECRET and CREDENTIAL_SECRET must differ")
		}
	}

	if c.MagicLinkTTL <= 0 {
		fail("MAGIC_LINK_TTL must be positive")
	}
	if c.CredentialTTL <= 0 {
		fail("CREDENTIAL_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		fail("SWEEP_INTERVAL must be positive")
	}
	if c.RateLimitPerHour < 1 {
		fail("RATE_LIMIT_PER_HOUR must be at least 1")
	}
	if c.BackupInterval <= 0 {
		fail("BACKUP_INTERVAL must be positive")
	}
	if (c.BackupDir == "") != (c.BackupRecipient == "") {
		fail("BACKUP_DIR and BACKUP_RECIPIENT must be set together")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		fail("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

// BackupEnabled reports whether both backup settings are present.
func (c Config) BackupEnabled() bool { return c.BackupDir != "" && c.BackupRecipient != "" }

// SlogLevel is LogLevel as a slog.Level.
func (c Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
	return l, nil
}

// LogValue keeps secrets out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("base_url", c.BaseURL),
		slog.String("db_path", c.DBPath),
		slog.String("config_file", c.ConfigFile),
		slog.Duration("magic_link_ttl", c.MagicLinkTTL),
		slog.Duration("credential_ttl", c.CredentialTTL),
		slog.Duration("sweep_interval", c.SweepInterval),
		slog.Bool("redis", c.RedisURL != ""),
		slog.Int("rate_limit_per_hour", c.RateLimitPerHour),
		slog.Bool("sendgrid", c.SendGridAPIKey != ""),
		slog.Bool("email_sealing", c.EmailRecipient != ""),
		slog.Bool("backups", c.BackupEnabled()),
		slog.Bool("cookie_secure", c.CookieSecure),
		slog.Bool("trust_proxy", c.TrustProxy),
		slog.String("pdf_font", c.PDFFont),
	)
}
