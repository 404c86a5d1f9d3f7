package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Orphan group policies applied when a grade/division mapping is removed.
const (
	OrphanPolicyRetain     = "retain"
	OrphanPolicyDeactivate = "deactivate"
)

type Config struct {
	Env         string
	Port        int
	APIPrefixes []string
	Version     string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Access   AccessConfig
	Bridge   BridgeConfig
	Accounts AccountsConfig
	Groups   GroupsConfig
	Mail     MailConfig
	Rollbar  RollbarConfig
	Import   ImportConfig
	Storage  StorageConfig
	Metrics  MetricsConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
	Audience          string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AccessConfig tunes role re-derivation. A zero RoleCacheTTL disables caching.
type AccessConfig struct {
	RoleCacheTTL time.Duration
}

// BridgeConfig describes the external legacy identity backends.
type BridgeConfig struct {
	WebBaseURL         string
	APIBaseURL         string
	Timeout            time.Duration
	CIDVerifyKey       string
	InsecureSkipVerify bool
	PasswordAESKey     string
}

// AccountsConfig holds account provisioning knobs.
type AccountsConfig struct {
	AdminSignupEnabled     bool
	StudentDefaultPassword string
	UsernameMaxRetries     int
	PasswordResetTTL       time.Duration
	PasswordResetURL       string
	LoginURL               string
}

// GroupsConfig controls cohort lifecycle.
type GroupsConfig struct {
	OrphanPolicy string
	LocationID   string
}

// MailConfig configures outbound email. An empty SendGridAPIKey selects the log mailer.
type MailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

// RollbarConfig configures error reporting. An empty token disables it.
type RollbarConfig struct {
	Token       string
	Environment string
}

// ImportConfig governs the bulk student import queue.
type ImportConfig struct {
	Workers        int
	MaxRetries     int
	StatusTTL      time.Duration
	MaxUploadBytes int64
}

// StorageConfig governs uploaded project files and signed downloads.
type StorageConfig struct {
	Dir             string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefixes = splitAndTrim(v.GetString("API_PREFIXES"))
	cfg.Version = v.GetString("APP_VERSION")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), 5*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("CACHE_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("JWT_REFRESH_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
		Audience:          v.GetString("JWT_AUDIENCE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Access = AccessConfig{
		RoleCacheTTL: parseDuration(v.GetString("ROLE_CACHE_TTL"), 0),
	}

	cfg.Bridge = BridgeConfig{
		WebBaseURL:         ensureTrailingSlash(v.GetString("BRIDGE_WEB_BASE_URL")),
		APIBaseURL:         ensureTrailingSlash(v.GetString("BRIDGE_API_BASE_URL")),
		Timeout:            parseDuration(v.GetString("BRIDGE_TIMEOUT"), 10*time.Second),
		CIDVerifyKey:       v.GetString("BRIDGE_CID_VERIFY_KEY"),
		InsecureSkipVerify: v.GetBool("BRIDGE_INSECURE_SKIP_VERIFY"),
		PasswordAESKey:     v.GetString("PASSWORD_AES_KEY"),
	}

	cfg.Accounts = AccountsConfig{
		AdminSignupEnabled:     v.GetBool("ADMIN_SIGNUP_ENABLED"),
		StudentDefaultPassword: v.GetString("STUDENT_DEFAULT_PASSWORD"),
		UsernameMaxRetries:     v.GetInt("USERNAME_MAX_RETRIES"),
		PasswordResetTTL:       parseDuration(v.GetString("PASSWORD_RESET_TTL"), 24*time.Hour),
		PasswordResetURL:       v.GetString("PASSWORD_RESET_URL"),
		LoginURL:               v.GetString("APP_LOGIN_URL"),
	}

	cfg.Groups = GroupsConfig{
		OrphanPolicy: strings.ToLower(strings.TrimSpace(v.GetString("GROUP_ORPHAN_POLICY"))),
		LocationID:   v.GetString("GROUP_LOCATION_ID"),
	}

	cfg.Mail = MailConfig{
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromAddress:    v.GetString("MAIL_FROM_ADDRESS"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
	}

	cfg.Rollbar = RollbarConfig{
		Token:       v.GetString("ROLLBAR_TOKEN"),
		Environment: v.GetString("ROLLBAR_ENVIRONMENT"),
	}
	if cfg.Rollbar.Environment == "" {
		cfg.Rollbar.Environment = cfg.Env
	}

	maxUpload := v.GetInt64("IMPORT_MAX_UPLOAD_BYTES")
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	cfg.Import = ImportConfig{
		Workers:        v.GetInt("IMPORT_WORKERS"),
		MaxRetries:     v.GetInt("IMPORT_MAX_RETRIES"),
		StatusTTL:      parseDuration(v.GetString("IMPORT_STATUS_TTL"), 24*time.Hour),
		MaxUploadBytes: maxUpload,
	}

	cfg.Storage = StorageConfig{
		Dir:             v.GetString("STORAGE_DIR"),
		SignedURLSecret: v.GetString("SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("SIGNED_URL_TTL"), 15*time.Minute),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("METRICS_ENABLED")}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Groups.OrphanPolicy {
	case OrphanPolicyRetain, OrphanPolicyDeactivate:
	default:
		return fmt.Errorf("GROUP_ORPHAN_POLICY must be %q or %q, got %q", OrphanPolicyRetain, OrphanPolicyDeactivate, c.Groups.OrphanPolicy)
	}
	if c.Env == EnvProduction && c.Bridge.InsecureSkipVerify {
		return errors.New("BRIDGE_INSECURE_SKIP_VERIFY cannot be enabled in production")
	}
	if key := len(c.Bridge.PasswordAESKey); key != 0 && key != 16 && key != 24 && key != 32 {
		return fmt.Errorf("PASSWORD_AES_KEY must be 16, 24 or 32 bytes, got %d", key)
	}
	if len(c.APIPrefixes) == 0 {
		return errors.New("API_PREFIXES must list at least one prefix")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIXES", "/api/v1,/api/v2")
	v.SetDefault("APP_VERSION", "dev")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "questplus_school")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("JWT_REFRESH_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "questplus-school-api")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ROLE_CACHE_TTL", "0s")

	v.SetDefault("BRIDGE_WEB_BASE_URL", "https://admin.questplus.in/")
	v.SetDefault("BRIDGE_API_BASE_URL", "https://api.questplus.in/")
	v.SetDefault("BRIDGE_TIMEOUT", "10s")
	v.SetDefault("BRIDGE_CID_VERIFY_KEY", "")
	v.SetDefault("BRIDGE_INSECURE_SKIP_VERIFY", false)
	v.SetDefault("PASSWORD_AES_KEY", "")

	v.SetDefault("ADMIN_SIGNUP_ENABLED", false)
	v.SetDefault("STUDENT_DEFAULT_PASSWORD", "")
	v.SetDefault("USERNAME_MAX_RETRIES", 3)
	v.SetDefault("PASSWORD_RESET_TTL", "24h")
	v.SetDefault("PASSWORD_RESET_URL", "http://localhost:3000/reset-password")
	v.SetDefault("APP_LOGIN_URL", "http://localhost:3000/login")

	v.SetDefault("GROUP_ORPHAN_POLICY", OrphanPolicyRetain)
	v.SetDefault("GROUP_LOCATION_ID", "")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_ADDRESS", "no-reply@questplus.in")
	v.SetDefault("MAIL_FROM_NAME", "QuestPlus")

	v.SetDefault("ROLLBAR_TOKEN", "")
	v.SetDefault("ROLLBAR_ENVIRONMENT", "")

	v.SetDefault("IMPORT_WORKERS", 2)
	v.SetDefault("IMPORT_MAX_RETRIES", 1)
	v.SetDefault("IMPORT_STATUS_TTL", "24h")
	v.SetDefault("IMPORT_MAX_UPLOAD_BYTES", 10*1024*1024)

	v.SetDefault("STORAGE_DIR", "./var/uploads")
	v.SetDefault("SIGNED_URL_SECRET", "dev_signed_url_secret")
	v.SetDefault("SIGNED_URL_TTL", "15m")

	v.SetDefault("METRICS_ENABLED", true)
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func ensureTrailingSlash(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
