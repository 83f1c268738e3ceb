package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file picked up by Load).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Rabbit   RabbitConfig
	Provider ProviderConfig
	Session  SessionConfig
	Usage    UsageConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicURL is used to build join links in outbound events.
	PublicURL string
}

type HTTPConfig struct {
	// CORSOrigins is a comma separated allow-list; empty means same-origin only.
	CORSOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
	// Optional. When Host is empty, the process falls back to in-process locks and a local-only live feed.
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type RabbitConfig struct {
	// URL empty disables the bus (events are only logged and pushed to the live feed).
	URL      string
	Exchange string
	Queue    string
	// ConsumeRequests enables the inbound appointment.video.* consumer.
	ConsumeRequests bool
}

const (
	ProviderChime = "chime"
	ProviderStub  = "stub"
)

type ProviderConfig struct {
	Kind string

	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the SDK endpoint (e.g. a local mock); optional.
	Endpoint    string
	MaxAttempts int
	CallTimeout time.Duration
}

type SessionConfig struct {
	MinDurationMinutes     int
	MaxDurationMinutes     int
	DefaultDurationMinutes int

	NoShowGrace time.Duration
	// NoShowSweep <= 0 disables the background sweeper.
	NoShowSweep time.Duration
}

type UsageConfig struct {
	MonthlyMinutesCap int
}

func Load() (Config, error) {
	// .env is optional; real deployments inject env directly.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_URL")), "/")
	c.HTTP.CORSOrigins = splitList(os.Getenv("HTTP_CORS_ORIGINS"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Rabbit.URL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	c.Rabbit.Exchange = strings.TrimSpace(os.Getenv("RABBITMQ_EXCHANGE"))
	c.Rabbit.Queue = strings.TrimSpace(os.Getenv("RABBITMQ_REQUEST_QUEUE"))
	c.Rabbit.ConsumeRequests = optionalBool("RABBITMQ_CONSUME_REQUESTS")

	c.Provider.Kind = strings.ToLower(strings.TrimSpace(os.Getenv("PROVIDER_KIND")))
	c.Provider.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	c.Provider.AccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	c.Provider.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	c.Provider.Endpoint = strings.TrimSpace(os.Getenv("PROVIDER_ENDPOINT"))
	{
		n, err := optionalInt("PROVIDER_MAX_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Provider.MaxAttempts = n
	}
	c.Provider.CallTimeout = mustDuration("PROVIDER_CALL_TIMEOUT")

	for key, dst := range map[string]*int{
		"SESSION_MIN_DURATION_MINUTES":     &c.Session.MinDurationMinutes,
		"SESSION_MAX_DURATION_MINUTES":     &c.Session.MaxDurationMinutes,
		"SESSION_DEFAULT_DURATION_MINUTES": &c.Session.DefaultDurationMinutes,
		"USAGE_MONTHLY_MINUTES_CAP":        &c.Usage.MonthlyMinutesCap,
	} {
		n, err := optionalInt(key)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		*dst = n
	}
	c.Session.NoShowGrace = mustDuration("SESSION_NOSHOW_GRACE")
	c.Session.NoShowSweep = mustDuration("SESSION_NOSHOW_SWEEP")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills in defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.Host == "" && c.IsProduction() {
		errs = append(errs, errors.New("REDIS_HOST is required in production"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Rabbit.Exchange == "" {
		c.Rabbit.Exchange = "video-consultation-events"
	}
	if c.Rabbit.Queue == "" {
		c.Rabbit.Queue = "video-session-requests"
	}
	if c.Rabbit.URL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("RABBITMQ_URL is required in production"))
		}
		if c.Rabbit.ConsumeRequests {
			errs = append(errs, errors.New("RABBITMQ_CONSUME_REQUESTS requires RABBITMQ_URL"))
		}
	}

	if c.Provider.Kind == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("PROVIDER_KIND is required in production"))
		} else {
			c.Provider.Kind = ProviderStub
		}
	}
	switch c.Provider.Kind {
	case ProviderChime:
		if c.Provider.Region == "" {
			c.Provider.Region = "us-east-1"
		}
		// Static keys are optional; the SDK default chain (role, profile) is used otherwise.
		if (c.Provider.AccessKeyID == "") != (c.Provider.SecretAccessKey == "") {
			errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"))
		}
	case ProviderStub:
		if c.IsProduction() {
			errs = append(errs, errors.New("PROVIDER_KIND=stub is not allowed in production"))
		}
	case "":
	default:
		errs = append(errs, fmt.Errorf("PROVIDER_KIND must be one of chime, stub, got %q", c.Provider.Kind))
	}
	if c.Provider.MaxAttempts <= 0 {
		c.Provider.MaxAttempts = 3
	}
	if c.Provider.CallTimeout <= 0 {
		c.Provider.CallTimeout = 10 * time.Second
	}

	if c.Session.MinDurationMinutes <= 0 {
		c.Session.MinDurationMinutes = 15
	}
	if c.Session.MaxDurationMinutes <= 0 {
		c.Session.MaxDurationMinutes = 120
	}
	if c.Session.DefaultDurationMinutes <= 0 {
		c.Session.DefaultDurationMinutes = 30
	}
	if c.Session.MaxDurationMinutes < c.Session.MinDurationMinutes {
		errs = append(errs, errors.New("SESSION_MAX_DURATION_MINUTES must be >= SESSION_MIN_DURATION_MINUTES"))
	}
	if c.Session.DefaultDurationMinutes < c.Session.MinDurationMinutes || c.Session.DefaultDurationMinutes > c.Session.MaxDurationMinutes {
		errs = append(errs, errors.New("SESSION_DEFAULT_DURATION_MINUTES must be within the min/max bounds"))
	}
	if c.Session.NoShowGrace <= 0 {
		c.Session.NoShowGrace = 15 * time.Minute
	}

	if c.Usage.MonthlyMinutesCap < 0 {
		errs = append(errs, fmt.Errorf("USAGE_MONTHLY_MINUTES_CAP must be >= 0, got %d", c.Usage.MonthlyMinutesCap))
	} else if c.Usage.MonthlyMinutesCap == 0 {
		c.Usage.MonthlyMinutesCap = 1000
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisAddr returns "" when Redis is not configured.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
