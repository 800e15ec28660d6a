package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SIGNUP"

	devContinuationSecret = "development-only-continuation-secret!"
)

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Mongo        MongoSettings        `mapstructure:"mongo"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	SMTP         SMTPSettings         `mapstructure:"smtp"`
	Captcha      CaptchaSettings      `mapstructure:"captcha"`
	Registration RegistrationSettings `mapstructure:"registration"`
	RateLimit    RateLimitSettings    `mapstructure:"rate_limit"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	Argon2       Argon2Settings       `mapstructure:"argon2"`
}

type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies is handed to gin; empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type PostgresSettings struct {
	// Enabled false keeps accounts in process memory; rejected in production.
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// DSN renders the connection URL used by pgxpool and goose.
func (p PostgresSettings) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

// RedisSettings configures the shared counter store. When Enabled is false the
// service counts admissions in process memory only.
type RedisSettings struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DB            int    `mapstructure:"db"`
	Password      string `mapstructure:"password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	CounterPrefix string `mapstructure:"counter_prefix"`
	PendingPrefix string `mapstructure:"pending_prefix"`
}

// MongoSettings configures the pending registration document store.
type MongoSettings struct {
	Enabled    bool          `mapstructure:"enabled"`
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// KafkaSettings configures the event producer. No brokers means events are only logged.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	ClientID    string   `mapstructure:"client_id"`
}

// Enabled reports whether at least one broker is configured.
func (k KafkaSettings) Enabled() bool {
	for _, b := range k.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

// SMTPSettings configures outbound mail. An empty host selects the logging notifier.
type SMTPSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CaptchaSettings struct {
	Secret    string        `mapstructure:"secret"`
	VerifyURL string        `mapstructure:"verify_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RegistrationSettings struct {
	OTPTTL             time.Duration `mapstructure:"otp_ttl"`
	ResendCooldown     time.Duration `mapstructure:"resend_cooldown"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	PendingRetention   time.Duration `mapstructure:"pending_retention"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	BackgroundTimeout  time.Duration `mapstructure:"background_timeout"`
	OperatorEmail      string        `mapstructure:"operator_email"`
	ContinuationSecret string        `mapstructure:"continuation_secret"`
	PasswordMinLength  int           `mapstructure:"password_min_length"`
	PasswordMinScore   int           `mapstructure:"password_min_score"`
}

// RateLimitRuleSettings is one fixed-window namespace.
type RateLimitRuleSettings struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitSettings struct {
	DegradationPolicy string                `mapstructure:"degradation_policy"`
	Register          RateLimitRuleSettings `mapstructure:"register"`
	ResendOTP         RateLimitRuleSettings `mapstructure:"resend_otp"`
	VerifyOTP         RateLimitRuleSettings `mapstructure:"verify_otp"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.log_level",
	"app.shutdown_timeout",
	"app.trusted_proxies",
	"postgres.enabled",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.auto_migrate",
	"redis.enabled",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.counter_prefix",
	"redis.pending_prefix",
	"mongo.enabled",
	"mongo.uri",
	"mongo.database",
	"mongo.collection",
	"mongo.timeout",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.client_id",
	"smtp.host",
	"smtp.port",
	"smtp.username",
	"smtp.password",
	"smtp.from",
	"captcha.secret",
	"captcha.verify_url",
	"captcha.timeout",
	"registration.otp_ttl",
	"registration.resend_cooldown",
	"registration.max_attempts",
	"registration.pending_retention",
	"registration.call_timeout",
	"registration.background_timeout",
	"registration.operator_email",
	"registration.continuation_secret",
	"registration.password_min_length",
	"registration.password_min_score",
	"rate_limit.degradation_policy",
	"rate_limit.register.limit",
	"rate_limit.register.window",
	"rate_limit.resend_otp.limit",
	"rate_limit.resend_otp.window",
	"rate_limit.verify_otp.limit",
	"rate_limit.verify_otp.window",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	for name, rule := range map[string]RateLimitRuleSettings{
		"register":   c.RateLimit.Register,
		"resend_otp": c.RateLimit.ResendOTP,
		"verify_otp": c.RateLimit.VerifyOTP,
	} {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("rate_limit.%s: limit and window must be positive", name)
		}
	}
	if c.Registration.OTPTTL <= 0 {
		return fmt.Errorf("registration.otp_ttl must be positive")
	}
	if c.Registration.MaxAttempts <= 0 {
		return fmt.Errorf("registration.max_attempts must be positive")
	}
	if c.App.Env == "production" {
		if !c.Postgres.Enabled {
			return fmt.Errorf("postgres must be enabled in production")
		}
		secret := c.Registration.ContinuationSecret
		if len(secret) < 32 || secret == devContinuationSecret {
			return fmt.Errorf("registration.continuation_secret must be set to at least 32 bytes in production")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "storefront-signup")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.shutdown_timeout", "15s")
	v.SetDefault("app.trusted_proxies", []string{})

	v.SetDefault("postgres.enabled", true)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "storefront")
	v.SetDefault("postgres.password", "storefront")
	v.SetDefault("postgres.database", "storefront")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.counter_prefix", "signup:ratelimit")
	v.SetDefault("redis.pending_prefix", "signup:pending")

	v.SetDefault("mongo.enabled", false)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "storefront")
	v.SetDefault("mongo.collection", "pending_registrations")
	v.SetDefault("mongo.timeout", "5s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "storefront")
	v.SetDefault("kafka.client_id", "storefront-signup")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@storefront.local")

	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.verify_url", "")
	v.SetDefault("captcha.timeout", "5s")

	v.SetDefault("registration.otp_ttl", "10m")
	v.SetDefault("registration.resend_cooldown", "60s")
	v.SetDefault("registration.max_attempts", 5)
	v.SetDefault("registration.pending_retention", "24h")
	v.SetDefault("registration.call_timeout", "3s")
	v.SetDefault("registration.background_timeout", "10s")
	v.SetDefault("registration.operator_email", "")
	v.SetDefault("registration.continuation_secret", devContinuationSecret)
	v.SetDefault("registration.password_min_length", 8)
	v.SetDefault("registration.password_min_score", 0)

	v.SetDefault("rate_limit.degradation_policy", "lenient")
	v.SetDefault("rate_limit.register.limit", 5)
	v.SetDefault("rate_limit.register.window", "5m")
	v.SetDefault("rate_limit.resend_otp.limit", 5)
	v.SetDefault("rate_limit.resend_otp.window", "10m")
	v.SetDefault("rate_limit.verify_otp.limit", 10)
	v.SetDefault("rate_limit.verify_otp.window", "10m")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "storefront-signup")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536)
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
