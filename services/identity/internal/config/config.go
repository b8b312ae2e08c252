package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/sonowtf/sono/libs/config"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type DBConfig struct {
	Host          string
	Port          int
	Name          string
	User          string
	Password      string
	SSLMode       string
	MaxConns      int
	MigrateOnBoot bool
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RuleConfig is the (limit, window) pair of one endpoint class.
type RuleConfig struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	Register        RuleConfig
	Login           RuleConfig
	Refresh         RuleConfig
	ForgotPassword  RuleConfig
	ResetPassword   RuleConfig
	AccountDeletion RuleConfig
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type RSAConfig struct {
	PrivateKeyPath string
}

type ResetConfig struct {
	TokenTTL     time.Duration
	FrontendURL  string
	MinimumDelay time.Duration
}

type DeletionConfig struct {
	SoftGrace      time.Duration
	HardGrace      time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	TokenRetention time.Duration
}

type MaintenanceConfig struct {
	Enabled    bool
	Message    string
	RetryAfter time.Duration
}

type KafkaConfig struct {
	Brokers            []string
	ClientID           string
	NotificationsTopic string
	LifecycleTopic     string
	DLQTopic           string
}

type ObjectStoreConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type Config struct {
	App         base.AppConfig
	Argon2      Argon2Params
	DB          DBConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Tokens      TokenConfig
	RSA         RSAConfig
	Reset       ResetConfig
	Deletion    DeletionConfig
	Maintenance MaintenanceConfig
	Kafka       KafkaConfig
	ObjectStore ObjectStoreConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("SONO_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		Argon2: Argon2Params{
			Memory:      uint32(envInt("SONO_ARGON2_MEMORY", 64*1024)),
			Iterations:  uint32(envInt("SONO_ARGON2_ITERATIONS", 3)),
			Parallelism: uint8(envInt("SONO_ARGON2_PARALLELISM", 2)),
			SaltLength:  uint32(envInt("SONO_ARGON2_SALT_LENGTH", 16)),
			KeyLength:   uint32(envInt("SONO_ARGON2_KEY_LENGTH", 32)),
		},
		DB: DBConfig{
			Host:          envString("POSTGRES_HOST", "localhost"),
			Port:          envInt("POSTGRES_PORT", 5432),
			Name:          envString("POSTGRES_DB", "sono"),
			User:          envString("POSTGRES_USER", "sono"),
			Password:      envString("POSTGRES_PASSWORD", "sono"),
			SSLMode:       envString("POSTGRES_SSLMODE", "disable"),
			MaxConns:      envInt("POSTGRES_MAX_CONNS", 10),
			MigrateOnBoot: envBool("SONO_MIGRATE_ON_BOOT", true),
		},
		Redis: RedisConfig{
			Addr:     envString("SONO_REDIS_ADDR", ""),
			Password: envString("SONO_REDIS_PASSWORD", ""),
			DB:       envInt("SONO_REDIS_DB", 0),
			Prefix:   envString("SONO_REDIS_PREFIX", "sono:identity:"),
		},
		RateLimit: RateLimitConfig{
			Register:        envRule("SONO_RL_REGISTER", 5, time.Minute),
			Login:           envRule("SONO_RL_LOGIN", 10, time.Minute),
			Refresh:         envRule("SONO_RL_REFRESH", 30, time.Minute),
			ForgotPassword:  envRule("SONO_RL_FORGOT_PASSWORD", 3, time.Hour),
			ResetPassword:   envRule("SONO_RL_RESET_PASSWORD", 5, time.Hour),
			AccountDeletion: envRule("SONO_RL_ACCOUNT_DELETION", 3, time.Hour),
		},
		Tokens: TokenConfig{
			AccessSecret:  envString("SONO_JWT_SECRET", ""),
			RefreshSecret: envString("SONO_JWT_REFRESH_SECRET", ""),
			Issuer:        envString("SONO_JWT_ISSUER", "sono-identity"),
			AccessTTL:     envDuration("SONO_ACCESS_TOKEN_TTL", 30*time.Minute),
			RefreshTTL:    envDuration("SONO_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		RSA: RSAConfig{
			PrivateKeyPath: envString("SONO_RSA_PRIVATE_KEY_PATH", "keys/private_key.pem"),
		},
		Reset: ResetConfig{
			TokenTTL:     envDuration("SONO_RESET_TOKEN_TTL", time.Hour),
			FrontendURL:  strings.TrimRight(envString("SONO_FRONTEND_URL", "http://localhost:3000"), "/"),
			MinimumDelay: envDuration("SONO_RESET_MIN_DELAY", 300*time.Millisecond),
		},
		Deletion: DeletionConfig{
			SoftGrace:      envDuration("SONO_DELETION_SOFT_GRACE", 30*24*time.Hour),
			HardGrace:      envDuration("SONO_DELETION_HARD_GRACE", 0),
			SweepInterval:  envDuration("SONO_DELETION_SWEEP_INTERVAL", time.Hour),
			SweepBatch:     envInt("SONO_DELETION_SWEEP_BATCH", 100),
			TokenRetention: envDuration("SONO_TOKEN_RETENTION", 24*time.Hour),
		},
		Maintenance: MaintenanceConfig{
			Enabled:    envBool("SONO_MAINTENANCE_ENABLED", false),
			Message:    envString("SONO_MAINTENANCE_MESSAGE", "Service temporarily unavailable for maintenance"),
			RetryAfter: envDuration("SONO_MAINTENANCE_RETRY_AFTER", time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:            envList("SONO_KAFKA_BROKERS"),
			ClientID:           envString("SONO_KAFKA_CLIENT_ID", "sono-identity"),
			NotificationsTopic: envString("SONO_KAFKA_NOTIFICATIONS_TOPIC", "identity.notifications"),
			LifecycleTopic:     envString("SONO_KAFKA_LIFECYCLE_TOPIC", "identity.account-lifecycle"),
			DLQTopic:           envString("SONO_KAFKA_DLQ_TOPIC", "identity.dlq"),
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:    envString("SONO_S3_BUCKET", ""),
			Region:    envString("SONO_S3_REGION", "us-east-1"),
			Endpoint:  envString("SONO_S3_ENDPOINT", ""),
			AccessKey: envString("SONO_S3_ACCESS_KEY", ""),
			SecretKey: envString("SONO_S3_SECRET_KEY", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Tokens.AccessSecret == "" {
		return fmt.Errorf("SONO_JWT_SECRET must be set")
	}
	if c.Tokens.RefreshSecret == "" {
		return fmt.Errorf("SONO_JWT_REFRESH_SECRET must be set")
	}
	if c.Tokens.RefreshSecret == c.Tokens.AccessSecret {
		return fmt.Errorf("SONO_JWT_REFRESH_SECRET must differ from SONO_JWT_SECRET")
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		return fmt.Errorf("refresh token ttl must exceed access token ttl")
	}
	if c.Deletion.SoftGrace < 0 || c.Deletion.HardGrace < 0 {
		return fmt.Errorf("deletion grace periods must not be negative")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envRule reads <prefix>_LIMIT and <prefix>_WINDOW.
func envRule(prefix string, limit int, window time.Duration) RuleConfig {
	return RuleConfig{
		Limit:  envInt(prefix+"_LIMIT", limit),
		Window: envDuration(prefix+"_WINDOW", window),
	}
}
