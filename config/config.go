package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven setting of the API and its tools.
type Config struct {
	Environment string
	Port        string
	GinMode     string

	Database struct {
		Driver   string // mysql | postgres | memory
		Host     string
		Port     string
		Name     string
		User     string
		Password string
		SSLMode  string
		DebugSQL bool
	}

	JWT struct {
		Secret string
		TTL    time.Duration
	}

	Log struct {
		Level  string
		Format string
		File   string
	}

	SMTP struct {
		Host          string
		Port          int
		User          string
		Pass          string
		From          string
		SkipTLSVerify bool
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
		Channel  string
	}

	Kafka struct {
		Brokers []string
		Topic   string
	}

	MQTT struct {
		Broker      string
		ClientID    string
		Username    string
		Password    string
		TopicPrefix string
	}

	S3 struct {
		Bucket string
		Region string
		Prefix string
	}

	Workflow struct {
		CommitRetries int
		RetryBackoff  time.Duration
		AliasFile     string
		SweepLockName string
	}

	RateLimit struct {
		RPS   float64
		Burst int
	}

	CORSOrigins []string
}

// Load reads the configuration from the environment. Malformed numbers fall
// back to their defaults.
func Load() *Config {
	cfg := &Config{}
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))
	cfg.Port = getEnv("PORT", "8080")
	cfg.GinMode = getEnv("GIN_MODE", "debug")

	cfg.Database.Driver = strings.ToLower(getEnv("DB_DRIVER", "mysql"))
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnv("DB_PORT", defaultDBPort(cfg.Database.Driver))
	cfg.Database.Name = getEnv("DB_DATABASE", "donation_workflow")
	cfg.Database.User = getEnv("DB_USERNAME", "root")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.DebugSQL = getBool("DEBUG_SQL", false)

	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	cfg.JWT.TTL = getDuration("JWT_TTL", 24*time.Hour)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.File = getEnv("LOG_FILE", LogFilePath())

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	cfg.SMTP.Port = getInt("SMTP_PORT", 587)
	cfg.SMTP.User = os.Getenv("SMTP_USER")
	cfg.SMTP.Pass = os.Getenv("SMTP_PASS")
	cfg.SMTP.From = os.Getenv("SMTP_FROM")
	cfg.SMTP.SkipTLSVerify = os.Getenv("SMTP_SKIP_TLS_VERIFY") == "1"

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getInt("REDIS_DB", 0)
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", "donation.status_changed")

	cfg.Kafka.Brokers = getList("KAFKA_BROKERS")
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "donation.status_changed")

	cfg.MQTT.Broker = os.Getenv("MQTT_BROKER")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "donation-workflow-api")
	cfg.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "donation/cases")

	cfg.S3.Bucket = os.Getenv("S3_BUCKET")
	cfg.S3.Region = getEnv("AWS_REGION", "us-east-1")
	cfg.S3.Prefix = getEnv("S3_PREFIX", "reconciliation")

	cfg.Workflow.CommitRetries = getInt("WORKFLOW_COMMIT_RETRIES", 3)
	if cfg.Workflow.CommitRetries < 1 {
		cfg.Workflow.CommitRetries = 1
	}
	cfg.Workflow.RetryBackoff = getDuration("WORKFLOW_RETRY_BACKOFF", 100*time.Millisecond)
	cfg.Workflow.AliasFile = os.Getenv("WORKFLOW_ALIAS_FILE")
	cfg.Workflow.SweepLockName = getEnv("RECONCILE_LOCK_NAME", "donation_reconciliation_sweep")

	cfg.RateLimit.RPS = getFloat("RATE_LIMIT_RPS", 10)
	cfg.RateLimit.Burst = getInt("RATE_LIMIT_BURST", 20)

	cfg.CORSOrigins = getList("CORS_ORIGINS")
	return cfg
}

// IsProduction reports whether ENVIRONMENT=production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultDBPort(driver string) string {
	if driver == "postgres" {
		return "5432"
	}
	return "3306"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// getDuration accepts Go durations ("250ms") or a bare number of milliseconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
