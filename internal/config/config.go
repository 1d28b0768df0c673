// Package config loads the service configuration once at startup. The result
// is passed explicitly to whatever needs it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultConfigPath = "config/config.yaml"

	// MaxUploadSizeLimit caps MAX_UPLOAD_SIZE so request limits stay in int64.
	MaxUploadSizeLimit = 1 << 30
)

// WebhookConfig - адрес и формат тела для одного типа формы
type WebhookConfig struct {
	URL      string `yaml:"url"`
	Encoding string `yaml:"encoding"` // json, multipart
}

type Config struct {
	Server struct {
		Host        string   `yaml:"host"`
		Port        int      `yaml:"port"`
		Env         string   `yaml:"env"`
		StaticDir   string   `yaml:"static_dir"`
		Version     string   `yaml:"version"`
		AdminToken  string   `yaml:"admin_token"`
		CORSOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`

	Webhooks struct {
		Assignment        WebhookConfig `yaml:"assignment"`
		ChangeRequest     WebhookConfig `yaml:"change_request"`
		WorkerDeliverable WebhookConfig `yaml:"worker_deliverable"`
		Timeout           time.Duration `yaml:"timeout"`
		MaxRetries        int           `yaml:"max_retries"`
		RetryDelay        time.Duration `yaml:"retry_delay"`
		Backoff           string        `yaml:"backoff"` // fixed, incremental
	} `yaml:"webhooks"`

	Upload struct {
		MaxSize      string `yaml:"max_size"` // e.g. "25MB"; empty keeps per-form defaults
		MaxSizeBytes int64  `yaml:"-"`
	} `yaml:"upload"`

	Gate struct {
		Policy string   `yaml:"policy"` // defer, allowlist
		Codes  []string `yaml:"codes"`
	} `yaml:"gate"`

	Email struct {
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUsername string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
		FromName     string `yaml:"from_name"`
		AlertEmail   string `yaml:"alert_email"`
	} `yaml:"email"`

	Storage struct {
		Type      string `yaml:"type"`      // none, local, s3, cloudflare_r2
		BasePath  string `yaml:"base_path"` // For local storage
		Bucket    string `yaml:"bucket"`     // For S3/R2
		Region    string `yaml:"region"`     // For S3
		AccessKey string `yaml:"access_key"` // For S3/R2
		SecretKey string `yaml:"secret_key"` // For S3/R2
		Endpoint  string `yaml:"endpoint"`   // For R2 or custom S3
		AccountID string `yaml:"account_id"` // For R2
	} `yaml:"storage"`

	Redelivery struct {
		Enabled         bool   `yaml:"enabled"`
		Schedule        string `yaml:"schedule"`
		BatchSize       int    `yaml:"batch_size"`
		MaxRedeliveries int    `yaml:"max_redeliveries"`
	} `yaml:"redelivery"`
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == EnvProduction
}

// Addr - адрес для http.Server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Defaults returns the built-in configuration for env.
func Defaults(env string) *Config {
	if env != EnvProduction {
		env = EnvDevelopment
	}

	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.Env = env
	cfg.Server.StaticDir = "./dist"
	cfg.Server.Version = "dev"

	cfg.Webhooks.Assignment.Encoding = "json"
	cfg.Webhooks.ChangeRequest.Encoding = "json"
	cfg.Webhooks.WorkerDeliverable.Encoding = "multipart"

	if env == EnvProduction {
		cfg.Webhooks.Timeout = 30 * time.Second
		cfg.Webhooks.MaxRetries = 3
		cfg.Webhooks.RetryDelay = time.Second
		cfg.Webhooks.Backoff = "incremental"
	} else {
		cfg.Webhooks.Timeout = 10 * time.Second
		cfg.Webhooks.MaxRetries = 2
		cfg.Webhooks.RetryDelay = 500 * time.Millisecond
		cfg.Webhooks.Backoff = "fixed"
	}

	cfg.Gate.Policy = "defer"

	cfg.Email.SMTPPort = 587
	cfg.Email.FromName = "ProHappy Assignments"

	cfg.Storage.Type = "none"
	cfg.Storage.BasePath = "./uploads"

	cfg.Redelivery.Enabled = true
	cfg.Redelivery.Schedule = "@every 10m"
	cfg.Redelivery.BatchSize = 20
	cfg.Redelivery.MaxRedeliveries = 5

	return &cfg
}

// Load reads configuration from CONFIG_PATH (default config/config.yaml) and
// .env in the working directory.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	return LoadFrom(path, ".env", explicit)
}

// LoadFrom builds the configuration. Precedence from lowest to highest:
// environment defaults, YAML file, .env file, process environment. A missing
// YAML file is an error only when required is set.
func LoadFrom(path, envFile string, required bool) (*Config, error) {
	// godotenv never overrides variables already set in the process.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if required || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
		}
		raw = nil
	}

	env := os.Getenv("SERVER_ENV")
	if env == "" && len(raw) > 0 {
		var peek struct {
			Server struct {
				Env string `yaml:"env"`
			} `yaml:"server"`
		}
		if err := yaml.Unmarshal(raw, &peek); err != nil {
			return nil, fmt.Errorf("failed to parse config file at %s: %w", path, err)
		}
		env = peek.Server.Env
	}

	cfg := Defaults(env)
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file at %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_ENV", &cfg.Server.Env)
	str("SERVER_HOST", &cfg.Server.Host)
	num("SERVER_PORT", &cfg.Server.Port)
	str("STATIC_DIR", &cfg.Server.StaticDir)
	str("APP_VERSION", &cfg.Server.Version)
	str("ADMIN_TOKEN", &cfg.Server.AdminToken)
	list("CORS_ALLOWED_ORIGINS", &cfg.Server.CORSOrigins)

	str("DATABASE_URL", &cfg.Database.DSN)

	str("WEBHOOK_ASSIGNMENT_URL", &cfg.Webhooks.Assignment.URL)
	str("WEBHOOK_CHANGE_REQUEST_URL", &cfg.Webhooks.ChangeRequest.URL)
	str("WEBHOOK_WORKER_DELIVERABLE_URL", &cfg.Webhooks.WorkerDeliverable.URL)
	dur("WEBHOOK_TIMEOUT", &cfg.Webhooks.Timeout)
	num("WEBHOOK_MAX_RETRIES", &cfg.Webhooks.MaxRetries)
	dur("WEBHOOK_RETRY_DELAY", &cfg.Webhooks.RetryDelay)
	str("WEBHOOK_BACKOFF", &cfg.Webhooks.Backoff)

	str("MAX_UPLOAD_SIZE", &cfg.Upload.MaxSize)

	str("GATE_POLICY", &cfg.Gate.Policy)
	list("GATE_CODES", &cfg.Gate.Codes)

	str("SMTP_HOST", &cfg.Email.SMTPHost)
	num("SMTP_PORT", &cfg.Email.SMTPPort)
	str("SMTP_USER", &cfg.Email.SMTPUsername)
	str("SMTP_PASSWORD", &cfg.Email.SMTPPassword)
	str("SMTP_FROM", &cfg.Email.FromEmail)
	str("ALERT_EMAIL", &cfg.Email.AlertEmail)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_BASE_PATH", &cfg.Storage.BasePath)
	str("STORAGE_BUCKET", &cfg.Storage.Bucket)
	str("STORAGE_REGION", &cfg.Storage.Region)
	str("STORAGE_ACCESS_KEY", &cfg.Storage.AccessKey)
	str("STORAGE_SECRET_KEY", &cfg.Storage.SecretKey)
	str("STORAGE_ENDPOINT", &cfg.Storage.Endpoint)
	str("STORAGE_ACCOUNT_ID", &cfg.Storage.AccountID)

	flag("REDELIVERY_ENABLED", &cfg.Redelivery.Enabled)
	str("REDELIVERY_SCHEDULE", &cfg.Redelivery.Schedule)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) finalize() error {
	switch c.Server.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("server.env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Server.Env)
	}

	if c.Upload.MaxSize != "" {
		n, err := humanize.ParseBytes(c.Upload.MaxSize)
		if err != nil {
			return fmt.Errorf("invalid upload max size %q: %w", c.Upload.MaxSize, err)
		}
		if n == 0 {
			return fmt.Errorf("upload max size must be positive")
		}
		if n > MaxUploadSizeLimit {
			return fmt.Errorf("upload max size %q exceeds the %s limit", c.Upload.MaxSize, humanize.IBytes(MaxUploadSizeLimit))
		}
		c.Upload.MaxSizeBytes = int64(n)
	}

	if c.Webhooks.MaxRetries < 0 {
		return fmt.Errorf("webhooks.max_retries must not be negative")
	}
	if c.Webhooks.Timeout <= 0 {
		return fmt.Errorf("webhooks.timeout must be positive")
	}
	switch c.Webhooks.Backoff {
	case "fixed", "incremental":
	default:
		return fmt.Errorf("webhooks.backoff must be fixed or incremental, got %q", c.Webhooks.Backoff)
	}
	return nil
}

// parseDuration accepts Go durations ("15s") and bare milliseconds ("15000").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
