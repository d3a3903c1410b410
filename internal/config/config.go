package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `yaml:"http_addr"`
	ServerURL string `yaml:"server_url"`
	JWTSecret string `yaml:"jwt_secret"`
	JWTTTLMin int    `yaml:"jwt_ttl_min"`

	DBDriver    string `yaml:"db_driver"`
	SQLITEDsn   string `yaml:"sqlite_dsn"`
	PostgresDsn string `yaml:"postgres_dsn"`

	FeedInterval    time.Duration `yaml:"-"`
	FeedIntervalRaw string        `yaml:"feed_interval"`

	Notify NotifyConfig `yaml:"notify"`

	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	SendGridFrom   string `yaml:"sendgrid_from"`
	SendGridTo     string `yaml:"sendgrid_to"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type NotifyConfig struct {
	DirectDuration    time.Duration `yaml:"-"`
	GroupDuration     time.Duration `yaml:"-"`
	DirectDurationRaw string        `yaml:"direct_duration"`
	GroupDurationRaw  string        `yaml:"group_duration"`
	PreviewLength     int           `yaml:"preview_length"`
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Addr:            ":8080",
		ServerURL:       "http://localhost:8080",
		JWTTTLMin:       1440,
		DBDriver:        "sqlite",
		SQLITEDsn:       "file:chat.db",
		FeedIntervalRaw: "1s",
		Notify: NotifyConfig{
			DirectDurationRaw: "5s",
			GroupDurationRaw:  "3s",
			PreviewLength:     100,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// MustLoad reads .env when present, then the environment.
func MustLoad() Config {
	_ = godotenv.Load()
	cfg, err := FromEnv(Defaults())
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromEnv overlays environment variables on base.
func FromEnv(base Config) (Config, error) {
	cfg := base
	cfg.Addr = getenv("HTTP_ADDR", cfg.Addr)
	cfg.ServerURL = getenv("SERVER_URL", cfg.ServerURL)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.DBDriver = getenv("DB_DRIVER", cfg.DBDriver)
	cfg.SQLITEDsn = getenv("SQLITE_DSN", cfg.SQLITEDsn)
	cfg.PostgresDsn = getenv("POSTGRES_DSN", cfg.PostgresDsn)
	cfg.FeedIntervalRaw = getenv("FEED_INTERVAL", cfg.FeedIntervalRaw)
	cfg.Notify.DirectDurationRaw = getenv("NOTIFY_DIRECT_DURATION", cfg.Notify.DirectDurationRaw)
	cfg.Notify.GroupDurationRaw = getenv("NOTIFY_GROUP_DURATION", cfg.Notify.GroupDurationRaw)
	cfg.SendGridAPIKey = getenv("SENDGRID_API_KEY", cfg.SendGridAPIKey)
	cfg.SendGridFrom = getenv("SENDGRID_FROM", cfg.SendGridFrom)
	cfg.SendGridTo = getenv("SENDGRID_TO", cfg.SendGridTo)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)

	var err error
	if cfg.JWTTTLMin, err = atoi("JWT_TTL_MIN", cfg.JWTTTLMin); err != nil {
		return cfg, err
	}
	if cfg.Notify.PreviewLength, err = atoi("NOTIFY_PREVIEW_LENGTH", cfg.Notify.PreviewLength); err != nil {
		return cfg, err
	}
	if err := parseDurations(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func atoi(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// LoadFile reads a YAML config. ${VAR} references are expanded from the
// environment and unset keys keep their defaults. Environment variables
// still override the file.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return FromEnv(cfg)
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or nothing.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.FeedInterval, err = parseDuration("feed_interval", cfg.FeedIntervalRaw); err != nil {
		return err
	}
	if cfg.Notify.DirectDuration, err = parseDuration("notify.direct_duration", cfg.Notify.DirectDurationRaw); err != nil {
		return err
	}
	if cfg.Notify.GroupDuration, err = parseDuration("notify.group_duration", cfg.Notify.GroupDurationRaw); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}

var ErrMissingSecret = errors.New("jwt_secret is required")

// Validate checks the fields a server needs and returns the first problem.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	switch c.DBDriver {
	case "sqlite":
		if c.SQLITEDsn == "" {
			return fmt.Errorf("sqlite_dsn is required for the sqlite driver")
		}
	case "postgres":
		if c.PostgresDsn == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db_driver %q", c.DBDriver)
	}
	if c.JWTTTLMin <= 0 {
		return fmt.Errorf("jwt_ttl_min must be positive")
	}
	if c.Notify.PreviewLength < 0 {
		return fmt.Errorf("notify.preview_length must not be negative")
	}
	return nil
}
