package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port           string
	MaxUploadBytes int64
	LogLevel       string

	// Product store
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Image store
	ImageDir           string
	ImageSweepSchedule string
	ImageSweepGrace    time.Duration

	// Optional collaborators, disabled when the address is empty
	RedisAddr      string
	RedisPassword  string
	CacheTTL       time.Duration
	KafkaBroker    string
	KafkaTopic     string
	JaegerEndpoint string
}

var defaults = map[string]any{
	"PORT":                 "5000",
	"MAX_UPLOAD_BYTES":     8 << 20,
	"LOG_LEVEL":            "info",
	"DATABASE_URL":         "",
	"DB_HOST":              "localhost",
	"DB_PORT":              "5432",
	"DB_USER":              "postgres",
	"DB_PASSWORD":          "postgres",
	"DB_NAME":              "productdb",
	"DB_SSLMODE":           "disable",
	"IMAGE_DIR":            "images",
	"IMAGE_SWEEP_SCHEDULE": "@every 1h",
	"IMAGE_SWEEP_GRACE":    "15m",
	"REDIS_ADDR":           "",
	"REDIS_PASSWORD":       "",
	"CACHE_TTL":            "30s",
	"KAFKA_BROKER":         "",
	"KAFKA_TOPIC":          "product_events",
	"JAEGER_ENDPOINT":      "",
}

// Load reads env files and then the process environment. With no envFiles it
// reads .env when present; files named explicitly must exist.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		Port:               v.GetString("PORT"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		DBHost:             v.GetString("DB_HOST"),
		DBPort:             v.GetString("DB_PORT"),
		DBUser:             v.GetString("DB_USER"),
		DBPassword:         v.GetString("DB_PASSWORD"),
		DBName:             v.GetString("DB_NAME"),
		DBSSLMode:          v.GetString("DB_SSLMODE"),
		ImageDir:           v.GetString("IMAGE_DIR"),
		ImageSweepSchedule: v.GetString("IMAGE_SWEEP_SCHEDULE"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		KafkaBroker:        v.GetString("KAFKA_BROKER"),
		KafkaTopic:         v.GetString("KAFKA_TOPIC"),
		JaegerEndpoint:     v.GetString("JAEGER_ENDPOINT"),
	}

	var err error
	if cfg.MaxUploadBytes, err = parseInt(v, "MAX_UPLOAD_BYTES"); err != nil {
		return nil, err
	}
	if cfg.ImageSweepGrace, err = parseDuration(v, "IMAGE_SWEEP_GRACE"); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = parseDuration(v, "CACHE_TTL"); err != nil {
		return nil, err
	}
	if cfg.ImageDir == "" {
		return nil, errors.New("IMAGE_DIR must not be empty")
	}

	return cfg, nil
}

// DSN returns DATABASE_URL when set, otherwise a keyword DSN built from the DB_* keys.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func parseInt(v *viper.Viper, key string) (int64, error) {
	n, err := strconv.ParseInt(v.GetString(key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
