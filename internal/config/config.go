// Package config builds the process-wide configuration once at startup.
// The resulting *Config is passed by pointer to the components that need it
// and is never mutated afterwards.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Auth     AuthConfig
	QR       QRConfig
	Decode   DecodeConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	S3       S3Config
}

// AppConfig contains HTTP server settings.
type AppConfig struct {
	Port           string
	CORSOrigins    string
	UploadMaxBytes int
	LogLevel       string
}

// DatabaseConfig selects the storage backend: "postgres", "sqlite" or "memory".
type DatabaseConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// AuthConfig contains token signing and password hashing settings.
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// QRConfig fixes the symbol parameters used by the encoder.
type QRConfig struct {
	MaxVersion int // highest symbol version the encoder may pick (1..40)
	ModuleSize int // pixels per module
	QuietZone  int // border width in modules
}

// DecodeConfig bounds the decode worker pool.
type DecodeConfig struct {
	Workers        int
	Timeout        time.Duration
	MaxImagePixels int
}

// RabbitMQConfig is optional; an empty URL disables event publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Queue    string
	Consume  bool
}

// RedisConfig is optional; an empty Addr disables the PNG cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// S3Config is optional; an empty Bucket disables the image archive.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_DSN", "host=localhost user=postgres password=postgres dbname=postgres port=5432 sslmode=disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("BCRYPT_COST", bcrypt.DefaultCost)

	v.SetDefault("QR_MAX_VERSION", 40)
	v.SetDefault("QR_MODULE_SIZE", 10)
	v.SetDefault("QR_QUIET_ZONE", 4)

	v.SetDefault("DECODE_WORKERS", runtime.NumCPU())
	v.SetDefault("DECODE_TIMEOUT", "10s")
	v.SetDefault("MAX_IMAGE_PIXELS", 40_000_000)

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_EXCHANGE", "qr.events")
	v.SetDefault("RABBITMQ_QUEUE", "qr_audit")
	v.SetDefault("RABBITMQ_CONSUME", false)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "1h")

	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_PREFIX", "generated")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
}

// Load reads configuration from environment variables and, when CONFIG_FILE
// is set, from that file.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom is Load on a caller-provided viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Port:           v.GetString("APP_PORT"),
			CORSOrigins:    v.GetString("CORS_ORIGINS"),
			UploadMaxBytes: v.GetInt("UPLOAD_MAX_BYTES"),
			LogLevel:       v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:          v.GetString("DB_DSN"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		},
		Auth: AuthConfig{
			JWTSecret:  v.GetString("JWT_SECRET"),
			TokenTTL:   v.GetDuration("TOKEN_TTL"),
			BcryptCost: v.GetInt("BCRYPT_COST"),
		},
		QR: QRConfig{
			MaxVersion: v.GetInt("QR_MAX_VERSION"),
			ModuleSize: v.GetInt("QR_MODULE_SIZE"),
			QuietZone:  v.GetInt("QR_QUIET_ZONE"),
		},
		Decode: DecodeConfig{
			Workers:        v.GetInt("DECODE_WORKERS"),
			Timeout:        v.GetDuration("DECODE_TIMEOUT"),
			MaxImagePixels: v.GetInt("MAX_IMAGE_PIXELS"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("RABBITMQ_URL"),
			Exchange: v.GetString("RABBITMQ_EXCHANGE"),
			Queue:    v.GetString("RABBITMQ_QUEUE"),
			Consume:  v.GetBool("RABBITMQ_CONSUME"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      v.GetDuration("CACHE_TTL"),
		},
		S3: S3Config{
			Bucket:          v.GetString("S3_BUCKET"),
			Region:          v.GetString("S3_REGION"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			Prefix:          v.GetString("S3_PREFIX"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be in [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.QR.MaxVersion < 1 || c.QR.MaxVersion > 40 {
		return fmt.Errorf("QR_MAX_VERSION must be in [1, 40], got %d", c.QR.MaxVersion)
	}
	if c.QR.ModuleSize < 1 {
		return fmt.Errorf("QR_MODULE_SIZE must be positive, got %d", c.QR.ModuleSize)
	}
	if c.QR.QuietZone < 0 {
		return fmt.Errorf("QR_QUIET_ZONE must not be negative, got %d", c.QR.QuietZone)
	}
	if c.Decode.Workers < 1 {
		return fmt.Errorf("DECODE_WORKERS must be positive, got %d", c.Decode.Workers)
	}
	if c.App.UploadMaxBytes < 1 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.App.UploadMaxBytes)
	}
	return nil
}

// String returns a representation of the config with secrets masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Port: %s, DB: %s, Auth: *** (masked) ***, QR: v<=%d m=%dpx q=%d, Decode: %d workers/%s, RabbitMQ: %t, Redis: %t, S3: %t}",
		c.App.Port, c.Database.Driver, c.QR.MaxVersion, c.QR.ModuleSize, c.QR.QuietZone,
		c.Decode.Workers, c.Decode.Timeout, c.RabbitMQ.URL != "", c.Redis.Addr != "", c.S3.Bucket != "")
}
