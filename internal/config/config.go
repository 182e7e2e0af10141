package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string        `mapstructure:"PORT"`
	Env           string        `mapstructure:"ENV"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`
	RedisURL      string        `mapstructure:"REDIS_URL"`

	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	UploadDir      string `mapstructure:"UPLOAD_DIR"`
	S3Bucket       string `mapstructure:"S3_BUCKET"`
	S3Region       string `mapstructure:"S3_REGION"`
	S3Endpoint     string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey    string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey    string `mapstructure:"S3_SECRET_KEY"`

	LogLevel     string   `mapstructure:"LOG_LEVEL"`
	LogFile      string   `mapstructure:"LOG_FILE"`
	OTLPEndpoint string   `mapstructure:"OTLP_ENDPOINT"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`
}

// devSigningKey signs tokens in development when JWT_SIGNING_KEY is unset.
const devSigningKey = "development-only-signing-key-change-me"

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "TOKEN_TTL", "REDIS_URL",
	"STORAGE_BACKEND", "UPLOAD_DIR", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
	"S3_ACCESS_KEY", "S3_SECRET_KEY",
	"LOG_LEVEL", "LOG_FILE", "OTLP_ENDPOINT", "CORS_ORIGINS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("JWT_ISSUER", "referral-tracker")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("STORAGE_BACKEND", "local")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind explicitly so Unmarshal picks them up.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		if cfg.JWTSigningKey == "" {
			cfg.JWTSigningKey = devSigningKey
		}
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token run as an admin.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// AllowsAnonymousAdmin reports whether requests without a bearer token may run
// as the development admin. Configuring a real signing key turns this off even
// when ENV is left at its development default.
func (c *Config) AllowsAnonymousAdmin() bool {
	return c.IsDev() && c.JWTSigningKey == devSigningKey
}

// Validate checks settings that Load cannot default safely.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
		}
		if c.JWTSigningKey == devSigningKey {
			return fmt.Errorf("JWT_SIGNING_KEY must not use the development key (ENV=%q)", c.Env)
		}
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters")
		}
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}

	switch c.StorageBackend {
	case "local":
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required when STORAGE_BACKEND is \"local\"")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is \"s3\"")
		}
		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"local\" or \"s3\", got %q", c.StorageBackend)
	}
	return nil
}
