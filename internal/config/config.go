// Package config loads settings from defaults, an optional .env file and
// MOSHAVER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "MOSHAVER"

type Config struct {
	DBPath         string
	LogLevel       string
	LogPretty      bool
	CloudURL       string
	CloudKey       string
	SyncResetDelay time.Duration

	Server Server
}

// Server configures cmd/cloudd.
type Server struct {
	Addr           string
	APIKey         string
	DatabaseURL    string
	JWTSecret      string
	AccessTTL      time.Duration
	RedisURL       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool
	RequireConfirm bool
}

func defaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("dbPath", "moshaver.db")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logPretty", false)
	v.SetDefault("cloudUrl", "")
	v.SetDefault("cloudKey", "")
	v.SetDefault("syncResetDelay", 5*time.Second)

	v.SetDefault("addr", ":8080")
	v.SetDefault("apiKey", "")
	v.SetDefault("databaseUrl", "")
	v.SetDefault("jwtSecret", "")
	v.SetDefault("accessTtl", time.Hour)
	v.SetDefault("redisUrl", "")
	v.SetDefault("s3Endpoint", "")
	v.SetDefault("s3AccessKey", "")
	v.SetDefault("s3SecretKey", "")
	v.SetDefault("s3Bucket", "student-photos")
	v.SetDefault("s3UseSSL", true)
	v.SetDefault("requireConfirm", true)
}

// Load reads dotEnvPath when it exists, then the environment. An empty
// dotEnvPath means ".env".
func Load(dotEnvPath string) (*Config, error) {
	if dotEnvPath == "" {
		dotEnvPath = ".env"
	}
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", dotEnvPath, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", dotEnvPath, err)
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	return &Config{
		DBPath:         v.GetString("dbPath"),
		LogLevel:       v.GetString("logLevel"),
		LogPretty:      v.GetBool("logPretty"),
		CloudURL:       v.GetString("cloudUrl"),
		CloudKey:       v.GetString("cloudKey"),
		SyncResetDelay: v.GetDuration("syncResetDelay"),
		Server: Server{
			Addr:           v.GetString("addr"),
			APIKey:         v.GetString("apiKey"),
			DatabaseURL:    v.GetString("databaseUrl"),
			JWTSecret:      v.GetString("jwtSecret"),
			AccessTTL:      v.GetDuration("accessTtl"),
			RedisURL:       v.GetString("redisUrl"),
			S3Endpoint:     v.GetString("s3Endpoint"),
			S3AccessKey:    v.GetString("s3AccessKey"),
			S3SecretKey:    v.GetString("s3SecretKey"),
			S3Bucket:       v.GetString("s3Bucket"),
			S3UseSSL:       v.GetBool("s3UseSSL"),
			RequireConfirm: v.GetBool("requireConfirm"),
		},
	}, nil
}

// Validate checks the settings cmd/cloudd cannot run without.
func (s Server) Validate() error {
	if len(s.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 characters")
	}
	if s.AccessTTL <= 0 {
		return errors.New("config: accessTtl must be positive")
	}
	return nil
}
