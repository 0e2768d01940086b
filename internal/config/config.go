package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	LogLevel              string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	InsightTTLSeconds     int
	InsightTimeoutSeconds int
	OpenAIAPIKey          string
	OpenAIModel           string
	MinioEndpoint         string
	MinioAccessKey        string
	MinioSecretKey        string
	MinioBucket           string
	MinioUseSSL           bool
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("INSIGHT_TTL_SECONDS", 600)
	v.SetDefault("INSIGHT_TIMEOUT_SECONDS", 30)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ATTACHMENT_BUCKET", "tradehub-attachments")

	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	insightTTL := v.GetInt("INSIGHT_TTL_SECONDS")
	if insightTTL < 1 {
		insightTTL = 600
	}
	insightTimeout := v.GetInt("INSIGHT_TIMEOUT_SECONDS")
	if insightTimeout < 1 {
		insightTimeout = 30
	}

	// AUTH_SECRET deliberately has no default; main refuses weak values.
	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		InsightTTLSeconds:     insightTTL,
		InsightTimeoutSeconds: insightTimeout,
		OpenAIAPIKey:          strings.TrimSpace(v.GetString("OPENAI_API_KEY")),
		OpenAIModel:           v.GetString("OPENAI_MODEL"),
		MinioEndpoint:         v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey:        v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:        v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:           v.GetString("ATTACHMENT_BUCKET"),
		MinioUseSSL:           v.GetBool("MINIO_USE_SSL"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
