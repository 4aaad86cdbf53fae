package transfer

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type SolidConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type AppConfig struct {
	Mode             string
	ApiPort          string
	ConfigurationURL string
	BackendBaseURL   string
	QueryEngineURL   string
	UIAccessKey      string
	JWTConfig        struct {
		Secret     string
		Expiration int // in minutes
	}
	RedisConfig struct {
		Host     string
		Port     string
		Password string
		DB       int
	}
	RealtimeConfig struct {
		NatsURL  string
		TenantID string
	}
	SolidConfig SolidConfig
	SmtpConfig  struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		UseTLS   bool
		NotifyTo []string
	}
}

var config AppConfig

func InitConfig(envfile string) {
	err := godotenv.Load(envfile)
	if err != nil {
		log.Fatal(fmt.Sprintf("Error loading %s file: %s", envfile, err))
	}
	config = AppConfig{
		Mode:             getEnvOrPanic("RUN_MODE"),
		ApiPort:          getEnvOrPanic("API_PORT"),
		ConfigurationURL: getEnvOrPanic("CONFIGURATION_URL"),
		BackendBaseURL:   getEnvOrPanic("BACKEND_BASE_URL"),
		QueryEngineURL:   getEnvOrPanic("QUERY_ENGINE_URL"),
		UIAccessKey:      GetEnv("UI_ACCESS_KEY", ""),
		JWTConfig: struct {
			Secret     string
			Expiration int
		}{
			Secret:     getEnvOrPanic("JWT_SECRET"),
			Expiration: getIntEnvOrDefault("JWT_EXPIRATION_MINUTES", 720),
		},
		RedisConfig: struct {
			Host     string
			Port     string
			Password string
			DB       int
		}{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnvOrDefault("REDIS_DB", 0),
		},
		RealtimeConfig: struct {
			NatsURL  string
			TenantID string
		}{
			NatsURL:  GetEnv("NATS_URL", "nats://localhost:4222"),
			TenantID: GetEnv("TENANT_ID", "default"),
		},
		SolidConfig: SolidConfig{
			IssuerURL:    getEnvOrPanic("SOLID_OIDC_ISSUER"),
			ClientID:     getEnvOrPanic("SOLID_CLIENT_ID"),
			ClientSecret: GetEnv("SOLID_CLIENT_SECRET", ""),
			RedirectURL:  getEnvOrPanic("SOLID_REDIRECT_URL"),
		},
		SmtpConfig: struct {
			Host     string
			Port     int
			Username string
			Password string
			From     string
			UseTLS   bool
			NotifyTo []string
		}{
			Host:     GetEnv("SMTP_HOST", ""),
			Port:     getIntEnvOrDefault("SMTP_PORT", 587),
			Username: GetEnv("SMTP_USERNAME", ""),
			Password: GetEnv("SMTP_PASSWORD", ""),
			From:     GetEnv("SMTP_FROM", ""),
			UseTLS:   GetEnv("SMTP_USE_TLS", "false") == "true",
			NotifyTo: splitCSV(GetEnv("NOTIFY_EMAILS", "")),
		},
	}

	Logger = initLogger()
	Redis = connectToRedis(config.RedisConfig.Host, config.RedisConfig.Port, config.RedisConfig.Password, config.RedisConfig.DB)
}

func GetConfig() AppConfig {
	return config
}

func getEnvOrPanic(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s must be set", key)
	}
	return value
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func initLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}

	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

func connectToRedis(host string, port string, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	return client
}
