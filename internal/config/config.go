package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"casper-chat/pkg/logger"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Admin     AdminConfig
	AI        AIConfig
	WebSocket WebSocketConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	Telemetry TelemetryConfig
	LogLevel  string
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	// URL empty selects the in-memory store.
	URL string
}

type JWTConfig struct {
	Secret    []byte
	ExpiresIn time.Duration
	Issuer    string
}

type AdminConfig struct {
	Password string
}

type AIBackend struct {
	Name       string
	QueryParam string
}

type AIConfig struct {
	BaseURL       string
	Backends      []AIBackend
	Timeout       time.Duration
	RatePerMinute int
}

type WebSocketConfig struct {
	RateBurst       int
	RateInterval    time.Duration
	MaxMessageBytes int64
}

type RedisConfig struct {
	URL string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

const defaultAIBackends = "chatbot:query,deepseek-r1:text,metaai:text,gpt3:text,gpt4omini:text,gpt4:text"

// Load reads the environment (and a .env file when present).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}

	var errs []string
	r := reader{errs: &errs}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		errs = append(errs, "JWT_SECRET environment variable is required")
	}

	backends, err := ParseAIBackends(getEnvOrDefault("AI_BACKENDS", defaultAIBackends))
	if err != nil {
		errs = append(errs, err.Error())
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            normalizePort(getEnvOrDefault("PORT", ":8080")),
			ReadTimeout:     r.duration("READ_TIMEOUT", "15s"),
			WriteTimeout:    r.duration("WRITE_TIMEOUT", "15s"),
			ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", "15s"),
			AllowedOrigins:  splitList(os.Getenv("ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		JWT: JWTConfig{
			Secret:    []byte(secret),
			ExpiresIn: r.duration("JWT_EXPIRES_IN", "24h"),
			Issuer:    getEnvOrDefault("JWT_ISSUER", "casper-chat"),
		},
		Admin: AdminConfig{
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
		AI: AIConfig{
			BaseURL:       strings.TrimRight(getEnvOrDefault("AI_BASE_URL", "https://apis.davidcyriltech.my.id/ai"), "/"),
			Backends:      backends,
			Timeout:       r.duration("AI_TIMEOUT", "5s"),
			RatePerMinute: r.integer("AI_RATE_LIMIT", 20),
		},
		WebSocket: WebSocketConfig{
			RateBurst:       r.integer("WS_RATE_BURST", 10),
			RateInterval:    r.duration("WS_RATE_INTERVAL", "1s"),
			MaxMessageBytes: int64(r.integer("WS_MAX_MESSAGE_BYTES", 4096)),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: getEnvOrDefault("AMQP_EXCHANGE", "casper.events"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", "casper-chat"),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// MustLoad is Load for main: configuration errors end the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		logger.Fatal("%v", err)
	}
	return cfg
}

// ParseAIBackends parses "name:param,name:param". The query parameter
// defaults to "text" when omitted.
func ParseAIBackends(raw string) ([]AIBackend, error) {
	var backends []AIBackend
	for _, item := range splitList(raw) {
		name, param, _ := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		param = strings.TrimSpace(param)
		if name == "" {
			return nil, fmt.Errorf("invalid AI_BACKENDS entry %q", item)
		}
		if param == "" {
			param = "text"
		}
		backends = append(backends, AIBackend{Name: name, QueryParam: param})
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("AI_BACKENDS must name at least one backend")
	}
	return backends, nil
}

type reader struct {
	errs *[]string
}

func (r reader) duration(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Sprintf("invalid duration for %s: %v", key, err))
	}
	return duration
}

func (r reader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Sprintf("invalid integer for %s: %v", key, err))
	}
	return intValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizePort(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
