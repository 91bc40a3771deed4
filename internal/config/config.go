package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	LogLevel    string
	LogFormat   string
	CORSOrigins []string

	// Database
	DBDriver   string // sqlite or postgres
	DBPath     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	// Realtime fan-out across instances; empty disables the bridge.
	RedisAddr    string
	RedisChannel string

	// AI responder
	AIProvider           string // scripted or openai
	OpenAIKey            string
	OpenAIModel          string
	OpenAIBaseURL        string
	DefaultResponseDelay time.Duration
	AITimeout            time.Duration

	// WhatsApp Cloud API
	VerifyToken   string
	WhatsAppToken string
	PhoneNumberID string
	GraphBaseURL  string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:     getEnv("DB_PATH", "./inbox.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "inbox"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "inbox-events"),

		AIProvider:           strings.ToLower(getEnv("AI_PROVIDER", "scripted")),
		OpenAIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		DefaultResponseDelay: time.Duration(getEnvInt("AI_RESPONSE_DELAY", 3)) * time.Second,
		AITimeout:            getEnvDuration("AI_TIMEOUT", 30*time.Second),

		VerifyToken:   getEnv("VERIFY_TOKEN", ""),
		WhatsAppToken: getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID: getEnv("PHONE_NUMBER_ID", ""),
		GraphBaseURL:  getEnv("GRAPH_BASE_URL", "https://graph.facebook.com/v19.0"),
	}
}

// WhatsAppEnabled reports whether outbound messages can reach the Cloud API.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsAppToken != "" && c.PhoneNumberID != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return i
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
