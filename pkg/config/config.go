package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Environment     string
	DatabasePath    string
	JWTSecret       string
	CORSOrigins     string
	TypingIdleMS    int
	MessagePageSize int
	MessagePageMax  int
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

// Load reads configuration from the environment. An env file is loaded first
// when present: AMACHAT_ENV_FILE if set, otherwise ./.env. Real environment
// variables win over file values.
func Load() *Config {
	if path, ok := os.LookupEnv("AMACHAT_ENV_FILE"); ok {
		godotenv.Load(path)
	} else {
		godotenv.Load()
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/amachat.db"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		TypingIdleMS:    parseInt(getEnv("TYPING_IDLE_MS", "1500"), 1500),
		MessagePageSize: parseInt(getEnv("MESSAGE_PAGE_SIZE", "50"), 50),
		MessagePageMax:  parseInt(getEnv("MESSAGE_PAGE_MAX", "200"), 200),
		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	val, err := strconv.Atoi(s)
	if err != nil || val <= 0 {
		return defaultValue
	}
	return val
}
