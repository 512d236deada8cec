package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds the settings for the oxgame binaries, read from the
// environment with a .env file honored when present.
type Config struct {
	Port      string // store server listen port
	DBPath    string // sqlite snapshot path
	StoreURL  string // store server websocket URL, for clients
	RedisAddr string // when set, clients use redis instead of the server
	LogLevel  string
	LogJSON   bool
}

// Load reads configuration from the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:      getenv("PORT", "8080"),
		DBPath:    getenv("DB_PATH", "oxgame.db"),
		StoreURL:  getenv("STORE_URL", "ws://localhost:8080/ws"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogJSON:   os.Getenv("LOG_FORMAT") == "json",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
