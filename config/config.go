package config

import (
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Config captures the runtime parameters of the realtime service.
type Config struct {
	HTTPAddr  string
	DBDSN     string
	JWTSecret string
	LogLevel  string
}

const (
	defaultHTTPAddr = ":8082"
	defaultDSN      = "amigo:amigo@tcp(127.0.0.1:3306)/amigo?charset=utf8mb4&parseTime=True&loc=Local"
	defaultLogLevel = "info"
)

// Load reads .env (if present) and the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  getenv("HTTP_ADDR", defaultHTTPAddr),
		DBDSN:     getenv("DB_DSN", defaultDSN),
		JWTSecret: getenv("JWT_SECRET", "dev-secret"),
		LogLevel:  getenv("LOG_LEVEL", defaultLogLevel),
	}
}

// InitDB opens the MySQL connection behind the conversation store.
func InitDB(cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DBDSN), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
