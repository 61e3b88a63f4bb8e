package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	AllowOrigins string

	DatabaseURL string
	RedisAddr   string
	RabbitMQURL string

	SlotLeaseTTL  time.Duration
	HeartbeatTTL  time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	AgentDownloadURL string
	ControlPlaneURL  string
	SSHUser          string
	SSHKeyPath       string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Port:         getEnv("PORT", "8080"),
		AllowOrigins: getEnv("ALLOW_ORIGINS", "http://localhost:3000"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),

		SlotLeaseTTL:  getEnvSeconds("SLOT_LEASE_TTL_SECONDS", 60),
		HeartbeatTTL:  getEnvSeconds("HEARTBEAT_TTL_SECONDS", 45),
		IdleTimeout:   getEnvSeconds("IDLE_TIMEOUT_SECONDS", 900),
		SweepInterval: getEnvSeconds("SWEEP_INTERVAL_SECONDS", 60),

		AgentDownloadURL: getEnv("AGENT_DOWNLOAD_URL", "https://get.atlas.dev/atlas-node"),
		ControlPlaneURL:  getEnv("CONTROL_PLANE_URL", "http://localhost:8080"),
		SSHUser:          getEnv("SSH_USER", "root"),
		SSHKeyPath:       getEnv("SSH_KEY_PATH", "/etc/atlas/id_ed25519"),
	}
}

// Helper function to get env var with a default value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
		log.Printf("Invalid value for %s, using default %ds", key, fallback)
	}
	return time.Duration(fallback) * time.Second
}
