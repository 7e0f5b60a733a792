package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ScyllaHosts  []string
	Keyspace     string
	RedisAddr    string
	KafkaBrokers []string
	EventsTopic  string
	RosterTopic  string
	APIAddr      string
	GatewayAddr  string
	JWTSecret    string
	Env          string

	// TypingWindow is how long a typing entry lives without a refresh.
	TypingWindow time.Duration

	// SnowflakeNode must be unique per API instance.
	SnowflakeNode int64
}

// Load reads configuration from the environment, with a .env file as an
// optional local override.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ScyllaHosts:   splitList(getenv("SCYLLA_HOSTS", "localhost:9042")),
		Keyspace:      getenv("SCYLLA_KEYSPACE", "coursetalk"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:  splitList(getenv("KAFKA_BROKERS", "localhost:19092")),
		EventsTopic:   getenv("KAFKA_EVENTS_TOPIC", "chat-events"),
		RosterTopic:   getenv("KAFKA_ROSTER_TOPIC", "roster-events"),
		APIAddr:       getenv("API_ADDR", ":8081"),
		GatewayAddr:   getenv("GATEWAY_ADDR", ":8080"),
		JWTSecret:     getenv("JWT_SECRET", "dev_secret_change_me"),
		Env:           getenv("APP_ENV", "development"),
		TypingWindow:  getdur("TYPING_WINDOW", time.Second),
		SnowflakeNode: getint("SNOWFLAKE_NODE", 1),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	return strings.Split(v, ",")
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getint(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
