package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// RemoteConfig holds the connection settings for the POS back office service.
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

// QueueConfig bounds the request queue.
type QueueConfig struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
	MaxQueueAge    time.Duration
	DrainDelay     time.Duration
}

// PollConfig holds the base poll cadence and the per-view cadences layered on
// top of it.
type PollConfig struct {
	Interval     time.Duration
	MinGap       time.Duration
	KitchenEvery time.Duration
	TablesEvery  time.Duration
	DashEvery    time.Duration
	MenuEvery    time.Duration
}

// Config is the full terminal configuration, read once at startup.
type Config struct {
	ListenAddr     string
	DBPath         string
	LogLevel       string
	LogFormat      string
	Remote         RemoteConfig
	Queue          QueueConfig
	Poll           PollConfig
	SessionTimeout time.Duration
}

// Load reads configuration from the environment, after loading a .env file if
// one is present. Missing values fall back to defaults suitable for a single
// till on a venue LAN.
func Load() Config {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	return Config{
		ListenAddr: envStr("TILL_LISTEN_ADDR", ":8090"),
		DBPath:     envStr("TILL_DB_PATH", "till.db"),
		LogLevel:   envStr("TILL_LOG_LEVEL", "info"),
		LogFormat:  envStr("TILL_LOG_FORMAT", "text"),
		Remote: RemoteConfig{
			BaseURL: envStr("TILL_POS_URL", "http://localhost:8080"),
			Timeout: envDuration("TILL_POS_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			MaxConcurrent:  envInt("TILL_QUEUE_CONCURRENCY", 3),
			RequestTimeout: envDuration("TILL_QUEUE_TIMEOUT", 10*time.Second),
			MaxQueueAge:    envDuration("TILL_QUEUE_MAX_AGE", 30*time.Second),
			DrainDelay:     envDuration("TILL_QUEUE_DRAIN_DELAY", 50*time.Millisecond),
		},
		Poll: PollConfig{
			Interval:     envDuration("TILL_POLL_INTERVAL", 3*time.Second),
			MinGap:       envDuration("TILL_POLL_MIN_GAP", 2*time.Second),
			KitchenEvery: envDuration("TILL_POLL_KITCHEN", 2*time.Second),
			TablesEvery:  envDuration("TILL_POLL_TABLES", 5*time.Second),
			DashEvery:    envDuration("TILL_POLL_DASHBOARD", 20*time.Second),
			MenuEvery:    envDuration("TILL_POLL_MENU", 45*time.Second),
		},
		SessionTimeout: envDuration("TILL_SESSION_TIMEOUT", 10*time.Minute),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
