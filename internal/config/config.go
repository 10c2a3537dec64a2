package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string // "production" enables JSON logging
	MongoURI    string
	RedisURL    string

	// Token estimation configuration
	CharsPerToken float64
	ModelFamily   string

	// Strategy configuration
	StrategyOverridesPath string // optional YAML file with per-task budget overrides
	WatchOverrides        bool   // reload the overrides file on change

	// Registry configuration
	ChampionMass      float64
	CandidateMass     float64
	ExperimentalMass  float64
	RedistributeTiers bool
	SnapshotPath      string        // fallback file store when Mongo is absent
	SnapshotInterval  time.Duration // periodic registry snapshot job

	// Metrics collector configuration
	MetricsBufferSize    int
	MetricsFlushInterval time.Duration
	MetricsFlushTimeout  time.Duration
	MinSampleSize        int
	LatencyCapMs         float64
	RetentionDays        int

	// Handler cache configuration
	StatsCacheTTL time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("ENVIRONMENT", "development"),
		MongoURI:    getEnv("MONGODB_URI", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		CharsPerToken: getFloatEnv("CHARS_PER_TOKEN", 4.0),
		ModelFamily:   getEnv("MODEL_FAMILY", "gpt"),

		StrategyOverridesPath: getEnv("STRATEGY_OVERRIDES_PATH", ""),
		WatchOverrides:        getBoolEnv("STRATEGY_WATCH_OVERRIDES", true),

		ChampionMass:      getFloatEnv("TIER_CHAMPION_MASS", 0.7),
		CandidateMass:     getFloatEnv("TIER_CANDIDATE_MASS", 0.2),
		ExperimentalMass:  getFloatEnv("TIER_EXPERIMENTAL_MASS", 0.1),
		RedistributeTiers: getBoolEnv("TIER_REDISTRIBUTE_EMPTY", false),
		SnapshotPath:      getEnv("SNAPSHOT_PATH", "data/variants.json"),
		SnapshotInterval:  getDurationEnv("SNAPSHOT_INTERVAL", 5*time.Minute),

		MetricsBufferSize:    getIntEnv("METRICS_BUFFER_SIZE", 50),
		MetricsFlushInterval: getDurationEnv("METRICS_FLUSH_INTERVAL", 30*time.Second),
		MetricsFlushTimeout:  getDurationEnv("METRICS_FLUSH_TIMEOUT", 10*time.Second),
		MinSampleSize:        getIntEnv("MIN_SAMPLE_SIZE", 5),
		LatencyCapMs:         getFloatEnv("LATENCY_CAP_MS", 30000),
		RetentionDays:        getIntEnv("METRICS_RETENTION_DAYS", 90),

		StatsCacheTTL: getDurationEnv("STATS_CACHE_TTL", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
