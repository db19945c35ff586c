package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port          int
	DataDir       string
	LogLevel      string
	AllowedOrigin string

	CacheType       string
	CacheMaxEntries int
	CacheMaxCostMB  int

	MaxDimension int
	JpegQuality  int

	PreloadAhead     int
	PreloadBehind    int
	RapidVelocity    float64
	RapidNarrowAfter int
	RapidClearAfter  int
	PositionSamples  int

	VipsMaxCacheMB  int
	VipsConcurrency int
}

func Load() *Config {
	cfg := &Config{
		Port:          getEnvInt("PORT", 8080),
		DataDir:       getEnv("DATA_DIR", "/data"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", ""),

		CacheType:       getEnv("CACHE", "memory"),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 100),
		CacheMaxCostMB:  getEnvInt("CACHE_MAX_COST_MB", 100),

		MaxDimension: getEnvInt("MAX_DIMENSION", 2000),
		JpegQuality:  getEnvInt("JPEG_QUALITY", 82),

		PreloadAhead:     getEnvInt("PRELOAD_AHEAD", 20),
		PreloadBehind:    getEnvInt("PRELOAD_BEHIND", 5),
		RapidVelocity:    getEnvFloat("RAPID_VELOCITY", 10),
		RapidNarrowAfter: getEnvInt("RAPID_NARROW_AFTER", 3),
		RapidClearAfter:  getEnvInt("RAPID_CLEAR_AFTER", 5),
		PositionSamples:  getEnvInt("POSITION_SAMPLES", 10),

		VipsMaxCacheMB:  getEnvInt("VIPS_MAX_CACHE_MB", 256),
		VipsConcurrency: getEnvInt("VIPS_CONCURRENCY", 1),
	}

	return cfg
}

// CacheMaxCostBytes converts the configured cost bound to bytes.
func (c *Config) CacheMaxCostBytes() int64 {
	return int64(c.CacheMaxCostMB) * 1024 * 1024
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
