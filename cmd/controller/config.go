package main

import (
	"fmt"
	"os"
	"time"
)

// config is environment-driven: os.Getenv plus fmt.Sscanf for
// anything numeric, never a flags/viper library.
type config struct {
	HTTPAddr          string
	RedisAddr         string
	PostgresDSN       string
	QueueDir          string
	ThrottlePerSecond float64
	ThrottleBurst     int
	QuarantineAfter   int
	QuarantineCooldown time.Duration
	TokenSecret       string
}

// defaultConfig mirrors DefaultSchedulerConfig's pattern: sane
// defaults, overridable per field from the environment.
func defaultConfig() config {
	return config{
		HTTPAddr:           ":8080",
		RedisAddr:          "",
		PostgresDSN:        "",
		QueueDir:           ".",
		ThrottlePerSecond:  5,
		ThrottleBurst:      10,
		QuarantineAfter:    3,
		QuarantineCooldown: 30 * time.Second,
		TokenSecret:        "",
	}
}

func loadConfig() config {
	c := defaultConfig()

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("QUEUE_DIR"); v != "" {
		c.QueueDir = v
	}
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		c.TokenSecret = v
	}
	if v := os.Getenv("THROTTLE_PER_SECOND"); v != "" {
		fmt.Sscanf(v, "%f", &c.ThrottlePerSecond)
	}
	if v := os.Getenv("THROTTLE_BURST"); v != "" {
		fmt.Sscanf(v, "%d", &c.ThrottleBurst)
	}
	if v := os.Getenv("QUARANTINE_AFTER"); v != "" {
		fmt.Sscanf(v, "%d", &c.QuarantineAfter)
	}
	if v := os.Getenv("QUARANTINE_COOLDOWN_SECONDS"); v != "" {
		var secs int
		fmt.Sscanf(v, "%d", &secs)
		if secs > 0 {
			c.QuarantineCooldown = time.Duration(secs) * time.Second
		}
	}

	return c
}
