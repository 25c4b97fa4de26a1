package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/ridedispatch/internal/ride/pricing"
)

// Config captures every tunable of the dispatch binaries. Values come from
// environment variables and fall back to defaults suitable for local runs.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration

	RedisAddr   string
	RedisGeoKey string

	// Token bucket for mutating HTTP requests; needs Redis. Zero disables it.
	ThrottleRate  float64
	ThrottleBurst float64

	NATSURL       string
	NotifySubject string
	EventsSubject string

	Fare pricing.Config
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		RedisGeoKey:     "drivers:available",
		NotifySubject:   "ride.driver.assigned",
		EventsSubject:   "ride.events",
		Fare: pricing.Config{
			Base:            50,
			PerKM:           10,
			FlatAmount:      100,
			SurgeMultiplier: 1.5,
		},
	}
}

// Load reads the configuration, returning every malformed value at once.
func Load() (Config, error) {
	cfg := defaults()
	var errs []error

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setDuration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	setString(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setFloat(&cfg.ThrottleRate, "THROTTLE_RPS", &errs)
	setFloat(&cfg.ThrottleBurst, "THROTTLE_BURST", &errs)

	cfg.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	setString(&cfg.NotifySubject, "NOTIFY_SUBJECT")
	setString(&cfg.EventsSubject, "EVENTS_SUBJECT")

	setFloat(&cfg.Fare.Base, "FARE_BASE", &errs)
	setFloat(&cfg.Fare.PerKM, "FARE_PER_KM", &errs)
	setFloat(&cfg.Fare.FlatAmount, "FARE_FLAT", &errs)
	setFloat(&cfg.Fare.SurgeMultiplier, "FARE_SURGE_MULTIPLIER", &errs)
	setFloat(&cfg.Fare.MinimumFare, "FARE_MINIMUM", &errs)

	if cfg.Fare.Base < 0 || cfg.Fare.PerKM < 0 || cfg.Fare.FlatAmount < 0 || cfg.Fare.MinimumFare < 0 {
		errs = append(errs, errors.New("fare rates must not be negative"))
	}
	if cfg.ThrottleRate < 0 || cfg.ThrottleBurst < 0 {
		errs = append(errs, errors.New("throttle settings must not be negative"))
	}
	if cfg.Fare.SurgeMultiplier < 1 {
		errs = append(errs, fmt.Errorf("FARE_SURGE_MULTIPLIER must be >= 1, got %v", cfg.Fare.SurgeMultiplier))
	}

	return cfg, errors.Join(errs...)
}

func setString(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloat(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			*errs = append(*errs, fmt.Errorf("invalid %s: %q is not a finite number", key, v))
			return
		}
		*target = f
	}
}
