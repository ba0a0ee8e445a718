package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// MongoDB Configuration
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Scheduler Configuration
	SchedulerEnabled  bool
	SchedulerTimezone string
	DailySweepCron    string
	FrequentSweepCron string
	SweepTimeout      time.Duration

	// Leader Election Configuration
	InstanceID          string
	LeaderLeaseName     string
	LeaderLeaseTTL      time.Duration
	LeaderRenewInterval time.Duration

	// Reconciliation Thresholds
	AbandonedOrderAge     time.Duration
	UnpaidCheckoutAge     time.Duration
	UnverifiedPhoneAge    time.Duration
	ExpiredOrderRetention time.Duration
	SweepBatchSize        int

	// Alerting Configuration
	AlertWebhookURL       string
	DefaultWebhookTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// MongoDB
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/ordersweep?authSource=admin"),
		MongoDatabase: getEnv("MONGO_DATABASE", "ordersweep"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,

		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,
		ShutdownTimeout:  getDurationEnv("SHUTDOWN_TIMEOUT_SEC", 30) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Scheduler
		SchedulerEnabled:  getBoolEnv("SCHEDULER_ENABLED", true),
		SchedulerTimezone: getEnv("SCHEDULER_TIMEZONE", "Europe/Stockholm"),
		DailySweepCron:    getEnv("DAILY_SWEEP_CRON", "00 30 2 * * *"),
		FrequentSweepCron: getEnv("FREQUENT_SWEEP_CRON", "0 */15 * * * *"),
		SweepTimeout:      getDurationEnv("SWEEP_TIMEOUT_SEC", 600) * time.Second,

		// Leader election
		InstanceID:          getEnv("INSTANCE_ID", ""),
		LeaderLeaseName:     getEnv("LEADER_LEASE_NAME", "master"),
		LeaderLeaseTTL:      getDurationEnv("LEADER_LEASE_TTL_SEC", 30) * time.Second,
		LeaderRenewInterval: getDurationEnv("LEADER_RENEW_INTERVAL_SEC", 10) * time.Second,

		// Reconciliation
		AbandonedOrderAge:     getDurationEnv("ABANDONED_ORDER_AGE_MIN", 24*60) * time.Minute,
		UnpaidCheckoutAge:     getDurationEnv("UNPAID_CHECKOUT_AGE_MIN", 15) * time.Minute,
		UnverifiedPhoneAge:    getDurationEnv("UNVERIFIED_PHONE_AGE_MIN", 24*60) * time.Minute,
		ExpiredOrderRetention: getDurationEnv("EXPIRED_ORDER_RETENTION_DAYS", 30) * 24 * time.Hour,
		SweepBatchSize:        getIntEnv("SWEEP_BATCH_SIZE", 500),

		// Alerting
		AlertWebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		DefaultWebhookTimeout: getDurationEnv("DEFAULT_WEBHOOK_TIMEOUT_SEC", 10) * time.Second,
	}
}

// Validate checks values that would make the process misbehave at runtime.
// Cron expressions and the timezone are validated by the scheduler itself.
func (c *Config) Validate() error {
	var errs []error

	if c.LeaderLeaseTTL <= 0 {
		errs = append(errs, errors.New("LEADER_LEASE_TTL_SEC must be positive"))
	}
	if c.LeaderRenewInterval <= 0 {
		errs = append(errs, errors.New("LEADER_RENEW_INTERVAL_SEC must be positive"))
	}
	if c.LeaderRenewInterval >= c.LeaderLeaseTTL {
		errs = append(errs, fmt.Errorf("leader renew interval (%s) must be shorter than lease TTL (%s)",
			c.LeaderRenewInterval, c.LeaderLeaseTTL))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be positive"))
	}
	if c.UnpaidCheckoutAge <= 0 || c.AbandonedOrderAge <= 0 || c.UnverifiedPhoneAge <= 0 {
		errs = append(errs, errors.New("reconciliation ages must be positive"))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}
