package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the scheduler
// service.
type Config struct {
	SQLiteDSN string
	// BusinessHoursStart and BusinessHoursEnd bound the default run window
	// created for a date with no reusable run.
	BusinessHoursStart int
	BusinessHoursEnd   int
	// Timezone fixes calendar-day boundaries for run dates and recurrence.
	Timezone *time.Location
	// AdvanceDays is how far ahead recurring series are materialized.
	AdvanceDays int
	// MaintenanceInterval is the period of the background materializer sweep.
	MaintenanceInterval time.Duration
	// LogFile, when set, routes logs to a rotating file instead of stdout.
	LogFile string
}

// Load parses configuration values from the current process environment.
//
// Optional fields fall back to defaults; values that are present but
// unparseable are collected and reported together.
func Load() (Config, error) {
	cfg := Config{
		SQLiteDSN:           "file:scheduler.db?_pragma=foreign_keys(1)",
		BusinessHoursStart:  6,
		BusinessHoursEnd:    20,
		Timezone:            time.Local,
		AdvanceDays:         21,
		MaintenanceInterval: time.Hour,
	}

	invalid := make([]string, 0, 2)

	if dsn := trimmedEnv("SCHEDULER_SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if value := trimmedEnv("SCHEDULER_BUSINESS_HOURS_START"); value != "" {
		hour, err := strconv.Atoi(value)
		if err != nil || hour < 0 || hour > 23 {
			invalid = append(invalid, "SCHEDULER_BUSINESS_HOURS_START")
		} else {
			cfg.BusinessHoursStart = hour
		}
	}

	if value := trimmedEnv("SCHEDULER_BUSINESS_HOURS_END"); value != "" {
		hour, err := strconv.Atoi(value)
		if err != nil || hour < 1 || hour > 24 {
			invalid = append(invalid, "SCHEDULER_BUSINESS_HOURS_END")
		} else {
			cfg.BusinessHoursEnd = hour
		}
	}
	if cfg.BusinessHoursEnd <= cfg.BusinessHoursStart {
		invalid = append(invalid, "SCHEDULER_BUSINESS_HOURS_END")
	}

	if value := trimmedEnv("SCHEDULER_TIMEZONE"); value != "" {
		loc, err := time.LoadLocation(value)
		if err != nil {
			invalid = append(invalid, "SCHEDULER_TIMEZONE")
		} else {
			cfg.Timezone = loc
		}
	}

	if value := trimmedEnv("SCHEDULER_ADVANCE_DAYS"); value != "" {
		days, err := strconv.Atoi(value)
		if err != nil || days < 1 {
			invalid = append(invalid, "SCHEDULER_ADVANCE_DAYS")
		} else {
			cfg.AdvanceDays = days
		}
	}

	if value := trimmedEnv("SCHEDULER_MAINTENANCE_INTERVAL"); value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil || interval <= 0 {
			invalid = append(invalid, "SCHEDULER_MAINTENANCE_INTERVAL")
		} else {
			cfg.MaintenanceInterval = interval
		}
	}

	cfg.LogFile = trimmedEnv("SCHEDULER_LOG_FILE")

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
