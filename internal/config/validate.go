package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// TIMER_POLL_INTERVAL must be a valid positive duration
	if cfg.TimerPollIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TimerPollIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMER_POLL_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TIMER_POLL_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	// STALE_THRESHOLD must be a valid positive duration
	if cfg.StaleThresholdStr != "" {
		d, err := time.ParseDuration(cfg.StaleThresholdStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "STALE_THRESHOLD",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "STALE_THRESHOLD",
				Message: "must be positive",
			})
		}
	}

	// A job engine secret without a URL signs requests that go nowhere.
	if cfg.JobEngineSecret != "" && cfg.JobEngineURL == "" {
		errs = append(errs, ValidationError{
			Field:   "JOB_ENGINE_URL",
			Message: "required when JOB_ENGINE_SECRET is set",
		})
	}

	// Same for the device transport.
	if cfg.DeviceTransportSecret != "" && cfg.DeviceTransportURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DEVICE_TRANSPORT_URL",
			Message: "required when DEVICE_TRANSPORT_SECRET is set",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
