package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the opsched application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
	WorkerDrainTimeout     time.Duration `json:"-"`
	WorkerDrainTimeoutStr  string        `json:"worker_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// StaleThreshold must exceed the longest device operation the fleet is
	// expected to run; operations quiet for longer are marked stale.
	StaleThreshold    time.Duration `json:"-"`
	StaleThresholdStr string        `json:"stale_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// NotificationWorkers is the number of goroutines draining the
	// notification bus into the store.
	NotificationWorkers int `json:"notification_workers"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// RetryDelay paces dead-letter redelivery of communication errors.
	RetryDelay    time.Duration `json:"-"`
	RetryDelayStr string        `json:"retry_delay"`

	// TimerPollInterval drives the FOR UPDATE SKIP LOCKED fire-row poll.
	TimerPollInterval    time.Duration `json:"-"`
	TimerPollIntervalStr string        `json:"timer_poll_interval"`
	TimerBatchSize       int           `json:"timer_batch_size"`

	// JobEngineURL: job start requests are POSTed here. Empty disables
	// the remote engine; timer fires are then logged and dropped.
	JobEngineURL        string        `json:"job_engine_url,omitempty"`
	JobEngineSecret     string        `json:"job_engine_secret,omitempty"`
	JobEngineTimeout    time.Duration `json:"-"`
	JobEngineTimeoutStr string        `json:"job_engine_timeout"`

	// DeviceTransportURL: dispatched device commands are POSTed here.
	// Empty means commands are recorded and logged but never delivered.
	DeviceTransportURL        string        `json:"device_transport_url,omitempty"`
	DeviceTransportSecret     string        `json:"device_transport_secret,omitempty"`
	DeviceTransportTimeout    time.Duration `json:"-"`
	DeviceTransportTimeoutStr string        `json:"device_transport_timeout"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		DBOpTimeoutStr:         os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:   os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:   os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		WorkerDrainTimeoutStr:  os.Getenv("WORKER_DRAIN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		MetricsPort:            os.Getenv("METRICS_PORT"),
		ReconcileEnabled:       os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:   os.Getenv("RECONCILE_INTERVAL"),
		StaleThresholdStr:      os.Getenv("STALE_THRESHOLD"),
		RetryDelayStr:          os.Getenv("RETRY_DELAY"),
		JobEngineURL:           os.Getenv("JOB_ENGINE_URL"),
		JobEngineSecret:        os.Getenv("JOB_ENGINE_SECRET"),
		JobEngineTimeoutStr:    os.Getenv("JOB_ENGINE_TIMEOUT"),

		DeviceTransportURL:        os.Getenv("DEVICE_TRANSPORT_URL"),
		DeviceTransportSecret:     os.Getenv("DEVICE_TRANSPORT_SECRET"),
		DeviceTransportTimeoutStr: os.Getenv("DEVICE_TRANSPORT_TIMEOUT"),
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReconcileBatchSize = batch
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 100
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if workersStr := os.Getenv("NOTIFICATION_WORKERS"); workersStr != "" {
		if n, err := parseInt(workersStr); err == nil && n > 0 {
			cfg.NotificationWorkers = n
		} else {
			log.Printf("config: invalid NOTIFICATION_WORKERS %q (must be a positive integer), using default 1", workersStr)
		}
	}
	if cfg.NotificationWorkers == 0 {
		cfg.NotificationWorkers = 1
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")

	cfg.TimerPollIntervalStr = os.Getenv("TIMER_POLL_INTERVAL")
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if batchStr := os.Getenv("TIMER_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.TimerBatchSize = n
		} else {
			log.Printf("config: invalid TIMER_BATCH_SIZE %q (must be a positive integer), using default 50", batchStr)
		}
	}
	if cfg.TimerBatchSize == 0 {
		cfg.TimerBatchSize = 50
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 415263", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 415263
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.WorkerDrainTimeoutStr == "" {
		cfg.WorkerDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.StaleThresholdStr == "" {
		cfg.StaleThresholdStr = "1h"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.RetryDelayStr == "" {
		cfg.RetryDelayStr = "5s"
	}
	if cfg.TimerPollIntervalStr == "" {
		cfg.TimerPollIntervalStr = "500ms"
	}
	if cfg.JobEngineTimeoutStr == "" {
		cfg.JobEngineTimeoutStr = "30s"
	}
	if cfg.DeviceTransportTimeoutStr == "" {
		cfg.DeviceTransportTimeoutStr = "30s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.WorkerDrainTimeoutStr); err == nil {
		cfg.WorkerDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.StaleThresholdStr); err == nil {
		cfg.StaleThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.RetryDelayStr); err == nil {
		cfg.RetryDelay = d
	}
	if d, err := time.ParseDuration(cfg.TimerPollIntervalStr); err == nil {
		cfg.TimerPollInterval = d
	}
	if d, err := time.ParseDuration(cfg.JobEngineTimeoutStr); err == nil {
		cfg.JobEngineTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DeviceTransportTimeoutStr); err == nil {
		cfg.DeviceTransportTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		WorkerDrainTimeout      string `json:"worker_drain_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		StaleThreshold          string `json:"stale_threshold"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		NotificationWorkers     int    `json:"notification_workers"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		RetryDelay              string `json:"retry_delay"`
		TimerPollInterval       string `json:"timer_poll_interval"`
		TimerBatchSize          int    `json:"timer_batch_size"`
		JobEngineURL            string `json:"job_engine_url,omitempty"`
		JobEngineSecret         string `json:"job_engine_secret,omitempty"`
		JobEngineTimeout        string `json:"job_engine_timeout"`
		DeviceTransportURL      string `json:"device_transport_url,omitempty"`
		DeviceTransportSecret   string `json:"device_transport_secret,omitempty"`
		DeviceTransportTimeout  string `json:"device_transport_timeout"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		WorkerDrainTimeout:      c.WorkerDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		StaleThreshold:          c.StaleThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		EventBusBufferSize:      c.EventBusBufferSize,
		NotificationWorkers:     c.NotificationWorkers,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		RetryDelay:              c.RetryDelayStr,
		TimerPollInterval:       c.TimerPollIntervalStr,
		TimerBatchSize:          c.TimerBatchSize,
		JobEngineURL:            c.JobEngineURL,
		JobEngineSecret:         maskSecret(c.JobEngineSecret),
		JobEngineTimeout:        c.JobEngineTimeoutStr,
		DeviceTransportURL:      c.DeviceTransportURL,
		DeviceTransportSecret:   maskSecret(c.DeviceTransportSecret),
		DeviceTransportTimeout:  c.DeviceTransportTimeoutStr,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
