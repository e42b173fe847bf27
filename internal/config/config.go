package config

import (
	"time"
)

type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Network  NetworkConfig  `mapstructure:"network"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type StorageConfig struct {
	Path         string `mapstructure:"path"`
	Passphrase   string `mapstructure:"passphrase"`
	EncryptQueue bool   `mapstructure:"encrypt_queue"`
}

type BackendConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
	Timeout   string `mapstructure:"timeout"`
}

func (b BackendConfig) GetTimeout() time.Duration {
	return parseDuration(b.Timeout, 15*time.Second)
}

type NetworkConfig struct {
	ProbeURL       string `mapstructure:"probe_url"`
	ProbeInterval  string `mapstructure:"probe_interval"`
	DebounceWindow string `mapstructure:"debounce_window"`
	WaitTimeout    string `mapstructure:"wait_timeout"`
}

func (n NetworkConfig) GetProbeInterval() time.Duration {
	return parseDuration(n.ProbeInterval, 5*time.Second)
}

func (n NetworkConfig) GetDebounceWindow() time.Duration {
	return parseDuration(n.DebounceWindow, 1500*time.Millisecond)
}

func (n NetworkConfig) GetWaitTimeout() time.Duration {
	return parseDuration(n.WaitTimeout, 10*time.Second)
}

type RetryConfig struct {
	MaxAttempts             int     `mapstructure:"max_attempts"`
	BaseDelay               string  `mapstructure:"base_delay"`
	MaxDelay                string  `mapstructure:"max_delay"`
	BackoffFactor           float64 `mapstructure:"backoff_factor"`
	Jitter                  bool    `mapstructure:"jitter"`
	CircuitBreakerThreshold int     `mapstructure:"circuit_breaker_threshold"`
	CircuitTimeout          string  `mapstructure:"circuit_timeout"`
}

func (r RetryConfig) GetBaseDelay() time.Duration {
	return parseDuration(r.BaseDelay, 500*time.Millisecond)
}

func (r RetryConfig) GetMaxDelay() time.Duration {
	return parseDuration(r.MaxDelay, 30*time.Second)
}

func (r RetryConfig) GetCircuitTimeout() time.Duration {
	return parseDuration(r.CircuitTimeout, time.Minute)
}

type QueueConfig struct {
	MaxSize         int    `mapstructure:"max_size"`
	MaxRetryCount   int    `mapstructure:"max_retry_count"`
	ItemTTL         string `mapstructure:"item_ttl"`
	DrainBackoff    string `mapstructure:"drain_backoff"`
	DeadLetterLimit int    `mapstructure:"dead_letter_limit"`
}

func (q QueueConfig) GetItemTTL() time.Duration {
	return parseDuration(q.ItemTTL, 7*24*time.Hour)
}

func (q QueueConfig) GetDrainBackoff() time.Duration {
	return parseDuration(q.DrainBackoff, time.Second)
}

type ConflictConfig struct {
	Strategy          string `mapstructure:"strategy"`
	DeleteGraceWindow string `mapstructure:"delete_grace_window"`
}

func (c ConflictConfig) GetDeleteGraceWindow() time.Duration {
	return parseDuration(c.DeleteGraceWindow, 5*time.Minute)
}

type SyncConfig struct {
	SchedulerEnabled bool   `mapstructure:"scheduler_enabled"`
	Interval         string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	Host        string   `mapstructure:"host"`
	AuthToken   string   `mapstructure:"auth_token"`
	CorsOrigins []string `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
