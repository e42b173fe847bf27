package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads the YAML config at path, applies defaults and
// SYNCD_-prefixed environment overrides, and unmarshals into Config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SYNCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.path", "syncd.db")
	v.SetDefault("storage.encrypt_queue", false)

	v.SetDefault("backend.timeout", "15s")

	v.SetDefault("network.probe_interval", "5s")
	v.SetDefault("network.debounce_window", "1500ms")
	v.SetDefault("network.wait_timeout", "10s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.circuit_breaker_threshold", 5)
	v.SetDefault("retry.circuit_timeout", "1m")

	v.SetDefault("queue.max_size", 1000)
	v.SetDefault("queue.max_retry_count", 5)
	v.SetDefault("queue.item_ttl", "168h")
	v.SetDefault("queue.drain_backoff", "1s")
	v.SetDefault("queue.dead_letter_limit", 50)

	v.SetDefault("conflict.strategy", "last_write_wins")
	v.SetDefault("conflict.delete_grace_window", "5m")

	v.SetDefault("sync.scheduler_enabled", true)
	v.SetDefault("sync.interval", "@every 15m")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8085)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
