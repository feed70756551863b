package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/0xReLogic/logprobe/internal/codec"
)

// EnvPrefix prefixes environment overrides, e.g. LOGPROBE_DELIVERY_TIMEOUT.
const EnvPrefix = "LOGPROBE"

// Config holds everything a run needs besides the command line mode.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	// YAML registry mapping service names to host:port
	RegistryFile string          `mapstructure:"registry_file"`
	Delivery     DeliveryConfig  `mapstructure:"delivery"`
	Automated    AutomatedConfig `mapstructure:"automated"`
	Abuse        AbuseConfig     `mapstructure:"abuse"`
	Follow       FollowConfig    `mapstructure:"follow"`
	Logging      LoggingConfig   `mapstructure:"logging"`
	Tracing      TracingConfig   `mapstructure:"tracing"`
	Metrics      MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Service string `mapstructure:"service"` // resolved through RegistryFile when set
}

type DeliveryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"` // connect+write bound per message, 0 = none
}

type AutomatedConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	PerLevel int           `mapstructure:"per_level"`
}

type AbuseConfig struct {
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
	MaxRate  float64       `mapstructure:"max_rate"` // messages/second, 0 = uncapped
	Burst    int           `mapstructure:"burst"`
}

type FollowConfig struct {
	Severity  string `mapstructure:"severity"`
	FromStart bool   `mapstructure:"from_start"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 30000)
	v.SetDefault("server.service", "")
	v.SetDefault("registry_file", "")
	v.SetDefault("delivery.timeout", "5s")
	v.SetDefault("automated.interval", "500ms")
	v.SetDefault("automated.per_level", 3)
	v.SetDefault("abuse.count", 50)
	v.SetDefault("abuse.interval", "5ms")
	v.SetDefault("abuse.max_rate", 0)
	v.SetDefault("abuse.burst", 1)
	v.SetDefault("follow.severity", "INFO")
	v.SetDefault("follow.from_start", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "logprobe")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("metrics.listen_addr", "")
}

// LoadConfig reads defaults, then the YAML file at path (skipped when path
// is empty), then LOGPROBE_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks ranges that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.Service != "" && c.RegistryFile == "" {
		return fmt.Errorf("registry_file is required when server.service is set")
	}
	if c.Delivery.Timeout < 0 {
		return fmt.Errorf("delivery.timeout must not be negative")
	}
	if c.Automated.Interval < 0 || c.Abuse.Interval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.Automated.PerLevel < 0 {
		return fmt.Errorf("automated.per_level must not be negative: %d", c.Automated.PerLevel)
	}
	if c.Abuse.Count < 0 {
		return fmt.Errorf("abuse.count must not be negative: %d", c.Abuse.Count)
	}
	if c.Abuse.MaxRate < 0 {
		return fmt.Errorf("abuse.max_rate must not be negative")
	}
	if _, err := codec.ParseSeverity(c.Follow.Severity); err != nil {
		return fmt.Errorf("follow.severity: %w", err)
	}
	return nil
}
