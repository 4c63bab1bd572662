package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "meterlink"

// env aliases kept for deployments of the older acquisition script
var envAliases = map[string]string{
	"PORT":            "METERLINK_PORT",
	"MODBUS_PORT":     "METERLINK_SERIAL_PORT",
	"MODBUS_SLAVE_ID": "METERLINK_SERIAL_SLAVE_ID",
	"USE_SIM":         "METERLINK_SIMULATE",
}

// ApplyEnvAliases copies the legacy variables to their prefixed names unless
// those are already set.
func ApplyEnvAliases() {
	for alias, target := range envAliases {
		if value := os.Getenv(alias); value != "" && os.Getenv(target) == "" {
			os.Setenv(target, value)
		}
	}
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("register_map", "")
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.slave_id", 0)
	v.SetDefault("serial.backend", BackendRTU)
	v.SetDefault("simulate", false)
	v.SetDefault("monitor.poll_interval_millis", 5000)
	v.SetDefault("monitor.discovery_timeout_millis", 60000)
	v.SetDefault("reconnect.max_empty_cycles", 3)
	v.SetDefault("reconnect.retry_interval_millis", 30000)
	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.base_topic", "meterlink")
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	v.SetDefault("port", 8080)
	v.SetDefault("http_log", false)
}

// Load reads defaults, environment and the optional CONFIG_FILE into a
// checked Config.
func Load(v *viper.Viper) (*Config, error) {
	ApplyEnvAliases()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)

			if err := v.ReadInConfig(); err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.LogLevel = ParseLogLevel(v.GetString("log_level"))

	if err := Check(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// Check normalizes topics and enforces bounds.
func Check(cfg *Config) error {
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	cfg.Serial.Backend = strings.ToLower(cfg.Serial.Backend)
	switch cfg.Serial.Backend {
	case "":
		cfg.Serial.Backend = BackendRTU
	case BackendRTU, BackendGoburrow:
	default:
		return fmt.Errorf("config param serial.backend must be %q or %q, got %q", BackendRTU, BackendGoburrow, cfg.Serial.Backend)
	}
	if cfg.Serial.SlaveId > 247 {
		return errors.New("config param serial.slave_id should be between 1 and 247")
	}

	if cfg.MonitorConfig.PollIntervalMillis < 1000 {
		return errors.New("config param monitor.poll_interval_millis should be >= 1000")
	}
	if cfg.MonitorConfig.DiscoveryTimeoutMillis < 1000 {
		return errors.New("config param monitor.discovery_timeout_millis should be >= 1000")
	}
	if cfg.ReconnectConfig.RetryIntervalMillis < 1000 {
		return errors.New("config param reconnect.retry_interval_millis should be >= 1000")
	}
	return nil
}

// Redacted is a copy safe to log.
func (c Config) Redacted() Config {
	c.MQTT.Username = "*redacted*"
	c.MQTT.Password = "*redacted*"
	return c
}
