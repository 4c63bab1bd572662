package util

import (
	"github.com/berfenger/meterlink/internal/config"

	"go.uber.org/zap"
)

// LoadTestConfig is a config for actor tests: fast polling, no broker.
func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Backend: config.BackendRTU,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "meterlink",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalMillis:     200,
			DiscoveryTimeoutMillis: 5000,
		},
		ReconnectConfig: config.ReconnectConfig{
			MaxEmptyCycles:      3,
			RetryIntervalMillis: 1000,
		},
		Port: 8080,
	}
}
