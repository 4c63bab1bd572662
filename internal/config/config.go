package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel        zapcore.Level
	RegisterMapFile string          `mapstructure:"register_map"`
	Serial          SerialConfig    `mapstructure:"serial"`
	Simulate        bool            `mapstructure:"simulate"`
	MonitorConfig   MonitorConfig   `mapstructure:"monitor"`
	ReconnectConfig ReconnectConfig `mapstructure:"reconnect"`
	MQTT            MQTTConfig      `mapstructure:"mqtt"`
	Port            uint            `mapstructure:"port"`
	HttpLog         bool            `mapstructure:"http_log"`
}

// SerialConfig pins the meter line. Port and SlaveId left empty mean
// discovery over every serial port and every configured channel.
type SerialConfig struct {
	Port    string `mapstructure:"port"`
	SlaveId uint   `mapstructure:"slave_id"`
	Backend string `mapstructure:"backend"`
}

type MonitorConfig struct {
	PollIntervalMillis     uint32 `mapstructure:"poll_interval_millis"`
	DiscoveryTimeoutMillis uint32 `mapstructure:"discovery_timeout_millis"`
}

func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c MonitorConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(c.DiscoveryTimeoutMillis) * time.Millisecond
}

type ReconnectConfig struct {
	MaxEmptyCycles      uint32 `mapstructure:"max_empty_cycles"`
	RetryIntervalMillis uint32 `mapstructure:"retry_interval_millis"`
}

func (c ReconnectConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMillis) * time.Millisecond
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

const (
	BackendRTU      = "rtu"
	BackendGoburrow = "goburrow"
)

var baseTopicRegexp = regexp.MustCompile("^[a-z0-9_]+$")

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	if !baseTopicRegexp.MatchString(lowerBaseTopic) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
