package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	STORE_DRIVER_BOLT   = "bolt"
	STORE_DRIVER_SQLITE = "sqlite"
)

type Config struct {
	LogLevel zapcore.Level
	Port     uint           `mapstructure:"port"`
	HttpLog  bool           `mapstructure:"http_log"`
	Store    StoreConfig    `mapstructure:"store"`
	Action   ActionConfig   `mapstructure:"action"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Devices  []DeviceConfig `mapstructure:"devices"`
	Import   ImportConfig   `mapstructure:"import"`
}

type StoreConfig struct {
	Driver string
	Path   string
}

type ActionConfig struct {
	ConnectTimeoutMillis    uint32 `mapstructure:"connect_timeout_millis"`
	LogProgramTimeoutMillis uint32 `mapstructure:"log_program_timeout_millis"`
	CountersFlushMillis     uint32 `mapstructure:"counters_flush_millis"`
	SaveTimeoutMillis       uint32 `mapstructure:"save_timeout_millis"`
}

func (c ActionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMillis) * time.Millisecond
}

func (c ActionConfig) LogProgramTimeout() time.Duration {
	return time.Duration(c.LogProgramTimeoutMillis) * time.Millisecond
}

func (c ActionConfig) CountersFlushInterval() time.Duration {
	return time.Duration(c.CountersFlushMillis) * time.Millisecond
}

func (c ActionConfig) SaveTimeout() time.Duration {
	return time.Duration(c.SaveTimeoutMillis) * time.Millisecond
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

// DeviceConfig registers a board with the device store.
type DeviceConfig struct {
	MAC   string
	Name  string
	Model string
	Group string
}

type ImportConfig struct {
	Enable bool
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

var macRegexp = regexp.MustCompile("^([0-9A-F]{2}:){5}[0-9A-F]{2}$")

// CheckMAC normalizes a MAC address to upper case.
func CheckMAC(mac string) (string, error) {
	upper := strings.ToUpper(mac)
	if !macRegexp.MatchString(upper) {
		return "", errors.New("invalid MAC address. expected XX:XX:XX:XX:XX:XX")
	}
	return upper, nil
}
