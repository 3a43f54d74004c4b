package util

import (
	"github.com/mbientlab/metabase/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Port:     8080,
		Store: config.StoreConfig{
			Driver: config.STORE_DRIVER_BOLT,
		},
		Action: config.ActionConfig{
			ConnectTimeoutMillis:    500,
			LogProgramTimeoutMillis: 2000,
			CountersFlushMillis:     100,
			SaveTimeoutMillis:       2000,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "metabase",
		},
		Devices: []config.DeviceConfig{
			{MAC: "F5:6C:BE:D5:61:47", Name: "left", Model: "MetaMotionS", Group: "legs"},
			{MAC: "C8:4B:AA:97:50:05", Name: "right", Model: "MetaMotionS", Group: "legs"},
		},
	}
}
