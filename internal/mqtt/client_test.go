package mqtt

import (
	"testing"

	"github.com/mbientlab/metabase/internal/config"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestSwitchCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/command"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "my_device", "device extract")
}

func TestSwitchCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/state"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestRetryCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/device/f56cbed56147/retry"
	r := retryCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "f56cbed56147", "mac id extract")
}

func TestRetryCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/device/f56cbed56147/state"
	r := retryCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestDiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	client := CreateMQTTClient(&config.Config{MQTT: config.MQTTConfig{BaseTopic: "metabase"}},
		OptsFromConfig(&config.Config{MQTT: config.MQTTConfig{BaseTopic: "metabase"}}), nil, nil)

	meta := domain.DeviceMeta{MAC: "F5:6C:BE:D5:61:47", Name: "left", Model: domain.ModelMetaMotionS}
	dev := domain.SensorDevice(meta)
	sensors := domain.DeviceSensors(dev, meta.MAC)
	msg := GenericSensorToHADiscoveryMessage(client, sensors[0])
	assert.Equal("metabase/sensor/f56cbed56147_state/state", msg.StateTopic)
	assert.Equal("metabase/bridge/state", msg.AvTopic)
	assert.Equal("homeassistant/sensor/metawear_f56cbed56147/f56cbed56147_state/config", HADiscoverySensorTopic(client, sensors[0]))

	buttons := domain.DeviceButtons(dev, meta.MAC, client.DeviceRetryTopic(meta.MAC))
	bmsg := GenericButtonToHADiscoveryMessage(client, buttons[0])
	assert.Equal("metabase/device/f56cbed56147/retry", bmsg.CommandTopic)

	sw := domain.BridgeSwitches(domain.BridgeDevice("metabase"))
	swmsg := GenericSwitchToHADiscoveryMessage(client, sw[0])
	assert.Equal("metabase/switch/stream/command", swmsg.CommandTopic)
	assert.Equal(MQTT_PAYLOAD_ON, swmsg.PayloadOn)

	bridge := domain.BridgeSensors(domain.BridgeDevice("metabase"))
	bridgeMsg := GenericSensorToHADiscoveryMessage(client, bridge[0])
	assert.Equal(client.BridgeStateTopic(), bridgeMsg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, bridgeMsg.PayloadOn)
	assert.Equal(MQTT_PAYLOAD_OFFLINE, bridgeMsg.PayloadOff)
	assert.Equal("mqtt", bridgeMsg.Platform)
	assert.Equal([]string{bridge[0].Device.Id}, bridgeMsg.Device.Id)
}
