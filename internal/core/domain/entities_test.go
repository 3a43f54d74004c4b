package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMACId(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("f56cbed56147", MACId("F5:6C:BE:D5:61:47"))

	mac, err := MACFromId("f56cbed56147")
	assert.NoError(err)
	assert.Equal("F5:6C:BE:D5:61:47", mac)

	_, err = MACFromId("f56c")
	assert.Error(err)
}

func TestDeviceEntities(t *testing.T) {
	assert := assert.New(t)

	meta := DeviceMeta{MAC: "F5:6C:BE:D5:61:47", Name: "left", Model: ModelMetaMotionS}
	dev := SensorDevice(meta)
	sensors := DeviceSensors(dev, meta.MAC)

	assert.Len(sensors, 3)
	assert.Equal(dev, sensors[0].Device)
	assert.Equal(IdDevice(dev), sensors[1].Device)
	assert.Empty(sensors[1].Device.Model)
	assert.Equal("uid_metawear_f56cbed56147_f56cbed56147_progress", sensors[1].UniqueId)
	assert.False(*sensors[2].EnabledByDefault)

	buttons := DeviceButtons(dev, meta.MAC, "metabase/device/f56cbed56147/retry")
	assert.Equal("f56cbed56147_retry", buttons[0].Id)
	assert.Equal("metabase/device/f56cbed56147/retry", buttons[0].CommandTopic)

	bridge := BridgeDevice("metabase")
	assert.Equal(bridge.Id, BridgeSwitches(bridge)[0].Device.Id)
	assert.Equal(bridge.Name, BridgeSensors(bridge)[0].Device.Name)
}
