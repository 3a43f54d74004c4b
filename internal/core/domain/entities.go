package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE    = "bridge"
	SENSOR_SUFFIX_STATE       = "state"
	SENSOR_SUFFIX_PROGRESS    = "progress"
	SENSOR_SUFFIX_SAMPLES     = "samples"
	SWITCH_ID_STREAM          = "stream"
	SWITCH_ID_ACTION          = "action"
	BUTTON_SUFFIX_RETRY       = "retry"
	STATE_CLASS_MEASUREMENT   = "measurement"
	STATE_CLASS_TOTAL         = "total_increasing"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	SENSOR_TYPE_SENSOR        = "sensor"
	SENSOR_TYPE_BINARY        = "binary_sensor"
)

// MACId turns a MAC into a topic and entity safe id.
func MACId(mac string) string {
	return strings.ToLower(strings.ReplaceAll(mac, ":", ""))
}

// MACFromId reverses MACId.
func MACFromId(id string) (string, error) {
	if len(id) != 12 {
		return "", fmt.Errorf("invalid device id %q", id)
	}
	var parts []string
	for i := 0; i < 12; i += 2 {
		parts = append(parts, strings.ToUpper(id[i:i+2]))
	}
	return strings.Join(parts, ":"), nil
}

func DeviceSensorId(mac, suffix string) string {
	return fmt.Sprintf("%s_%s", MACId(mac), suffix)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("metabase_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "MbientLab",
		Model:        "MetaBase",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("MetaBase %s", md5HashShort(baseTopic)),
	}
}

func SensorDevice(meta DeviceMeta) Device {
	return Device{
		Id:           fmt.Sprintf("metawear_%s", MACId(meta.MAC)),
		Manufacturer: "MbientLab",
		Model:        string(meta.Model),
		Name:         meta.Name,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// Device groups entities in Home Assistant. The bridge and every sensor
// board get one each.
type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

// Entity holds what every published entity has in common.
type Entity struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

type GenericSensor struct {
	Entity
	SensorType        string
	UnitOfMeasurement string
	StateClass        string
	DeviceClass       string
	EntityCategory    string
	EnabledByDefault  *bool
}

type GenericSwitch struct {
	Entity
}

type GenericButton struct {
	Entity
	CommandTopic string
}

func newEntity(device Device, id, name, icon string, owner Device) Entity {
	return Entity{
		Device:   device,
		Id:       id,
		Name:     name,
		UniqueId: uniqueId(owner.Id, id),
		Icon:     icon,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Entity:         newEntity(bridgeDevice, SENSOR_ID_BRIDGE_STATE, "Connection state", "", bridgeDevice),
		SensorType:     SENSOR_TYPE_BINARY,
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
	}}
}

func BridgeSwitches(bridgeDevice Device) []GenericSwitch {
	return []GenericSwitch{
		{newEntity(bridgeDevice, SWITCH_ID_STREAM, "Streaming", "mdi:access-point", bridgeDevice)},
		{newEntity(bridgeDevice, SWITCH_ID_ACTION, "Action running", "mdi:play-pause", bridgeDevice)},
	}
}

// DeviceSensors describes the per-board entities. Only the first one
// carries the full device block; the others reference it by id.
func DeviceSensors(sensorDevice Device, mac string) []GenericSensor {
	short := IdDevice(sensorDevice)
	return []GenericSensor{
		{
			Entity:     newEntity(sensorDevice, DeviceSensorId(mac, SENSOR_SUFFIX_STATE), "Action state", "mdi:state-machine", sensorDevice),
			SensorType: SENSOR_TYPE_SENSOR,
		},
		{
			Entity:            newEntity(short, DeviceSensorId(mac, SENSOR_SUFFIX_PROGRESS), "Action progress", "mdi:progress-download", sensorDevice),
			SensorType:        SENSOR_TYPE_SENSOR,
			StateClass:        STATE_CLASS_MEASUREMENT,
			UnitOfMeasurement: "%",
		},
		{
			Entity:           newEntity(short, DeviceSensorId(mac, SENSOR_SUFFIX_SAMPLES), "Streamed samples", "", sensorDevice),
			SensorType:       SENSOR_TYPE_SENSOR,
			StateClass:       STATE_CLASS_TOTAL,
			EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
			EnabledByDefault: optionalBool(false),
		},
	}
}

func DeviceButtons(sensorDevice Device, mac string, commandTopic string) []GenericButton {
	return []GenericButton{{
		Entity:       newEntity(IdDevice(sensorDevice), DeviceSensorId(mac, BUTTON_SUFFIX_RETRY), "Retry action", "mdi:restart", sensorDevice),
		CommandTopic: commandTopic,
	}}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
