package mqtt

import (
	"fmt"

	"github.com/mbientlab/metabase/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic,omitempty"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	PayloadPress      string            `json:"payload_press,omitempty"`
	Icon              string            `json:"icon,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

const platformMQTT = "mqtt"

func discoveryTopic(client *MQTTClient, component string, e domain.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", client.HADiscoveryTopic(), component, e.Device.Id, e.Id)
}

func HADiscoverySensorTopic(client *MQTTClient, sensor domain.GenericSensor) string {
	return discoveryTopic(client, sensor.SensorType, sensor.Entity)
}

func HADiscoverySwitchTopic(client *MQTTClient, sw domain.GenericSwitch) string {
	return discoveryTopic(client, "switch", sw.Entity)
}

func HADiscoveryButtonTopic(client *MQTTClient, button domain.GenericButton) string {
	return discoveryTopic(client, "button", button.Entity)
}

// entityConfig fills what every entity publishes. All entities go
// unavailable together with the bridge.
func entityConfig(client *MQTTClient, e domain.Entity) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device: HADiscoveryDevice{
			Id:           []string{e.Device.Id},
			Manufacturer: e.Device.Manufacturer,
			Version:      e.Device.Version,
			Model:        e.Device.Model,
			Name:         e.Device.Name,
			ViaDevice:    e.Device.ViaDevice,
		},
		AvTopic:  client.BridgeStateTopic(),
		Name:     e.Name,
		UniqueId: e.UniqueId,
		Icon:     e.Icon,
		Platform: platformMQTT,
	}
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	cfg := entityConfig(client, sensor.Entity)
	cfg.StateClass = sensor.StateClass
	cfg.DeviceClass = sensor.DeviceClass
	cfg.UnitOfMeasurement = sensor.UnitOfMeasurement
	cfg.EntityCategory = sensor.EntityCategory
	cfg.EnabledByDefault = sensor.EnabledByDefault
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		cfg.StateTopic = client.BridgeStateTopic()
		cfg.PayloadOn, cfg.PayloadOff = MQTT_PAYLOAD_ONLINE, MQTT_PAYLOAD_OFFLINE
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		cfg.StateTopic = client.BinarySensorStateTopic(sensor.Id)
		cfg.PayloadOn, cfg.PayloadOff = MQTT_PAYLOAD_ON, MQTT_PAYLOAD_OFF
	default:
		cfg.StateTopic = client.SensorStateTopic(sensor.Id)
	}
	return cfg
}

func GenericSwitchToHADiscoveryMessage(client *MQTTClient, sw domain.GenericSwitch) HADiscoveryConfig {
	cfg := entityConfig(client, sw.Entity)
	cfg.StateTopic = client.SwitchStateTopic(sw.Id)
	cfg.CommandTopic = client.SwitchCommandTopic(sw.Id)
	cfg.PayloadOn, cfg.PayloadOff = MQTT_PAYLOAD_ON, MQTT_PAYLOAD_OFF
	return cfg
}

func GenericButtonToHADiscoveryMessage(client *MQTTClient, button domain.GenericButton) HADiscoveryConfig {
	cfg := entityConfig(client, button.Entity)
	cfg.CommandTopic = button.CommandTopic
	cfg.PayloadPress = MQTT_PAYLOAD_PRESS
	return cfg
}
