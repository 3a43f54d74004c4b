package actorutil

import (
	"testing"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParsedMQTTCommandToCommand(t *testing.T) {

	assert := assert.New(t)

	cmd, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.SWITCH_ID_STREAM,
		Command:  mqtt.COMMAND_SWITCH,
		Payload:  mqtt.MQTT_PAYLOAD_OFF,
	})
	require.NoError(t, err)
	assert.IsType(domain.StopStreamingRequest{}, cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.SWITCH_ID_ACTION,
		Command:  mqtt.COMMAND_SWITCH,
		Payload:  mqtt.MQTT_PAYLOAD_OFF,
	})
	require.NoError(t, err)
	assert.IsType(domain.CancelAndUndoRequest{}, cmd)

	// turning the stream switch on starts nothing
	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.SWITCH_ID_STREAM,
		Command:  mqtt.COMMAND_SWITCH,
		Payload:  mqtt.MQTT_PAYLOAD_ON,
	})
	require.NoError(t, err)
	assert.Nil(cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.SWITCH_ID_ACTION,
		Command:  mqtt.COMMAND_SWITCH,
		Payload:  mqtt.MQTT_PAYLOAD_ON,
	})
	require.NoError(t, err)
	assert.IsType(domain.RestartFailuresRequest{}, cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "f56cbed56147",
		Command:  mqtt.COMMAND_RETRY,
	})
	require.NoError(t, err)
	assert.Equal(domain.RetryDeviceRequest{MAC: "F5:6C:BE:D5:61:47"}, cmd)

	_, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "bad",
		Command:  mqtt.COMMAND_RETRY,
	})
	assert.Error(err)
}

type namedState string

func (s namedState) Name() string            { return string(s) }
func (s namedState) Receive(_ actor.Context) {}

func TestActorWithStatesNames(t *testing.T) {

	assert := assert.New(t)
	s := ActorWithStates{Behavior: actor.NewBehavior(), Logger: zap.Must(zap.NewDevelopment())}
	assert.Equal("", s.StateName())

	s.Become(namedState("idle"))
	assert.Equal("idle", s.StateName())

	s.BecomeStacked(namedState("healthcheck"))
	assert.Equal("healthcheck", s.StateName())

	s.UnbecomeStacked()
	assert.Equal("idle", s.StateName())

	s.Become(namedState("running"))
	assert.Equal("running", s.StateName())
}
