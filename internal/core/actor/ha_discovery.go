package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbientlab/metabase/internal/config"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/mbientlab/metabase/internal/mqtt"
	"github.com/mbientlab/metabase/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type devicesLoaded struct {
	devices []domain.DeviceMeta
	err     error
}

// HADiscoveryActor announces the bridge and every known board to Home
// Assistant once the MQTT actor is up.
type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	devices   port.DeviceStore
	mqttActor *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, devices port.DeviceStore, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		devices:   devices,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		devices := state.devices
		actorutil.NewBackgroundTask(ctx, func() (*devicesLoaded, error) {
			dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			metas, err := devices.Devices(dctx)
			return &devicesLoaded{devices: metas, err: err}, nil
		}).Recover(func(err error) devicesLoaded {
			return devicesLoaded{err: err}
		}).PipeTo(ctx.Self())
		state.behavior.Become(state.WaitingInfoReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case devicesLoaded:
		if msg.err != nil {
			panic(msg.err)
		}
		state.logger.Debug("hadiscovery@info: devicesLoaded", zap.Int("devices", len(msg.devices)))
		ctx.Send(state.mqttActor, DiscoveryEntities(state.config.MQTT.BaseTopic, msg.devices))
		state.behavior.Become(state.Done)

	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// DiscoveryEntities lists the bridge entities and the entities of every
// board. Boards are announced via the bridge.
func DiscoveryEntities(baseTopic string, devices []domain.DeviceMeta) domain.PublishDiscoveryRequest {
	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch
	var buttons []domain.GenericButton

	bridgeDevice := domain.BridgeDevice(baseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)
	switches = append(switches, domain.BridgeSwitches(domain.IdDevice(bridgeDevice))...)

	for _, meta := range devices {
		sensorDevice := domain.SensorDevice(meta)
		sensorDevice.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.DeviceSensors(sensorDevice, meta.MAC)...)
		buttons = append(buttons, domain.DeviceButtons(sensorDevice, meta.MAC, mqtt.DeviceRetryTopic(baseTopic, meta.MAC))...)
	}
	return domain.PublishDiscoveryRequest{
		Sensors:  sensors,
		Switches: switches,
		Buttons:  buttons,
	}
}
