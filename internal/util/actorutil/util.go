package actorutil

import (
	"log/slog"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/mqtt"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

// SendFromOutside returns a send func that is safe to call from goroutines
// the actor does not own.
func SendFromOutside(ctx actor.Context) func(msg any) {
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	return func(msg any) {
		root.Send(self, msg)
	}
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel, zap.PanicLevel, zap.FatalLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps an MQTT command to an action request.
// Unknown commands map to nil.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActionRequest, error) {
	switch cmd.Command {
	case mqtt.COMMAND_SWITCH:
		switch {
		case cmd.DeviceId == domain.SWITCH_ID_STREAM && cmd.Payload == mqtt.MQTT_PAYLOAD_OFF:
			return domain.StopStreamingRequest{}, nil
		case cmd.DeviceId == domain.SWITCH_ID_ACTION && cmd.Payload == mqtt.MQTT_PAYLOAD_OFF:
			return domain.CancelAndUndoRequest{}, nil
		case cmd.DeviceId == domain.SWITCH_ID_ACTION && cmd.Payload == mqtt.MQTT_PAYLOAD_ON:
			// resumes the devices the last run left behind
			return domain.RestartFailuresRequest{}, nil
		}
	case mqtt.COMMAND_RETRY:
		mac, err := domain.MACFromId(cmd.DeviceId)
		if err != nil {
			return nil, err
		}
		return domain.RetryDeviceRequest{MAC: mac}, nil
	}
	return nil, nil
}
