package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/mbientlab/metabase/internal/config"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/mbientlab/metabase/internal/core/service"
	. "github.com/mbientlab/metabase/internal/util/actorutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline events, child to orchestrator. Every event names the attempt
// it belongs to.

type deviceConnected struct {
	mac     string
	attempt uint64
	device  port.Device
}

type deviceProgress struct {
	mac     string
	attempt uint64
	percent int
}

type deviceCompleted struct {
	mac     string
	attempt uint64
	tables  []domain.DataTable
}

type deviceFailed struct {
	mac     string
	attempt uint64
	err     error
}

// deviceCancelled carries what a cancelled download already read.
type deviceCancelled struct {
	mac     string
	attempt uint64
	tables  []domain.DataTable
}

// cancelPipeline is sent by the orchestrator on cancel and undo.
type cancelPipeline struct{}

// Internal messages of the pipeline.

type deviceResolved struct {
	device port.Device
	err    error
}

type connectResult struct {
	err error
}

type stopStreaming struct {
	undo bool
}

type streamEnded struct {
	tables []domain.DataTable
	err    error
}

type logStep struct {
	percent int
}

type logResult struct {
	err error
}

type downloadStarted struct {
	progress <-chan domain.DownloadProgress
	err      error
}

type downloadChunk struct {
	progress domain.DownloadProgress
}

type downloadEnded struct{}

// DeviceActionParams is what one pipeline needs to run.
type DeviceActionParams struct {
	Action      domain.ActionType
	Dispatch    service.Dispatch
	SessionName string
	Date        time.Time
	Devices     port.DeviceStore
	Tokens      port.LoggingTokenRegistry
	Counters    *service.StreamingCounters
	EventStream *eventstream.EventStream
	Config      config.ActionConfig
}

// DeviceActionActor runs one action on one device for one attempt.
type DeviceActionActor struct {
	ActorWithStates
	params DeviceActionParams
	stash  *Stash
	device port.Device
	send   func(any)

	// pipeline context, cancelled when the actor stops
	pctx         context.Context
	cancel       context.CancelFunc
	subscription *eventstream.Subscription

	logger *zap.Logger
}

func NewDeviceActionActor(params DeviceActionParams, logger *zap.Logger) *DeviceActionActor {
	act := &DeviceActionActor{
		params: params,
		stash:  &Stash{},
		logger: ActorLogger(fmt.Sprintf("%s_%s", domain.ACTOR_ID_DEVICE, domain.MACId(params.Dispatch.Item.MAC())), logger).
			With(zap.String("action", params.Action.String()), zap.Uint64("attempt", params.Dispatch.Attempt)),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.ActorWithStates.Logger = act.logger
	act.Become(DAResolvingState{actor: act})
	return act
}

func (state *DeviceActionActor) Receive(context actor.Context) {
	switch context.Message().(type) {
	case *actor.Stopping:
		state.stop()
		return
	}
	state.Behavior.Receive(context)
}

func (state *DeviceActionActor) mac() string {
	return state.params.Dispatch.Item.MAC()
}

func (state *DeviceActionActor) attempt() uint64 {
	return state.params.Dispatch.Attempt
}

func (state *DeviceActionActor) stop() {
	if state.subscription != nil {
		state.params.EventStream.Unsubscribe(state.subscription)
		state.subscription = nil
	}
	if state.cancel != nil {
		state.cancel()
	}
}

// finish reports a terminal event to the orchestrator. The orchestrator
// stops this actor once it handled the event.
func (state *DeviceActionActor) finish(ctx actor.Context, event any) {
	state.stop()
	ctx.Send(ctx.Parent(), event)
	state.Become(DADoneState{actor: state})
}

func (state *DeviceActionActor) fail(ctx actor.Context, err error) {
	state.logger.Warn("device_action: failed", zap.Error(err))
	state.finish(ctx, deviceFailed{mac: state.mac(), attempt: state.attempt(), err: err})
}

func (state *DeviceActionActor) cancelled(ctx actor.Context, tables []domain.DataTable) {
	state.logger.Debug("device_action: cancelled", zap.Int("tables", len(tables)))
	state.finish(ctx, deviceCancelled{mac: state.mac(), attempt: state.attempt(), tables: tables})
}

func (state *DeviceActionActor) progress(ctx actor.Context, percent int) {
	ctx.Send(ctx.Parent(), deviceProgress{mac: state.mac(), attempt: state.attempt(), percent: percent})
}

// Resolving state

type DAResolvingState struct {
	ActorState
	actor *DeviceActionActor
}

func (state DAResolvingState) Name() string {
	return "resolving"
}

func (state DAResolvingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("device_action@resolving started")
		state.actor.send = SendFromOutside(ctx)
		state.actor.pctx, state.actor.cancel = context.WithCancel(context.Background())

		if state.actor.params.Action == domain.ActionStream && state.actor.params.EventStream != nil {
			send := state.actor.send
			state.actor.subscription = state.actor.params.EventStream.Subscribe(func(evt any) {
				if stop, ok := evt.(domain.StopStreamingEvent); ok {
					send(stopStreaming{undo: stop.Undo})
				}
			})
		}

		if dev := state.actor.params.Dispatch.Item.Device; dev != nil {
			ctx.Send(ctx.Self(), deviceResolved{device: dev})
			return
		}
		pctx := state.actor.pctx
		devices := state.actor.params.Devices
		mac := state.actor.mac()
		timeout := state.actor.params.Config.ConnectTimeout()
		NewBackgroundTask(ctx, func() (*deviceResolved, error) {
			rctx, cancel := context.WithTimeout(pctx, timeout)
			defer cancel()
			dev, err := devices.Resolve(rctx, mac)
			if err != nil {
				// an unknown handle surfaces like a device that never showed up
				return nil, fmt.Errorf("%w: %w", domain.ErrTimeout, err)
			}
			return &deviceResolved{device: dev}, nil
		}).Recover(func(err error) deviceResolved {
			return deviceResolved{err: err}
		}).PipeTo(ctx.Self())
	case deviceResolved:
		if msg.err != nil {
			state.actor.fail(ctx, msg.err)
			return
		}
		state.actor.device = msg.device
		state.actor.Become(DAConnectingState{actor: state.actor}.OnEnter(ctx))
	case cancelPipeline:
		state.actor.cancelled(ctx, nil)
	case stopStreaming:
		if msg.undo {
			state.actor.cancelled(ctx, nil)
			return
		}
		state.actor.logger.Debug("device_action@resolving stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("device_action@resolving recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Connecting state

type DAConnectingState struct {
	ActorState
	actor *DeviceActionActor
}

func (state DAConnectingState) Name() string {
	return "connecting"
}

func (state DAConnectingState) OnEnter(ctx actor.Context) DAConnectingState {
	state.actor.logger.Debug("device_action@connecting enter")
	pctx := state.actor.pctx
	dev := state.actor.device
	timeout := state.actor.params.Config.ConnectTimeout()
	NewBackgroundTask(ctx, func() (*connectResult, error) {
		cctx, cancel := context.WithTimeout(pctx, timeout)
		defer cancel()
		return &connectResult{err: dev.WhenConnected(cctx)}, nil
	}).Recover(func(err error) connectResult {
		return connectResult{err: err}
	}).PipeTo(ctx.Self())
	return state
}

func (state DAConnectingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case connectResult:
		if msg.err != nil {
			state.actor.fail(ctx, msg.err)
			return
		}
		state.actor.logger.Debug("device_action@connecting connected")
		ctx.Send(ctx.Parent(), deviceConnected{mac: state.actor.mac(), attempt: state.actor.attempt(), device: state.actor.device})
		switch state.actor.params.Action {
		case domain.ActionStream:
			// OnEnter may already fail the pipeline
			streaming := NewDAStreamingState(state.actor)
			state.actor.Become(streaming)
			streaming.OnEnter(ctx)
			state.actor.stash.UnstashAll(ctx)
		case domain.ActionLog:
			state.actor.Become(DAProgrammingState{actor: state.actor}.OnEnter(ctx))
		case domain.ActionDownload:
			state.actor.Become(NewDADownloadingState(state.actor).OnEnter(ctx))
		}
	case cancelPipeline:
		state.actor.cancelled(ctx, nil)
	case stopStreaming:
		if msg.undo {
			state.actor.cancelled(ctx, nil)
			return
		}
		state.actor.logger.Debug("device_action@connecting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	default:
		state.actor.logger.Debug("device_action@connecting recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Streaming state

type DAStreamingState struct {
	ActorState
	actor      *DeviceActionActor
	stopStream context.CancelFunc
	stopping   bool
}

func NewDAStreamingState(fromActor *DeviceActionActor) *DAStreamingState {
	return &DAStreamingState{actor: fromActor}
}

func (state *DAStreamingState) Name() string {
	return "streaming"
}

func (state *DAStreamingState) OnEnter(ctx actor.Context) {
	dev := state.actor.device
	cfg := state.actor.params.Dispatch.Item.Config
	var signals []domain.Signal
	for _, signal := range cfg.Enabled() {
		if dev.Meta().Modules.Has(signal.Module()) {
			signals = append(signals, signal)
		} else {
			state.actor.logger.Debug("device_action@streaming skip absent module", zap.String("signal", string(signal)))
		}
	}
	if len(signals) == 0 {
		state.actor.fail(ctx, fmt.Errorf("%w: nothing to stream", domain.ErrModuleMissing))
		return
	}

	sctx, stopStream := context.WithCancel(state.actor.pctx)
	state.stopStream = stopStream
	send := state.actor.send
	counters := state.actor.params.Counters
	mac := state.actor.mac()

	go func() {
		tables := make([]domain.DataTable, len(signals))
		g, gctx := errgroup.WithContext(sctx)
		for i, signal := range signals {
			i, signal := i, signal
			tables[i].Signal = signal
			g.Go(func() error {
				samples, err := dev.Stream(gctx, signal, cfg)
				if err != nil {
					return err
				}
				for sample := range samples {
					tables[i].Rows = append(tables[i].Rows, sample)
					if counters != nil {
						counters.Add(mac, signal, 1)
					}
				}
				if gctx.Err() == nil {
					return fmt.Errorf("%w: %s stream ended", domain.ErrDeviceUnavailable, signal)
				}
				return nil
			})
		}
		err := g.Wait()
		send(streamEnded{tables: tables, err: err})
	}()
	state.actor.logger.Debug("device_action@streaming enter", zap.Int("signals", len(signals)))
}

func (state *DAStreamingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case stopStreaming:
		if msg.undo {
			state.stopStream()
			state.actor.cancelled(ctx, nil)
			return
		}
		if !state.stopping {
			state.actor.logger.Debug("device_action@streaming stop")
			state.stopping = true
			state.stopStream()
		}
	case cancelPipeline:
		state.stopStream()
		state.actor.cancelled(ctx, nil)
	case streamEnded:
		if msg.err != nil && !state.stopping {
			state.actor.fail(ctx, msg.err)
			return
		}
		state.actor.finish(ctx, deviceCompleted{mac: state.actor.mac(), attempt: state.actor.attempt(), tables: msg.tables})
	default:
		state.actor.logger.Debug("device_action@streaming recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Programming state

type DAProgrammingState struct {
	ActorState
	actor *DeviceActionActor
}

func (state DAProgrammingState) Name() string {
	return "programming"
}

func (state DAProgrammingState) OnEnter(ctx actor.Context) DAProgrammingState {
	state.actor.logger.Debug("device_action@programming enter")
	pctx := state.actor.pctx
	dev := state.actor.device
	cfg := state.actor.params.Dispatch.Item.Config
	tokens := state.actor.params.Tokens
	timeout := state.actor.params.Config.LogProgramTimeout()
	send := state.actor.send
	token := domain.LoggingToken{
		MAC:         state.actor.mac(),
		StartDate:   state.actor.params.Date,
		SessionName: state.actor.params.SessionName,
	}

	NewBackgroundTask(ctx, func() (*logResult, error) {
		lctx, cancel := context.WithTimeout(pctx, timeout)
		defer cancel()
		steps := []func() error{
			func() error { return dev.Command(lctx, domain.CommandResetActivities) },
			func() error { return dev.Command(lctx, domain.CommandMacroEraseAll) },
			func() error { return dev.Command(lctx, domain.CommandRestart) },
			func() error { return dev.WhenDisconnected(lctx) },
			func() error { return dev.WhenConnected(lctx) },
			func() error { return dev.ProgramLogging(lctx, cfg) },
		}
		for i, step := range steps {
			if err := step(); err != nil {
				return &logResult{err: err}, nil
			}
			send(logStep{percent: (i + 1) * 100 / (len(steps) + 1)})
		}
		if tokens != nil {
			if err := tokens.Register(lctx, token); err != nil {
				return &logResult{err: err}, nil
			}
		}
		return &logResult{}, nil
	}).Recover(func(err error) logResult {
		return logResult{err: err}
	}).PipeTo(ctx.Self())
	return state
}

func (state DAProgrammingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case logStep:
		state.actor.progress(ctx, msg.percent)
	case logResult:
		if msg.err != nil {
			state.actor.fail(ctx, msg.err)
			return
		}
		state.actor.logger.Debug("device_action@programming logging")
		state.actor.finish(ctx, deviceCompleted{mac: state.actor.mac(), attempt: state.actor.attempt()})
	case cancelPipeline:
		state.actor.cancelled(ctx, nil)
	default:
		state.actor.logger.Debug("device_action@programming recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Downloading state

type DADownloadingState struct {
	ActorState
	actor   *DeviceActionActor
	records map[domain.Signal][]domain.Sample
	percent int
}

func NewDADownloadingState(fromActor *DeviceActionActor) *DADownloadingState {
	return &DADownloadingState{
		actor:   fromActor,
		records: make(map[domain.Signal][]domain.Sample),
	}
}

func (state *DADownloadingState) Name() string {
	return "downloading"
}

func (state *DADownloadingState) OnEnter(ctx actor.Context) *DADownloadingState {
	state.actor.logger.Debug("device_action@downloading enter")
	pctx := state.actor.pctx
	dev := state.actor.device
	tokens := state.actor.params.Tokens
	mac := state.actor.mac()

	NewBackgroundTask(ctx, func() (*downloadStarted, error) {
		var since time.Time
		if tokens != nil {
			token, ok, err := tokens.Token(pctx, mac)
			if err != nil {
				return nil, err
			}
			if ok {
				since = token.StartDate
			}
		}
		progress, err := dev.DownloadLogs(pctx, since)
		return &downloadStarted{progress: progress, err: err}, nil
	}).Recover(func(err error) downloadStarted {
		return downloadStarted{err: err}
	}).PipeTo(ctx.Self())
	return state
}

func (state *DADownloadingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case downloadStarted:
		if msg.err != nil {
			state.actor.fail(ctx, msg.err)
			return
		}
		send := state.actor.send
		go func() {
			for p := range msg.progress {
				send(downloadChunk{progress: p})
			}
			send(downloadEnded{})
		}()
	case downloadChunk:
		for signal, rows := range msg.progress.Records {
			state.records[signal] = append(state.records[signal], rows...)
		}
		if msg.progress.Percent > state.percent {
			state.percent = min(msg.progress.Percent, 100)
			if state.percent < 100 {
				state.actor.progress(ctx, state.percent)
			}
		}
	case downloadEnded:
		if state.percent < 100 {
			state.actor.fail(ctx, fmt.Errorf("%w: download stopped at %d%%", domain.ErrDeviceUnavailable, state.percent))
			return
		}
		if tokens := state.actor.params.Tokens; tokens != nil {
			if err := tokens.Release(context.Background(), state.actor.mac()); err != nil {
				state.actor.logger.Error("device_action@downloading could not release token", zap.Error(err))
			}
		}
		state.actor.finish(ctx, deviceCompleted{mac: state.actor.mac(), attempt: state.actor.attempt(), tables: state.tables()})
	case cancelPipeline:
		state.actor.cancelled(ctx, state.tables())
	default:
		state.actor.logger.Debug("device_action@downloading recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// tables orders the downloaded records like the signals of a configuration.
func (state *DADownloadingState) tables() []domain.DataTable {
	var tables []domain.DataTable
	for _, signal := range allSignals {
		if rows, ok := state.records[signal]; ok && len(rows) > 0 {
			tables = append(tables, domain.DataTable{Signal: signal, Rows: rows})
		}
	}
	return tables
}

var allSignals = []domain.Signal{
	domain.SignalAccelerometer,
	domain.SignalGyroscope,
	domain.SignalMagnetometer,
	domain.SignalPressure,
	domain.SignalAmbientLight,
	domain.SignalHumidity,
	domain.SignalTemperature,
	domain.SignalEulerAngles,
	domain.SignalGravity,
	domain.SignalLinearAcceleration,
	domain.SignalQuaternion,
	domain.SignalButton,
}

// Done state

type DADoneState struct {
	ActorState
	actor *DeviceActionActor
}

func (state DADoneState) Name() string {
	return "done"
}

func (state DADoneState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Stopped:
	default:
		state.actor.logger.Debug("device_action@done drop", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

var errPipelineStopped = errors.New("pipeline stopped unexpectedly")
