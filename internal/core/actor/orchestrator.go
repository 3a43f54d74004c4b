package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"github.com/mbientlab/metabase/internal/config"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/mbientlab/metabase/internal/core/service"
	. "github.com/mbientlab/metabase/internal/util/actorutil"
	"go.uber.org/zap"
)

type flushCounters struct{}

type sessionSaved struct {
	session domain.Session
	partial bool
	err     error
}

type childInfo struct {
	pid        *actor.PID
	mac        string
	attempt    uint64
	cancelling bool
}

// ActionOrchestrator owns the action run and spawns one pipeline per
// dispatched device.
type ActionOrchestrator struct {
	ActorWithStates
	config      *config.Config
	scheduler   *scheduler.TimerScheduler
	eventStream *eventstream.EventStream
	devices     port.DeviceStore
	sessions    port.SessionRepository
	tokens      port.LoggingTokenRegistry
	counters    *service.StreamingCounters

	run         *service.ActionRun
	runSeq      int
	request     domain.StartActionRequest
	children    map[string]*childInfo
	cancelFlush scheduler.CancelFunc

	savedSession *uuid.UUID
	saveError    string
	// data a cancelled download already took off the devices
	partialFiles   []domain.File
	pendingCancels int

	logger *zap.Logger
}

func NewActionOrchestrator(config *config.Config, devices port.DeviceStore, sessions port.SessionRepository,
	tokens port.LoggingTokenRegistry, eventStream *eventstream.EventStream, logger *zap.Logger) *ActionOrchestrator {
	logger = ActorLogger(domain.ACTOR_ID_ORCHESTRATOR, logger)
	act := &ActionOrchestrator{
		config:      config,
		eventStream: eventStream,
		devices:     devices,
		sessions:    sessions,
		tokens:      tokens,
		counters:    service.NewStreamingCounters(),
		children:    make(map[string]*childInfo),
		logger:      logger,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
			Logger:   logger,
		},
	}
	act.Become(AOIdleState{actor: act})
	return act
}

func (state *ActionOrchestrator) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (state *ActionOrchestrator) publish(event any) {
	if state.eventStream != nil {
		state.eventStream.Publish(event)
	}
}

func (state *ActionOrchestrator) publishState(mac string) {
	state.publish(domain.ActionStateChangedEvent{
		MAC:    mac,
		Action: state.run.Action(),
		State:  state.run.State(mac),
	})
}

func (state *ActionOrchestrator) actionState() domain.ActionStateResponse {
	resp := domain.ActionStateResponse{
		SavedSession: state.savedSession,
		SaveError:    state.saveError,
		States:       map[string]domain.ActionState{},
		InFlight:     []string{},
	}
	if state.run != nil {
		resp.Action = state.run.Action()
		resp.SessionName = state.request.SessionName
		resp.States = state.run.States()
		resp.Queued = state.run.Queued()
		resp.InFlight = state.run.InFlight()
		resp.Done = state.run.Done()
		resp.Running = len(resp.InFlight) > 0 || resp.Queued > 0
	}
	return resp
}

// buildRun resolves the request into queue items.
func (state *ActionOrchestrator) buildRun(req domain.StartActionRequest) (*service.ActionRun, error) {
	if len(req.Devices) == 0 {
		return nil, fmt.Errorf("%w: no devices", domain.ErrIllegalParameter)
	}
	modules := make([]domain.DeviceModules, 0, len(req.Devices))
	for _, meta := range req.Devices {
		modules = append(modules, meta.Modules)
	}
	legal := service.NewLegalSensorParameters(modules)

	mode := req.Mode
	switch req.Action {
	case domain.ActionStream:
		mode = domain.ModeStream
	case domain.ActionLog:
		if mode == "" || mode == domain.ModeStream {
			mode = domain.ModeLog
		}
	}

	items := make([]service.QueueItem, 0, len(req.Devices))
	for _, meta := range req.Devices {
		item := service.QueueItem{Meta: meta}
		if req.Action != domain.ActionDownload {
			cfg, err := service.BuildModulesConfiguration(req.Selection, meta.Modules, legal, mode)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", meta.MAC, err)
			}
			if cfg.IsEmpty() {
				return nil, fmt.Errorf("%w: no sensor selected", domain.ErrIllegalParameter)
			}
			item.Config = cfg
		}
		items = append(items, item)
	}
	return service.NewActionRun(req.Action, items), nil
}

// dispatch spawns a pipeline for every item the run hands out.
func (state *ActionOrchestrator) dispatch(ctx actor.Context) {
	for _, d := range state.run.Start() {
		d := d
		props := actor.PropsFromProducer(func() actor.Actor {
			return NewDeviceActionActor(DeviceActionParams{
				Action:      state.run.Action(),
				Dispatch:    d,
				SessionName: state.request.SessionName,
				Date:        state.request.Date,
				Devices:     state.devices,
				Tokens:      state.tokens,
				Counters:    state.counters,
				EventStream: state.eventStream,
				Config:      state.config.Action,
			}, state.logger)
		}, actor.WithSupervisor(pipelineSupervisor))
		name := fmt.Sprintf("%s_%s_%d_%d", domain.ACTOR_ID_DEVICE, domain.MACId(d.Item.MAC()), state.runSeq, d.Attempt)
		pid, err := ctx.SpawnNamed(props, name)
		if err != nil {
			state.logger.Error("orchestrator: could not spawn pipeline", zap.String("mac", d.Item.MAC()), zap.Error(err))
			state.run.Fail(d.Item.MAC(), d.Attempt, err)
			state.publishState(d.Item.MAC())
			continue
		}
		state.children[pid.Id] = &childInfo{pid: pid, mac: d.Item.MAC(), attempt: d.Attempt}
		state.publishState(d.Item.MAC())
	}
}

// a crashing pipeline is stopped and reported as failed
var pipelineSupervisor = actor.NewOneForOneStrategy(0, time.Second, func(reason interface{}) actor.Directive {
	return actor.StopDirective
})

func (state *ActionOrchestrator) findChild(mac string, attempt uint64) (string, *childInfo) {
	for id, child := range state.children {
		if child.mac == mac && child.attempt == attempt {
			return id, child
		}
	}
	return "", nil
}

// release forgets and stops the pipeline of a terminal event.
func (state *ActionOrchestrator) release(ctx actor.Context, mac string, attempt uint64) *childInfo {
	id, child := state.findChild(mac, attempt)
	if child == nil {
		return nil
	}
	delete(state.children, id)
	ctx.Stop(child.pid)
	return child
}

// handlePipelineEvent applies a pipeline event in any state. It reports
// whether the message was a pipeline event.
func (state *ActionOrchestrator) handlePipelineEvent(ctx actor.Context) bool {
	switch msg := ctx.Message().(type) {
	case deviceConnected:
		state.logger.Debug("orchestrator: deviceConnected", zap.String("mac", msg.mac))
		if state.run != nil {
			state.run.Connected(msg.mac, msg.attempt, msg.device)
		}
	case deviceProgress:
		if state.run != nil && state.run.Progress(msg.mac, msg.attempt, msg.percent) {
			state.publishState(msg.mac)
		}
	case deviceCompleted:
		state.onDeviceCompleted(ctx, msg)
	case deviceFailed:
		state.onDeviceFailed(ctx, msg)
	case deviceCancelled:
		state.onDeviceCancelled(ctx, msg.mac, msg.attempt, msg.tables)
	case flushCounters:
		if state.counters.Dirty() {
			state.publish(domain.StreamingCountersEvent{Counts: state.counters.Snapshot()})
		}
	case sessionSaved:
		state.onSessionSaved(msg)
	case *actor.Terminated:
		child, ok := state.children[msg.Who.Id]
		if !ok {
			return true
		}
		state.logger.Warn("orchestrator: pipeline terminated", zap.String("mac", child.mac))
		if child.cancelling {
			state.onDeviceCancelled(ctx, child.mac, child.attempt, nil)
		} else {
			state.onDeviceFailed(ctx, deviceFailed{mac: child.mac, attempt: child.attempt, err: errPipelineStopped})
		}
	default:
		return false
	}
	return true
}

func (state *ActionOrchestrator) onDeviceCompleted(ctx actor.Context, msg deviceCompleted) {
	child := state.release(ctx, msg.mac, msg.attempt)
	if child != nil && child.cancelling {
		// finished before the cancel reached it
		state.onDeviceCancelled(ctx, msg.mac, msg.attempt, msg.tables)
		return
	}
	if state.run == nil || !state.run.Succeed(msg.mac, msg.attempt) {
		state.logger.Debug("orchestrator: stale deviceCompleted", zap.String("mac", msg.mac))
		return
	}
	state.logger.Debug("orchestrator: deviceCompleted", zap.String("mac", msg.mac), zap.Int("tables", len(msg.tables)))
	state.publishState(msg.mac)

	if state.run.Action() != domain.ActionLog {
		item, _ := state.run.Item(msg.mac)
		files, err := service.TablesToFiles(item.Meta, msg.tables, state.request.Date)
		if err != nil {
			state.logger.Error("orchestrator: could not encode tables", zap.String("mac", msg.mac), zap.Error(err))
		}
		if state.run.RecordReady(files) {
			state.saveSession(ctx, state.run.Files(), false)
		}
	}
	state.advance(ctx)
}

func (state *ActionOrchestrator) onDeviceFailed(ctx actor.Context, msg deviceFailed) {
	child := state.release(ctx, msg.mac, msg.attempt)
	if child != nil && child.cancelling {
		state.onDeviceCancelled(ctx, msg.mac, msg.attempt, nil)
		return
	}
	if state.run == nil || !state.run.Fail(msg.mac, msg.attempt, msg.err) {
		state.logger.Debug("orchestrator: stale deviceFailed", zap.String("mac", msg.mac))
		return
	}
	state.logger.Info("orchestrator: deviceFailed", zap.String("mac", msg.mac), zap.Error(msg.err))
	state.publishState(msg.mac)
	state.advance(ctx)
}

// onDeviceCancelled counts down the pipelines of a cancelled run. Once
// all reported, downloaded data that left the devices is saved.
func (state *ActionOrchestrator) onDeviceCancelled(ctx actor.Context, mac string, attempt uint64, tables []domain.DataTable) {
	state.release(ctx, mac, attempt)
	if state.pendingCancels == 0 {
		return
	}
	state.pendingCancels--
	if state.run != nil && state.run.Action() == domain.ActionDownload && len(tables) > 0 {
		item, _ := state.run.Item(mac)
		files, err := service.TablesToFiles(item.Meta, tables, state.request.Date)
		if err != nil {
			state.logger.Error("orchestrator: could not encode partial tables", zap.String("mac", mac), zap.Error(err))
		}
		state.partialFiles = append(state.partialFiles, files...)
	}
	if state.pendingCancels == 0 && len(state.partialFiles) > 0 {
		state.saveSession(ctx, state.partialFiles, true)
		state.partialFiles = nil
	}
}

// advance dispatches the next queued items and settles the run once every
// device is terminal. A drained queue is not rebuilt here: failures wait
// for a retry or a restart.
func (state *ActionOrchestrator) advance(ctx actor.Context) {
	if state.run.Queued() > 0 {
		state.dispatch(ctx)
	}
	if len(state.run.InFlight()) > 0 {
		return
	}
	if state.run.Done() {
		state.logger.Info("orchestrator: run done", zap.String("action", state.run.Action().String()))
		state.stopFlush()
		state.publish(domain.ActionRunDoneEvent{Action: state.run.Action(), States: state.run.States()})
	}
	state.Become(AOIdleState{actor: state})
}

func (state *ActionOrchestrator) startFlush(ctx actor.Context) {
	state.stopFlush()
	interval := state.config.Action.CountersFlushInterval()
	if interval > 0 {
		state.cancelFlush = state.scheduler.SendRepeatedly(interval, interval, ctx.Self(), flushCounters{})
	}
}

func (state *ActionOrchestrator) stopFlush() {
	if state.cancelFlush != nil {
		state.cancelFlush()
		state.cancelFlush = nil
		if state.counters.Dirty() {
			state.publish(domain.StreamingCountersEvent{Counts: state.counters.Snapshot()})
		}
	}
}

func (state *ActionOrchestrator) saveSession(ctx actor.Context, files []domain.File, partial bool) {
	macs := state.run.MACs()
	session := domain.Session{
		Id:        uuid.New(),
		Name:      state.request.SessionName,
		Date:      state.request.Date,
		GroupId:   state.request.GroupId,
		Devices:   macs,
		Completed: !partial,
	}
	state.logger.Info("orchestrator: saving session", zap.String("id", session.Id.String()),
		zap.Int("files", len(files)), zap.Bool("partial", partial))
	sessions := state.sessions
	timeout := state.config.Action.SaveTimeout()
	task := NewBackgroundTask(ctx, func() (*sessionSaved, error) {
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		saved, err := sessions.AddSession(sctx, session, files)
		if err != nil {
			return nil, err
		}
		return &sessionSaved{session: saved, partial: partial}, nil
	}).Recover(func(err error) sessionSaved {
		return sessionSaved{session: session, partial: partial, err: err}
	})
	if timeout > 0 {
		task = task.WithTimeout(timeout)
	}
	task.PipeTo(ctx.Self())
}

func (state *ActionOrchestrator) onSessionSaved(msg sessionSaved) {
	if msg.err != nil {
		state.logger.Error("orchestrator: could not save session", zap.String("name", msg.session.Name), zap.Error(msg.err))
		state.saveError = msg.err.Error()
		state.publish(domain.SessionSaveFailedEvent{SessionName: msg.session.Name, Error: msg.err.Error()})
		return
	}
	id := msg.session.Id
	state.savedSession = &id
	state.saveError = ""
	state.publish(domain.SessionSavedEvent{Session: msg.session})
}

// requeueError tells why failures of the current run cannot go back into
// the queue. Pipelines of a cancelled run still hold their boards until
// they acknowledged the cancel.
func (state *ActionOrchestrator) requeueError() error {
	switch {
	case state.run == nil:
		return domain.ErrNoAction
	case state.pendingCancels > 0:
		return domain.ErrActionRunning
	}
	return nil
}

func (state *ActionOrchestrator) retry(ctx actor.Context, msg domain.RetryDeviceRequest) {
	if err := state.requeueError(); err != nil {
		ForRequest(msg).Respond(ctx, domain.RetryDeviceResponse{ActorResponseMixIn: ErrorResponse(err)})
		return
	}
	requeued := state.run.Retry(msg.MAC)
	state.logger.Debug("orchestrator: retry", zap.String("mac", msg.MAC), zap.Bool("requeued", requeued))
	if requeued {
		state.publishState(msg.MAC)
		if state.run.Action() == domain.ActionStream && state.cancelFlush == nil {
			state.startFlush(ctx)
		}
		state.Become(AORunningState{actor: state})
		state.advance(ctx)
	}
	ForRequest(msg).Respond(ctx, domain.RetryDeviceResponse{Requeued: requeued})
}

// restartFailures runs every failed device of the current run again.
// Devices that completed are left alone.
func (state *ActionOrchestrator) restartFailures(ctx actor.Context, msg domain.RestartFailuresRequest) {
	err := state.requeueError()
	if err == nil && len(state.run.Failures()) == 0 {
		err = domain.ErrNoAction
	}
	if err != nil {
		ForRequest(msg).Respond(ctx, domain.StartActionResponse{ActorResponseMixIn: ErrorResponse(err)})
		return
	}
	failures := state.run.Failures()
	state.logger.Info("orchestrator: restart failures", zap.Strings("macs", failures))
	state.publish(domain.ActionRunStartedEvent{Action: state.run.Action(), Devices: failures})
	if state.run.Action() == domain.ActionStream {
		state.startFlush(ctx)
	}
	state.Become(AORunningState{actor: state})
	state.dispatch(ctx)
	state.advance(ctx)
	ForRequest(msg).Respond(ctx, domain.StartActionResponse{States: state.run.States()})
}

func (state *ActionOrchestrator) health(ctx actor.Context) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_ORCHESTRATOR,
		Healthy: true,
		State:   state.StateName(),
	})
}

// Idle state

type AOIdleState struct {
	ActorState
	actor *ActionOrchestrator
}

func (state AOIdleState) Name() string {
	return "idle"
}

func (state AOIdleState) Receive(ctx actor.Context) {
	if state.actor.handlePipelineEvent(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("orchestrator@idle started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case domain.StartActionRequest:
		state.actor.logger.Debug("orchestrator@idle StartActionRequest", zap.String("action", msg.Action.String()),
			zap.Int("devices", len(msg.Devices)))
		if state.actor.pendingCancels > 0 {
			ForRequest(msg).Respond(ctx, domain.StartActionResponse{ActorResponseMixIn: ErrorResponse(domain.ErrActionRunning)})
			return
		}
		run, err := state.actor.buildRun(msg)
		if err != nil {
			ForRequest(msg).Respond(ctx, domain.StartActionResponse{ActorResponseMixIn: ErrorResponse(err)})
			return
		}
		if msg.Date.IsZero() {
			msg.Date = time.Now()
		}
		state.actor.run = run
		state.actor.runSeq++
		state.actor.request = msg
		state.actor.savedSession = nil
		state.actor.saveError = ""
		state.actor.counters.Reset()
		state.actor.publish(domain.ActionRunStartedEvent{Action: msg.Action, Devices: run.MACs()})
		if msg.Action == domain.ActionStream {
			state.actor.startFlush(ctx)
		}
		state.actor.Become(AORunningState{actor: state.actor})
		state.actor.dispatch(ctx)
		state.actor.advance(ctx)
		ForRequest(msg).Respond(ctx, domain.StartActionResponse{States: run.States()})
	case domain.RetryDeviceRequest:
		state.actor.retry(ctx, msg)
	case domain.RestartFailuresRequest:
		state.actor.restartFailures(ctx, msg)
	case domain.GetActionStateRequest:
		ForRequest(msg).Respond(ctx, state.actor.actionState())
	case domain.StopStreamingRequest:
		ForRequest(msg).Respond(ctx, domain.StopStreamingResponse{ActorResponseMixIn: ErrorResponse(domain.ErrNoAction)})
	case domain.CancelAndUndoRequest:
		ForRequest(msg).Respond(ctx, domain.CancelAndUndoResponse{ActorResponseMixIn: ErrorResponse(domain.ErrNoAction)})
	default:
		state.actor.logger.Debug("orchestrator@idle recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Running state

type AORunningState struct {
	ActorState
	actor *ActionOrchestrator
}

func (state AORunningState) Name() string {
	return "running"
}

func (state AORunningState) Receive(ctx actor.Context) {
	if state.actor.handlePipelineEvent(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case domain.StartActionRequest:
		ForRequest(msg).Respond(ctx, domain.StartActionResponse{ActorResponseMixIn: ErrorResponse(domain.ErrActionRunning)})
	case domain.RestartFailuresRequest:
		ForRequest(msg).Respond(ctx, domain.StartActionResponse{ActorResponseMixIn: ErrorResponse(domain.ErrActionRunning)})
	case domain.RetryDeviceRequest:
		state.actor.retry(ctx, msg)
	case domain.GetActionStateRequest:
		ForRequest(msg).Respond(ctx, state.actor.actionState())
	case domain.StopStreamingRequest:
		if state.actor.run.Action() != domain.ActionStream {
			ForRequest(msg).Respond(ctx, domain.StopStreamingResponse{ActorResponseMixIn: ErrorResponse(domain.ErrNoAction)})
			return
		}
		state.actor.logger.Info("orchestrator@running stop streaming")
		state.actor.publish(domain.StopStreamingEvent{})
		ForRequest(msg).Respond(ctx, domain.StopStreamingResponse{})
	case domain.CancelAndUndoRequest:
		state.actor.logger.Info("orchestrator@running cancel and undo")
		dispatches := state.actor.run.CancelAndUndo()
		cancelled := make([]string, 0, len(dispatches))
		for _, d := range dispatches {
			cancelled = append(cancelled, d.Item.MAC())
			if _, child := state.actor.findChild(d.Item.MAC(), d.Attempt); child != nil {
				child.cancelling = true
				state.actor.pendingCancels++
				ctx.Send(child.pid, cancelPipeline{})
			}
		}
		if state.actor.run.Action() == domain.ActionStream {
			state.actor.publish(domain.StopStreamingEvent{Undo: true})
		}
		for _, mac := range state.actor.run.MACs() {
			state.actor.publishState(mac)
		}
		state.actor.publish(domain.ActionCancelledEvent{Action: state.actor.run.Action(), Cancelled: cancelled})
		state.actor.stopFlush()
		state.actor.Become(AOIdleState{actor: state.actor})
		ForRequest(msg).Respond(ctx, domain.CancelAndUndoResponse{Cancelled: cancelled})
	default:
		state.actor.logger.Debug("orchestrator@running recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
