package actor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/mbientlab/metabase/internal/adapter/device/simulator"
	"github.com/mbientlab/metabase/internal/adapter/store/boltstore"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/mbientlab/metabase/internal/core/service"
	"github.com/mbientlab/metabase/internal/util"
	"github.com/mbientlab/metabase/internal/util/actorutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	leftMAC  = "F5:6C:BE:D5:61:47"
	rightMAC = "C8:4B:AA:97:50:05"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []any
}

func (r *eventRecorder) record(evt any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func recorded[T any](r *eventRecorder) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, evt := range r.events {
		if e, ok := evt.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

type orchestratorFixture struct {
	root     *actor.RootContext
	pid      *actor.PID
	devices  *simulator.Store
	store    *boltstore.Store
	recorder *eventRecorder
}

func newOrchestratorFixture(t *testing.T, opts ...actor.PropsOption) *orchestratorFixture {
	logger := zap.Must(zap.NewDevelopment())
	cfg := util.LoadTestConfig()

	devices, err := simulator.NewStoreFromConfig(cfg.Devices, logger)
	require.NoError(t, err)

	events := &eventstream.EventStream{}
	recorder := &eventRecorder{}
	events.Subscribe(recorder.record)

	store, err := boltstore.Open(filepath.Join(t.TempDir(), "metabase.db"), events)
	require.NoError(t, err)

	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewActionOrchestrator(&cfg, devices, store, store, events, logger)
	}, opts...)
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_ORCHESTRATOR)
	require.NoError(t, err)

	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
		store.Close()
	})
	return &orchestratorFixture{
		root:     as.Root,
		pid:      pid,
		devices:  devices,
		store:    store,
		recorder: recorder,
	}
}

func (f *orchestratorFixture) metas(t *testing.T) []domain.DeviceMeta {
	metas, err := f.devices.Devices(context.Background())
	require.NoError(t, err)
	return metas
}

func (f *orchestratorFixture) request(t *testing.T, req any) any {
	res, err := f.root.RequestFuture(f.pid, req, 2*time.Second).Result()
	require.NoError(t, err)
	return res
}

func (f *orchestratorFixture) actionState(t *testing.T) domain.ActionStateResponse {
	resp, ok := f.request(t, domain.GetActionStateRequest{}).(domain.ActionStateResponse)
	require.True(t, ok)
	return resp
}

func accelerometerSelection() domain.SensorSelection {
	return domain.SensorSelection{
		Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
	}
}

func TestOrchestratorRejectsRequests(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)

	start := f.request(t, domain.StartActionRequest{Action: domain.ActionStream}).(domain.StartActionResponse)
	assert.ErrorIs(start.ResponseError, domain.ErrIllegalParameter)

	start = f.request(t, domain.StartActionRequest{Action: domain.ActionStream, Devices: f.metas(t)}).(domain.StartActionResponse)
	assert.ErrorIs(start.ResponseError, domain.ErrIllegalParameter, "nothing selected")

	stop := f.request(t, domain.StopStreamingRequest{}).(domain.StopStreamingResponse)
	assert.ErrorIs(stop.ResponseError, domain.ErrNoAction)

	cancel := f.request(t, domain.CancelAndUndoRequest{}).(domain.CancelAndUndoResponse)
	assert.ErrorIs(cancel.ResponseError, domain.ErrNoAction)

	retry := f.request(t, domain.RetryDeviceRequest{MAC: leftMAC}).(domain.RetryDeviceResponse)
	assert.ErrorIs(retry.ResponseError, domain.ErrNoAction)

	health := f.request(t, domain.ActorHealthRequest{}).(domain.ActorHealthResponse)
	assert.True(health.Healthy)
	assert.Equal("idle", health.State)
}

func TestOrchestratorStreamSession(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)

	start := f.request(t, domain.StartActionRequest{
		Action:      domain.ActionStream,
		Devices:     f.metas(t),
		Selection:   accelerometerSelection(),
		SessionName: "walk",
		GroupId:     "legs",
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)
	assert.Len(start.States, 2)

	again := f.request(t, domain.StartActionRequest{
		Action:    domain.ActionStream,
		Devices:   f.metas(t),
		Selection: accelerometerSelection(),
	}).(domain.StartActionResponse)
	assert.ErrorIs(again.ResponseError, domain.ErrActionRunning)

	health := f.request(t, domain.ActorHealthRequest{}).(domain.ActorHealthResponse)
	assert.Equal("running", health.State)

	time.Sleep(300 * time.Millisecond)
	stop := f.request(t, domain.StopStreamingRequest{}).(domain.StopStreamingResponse)
	require.NoError(t, stop.ResponseError)

	assert.Eventually(func() bool {
		return len(recorded[domain.SessionSavedEvent](f.recorder)) == 1
	}, 3*time.Second, 20*time.Millisecond)

	saved := recorded[domain.SessionSavedEvent](f.recorder)[0].Session
	assert.Equal("walk", saved.Name)
	assert.Equal("legs", saved.GroupId)
	assert.True(saved.Completed)
	assert.ElementsMatch([]string{leftMAC, rightMAC}, saved.Devices)

	files, err := f.store.FetchFiles(context.Background(), saved.Id)
	require.NoError(t, err)
	assert.Len(files, 2)

	assert.NotEmpty(recorded[domain.StreamingCountersEvent](f.recorder))
	assert.Len(recorded[domain.ActionRunDoneEvent](f.recorder), 1)

	state := f.actionState(t)
	assert.False(state.Running)
	assert.True(state.Done)
	assert.Equal(&saved.Id, state.SavedSession)
	assert.Equal(domain.Completed(), state.States[leftMAC])
}

func TestOrchestratorLogThenDownload(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	start := f.request(t, domain.StartActionRequest{
		Action:      domain.ActionLog,
		Devices:     f.metas(t),
		Selection:   accelerometerSelection(),
		SessionName: "run",
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)

	// one device at a time
	state := f.actionState(t)
	assert.Len(state.InFlight, 1)
	assert.Equal(1, state.Queued)

	assert.Eventually(func() bool {
		return len(recorded[domain.ActionRunDoneEvent](f.recorder)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	tokens, err := f.store.Tokens(ctx)
	require.NoError(t, err)
	assert.Len(tokens, 2)
	assert.Equal("run", tokens[0].SessionName)
	assert.Empty(recorded[domain.SessionSavedEvent](f.recorder), "logging saves no session")

	for _, mac := range []string{leftMAC, rightMAC} {
		dev, _ := f.devices.Device(mac)
		assert.True(dev.IsLogging())
	}

	start = f.request(t, domain.StartActionRequest{
		Action:      domain.ActionDownload,
		Devices:     f.metas(t),
		SessionName: "run",
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)

	assert.Eventually(func() bool {
		return len(recorded[domain.SessionSavedEvent](f.recorder)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	saved := recorded[domain.SessionSavedEvent](f.recorder)[0].Session
	files, err := f.store.FetchFiles(ctx, saved.Id)
	require.NoError(t, err)
	assert.Len(files, 2)

	tokens, err = f.store.Tokens(ctx)
	require.NoError(t, err)
	assert.Empty(tokens, "download releases the tokens")

	var progressed bool
	for _, evt := range recorded[domain.ActionStateChangedEvent](f.recorder) {
		if evt.Action == domain.ActionDownload && evt.State.Kind == domain.StateWorking && evt.State.Progress > 0 {
			progressed = true
		}
	}
	assert.True(progressed, "download reports progress")
}

func TestOrchestratorRetryAfterTimeout(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)

	right, _ := f.devices.Device(rightMAC)
	right.SetFaults(simulator.Faults{FailConnect: true})

	start := f.request(t, domain.StartActionRequest{
		Action:    domain.ActionLog,
		Devices:   f.metas(t),
		Selection: accelerometerSelection(),
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)

	assert.Eventually(func() bool {
		return len(recorded[domain.ActionRunDoneEvent](f.recorder)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	state := f.actionState(t)
	assert.Equal(domain.StateCompleted, state.States[leftMAC].Kind)
	assert.Equal(domain.StateTimeout, state.States[rightMAC].Kind)
	assert.Zero(state.Queued, "failures are not retried on their own")

	retry := f.request(t, domain.RetryDeviceRequest{MAC: leftMAC}).(domain.RetryDeviceResponse)
	assert.False(retry.Requeued, "completed devices are left alone")

	right.SetFaults(simulator.Faults{})
	retry = f.request(t, domain.RetryDeviceRequest{MAC: rightMAC}).(domain.RetryDeviceResponse)
	require.NoError(t, retry.ResponseError)
	assert.True(retry.Requeued)

	assert.Eventually(func() bool {
		return len(recorded[domain.ActionRunDoneEvent](f.recorder)) == 2
	}, 5*time.Second, 20*time.Millisecond)

	state = f.actionState(t)
	assert.Equal(domain.StateCompleted, state.States[leftMAC].Kind)
	assert.Equal(domain.StateCompleted, state.States[rightMAC].Kind)
	assert.True(right.IsLogging())
}

func TestOrchestratorCancelAndUndo(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)

	start := f.request(t, domain.StartActionRequest{
		Action:    domain.ActionStream,
		Devices:   f.metas(t),
		Selection: accelerometerSelection(),
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)

	time.Sleep(200 * time.Millisecond)
	cancel := f.request(t, domain.CancelAndUndoRequest{}).(domain.CancelAndUndoResponse)
	require.NoError(t, cancel.ResponseError)
	assert.ElementsMatch([]string{leftMAC, rightMAC}, cancel.Cancelled)

	state := f.actionState(t)
	assert.False(state.Running)
	assert.Equal(domain.NotStarted(), state.States[leftMAC])
	assert.Equal(domain.NotStarted(), state.States[rightMAC])

	undo := recorded[domain.StopStreamingEvent](f.recorder)
	require.Len(t, undo, 1)
	assert.True(undo[0].Undo)

	// a new run can start once every pipeline acknowledged the cancel
	assert.Eventually(func() bool {
		resp := f.request(t, domain.StartActionRequest{
			Action:    domain.ActionLog,
			Devices:   f.metas(t),
			Selection: accelerometerSelection(),
		}).(domain.StartActionResponse)
		return resp.ResponseError == nil
	}, 3*time.Second, 50*time.Millisecond)

	assert.Empty(recorded[domain.SessionSavedEvent](f.recorder), "undone streams keep nothing")
}

func TestOrchestratorCancelDownloadKeepsPartialData(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	left, _ := f.devices.Device(leftMAC)
	require.NoError(t, left.WhenConnected(ctx))
	require.NoError(t, left.ProgramLogging(ctx, domain.ModulesConfiguration{
		Mode:          domain.ModeLog,
		Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
	}))
	left.SetFaults(simulator.Faults{DownloadSteps: 4, SampleInterval: 300 * time.Millisecond})

	start := f.request(t, domain.StartActionRequest{
		Action:      domain.ActionDownload,
		Devices:     f.metas(t)[:1],
		SessionName: "partial",
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)

	assert.Eventually(func() bool {
		st := f.actionState(t).States[leftMAC]
		return st.Kind == domain.StateWorking && st.Progress >= 25
	}, 3*time.Second, 20*time.Millisecond)

	cancel := f.request(t, domain.CancelAndUndoRequest{}).(domain.CancelAndUndoResponse)
	require.NoError(t, cancel.ResponseError)

	assert.Eventually(func() bool {
		return len(recorded[domain.SessionSavedEvent](f.recorder)) == 1
	}, 3*time.Second, 20*time.Millisecond)

	saved := recorded[domain.SessionSavedEvent](f.recorder)[0].Session
	assert.False(saved.Completed)
	assert.Equal("partial", saved.Name)
}

func TestOrchestratorRestartFailures(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)

	right, _ := f.devices.Device(rightMAC)
	right.SetFaults(simulator.Faults{FailConnect: true})

	start := f.request(t, domain.StartActionRequest{
		Action:    domain.ActionLog,
		Devices:   f.metas(t),
		Selection: accelerometerSelection(),
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)

	assert.Eventually(func() bool {
		return len(recorded[domain.ActionRunDoneEvent](f.recorder)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	leftDispatches := func() int {
		n := 0
		for _, evt := range recorded[domain.ActionStateChangedEvent](f.recorder) {
			if evt.MAC == leftMAC && evt.State == domain.Working(0) {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, leftDispatches())

	right.SetFaults(simulator.Faults{})
	restart := f.request(t, domain.RestartFailuresRequest{}).(domain.StartActionResponse)
	require.NoError(t, restart.ResponseError)
	assert.Equal(domain.Completed(), restart.States[leftMAC])
	assert.Equal(domain.StateWorking, restart.States[rightMAC].Kind)

	assert.Eventually(func() bool {
		return len(recorded[domain.ActionRunDoneEvent](f.recorder)) == 2
	}, 5*time.Second, 20*time.Millisecond)

	state := f.actionState(t)
	assert.Equal(domain.Completed(), state.States[leftMAC])
	assert.Equal(domain.Completed(), state.States[rightMAC])
	assert.Equal(1, leftDispatches(), "completed devices do not run again")
	assert.True(right.IsLogging())

	again := f.request(t, domain.RestartFailuresRequest{}).(domain.StartActionResponse)
	assert.ErrorIs(again.ResponseError, domain.ErrNoAction, "nothing left to restart")
}

// heldAck carries a pipeline's cancel acknowledgement past the messages
// queued behind it.
type heldAck struct {
	msg deviceCancelled
}

func holdCancelAcks(delay time.Duration) actor.ReceiverMiddleware {
	return func(next actor.ReceiverFunc) actor.ReceiverFunc {
		return func(c actor.ReceiverContext, env *actor.MessageEnvelope) {
			switch msg := env.Message.(type) {
			case deviceCancelled:
				root, self := c.ActorSystem().Root, c.Self()
				time.AfterFunc(delay, func() { root.Send(self, heldAck{msg: msg}) })
				return
			case heldAck:
				next(c, &actor.MessageEnvelope{Header: env.Header, Message: msg.msg, Sender: env.Sender})
				return
			}
			next(c, env)
		}
	}
}

func TestOrchestratorRefusesRequeueWhileCancelling(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t, actor.WithReceiverMiddleware(holdCancelAcks(300*time.Millisecond)))

	left, _ := f.devices.Device(leftMAC)
	left.SetFaults(simulator.Faults{ConnectDelay: 200 * time.Millisecond})

	start := f.request(t, domain.StartActionRequest{
		Action:    domain.ActionLog,
		Devices:   f.metas(t),
		Selection: accelerometerSelection(),
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)
	require.Equal(t, []string{leftMAC}, f.actionState(t).InFlight)

	cancel := f.request(t, domain.CancelAndUndoRequest{}).(domain.CancelAndUndoResponse)
	require.NoError(t, cancel.ResponseError)
	assert.Equal([]string{leftMAC}, cancel.Cancelled)

	// the cancelled pipeline still holds the board
	retry := f.request(t, domain.RetryDeviceRequest{MAC: leftMAC}).(domain.RetryDeviceResponse)
	assert.ErrorIs(retry.ResponseError, domain.ErrActionRunning)
	assert.False(retry.Requeued)

	restart := f.request(t, domain.RestartFailuresRequest{}).(domain.StartActionResponse)
	assert.ErrorIs(restart.ResponseError, domain.ErrActionRunning)
	assert.Empty(f.actionState(t).InFlight)

	assert.Eventually(func() bool {
		retry := f.request(t, domain.RetryDeviceRequest{MAC: leftMAC}).(domain.RetryDeviceResponse)
		return retry.ResponseError == nil && retry.Requeued
	}, 3*time.Second, 50*time.Millisecond)

	assert.Eventually(func() bool {
		return f.actionState(t).States[leftMAC] == domain.Completed()
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(domain.NotStarted(), f.actionState(t).States[rightMAC])
}

func TestRequeueError(t *testing.T) {

	assert := assert.New(t)

	o := &ActionOrchestrator{}
	assert.ErrorIs(o.requeueError(), domain.ErrNoAction)

	o.run = service.NewActionRun(domain.ActionLog, []service.QueueItem{{Meta: domain.DeviceMeta{MAC: leftMAC}}})
	assert.NoError(o.requeueError())

	o.pendingCancels = 1
	assert.ErrorIs(o.requeueError(), domain.ErrActionRunning)
}

func TestOrchestratorEmptyDownload(t *testing.T) {

	assert := assert.New(t)
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	left, _ := f.devices.Device(leftMAC)
	require.NoError(t, left.WhenConnected(ctx))
	require.NoError(t, left.ProgramLogging(ctx, domain.ModulesConfiguration{
		Mode:          domain.ModeLog,
		Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
	}))
	left.SetFaults(simulator.Faults{EmptyDownload: true, DownloadSteps: 2})

	start := f.request(t, domain.StartActionRequest{
		Action:      domain.ActionDownload,
		Devices:     f.metas(t)[:1],
		SessionName: "empty",
	}).(domain.StartActionResponse)
	require.NoError(t, start.ResponseError)

	assert.Eventually(func() bool {
		return len(recorded[domain.ActionRunDoneEvent](f.recorder)) == 1
	}, 3*time.Second, 20*time.Millisecond)

	state := f.actionState(t)
	assert.Equal(domain.Completed(), state.States[leftMAC])
	assert.Nil(state.SavedSession)

	assert.Never(func() bool {
		return len(recorded[domain.SessionSavedEvent](f.recorder)) > 0
	}, 300*time.Millisecond, 20*time.Millisecond, "no rows, no session")

	sessions, err := f.store.FetchSessions(ctx, port.SessionQuery{})
	require.NoError(t, err)
	assert.Empty(sessions)
}
