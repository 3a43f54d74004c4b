package actor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/mbientlab/metabase/internal/adapter/device/simulator"
	"github.com/mbientlab/metabase/internal/adapter/store/boltstore"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/service"
	"github.com/mbientlab/metabase/internal/util"
	"github.com/mbientlab/metabase/internal/util/actorutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pipelineFixture struct {
	root    *actor.RootContext
	parent  *actor.PID
	events  *eventstream.EventStream
	device  *simulator.Device
	store   *boltstore.Store
	results chan any
}

// newPipelineFixture spawns a pipeline under a parent that forwards every
// pipeline event to results. prepare runs on the device before the spawn.
func newPipelineFixture(t *testing.T, action domain.ActionType, cfg domain.ModulesConfiguration,
	prepare func(dev *simulator.Device)) *pipelineFixture {
	logger := zap.Must(zap.NewDevelopment())
	testCfg := util.LoadTestConfig()

	devices, err := simulator.NewStoreFromConfig(testCfg.Devices, logger)
	require.NoError(t, err)
	device, _ := devices.Device(leftMAC)
	if prepare != nil {
		prepare(device)
	}

	events := &eventstream.EventStream{}
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "metabase.db"), events)
	require.NoError(t, err)

	results := make(chan any, 64)
	params := DeviceActionParams{
		Action: action,
		Dispatch: service.Dispatch{
			Item:    service.QueueItem{Meta: device.Meta(), Device: device, Config: cfg},
			Attempt: 1,
		},
		SessionName: "test",
		Date:        time.Now(),
		Devices:     devices,
		Tokens:      store,
		Counters:    service.NewStreamingCounters(),
		EventStream: events,
		Config:      testCfg.Action,
	}

	as := actorutil.NewActorSystemWithZapLogger(logger)
	parent := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			ctx.Spawn(actor.PropsFromProducer(func() actor.Actor {
				return NewDeviceActionActor(params, logger)
			}))
		case deviceConnected, deviceProgress, deviceCompleted, deviceFailed, deviceCancelled:
			results <- msg
		case cancelPipeline:
			for _, child := range ctx.Children() {
				ctx.Send(child, msg)
			}
		}
	}))

	t.Cleanup(func() {
		as.Root.Stop(parent)
		as.Shutdown()
		store.Close()
	})
	return &pipelineFixture{
		root:    as.Root,
		parent:  parent,
		events:  events,
		device:  device,
		store:   store,
		results: results,
	}
}

// terminal waits for the first terminal event and collects progress on
// the way.
func (f *pipelineFixture) terminal(t *testing.T) (any, []int) {
	var percents []int
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-f.results:
			switch m := msg.(type) {
			case deviceProgress:
				percents = append(percents, m.percent)
			case deviceConnected:
			default:
				return msg, percents
			}
		case <-timeout:
			t.Fatal("pipeline did not finish")
			return nil, nil
		}
	}
}

func TestDeviceActionStream(t *testing.T) {

	assert := assert.New(t)
	f := newPipelineFixture(t, domain.ActionStream, domain.ModulesConfiguration{
		Mode:          domain.ModeStream,
		Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
	}, nil)

	time.Sleep(300 * time.Millisecond)
	f.events.Publish(domain.StopStreamingEvent{})

	msg, _ := f.terminal(t)
	completed, ok := msg.(deviceCompleted)
	require.True(t, ok, "got %T", msg)
	assert.Equal(leftMAC, completed.mac)
	assert.Equal(uint64(1), completed.attempt)
	require.Len(t, completed.tables, 1)
	assert.Equal(domain.SignalAccelerometer, completed.tables[0].Signal)
	assert.NotEmpty(completed.tables[0].Rows)
}

func TestDeviceActionStreamUndo(t *testing.T) {

	assert := assert.New(t)
	f := newPipelineFixture(t, domain.ActionStream, domain.ModulesConfiguration{
		Mode:          domain.ModeStream,
		Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
	}, nil)

	time.Sleep(200 * time.Millisecond)
	f.events.Publish(domain.StopStreamingEvent{Undo: true})

	msg, _ := f.terminal(t)
	cancelled, ok := msg.(deviceCancelled)
	require.True(t, ok, "got %T", msg)
	assert.Empty(cancelled.tables)
}

func TestDeviceActionConnectTimeout(t *testing.T) {

	assert := assert.New(t)
	f := newPipelineFixture(t, domain.ActionLog, domain.ModulesConfiguration{
		Mode:          domain.ModeLog,
		Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
	}, func(dev *simulator.Device) {
		dev.SetFaults(simulator.Faults{FailConnect: true})
	})

	msg, _ := f.terminal(t)
	failed, ok := msg.(deviceFailed)
	require.True(t, ok, "got %T", msg)
	assert.True(domain.IsTimeout(failed.err))
	assert.Equal(domain.TimedOut(), domain.StateFromError(failed.err))
}

func TestDeviceActionLog(t *testing.T) {

	assert := assert.New(t)
	f := newPipelineFixture(t, domain.ActionLog, domain.ModulesConfiguration{
		Mode:          domain.ModeLog,
		Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
	}, nil)

	msg, percents := f.terminal(t)
	_, ok := msg.(deviceCompleted)
	require.True(t, ok, "got %T", msg)
	assert.Len(percents, 6)
	assert.IsIncreasing(percents)
	assert.True(f.device.IsLogging())

	token, found, err := f.store.Token(context.Background(), leftMAC)
	require.NoError(t, err)
	assert.True(found)
	assert.Equal("test", token.SessionName)
}

func TestDeviceActionDownloadCancel(t *testing.T) {

	assert := assert.New(t)
	f := newPipelineFixture(t, domain.ActionDownload, domain.ModulesConfiguration{}, func(dev *simulator.Device) {
		ctx := context.Background()
		require.NoError(t, dev.WhenConnected(ctx))
		require.NoError(t, dev.ProgramLogging(ctx, domain.ModulesConfiguration{
			Mode:          domain.ModeLog,
			Accelerometer: &domain.AccelerometerConfig{RateHz: 50, RangeG: 4},
		}))
		dev.SetFaults(simulator.Faults{DownloadSteps: 2, SampleInterval: 300 * time.Millisecond})
	})

	// wait for a first chunk, then cancel
	select {
	case msg := <-f.results:
		if _, ok := msg.(deviceConnected); ok {
			msg = <-f.results
		}
		_, ok := msg.(deviceProgress)
		require.True(t, ok, "got %T", msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no progress")
	}
	f.root.Send(f.parent, cancelPipeline{})

	msg, _ := f.terminal(t)
	cancelled, ok := msg.(deviceCancelled)
	require.True(t, ok, "got %T", msg)
	require.Len(t, cancelled.tables, 1)
	assert.NotEmpty(cancelled.tables[0].Rows)
}
