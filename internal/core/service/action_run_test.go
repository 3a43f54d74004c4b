package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mbientlab/metabase/internal/adapter/device/simulator"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func items(macs ...string) []QueueItem {
	var out []QueueItem
	for _, mac := range macs {
		out = append(out, QueueItem{Meta: domain.DeviceMeta{MAC: mac, Name: mac}})
	}
	return out
}

func macsOf(ds []Dispatch) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.Item.MAC())
	}
	return out
}

// terminal + queued + in flight always equals the device count
func assertConserved(t *testing.T, r *ActionRun) {
	t.Helper()
	terminal := 0
	for _, st := range r.States() {
		if st.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, r.Total(), terminal+r.Queued()+len(r.InFlight()))
}

func TestRunSequentialOrder(t *testing.T) {

	require := require.New(t)

	r := NewActionRun(domain.ActionDownload, items("A", "B", "C"))

	d := r.Start()
	require.Equal([]string{"A"}, macsOf(d))
	assertConserved(t, r)
	require.Equal(domain.Working(0), r.State("A"))
	require.Equal(domain.NotStarted(), r.State("B"))

	// start while in flight is a no-op
	require.Empty(r.Start())

	require.True(r.Succeed("A", d[0].Attempt))
	assertConserved(t, r)
	d = r.Start()
	require.Equal([]string{"B"}, macsOf(d))
	require.True(r.Fail("B", d[0].Attempt, fmt.Errorf("connect: %w", domain.ErrTimeout)))
	d = r.Start()
	require.Equal([]string{"C"}, macsOf(d))
	require.True(r.Fail("C", d[0].Attempt, errors.New("boom")))

	require.True(r.Done())
	require.Equal(domain.TimedOut(), r.State("B"))
	require.Equal(domain.Failed("boom"), r.State("C"))
	assertConserved(t, r)
}

func TestRunStreamDispatchesAll(t *testing.T) {

	r := NewActionRun(domain.ActionStream, items("A", "B", "C"))

	d := r.Start()
	assert.Equal(t, []string{"A", "B", "C"}, macsOf(d))
	assert.Empty(t, r.Start())
	assertConserved(t, r)
}

func TestRunMonotonicProgress(t *testing.T) {

	assert := assert.New(t)

	r := NewActionRun(domain.ActionDownload, items("A"))
	d := r.Start()[0]

	assert.True(r.Progress("A", d.Attempt, 40))
	assert.False(r.Progress("A", d.Attempt, 20))
	assert.Equal(domain.Working(40), r.State("A"))

	assert.True(r.Succeed("A", d.Attempt))
	assert.False(r.Progress("A", d.Attempt, 90))
	assert.False(r.Fail("A", d.Attempt, errors.New("late")))
	assert.Equal(domain.Completed(), r.State("A"))
}

func TestRunStaleAttemptIgnored(t *testing.T) {

	assert := assert.New(t)

	r := NewActionRun(domain.ActionLog, items("A"))
	first := r.Start()[0]
	assert.True(r.Fail("A", first.Attempt, domain.ErrTimeout))

	assert.True(r.Retry("A"))
	second := r.Start()[0]
	assert.NotEqual(first.Attempt, second.Attempt)

	assert.False(r.Succeed("A", first.Attempt))
	assert.Equal(domain.Working(0), r.State("A"))
	assert.True(r.Succeed("A", second.Attempt))
}

func TestRunRetrySemantics(t *testing.T) {

	require := require.New(t)

	r := NewActionRun(domain.ActionLog, items("A", "B"))
	a := r.Start()[0]
	require.True(r.Fail("A", a.Attempt, domain.ErrTimeout))
	b := r.Start()[0]
	require.True(r.Succeed("B", b.Attempt))
	require.True(r.Done())

	// retry of a completed device does nothing
	require.False(r.Retry("B"))

	require.True(r.Retry("A"))
	require.Equal(domain.NotStarted(), r.State("A"))
	require.Equal(domain.Completed(), r.State("B"))

	d := r.Start()
	require.Equal([]string{"A"}, macsOf(d))
	require.Equal(domain.Completed(), r.State("B"))
	require.Empty(r.Start())
}

func TestRunRetryInFlightIsNoop(t *testing.T) {

	r := NewActionRun(domain.ActionLog, items("A"))
	r.Start()
	assert.False(t, r.Retry("A"))
}

func TestRunRetryGoesToFront(t *testing.T) {

	require := require.New(t)

	r := NewActionRun(domain.ActionDownload, items("A", "B", "C"))
	a := r.Start()[0]
	require.True(r.Fail("A", a.Attempt, domain.ErrTimeout))
	b := r.Start()[0]
	require.Equal("B", b.Item.MAC())

	// A is retried while B runs; it goes before C
	require.True(r.Retry("A"))
	require.True(r.Succeed("B", b.Attempt))
	require.Equal([]string{"A"}, macsOf(r.Start()))
}

func TestRunStartRebuildsFromFailures(t *testing.T) {

	require := require.New(t)

	r := NewActionRun(domain.ActionStream, items("A", "B", "C"))
	ds := r.Start()
	require.True(r.Fail("A", ds[0].Attempt, domain.ErrTimeout))
	require.True(r.Succeed("B", ds[1].Attempt))
	require.True(r.Fail("C", ds[2].Attempt, errors.New("x")))

	require.Equal([]string{"A", "C"}, r.Failures())

	again := r.Start()
	require.Equal([]string{"A", "C"}, macsOf(again))
	require.Equal(domain.Completed(), r.State("B"))
	require.Empty(r.Failures())
}

func TestRunConnectedHandleIsReused(t *testing.T) {

	require := require.New(t)

	r := NewActionRun(domain.ActionLog, items("A", "B"))
	d := r.Start()
	require.Nil(d[0].Item.Device)

	dev := simulator.NewDevice(domain.DeviceMeta{MAC: "A", Name: "A"}, simulator.Faults{}, zap.NewNop())
	require.False(r.Connected("A", d[0].Attempt+1, dev), "stale attempt")
	require.True(r.Connected("A", d[0].Attempt, dev))
	require.True(r.Fail("A", d[0].Attempt, domain.ErrTimeout))

	require.True(r.Retry("A"))
	again := r.Start()
	require.Equal([]string{"A"}, macsOf(again))
	require.Same(dev, again[0].Item.Device)

	item, ok := r.Item("A")
	require.True(ok)
	require.Same(dev, item.Device)
}
