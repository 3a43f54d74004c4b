package service

import (
	"slices"

	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
)

// QueueItem is one device of a run. Device may be nil when no live handle
// is known yet.
type QueueItem struct {
	Meta   domain.DeviceMeta
	Device port.Device
	Config domain.ModulesConfiguration
}

func (i QueueItem) MAC() string {
	return i.Meta.MAC
}

// Dispatch is one attempt at running an item. Pipeline events carry the
// attempt so late events of an abandoned attempt are ignored.
type Dispatch struct {
	Item    QueueItem
	Attempt uint64
}

// ActionRun is the queue state machine of one action run. It is not safe
// for concurrent use; the orchestrator actor owns it.
type ActionRun struct {
	action   domain.ActionType
	items    []QueueItem
	queue    []QueueItem // popped from the tail
	failures []QueueItem
	inFlight map[string]Dispatch
	states   map[string]domain.ActionState
	attempt  uint64
	started  bool

	devicesReady int
	files        []domain.File
}

func NewActionRun(action domain.ActionType, items []QueueItem) *ActionRun {
	r := &ActionRun{
		action:   action,
		items:    slices.Clone(items),
		inFlight: make(map[string]Dispatch),
		states:   make(map[string]domain.ActionState, len(items)),
	}
	for _, item := range items {
		r.states[item.MAC()] = domain.NotStarted()
	}
	return r
}

func (r *ActionRun) Action() domain.ActionType {
	return r.action
}

func (r *ActionRun) Total() int {
	return len(r.items)
}

func (r *ActionRun) Queued() int {
	return len(r.queue)
}

func (r *ActionRun) Item(mac string) (QueueItem, bool) {
	for _, item := range r.items {
		if item.MAC() == mac {
			return item, true
		}
	}
	return QueueItem{}, false
}

func (r *ActionRun) InFlight() []string {
	macs := make([]string, 0, len(r.inFlight))
	for mac := range r.inFlight {
		macs = append(macs, mac)
	}
	slices.Sort(macs)
	return macs
}

func (r *ActionRun) IsInFlight(mac string) bool {
	_, ok := r.inFlight[mac]
	return ok
}

func (r *ActionRun) State(mac string) domain.ActionState {
	return r.states[mac]
}

func (r *ActionRun) States() map[string]domain.ActionState {
	out := make(map[string]domain.ActionState, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Start dispatches queued items. Streams dispatch every queued item at
// once; logs and downloads dispatch one and wait until it is terminal.
// An empty queue is rebuilt: from every item on the first start, from the
// failures afterwards.
func (r *ActionRun) Start() []Dispatch {
	concurrent := r.action.Concurrent()
	if !concurrent && len(r.inFlight) > 0 {
		return nil
	}
	if len(r.queue) == 0 {
		r.refill()
	}
	var out []Dispatch
	for len(r.queue) > 0 {
		item := r.queue[len(r.queue)-1]
		r.queue = r.queue[:len(r.queue)-1]
		if _, busy := r.inFlight[item.MAC()]; busy {
			continue
		}
		r.attempt++
		d := Dispatch{Item: item, Attempt: r.attempt}
		r.inFlight[item.MAC()] = d
		r.states[item.MAC()] = domain.Working(0)
		out = append(out, d)
		if !concurrent {
			break
		}
	}
	return out
}

func (r *ActionRun) refill() {
	var source []QueueItem
	if !r.started {
		r.started = true
		source = r.items
	} else {
		source = r.failures
		r.failures = nil
		for _, item := range source {
			r.states[item.MAC()] = domain.NotStarted()
		}
	}
	r.queue = make([]QueueItem, 0, len(source))
	for i := len(source) - 1; i >= 0; i-- {
		r.queue = append(r.queue, source[i])
	}
}

func (r *ActionRun) current(mac string, attempt uint64) bool {
	d, ok := r.inFlight[mac]
	return ok && d.Attempt == attempt
}

// Progress moves a working device forward. Progress never goes back.
func (r *ActionRun) Progress(mac string, attempt uint64, percent int) bool {
	if !r.current(mac, attempt) {
		return false
	}
	st := r.states[mac]
	if st.Kind != domain.StateWorking || percent <= st.Progress {
		return false
	}
	r.states[mac] = domain.Working(min(percent, 100))
	return true
}

func (r *ActionRun) Succeed(mac string, attempt uint64) bool {
	if !r.current(mac, attempt) {
		return false
	}
	delete(r.inFlight, mac)
	r.states[mac] = domain.Completed()
	return true
}

func (r *ActionRun) Fail(mac string, attempt uint64, err error) bool {
	d, ok := r.inFlight[mac]
	if !ok || d.Attempt != attempt {
		return false
	}
	delete(r.inFlight, mac)
	r.failures = append(r.failures, d.Item)
	r.states[mac] = domain.StateFromError(err)
	return true
}

// Failures lists the devices a later Start would run again.
func (r *ActionRun) Failures() []string {
	macs := make([]string, 0, len(r.failures))
	for _, item := range r.failures {
		macs = append(macs, item.MAC())
	}
	return macs
}

// Connected records the live handle of a connected attempt so later
// attempts reuse it instead of resolving the board again. Stale attempts
// are ignored.
func (r *ActionRun) Connected(mac string, attempt uint64, dev port.Device) bool {
	d, ok := r.inFlight[mac]
	if !ok || d.Attempt != attempt || dev == nil {
		return false
	}
	d.Item.Device = dev
	r.inFlight[mac] = d
	for i := range r.items {
		if r.items[i].MAC() == mac {
			r.items[i].Device = dev
		}
	}
	return true
}

// Retry moves a failed device to the front of the queue. Devices in
// flight and devices that did not fail are left alone.
func (r *ActionRun) Retry(mac string) bool {
	if r.IsInFlight(mac) {
		return false
	}
	idx := slices.IndexFunc(r.failures, func(item QueueItem) bool {
		return item.MAC() == mac
	})
	if idx < 0 {
		return false
	}
	item := r.failures[idx]
	r.failures = slices.Delete(r.failures, idx, idx+1)
	r.states[mac] = domain.NotStarted()
	r.queue = append(r.queue, item)
	return true
}

// CancelAndUndo abandons the run. It returns the dispatches that were in
// flight so their pipelines can be stopped. Completed devices keep their
// state; the others go back to not started and stay available for retry.
func (r *ActionRun) CancelAndUndo() []Dispatch {
	cancelled := make([]Dispatch, 0, len(r.inFlight))
	for _, mac := range r.InFlight() {
		d := r.inFlight[mac]
		cancelled = append(cancelled, d)
		r.failures = append(r.failures, d.Item)
	}
	for i := len(r.queue) - 1; i >= 0; i-- {
		r.failures = append(r.failures, r.queue[i])
	}
	r.queue = nil
	r.inFlight = make(map[string]Dispatch)
	for mac, st := range r.states {
		if !st.IsTerminal() {
			r.states[mac] = domain.NotStarted()
		}
	}
	return cancelled
}

// Done reports whether every device reached a terminal state.
func (r *ActionRun) Done() bool {
	for _, st := range r.states {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}

// RecordReady accumulates the files of a device whose data is ready and
// reports whether the session should be written now: every device has
// passed through and at least one file exists.
func (r *ActionRun) RecordReady(files []domain.File) bool {
	r.files = append(r.files, files...)
	r.devicesReady++
	return r.devicesReady == len(r.items) && len(r.files) > 0
}

func (r *ActionRun) Files() []domain.File {
	return slices.Clone(r.files)
}

func (r *ActionRun) MACs() []string {
	macs := make([]string, 0, len(r.items))
	for _, item := range r.items {
		macs = append(macs, item.MAC())
	}
	return macs
}
