package simulator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mbientlab/metabase/internal/core/domain"
	"go.uber.org/zap"
)

const (
	defaultSampleInterval = 10 * time.Millisecond
	defaultDownloadSteps  = 4
	// rows written per signal for every second of onboard logging
	loggedRowsPerSecond = 50
	minLoggedRows       = 8
)

// Faults injects failures into a simulated board.
type Faults struct {
	// FailConnect makes WhenConnected block until its context is done.
	FailConnect  bool
	ConnectDelay time.Duration
	FailCommand  bool
	// EmptyDownload makes downloads finish without records.
	EmptyDownload  bool
	SampleInterval time.Duration
	DownloadSteps  int
}

// Device is an in-process MetaWear board. It keeps a connection flag and
// an onboard log that ProgramLogging fills and DownloadLogs drains.
type Device struct {
	mu           sync.Mutex
	meta         domain.DeviceMeta
	faults       Faults
	connected    bool
	disconnected chan struct{}
	logging      *domain.ModulesConfiguration
	logStart     time.Time
	now          func() time.Time
	logger       *zap.Logger
}

func NewDevice(meta domain.DeviceMeta, faults Faults, logger *zap.Logger) *Device {
	if meta.Modules == nil {
		meta.Modules = domain.ModelModules(meta.Model)
	}
	return &Device{
		meta:   meta,
		faults: faults,
		now:    time.Now,
		logger: logger.With(zap.String("device", meta.MAC)),
	}
}

func (d *Device) MAC() string {
	return d.meta.MAC
}

func (d *Device) Meta() domain.DeviceMeta {
	return d.meta
}

func (d *Device) SetFaults(faults Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = faults
}

func (d *Device) Faults() Faults {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faults
}

func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// IsLogging reports whether the onboard log holds a programmed recording.
func (d *Device) IsLogging() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logging != nil
}

// Disconnect drops the connection as if the board went out of range.
func (d *Device) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropConnection()
}

func (d *Device) dropConnection() {
	if !d.connected {
		return
	}
	d.connected = false
	close(d.disconnected)
}

func (d *Device) WhenConnected(ctx context.Context) error {
	faults := d.Faults()
	if faults.FailConnect {
		<-ctx.Done()
		return ctx.Err()
	}
	if faults.ConnectDelay > 0 {
		select {
		case <-time.After(faults.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.connected = true
		d.disconnected = make(chan struct{})
		d.logger.Debug("simulator: connected")
	}
	return nil
}

func (d *Device) WhenDisconnected(ctx context.Context) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	ch := d.disconnected
	d.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) Command(ctx context.Context, cmd domain.DeviceCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("%w: %s is not connected", domain.ErrDeviceUnavailable, d.meta.MAC)
	}
	if d.faults.FailCommand {
		return fmt.Errorf("%w: %s rejected %s", domain.ErrDeviceUnavailable, d.meta.MAC, cmd)
	}
	d.logger.Debug("simulator: command", zap.String("command", string(cmd)))
	switch cmd {
	case domain.CommandResetActivities:
		d.logging = nil
	case domain.CommandMacroEraseAll:
	case domain.CommandRestart:
		d.dropConnection()
	default:
		return fmt.Errorf("%w: unknown command %s", domain.ErrIllegalParameter, cmd)
	}
	return nil
}

func (d *Device) Stream(ctx context.Context, signal domain.Signal, cfg domain.ModulesConfiguration) (<-chan domain.Sample, error) {
	d.mu.Lock()
	connected := d.connected
	interval := d.faults.SampleInterval
	d.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("%w: %s is not connected", domain.ErrDeviceUnavailable, d.meta.MAC)
	}
	if !d.meta.Modules.Has(signal.Module()) {
		return nil, fmt.Errorf("%w: %s has no %s", domain.ErrModuleMissing, d.meta.MAC, signal.Module())
	}
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	out := make(chan domain.Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var i int
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				select {
				case out <- syntheticSample(signal, t, i):
					i++
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (d *Device) ProgramLogging(ctx context.Context, cfg domain.ModulesConfiguration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("%w: %s is not connected", domain.ErrDeviceUnavailable, d.meta.MAC)
	}
	if d.faults.FailCommand {
		return fmt.Errorf("%w: %s rejected the logging program", domain.ErrDeviceUnavailable, d.meta.MAC)
	}
	logged := cfg
	d.logging = &logged
	d.logStart = d.now()
	d.logger.Debug("simulator: logging programmed", zap.Int("signals", len(cfg.Enabled())))
	return nil
}

func (d *Device) DownloadLogs(ctx context.Context, since time.Time) (<-chan domain.DownloadProgress, error) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not connected", domain.ErrDeviceUnavailable, d.meta.MAC)
	}
	records := d.loggedRecords(since)
	steps := d.faults.DownloadSteps
	interval := d.faults.SampleInterval
	d.logging = nil
	d.mu.Unlock()

	if steps <= 0 {
		steps = defaultDownloadSteps
	}
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	out := make(chan domain.DownloadProgress)
	go func() {
		defer close(out)
		for step := 1; step <= steps; step++ {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
			progress := domain.DownloadProgress{
				Percent: step * 100 / steps,
				Records: chunk(records, step-1, steps),
			}
			select {
			case out <- progress:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// loggedRecords generates the rows recorded since the log was programmed.
// Caller holds d.mu.
func (d *Device) loggedRecords(since time.Time) map[domain.Signal][]domain.Sample {
	records := make(map[domain.Signal][]domain.Sample)
	if d.logging == nil || d.faults.EmptyDownload {
		return records
	}
	start := d.logStart
	if since.After(start) {
		start = since
	}
	elapsed := d.now().Sub(start)
	rows := max(int(elapsed.Seconds()*loggedRowsPerSecond), minLoggedRows)
	period := time.Second / loggedRowsPerSecond
	for _, signal := range d.logging.Enabled() {
		if !d.meta.Modules.Has(signal.Module()) {
			continue
		}
		samples := make([]domain.Sample, 0, rows)
		for i := 0; i < rows; i++ {
			samples = append(samples, syntheticSample(signal, start.Add(time.Duration(i)*period), i))
		}
		records[signal] = samples
	}
	return records
}

// chunk returns the part of every signal's rows that belongs to one step.
func chunk(records map[domain.Signal][]domain.Sample, step, steps int) map[domain.Signal][]domain.Sample {
	out := make(map[domain.Signal][]domain.Sample, len(records))
	for signal, rows := range records {
		from := len(rows) * step / steps
		to := len(rows) * (step + 1) / steps
		if to > from {
			out[signal] = rows[from:to]
		}
	}
	return out
}

func syntheticSample(signal domain.Signal, t time.Time, i int) domain.Sample {
	columns := len(signal.Columns())
	values := make([]float64, columns)
	for c := range values {
		values[c] = math.Round(math.Sin(float64(i)/10+float64(c))*10000) / 10000
	}
	if signal == domain.SignalButton {
		values[0] = float64(i % 2)
	}
	return domain.Sample{Time: t, Values: values}
}
