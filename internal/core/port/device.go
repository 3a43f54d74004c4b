package port

import (
	"context"
	"time"

	"github.com/mbientlab/metabase/internal/core/domain"
)

// Device is a handle on one sensor board.
type Device interface {
	MAC() string
	Meta() domain.DeviceMeta
	// WhenConnected blocks until the board is connected or ctx is done.
	WhenConnected(ctx context.Context) error
	// WhenDisconnected blocks until the board dropped its connection.
	WhenDisconnected(ctx context.Context) error
	Command(ctx context.Context, cmd domain.DeviceCommand) error
	// Stream emits samples of one signal until ctx is done, then closes
	// the channel.
	Stream(ctx context.Context, signal domain.Signal, cfg domain.ModulesConfiguration) (<-chan domain.Sample, error)
	ProgramLogging(ctx context.Context, cfg domain.ModulesConfiguration) error
	// DownloadLogs reads and erases the onboard log. The channel closes
	// after the 100 % step or when ctx is done.
	DownloadLogs(ctx context.Context, since time.Time) (<-chan domain.DownloadProgress, error)
}

type DeviceStore interface {
	Resolve(ctx context.Context, mac string) (Device, error)
	Devices(ctx context.Context) ([]domain.DeviceMeta, error)
	Groups(ctx context.Context) ([]domain.Group, error)
}
