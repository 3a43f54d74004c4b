package simulator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mbientlab/metabase/internal/config"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"go.uber.org/zap"
)

// Store is the device registry of the simulator.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string
	logger  *zap.Logger
}

var _ port.DeviceStore = (*Store)(nil)

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		devices: make(map[string]*Device),
		logger:  logger,
	}
}

// NewStoreFromConfig registers every configured board.
func NewStoreFromConfig(devices []config.DeviceConfig, logger *zap.Logger) (*Store, error) {
	store := NewStore(logger)
	for _, dc := range devices {
		mac, err := config.CheckMAC(dc.MAC)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", dc.MAC, err)
		}
		model, err := domain.ParseModel(dc.Model)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", mac, err)
		}
		store.Add(domain.DeviceMeta{
			MAC:     mac,
			Name:    dc.Name,
			Model:   model,
			GroupId: dc.Group,
		}, Faults{})
	}
	return store, nil
}

// Add registers a board, replacing any board with the same MAC.
func (s *Store) Add(meta domain.DeviceMeta, faults Faults) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := NewDevice(meta, faults, s.logger)
	if _, ok := s.devices[meta.MAC]; !ok {
		s.order = append(s.order, meta.MAC)
	}
	s.devices[meta.MAC] = dev
	return dev
}

func (s *Store) Device(mac string) (*Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[mac]
	return dev, ok
}

func (s *Store) Resolve(ctx context.Context, mac string) (port.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, ok := s.Device(mac)
	if !ok {
		return nil, fmt.Errorf("%w: %s is unknown", domain.ErrDeviceUnavailable, mac)
	}
	return dev, nil
}

func (s *Store) Devices(ctx context.Context) ([]domain.DeviceMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]domain.DeviceMeta, 0, len(s.order))
	for _, mac := range s.order {
		metas = append(metas, s.devices[mac].Meta())
	}
	return metas, nil
}

func (s *Store) Groups(ctx context.Context) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var groups []domain.Group
	for _, mac := range s.order {
		gid := s.devices[mac].meta.GroupId
		if gid == "" {
			continue
		}
		idx := slices.IndexFunc(groups, func(g domain.Group) bool { return g.Id == gid })
		if idx < 0 {
			groups = append(groups, domain.Group{Id: gid, Name: gid})
			idx = len(groups) - 1
		}
		groups[idx].MACs = append(groups[idx].MACs, mac)
	}
	return groups, nil
}
