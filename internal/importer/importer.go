package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"go.uber.org/zap"
)

const LEGACY_DEVICE_KEY_PREFIX = "metabase4.device."

type Store interface {
	port.SessionRepository
	port.LegacyStore
}

// legacyDevice is the blob an older release kept per board.
type legacyDevice struct {
	MAC      string          `json:"mac"`
	Name     string          `json:"name"`
	Sessions []legacySession `json:"sessions"`
}

type legacySession struct {
	Id      string       `json:"id"`
	Name    string       `json:"name"`
	Date    time.Time    `json:"date"`
	Group   string       `json:"group"`
	Devices []string     `json:"devices"`
	Files   []legacyFile `json:"files"`
}

type legacyFile struct {
	Name string `json:"name"`
	CSV  string `json:"csv"`
}

type Result struct {
	MAC      string
	Sessions []domain.Session
	// sessions already present, usually because another board of the
	// same group carried them
	Skipped int
}

type Importer struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Importer {
	return &Importer{
		store:  store,
		logger: logger.With(zap.String("component", "importer")),
	}
}

func LegacyKey(mac string) string {
	return LEGACY_DEVICE_KEY_PREFIX + strings.ToUpper(mac)
}

// Import moves the legacy sessions of one board into the session
// repository. A board is imported at most once.
func (imp *Importer) Import(ctx context.Context, mac string) (Result, error) {
	mac = strings.ToUpper(mac)
	result := Result{MAC: mac}

	imported, err := imp.store.ImportedDevices(ctx)
	if err != nil {
		return result, err
	}
	if slices.Contains(imported, mac) {
		return result, fmt.Errorf("%s: %w", mac, domain.ErrAlreadyImported)
	}

	blob, err := imp.store.LegacyValue(ctx, LegacyKey(mac))
	if err != nil {
		return result, err
	}
	if len(blob) == 0 {
		return result, fmt.Errorf("%s: %w", mac, domain.ErrNoDataToImport)
	}

	var device legacyDevice
	if err := json.Unmarshal(blob, &device); err != nil {
		return result, fmt.Errorf("could not decode legacy data of %s: %w", mac, err)
	}

	existing, err := imp.store.FetchAllSessions(ctx)
	if err != nil {
		return result, err
	}
	known := make(map[uuid.UUID]bool, len(existing))
	for _, s := range existing {
		known[s.Id] = true
	}

	for _, ls := range device.Sessions {
		session, files, err := toSession(mac, ls)
		if err != nil {
			return result, err
		}
		if known[session.Id] {
			result.Skipped++
			continue
		}
		saved, err := imp.store.AddSession(ctx, session, files)
		if err != nil {
			return result, err
		}
		known[saved.Id] = true
		result.Sessions = append(result.Sessions, saved)
	}

	if err := imp.store.MarkImported(ctx, mac); err != nil {
		return result, err
	}
	imp.logger.Info("legacy data imported", zap.String("mac", mac),
		zap.Int("sessions", len(result.Sessions)), zap.Int("skipped", result.Skipped))
	return result, nil
}

// ImportAll imports every board that still has legacy data. Boards without
// data or already imported are not errors.
func (imp *Importer) ImportAll(ctx context.Context, macs []string) ([]Result, error) {
	var results []Result
	for _, mac := range macs {
		res, err := imp.Import(ctx, mac)
		if errors.Is(err, domain.ErrAlreadyImported) || errors.Is(err, domain.ErrNoDataToImport) {
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func toSession(mac string, ls legacySession) (domain.Session, []domain.File, error) {
	id := uuid.Nil
	if ls.Id != "" {
		parsed, err := uuid.Parse(ls.Id)
		if err != nil {
			return domain.Session{}, nil, fmt.Errorf("legacy session %q of %s: %w", ls.Id, mac, err)
		}
		id = parsed
	}
	devices := ls.Devices
	if len(devices) == 0 {
		devices = []string{mac}
	}
	files := make([]domain.File, 0, len(ls.Files))
	for _, f := range ls.Files {
		files = append(files, domain.File{Name: f.Name, CSV: []byte(f.CSV)})
	}
	return domain.Session{
		Id:        id,
		Name:      ls.Name,
		Date:      ls.Date,
		GroupId:   ls.Group,
		Devices:   devices,
		Completed: true,
	}, files, nil
}
