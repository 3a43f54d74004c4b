package port

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mbientlab/metabase/internal/core/domain"
)

type SessionQuery struct {
	GroupId   string
	DeviceMAC string
	// case insensitive substring
	Name string
}

func (q SessionQuery) Matches(s domain.Session) bool {
	if q.GroupId != "" && s.GroupId != q.GroupId {
		return false
	}
	if q.DeviceMAC != "" && !slices.Contains(s.Devices, q.DeviceMAC) {
		return false
	}
	if q.Name != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(q.Name)) {
		return false
	}
	return true
}

// SessionRepository persists sessions and their CSV files. Implementations
// publish a domain.SessionsChangedEvent after every mutation.
type SessionRepository interface {
	AddSession(ctx context.Context, session domain.Session, files []domain.File) (domain.Session, error)
	FetchAllSessions(ctx context.Context) ([]domain.Session, error)
	FetchSessions(ctx context.Context, query SessionQuery) ([]domain.Session, error)
	FetchFiles(ctx context.Context, sessionId uuid.UUID) ([]domain.File, error)
	FetchFile(ctx context.Context, fileId uuid.UUID) (domain.File, error)
	DeleteSession(ctx context.Context, sessionId uuid.UUID) error
	RenameSession(ctx context.Context, sessionId uuid.UUID, name string) (domain.Session, error)
	DuplicateSession(ctx context.Context, sessionId uuid.UUID, name string) (domain.Session, error)
}

type LoggingTokenRegistry interface {
	Register(ctx context.Context, token domain.LoggingToken) error
	Release(ctx context.Context, mac string) error
	Token(ctx context.Context, mac string) (domain.LoggingToken, bool, error)
	Tokens(ctx context.Context) ([]domain.LoggingToken, error)
}

// LegacyStore gives the importer raw access to data left by older releases.
type LegacyStore interface {
	LegacyValue(ctx context.Context, key string) ([]byte, error)
	ImportedDevices(ctx context.Context) ([]string, error)
	MarkImported(ctx context.Context, mac string) error
}

// Store bundles what a storage driver provides.
type Store interface {
	SessionRepository
	LoggingTokenRegistry
	LegacyStore
	Close() error
}
